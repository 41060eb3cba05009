package status

import (
	"sort"
	"sync"
	"time"

	"github.com/netmendhq/netmend/internal/config"
)

// TargetStatus is the per-target observation state, updated every poll cycle.
type TargetStatus struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Port      int       `json:"port,omitempty"`
	CheckedAt time.Time `json:"checked_at"`

	// Attempts is how many probe attempts the last cycle spent on this
	// target before success or budget exhaustion.
	Attempts int           `json:"attempts"`
	PingRTT  time.Duration `json:"ping_rtt_ns"`
	PingErr  string        `json:"ping_error,omitempty"`

	PortChecked bool   `json:"port_checked"`
	PortErr     string `json:"port_error,omitempty"`
}

// Reachable reports whether the probe itself succeeded. Only this feeds the
// all-targets-failed aggregation.
func (s TargetStatus) Reachable() bool {
	return s.PingErr == ""
}

// Online is the status-surface view: the probe succeeded and, when a port is
// configured, the port check did too.
func (s TargetStatus) Online() bool {
	return s.Reachable() && (!s.PortChecked || s.PortErr == "")
}

// Store holds the active configuration and the per-target statuses behind a
// single lock. The monitor loop copies out what it needs and releases the
// lock before probing, so presentation reads never wait on the network.
type Store struct {
	mu       sync.RWMutex
	cfg      config.Config
	statuses map[string]TargetStatus
}

func NewStore(cfg config.Config) *Store {
	return &Store{
		cfg:      cfg,
		statuses: make(map[string]TargetStatus, len(cfg.Targets)),
	}
}

// Config returns a snapshot of the active configuration.
func (s *Store) Config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the configuration wholesale and drops statuses for
// targets that no longer exist.
func (s *Store) SetConfig(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	keep := make(map[string]struct{}, len(cfg.Targets))
	for _, t := range cfg.Targets {
		keep[t.Name] = struct{}{}
	}
	for name := range s.statuses {
		if _, ok := keep[name]; !ok {
			delete(s.statuses, name)
		}
	}
}

func (s *Store) Record(st TargetStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[st.Name] = st
}

// Snapshot returns all statuses sorted by target name.
func (s *Store) Snapshot() []TargetStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TargetStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
