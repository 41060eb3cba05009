package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath     = "NETMEND_CONFIG"
	DefaultConfigPath = "netmend.yaml"
)

// Config is the aggregate root for one monitor process. It is loaded once at
// startup and may be replaced wholesale through the status store, never
// partially mutated.
type Config struct {
	DefaultTarget    string `yaml:"default_target"`
	CheckIntervalSec int    `yaml:"check_interval_sec"`
	PingTimeoutMS    int    `yaml:"ping_timeout_ms"`
	RetryCount       int    `yaml:"retry_count"`
	RetryBackoffMS   int    `yaml:"retry_backoff_ms"`
	PrivilegedICMP   bool   `yaml:"privileged_icmp"`

	Targets         []Target         `yaml:"targets"`
	RecoveryActions []RecoveryAction `yaml:"recovery_actions"`

	LogFile             string `yaml:"log_file,omitempty"`
	NotificationEnabled bool   `yaml:"notification_enabled"`
	NotificationCommand string `yaml:"notification_command,omitempty"`

	RateGovernance *RateGovernanceConfig `yaml:"rate_governance,omitempty"`
	Dashboard      DashboardConfig       `yaml:"dashboard"`
}

// Target is one monitored endpoint. Timeout and retry overrides fall back to
// the global defaults when zero.
type Target struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	Port       int    `yaml:"port,omitempty"`
	TimeoutMS  int    `yaml:"timeout_ms,omitempty"`
	RetryCount int    `yaml:"retry_count,omitempty"`
}

// RecoveryAction is one ordered step of the recovery plan.
type RecoveryAction struct {
	Name        string `yaml:"name"`
	Command     string `yaml:"command"`
	WaitAfterMS int    `yaml:"wait_after_ms,omitempty"`
}

// RateGovernanceConfig caps outbound probe attempts per second.
type RateGovernanceConfig struct {
	Enabled         bool    `yaml:"enabled"`
	ProbesPerSecond float64 `yaml:"probes_per_second"`
	Burst           int     `yaml:"burst"`
}

type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the documented default configuration, written to disk the
// first time the monitor starts without one.
func Default() Config {
	return Config{
		DefaultTarget:    "8.8.8.8",
		CheckIntervalSec: 60,
		PingTimeoutMS:    1000,
		RetryCount:       3,
		RetryBackoffMS:   500,
		Targets: []Target{
			{Name: "Google DNS", Address: "8.8.8.8", TimeoutMS: 1000, RetryCount: 3},
			{Name: "Local Router", Address: "192.168.1.1", TimeoutMS: 500, RetryCount: 2},
		},
		RecoveryActions: []RecoveryAction{
			{Name: "Flush DNS cache", Command: "resolvectl flush-caches", WaitAfterMS: 2000},
			{Name: "Renew DHCP lease", Command: "dhclient -r && dhclient", WaitAfterMS: 5000},
		},
		LogFile:             "netmend.log",
		NotificationEnabled: true,
		NotificationCommand: `notify-send "netmend" "Network connectivity restored"`,
		Dashboard: DashboardConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9340",
		},
	}
}

func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMS) * time.Millisecond
}

func (c Config) RetryBackoff() time.Duration {
	if c.RetryBackoffMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// TargetTimeout applies the per-target override, falling back to the global
// probe timeout.
func (c Config) TargetTimeout(t Target) time.Duration {
	if t.TimeoutMS > 0 {
		return time.Duration(t.TimeoutMS) * time.Millisecond
	}
	return c.PingTimeout()
}

// TargetRetries is the total attempt budget for a target, not additional
// retries on top of a first try.
func (c Config) TargetRetries(t Target) int {
	if t.RetryCount > 0 {
		return t.RetryCount
	}
	if c.RetryCount > 0 {
		return c.RetryCount
	}
	return 1
}

func (c Config) Validate() error {
	if c.DefaultTarget == "" {
		return fmt.Errorf("default_target must be set")
	}
	if c.CheckIntervalSec <= 0 {
		return fmt.Errorf("check_interval_sec must be positive, got %d", c.CheckIntervalSec)
	}
	if c.PingTimeoutMS <= 0 {
		return fmt.Errorf("ping_timeout_ms must be positive, got %d", c.PingTimeoutMS)
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("target with address %q has no name", t.Address)
		}
		if t.Address == "" {
			return fmt.Errorf("target %q has no address", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	for _, a := range c.RecoveryActions {
		if a.Name == "" {
			return fmt.Errorf("recovery action with command %q has no name", a.Command)
		}
		if a.Command == "" {
			return fmt.Errorf("recovery action %q has no command", a.Name)
		}
	}
	return nil
}

// Load reads the configuration at path. When the file does not exist, the
// default configuration is written there and returned.
func Load(ctx context.Context, path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		cfg := Default()
		if err := Save(cfg, path); err != nil {
			return cfg, fmt.Errorf("write default config %q: %w", path, err)
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config %q: %w", path, err)
	}

	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// Save writes the configuration atomically via a temp file rename.
func Save(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}

	return nil
}
