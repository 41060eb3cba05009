package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/netmendhq/netmend/internal/config"
	"github.com/netmendhq/netmend/internal/logging"
	"github.com/netmendhq/netmend/internal/status"
)

//go:embed static/index.html
var embeddedStatic embed.FS

// Config controls dashboard HTTP server settings.
type Config struct {
	Addr         string
	PushInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger *logging.Logger
	Store  *status.Store
}

// Server is the read-only presentation layer over the status store. It never
// touches the monitor loop directly.
type Server struct {
	*http.Server
	cfg      Config
	deps     Dependencies
	upgrader websocket.Upgrader
}

func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9340"
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleConfig).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)

	s.Server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// WriteTimeout stays zero: the websocket feed writes for the
		// connection's whole lifetime.
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Infof("dashboard listening on http://%s", s.cfg.Addr)
		errCh <- s.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data, err := embeddedStatic.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "dashboard page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

type statusPayload struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Targets     []targetPayload `json:"targets"`
}

type targetPayload struct {
	status.TargetStatus
	Online bool `json:"online"`
}

func (s *Server) snapshotPayload() statusPayload {
	snap := s.deps.Store.Snapshot()
	targets := make([]targetPayload, 0, len(snap))
	for _, st := range snap {
		targets = append(targets, targetPayload{TargetStatus: st, Online: st.Online()})
	}
	return statusPayload{
		GeneratedAt: time.Now().UTC(),
		Targets:     targets,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotPayload())
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cfg := s.deps.Store.Config()
	// The notification command can embed credentials; keep it off the wire.
	cfg.NotificationCommand = ""
	writeJSON(w, http.StatusOK, map[string]any{
		"default_target":     cfg.DefaultTarget,
		"check_interval_sec": cfg.CheckIntervalSec,
		"ping_timeout_ms":    cfg.PingTimeoutMS,
		"retry_count":        cfg.RetryCount,
		"targets":            cfg.Targets,
		"recovery_actions":   actionNames(cfg.RecoveryActions),
	})
}

func actionNames(actions []config.RecoveryAction) []string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.Name)
	}
	return names
}

// handleWS pushes the status snapshot on a fixed interval until the client
// disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(s.snapshotPayload()); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
