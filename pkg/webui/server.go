// Package webui serves the bot controller to the browser dashboard: a JSON API
// over the controller snapshot and commands, a websocket snapshot stream,
// Prometheus metrics and recent logs.
package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"botpilot/pkg/botcontrol"
	"botpilot/pkg/logx"
	"botpilot/pkg/persistence"
	"botpilot/pkg/version"
)

// AuthUsername is the basic auth user name when a password is configured.
const AuthUsername = "botpilot"

const (
	maxLogEntries   = 1000
	shutdownTimeout = 5 * time.Second
)

// Controller is the subset of the bot controller the web UI drives.
type Controller interface {
	Launch(ctx context.Context) error
	Stop(ctx context.Context) error
	Reset() error
	Snapshot() botcontrol.Snapshot
	Watch(ctx context.Context) <-chan botcontrol.Snapshot
}

// HistoryStore provides finished sessions.
type HistoryStore interface {
	GetSession(ctx context.Context, sessionID string) (*persistence.SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]persistence.SessionRecord, error)
}

// Options configures optional server features.
type Options struct {
	// RefreshConditions reloads the launch gate inputs; nil disables POST /api/bot/conditions.
	RefreshConditions func(ctx context.Context) error
	History           HistoryStore
	Metrics           http.Handler
	EventLogDir       string
	Password          string
	HistoryLimit      int
}

// Server represents the web UI HTTP server.
type Server struct {
	ctrl   Controller
	opts   Options
	logger *logx.Logger
}

// NewServer creates a new web UI server.
func NewServer(ctrl Controller, opts Options) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = persistence.DefaultHistoryLimit
	}
	return &Server{
		ctrl:   ctrl,
		opts:   opts,
		logger: logx.NewLogger("webui"),
	}
}

// requireAuth wraps a handler with basic authentication when a password is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if s.opts.Password == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(username), []byte(AuthUsername)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(s.opts.Password)) != 1 {
			if ok {
				s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="Botpilot"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up HTTP routes for the API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/healthz", s.handleHealth)

	mux.HandleFunc("/api/bot/status", s.requireAuth(s.handleStatus))
	mux.HandleFunc("/api/bot/launch", s.requireAuth(s.handleLaunch))
	mux.HandleFunc("/api/bot/stop", s.requireAuth(s.handleStop))
	mux.HandleFunc("/api/bot/reset", s.requireAuth(s.handleReset))
	mux.HandleFunc("/api/bot/conditions", s.requireAuth(s.handleConditions))
	mux.HandleFunc("/api/bot/gate", s.requireAuth(s.handleGate))
	mux.HandleFunc("/api/bot/history", s.requireAuth(s.handleHistory))
	mux.HandleFunc("/api/bot/history/", s.requireAuth(s.handleSession))
	mux.HandleFunc("/api/bot/events", s.requireAuth(s.handleEvents))
	mux.HandleFunc("/api/bot/stream", s.requireAuth(s.handleStream))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))

	if s.opts.Metrics != nil {
		mux.Handle("/metrics", s.opts.Metrics)
	}
}

// Handler returns the complete route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Serve listens on addr and blocks until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("Starting web UI server on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web UI server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web UI server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web UI shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleLogs implements GET /api/logs?domain=&since=RFC3339.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	domain := query.Get("domain")
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since parameter (use RFC3339)", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	logs := logx.GetRecentLogEntries(domain, since)
	if len(logs) > maxLogEntries {
		logs = logs[len(logs)-maxLogEntries:]
	}
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	s.writeJSON(w, http.StatusOK, logs)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
