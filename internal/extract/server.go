package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vexd/internal/logger"
	"github.com/wegman-software/vexd/internal/metrics"
	"github.com/wegman-software/vexd/internal/replication"
	"github.com/wegman-software/vexd/internal/store"
)

// DefaultAddr is the listen address used when none is configured
const DefaultAddr = "0.0.0.0:9002"

// ServerConfig configures a Server
type ServerConfig struct {
	Addr    string
	Store   store.Store
	Updater *replication.Updater // optional, reported by /healthz
	Metrics bool                 // serve /metrics
	Logger  *zap.Logger
}

// Server is the extract HTTP server
type Server struct {
	cfg        ServerConfig
	log        *zap.Logger
	httpServer *http.Server
}

// NewServer creates a server; nothing listens until Serve or ListenAndServe
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("http")
	}
	s := &Server{cfg: cfg, log: cfg.Logger}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          zap.NewStdLog(cfg.Logger),
	}
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.Handle("/", NewHandler(s.cfg.Store, s.log))
	return mux
}

// ListenAndServe listens on the configured address. It returns nil after
// Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l. It returns nil after Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("Extract server listening", zap.String("addr", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight extracts until
// ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Extract server stopping")
	return s.httpServer.Shutdown(ctx)
}

// Health is the body of /healthz
type Health struct {
	Status      string     `json:"status"`
	Cursor      *time.Time `json:"cursor,omitempty"`
	CursorAge   string     `json:"cursor_age,omitempty"`
	LastApplied *Applied   `json:"last_applied,omitempty"`
	Updating    bool       `json:"updating"`
	Error       string     `json:"error,omitempty"`
}

// Applied identifies the last diff applied by the updater
type Applied struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := Health{Status: "ok"}
	code := http.StatusOK

	cursor, err := s.cfg.Store.ReplicationTimestamp(r.Context())
	if err != nil {
		health.Status = "unavailable"
		health.Error = err.Error()
		code = http.StatusServiceUnavailable
	} else if !cursor.IsZero() {
		health.Cursor = &cursor
		health.CursorAge = time.Since(cursor).Round(time.Second).String()
	}

	if u := s.cfg.Updater; u != nil {
		health.Updating = u.Running()
		if d, ok := u.LastApplied(); ok {
			health.LastApplied = &Applied{Sequence: d.SequenceNumber, Timestamp: d.Timestamp}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
