// Package health serves the proxy's operational endpoints on a listener
// separate from proxied traffic:
// - GET /health returns 503 with body "starting" until the proxy is ready,
//   then 200 with body "ok"
// - GET /metrics exposes the transform and cache counters to Prometheus
//
// Readiness flips once configuration is loaded and the Redis cache (when
// configured) has answered a ping.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Server provides health check endpoints for the proxy
type Server struct {
	server *http.Server
	ready  atomic.Bool
}

// New creates a health server listening on addr. metrics may be nil, in
// which case /metrics is not served.
func New(addr string, metrics http.Handler) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.healthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	return s
}

// Start begins listening for health check requests
func (s *Server) Start() error {
	slog.Info("Starting health server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the server, waiting at most until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// MarkReady sets the server state to ready, causing /health to return 200
func (s *Server) MarkReady() {
	s.ready.Store(true)
	slog.Info("Health server marked as ready")
}

// MarkNotReady sets the server state to not ready, causing /health to return 503
func (s *Server) MarkNotReady() {
	s.ready.Store(false)
	slog.Info("Health server marked as not ready")
}

// healthHandler handles GET /health requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("ok"))
		if err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, err := w.Write([]byte("starting"))
		if err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	}
}