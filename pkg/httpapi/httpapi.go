// Package httpapi exposes kiln's status surface: liveness/readiness probes,
// the Prometheus scrape endpoint, and a debug view of live pool occupancy.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cuemby/kiln/pkg/metrics"
	"github.com/cuemby/kiln/pkg/pool"
)

// PoolStatsProvider is implemented by pool.Pool implementations that can
// report their current worker occupancy, such as *pool.ProcessPool. Not
// every Pool need implement it; /debug/pool degrades to 501 when the
// configured pool doesn't.
type PoolStatsProvider interface {
	Stats() []pool.WorkerStats
}

// Server is kiln's chi-routed status HTTP server.
type Server struct {
	router chi.Router
	pool   PoolStatsProvider
	srv    *http.Server
}

// NewServer builds a Server. pool may be nil, in which case /debug/pool
// always reports unavailable.
func NewServer(addr string, pool PoolStatsProvider) *Server {
	s := &Server{pool: pool}
	s.setupRouter()
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.withPoolStats(metrics.HealthHandler()))
	r.Get("/readyz", s.withPoolStats(metrics.ReadyHandler()))
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())
	r.Get("/debug/pool", s.handleDebugPool)

	s.router = r
}

// withPoolStats refreshes the metrics package's pool-occupancy snapshot
// immediately before delegating to a health/readiness handler, so every
// probe reflects the pool's current state rather than a value polled on a
// separate timer.
func (s *Server) withPoolStats(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.recordPoolStats()
		next(w, r)
	}
}

func (s *Server) recordPoolStats() {
	if s.pool == nil {
		return
	}
	stats := s.pool.Stats()
	snapshots := make([]metrics.PoolSnapshot, len(stats))
	for i, st := range stats {
		snapshots[i] = metrics.PoolSnapshot{Mnemonic: st.Mnemonic, Idle: st.Idle, Total: st.Total}
	}
	metrics.RecordPoolStats(snapshots)
}

func (s *Server) handleDebugPool(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pool == nil {
		w.WriteHeader(http.StatusNotImplemented)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "pool does not report stats"})
		return
	}
	_ = json.NewEncoder(w).Encode(s.pool.Stats())
}

// Start runs the server, blocking until it exits. After a clean Shutdown it
// returns nil rather than http.ErrServerClosed.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
