// Package web provides the operational HTTP endpoint for a running load:
// liveness of the database, pipeline progress and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/cnpjload/internal/logging"
	"github.com/JonMunkholm/cnpjload/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prober checks that the database is reachable. Satisfied by *core.Store.
type Prober interface {
	Probe(ctx context.Context) error
}

// Status tracks which pipeline stage is running. Safe for concurrent use.
type Status struct {
	mu      sync.RWMutex
	runID   string
	stage   string
	started time.Time
}

// NewStatus creates a Status for the run identified by runID.
func NewStatus(runID string) *Status {
	return &Status{runID: runID, stage: "starting", started: time.Now()}
}

// SetStage records the stage now running.
func (s *Status) SetStage(stage string) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

// StatusSnapshot is the JSON body of GET /status.
type StatusSnapshot struct {
	RunID   string    `json:"run_id"`
	Stage   string    `json:"stage"`
	Started time.Time `json:"started"`
	Uptime  string    `json:"uptime"`
}

// Snapshot returns the current state.
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusSnapshot{
		RunID:   s.runID,
		Stage:   s.stage,
		Started: s.started,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
}

// Server serves /healthz, /status and /metrics.
type Server struct {
	probe    Prober
	status   *Status
	registry *prometheus.Registry
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server. probe may be nil when no database is in use
// (dry-run), in which case /healthz always reports ok.
func NewServer(probe Prober, status *Status, registry *prometheus.Registry) *Server {
	if status == nil {
		status = NewStatus("")
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	s := &Server{
		probe:    probe,
		status:   status,
		registry: registry,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(30 * time.Second))
	s.router.Use(noSniff)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("operational endpoint listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.probe.Probe(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func noSniff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
