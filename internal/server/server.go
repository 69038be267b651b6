// Package server implements the read-only dashboard HTTP API backing
// `run --mode=dashboard` (SPEC_FULL.md DOMAIN STACK): the current plan, the
// session row for a date, and host health, over chi with permissive CORS
// for the external control panel the Non-goals keep out of this repo.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aristath/sentinel-trader/internal/domain"
	"github.com/aristath/sentinel-trader/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// PlanSource returns the plan to show, or nil when there is none. The server
// calls it on each /api/plan request and never triggers a cycle itself.
type PlanSource func() *domain.TradingPlan

// Server is the dashboard's read-only HTTP surface.
type Server struct {
	router     chi.Router
	plans      PlanSource
	sessions   *store.SessionRepository
	db         *store.DB
	log        zerolog.Logger
}

// New builds a Server with CORS open to any origin, matching the teacher's
// dashboard-for-an-external-control-panel posture (the panel itself is out
// of scope per spec.md §1).
func New(plans PlanSource, sessions *store.SessionRepository, db *store.DB, log zerolog.Logger) *Server {
	s := &Server{plans: plans, sessions: sessions, db: db, log: log.With().Str("component", "dashboard").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/plan", s.handlePlan)
	r.Get("/api/session/{date}", s.handleSession)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type healthResponse struct {
	Status       string  `json:"status"`
	DiskFreeGB   float64 `json:"disk_free_gb"`
	MemUsedPct   float64 `json:"mem_used_pct"`
}

// handleHealth surfaces host health metrics via gopsutil (SPEC_FULL.md
// DOMAIN STACK: disk free is the signal the State Store's StorageError
// handling cares about most).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if usage, err := disk.UsageWithContext(r.Context(), "/"); err == nil {
		resp.DiskFreeGB = float64(usage.Free) / (1024 * 1024 * 1024)
	} else {
		s.log.Warn().Err(err).Msg("disk usage read failed")
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.MemUsedPct = vm.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("memory read failed")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan := s.plans()
	if plan == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no plan generated yet"})
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	session, err := s.sessions.ForDate(date)
	if err != nil {
		s.log.Error().Err(err).Str("date", date).Msg("session lookup failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "session lookup failed"})
		return
	}
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session for date"})
		return
	}
	writeJSON(w, http.StatusOK, session)
}
