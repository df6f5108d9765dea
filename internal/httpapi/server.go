// Package httpapi exposes the operator surface: scheduler status, health
// snapshot, and a manual run trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/health"
	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/scheduler"
)

// Trigger starts a cycle on demand; implemented by scheduler.Scheduler.
type Trigger interface {
	TriggerNow(ctx context.Context) bool
	Status() scheduler.Status
}

// HealthSource provides the current health snapshot.
type HealthSource interface {
	Snapshot() health.Snapshot
}

// StatusStore is the storage slice the API reads.
type StatusStore interface {
	Ping(ctx context.Context) error
	StatusCounts(ctx context.Context) (map[model.Status]int, error)
}

// Server wires the operator endpoints onto a chi router.
type Server struct {
	store     StatusStore
	scheduler Trigger
	tracker   HealthSource
}

func NewServer(store StatusStore, sched Trigger, tracker HealthSource) *Server {
	return &Server{store: store, scheduler: sched, tracker: tracker}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/run", s.handleRun)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Error("httpapi: store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "storage unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Scheduler scheduler.Status     `json:"scheduler"`
	Health    health.Snapshot      `json:"health"`
	Records   map[model.Status]int `json:"records"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusCounts(r.Context())
	if err != nil {
		zap.L().Error("httpapi: status counts", zap.Error(err))
		http.Error(w, `{"error":"storage unreachable"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Scheduler: s.scheduler.Status(),
		Health:    s.tracker.Snapshot(),
		Records:   counts,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	// The cycle runs in the background; the guard answer is immediate.
	started := make(chan bool, 1)
	go func() {
		started <- s.scheduler.TriggerNow(context.WithoutCancel(r.Context()))
	}()

	select {
	case ok := <-started:
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "skipped", "reason": "cycle already running"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	case <-time.After(100 * time.Millisecond):
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("httpapi: write response", zap.Error(err))
	}
}
