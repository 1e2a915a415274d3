// Package server exposes scheduler health and progress over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/rishansujesh/rubber-prices/internal/jobs"
	"github.com/rishansujesh/rubber-prices/internal/scheduler"
)

type JobLister interface {
	List(ctx context.Context) ([]jobs.JobDefinition, error)
}

type StatusSource interface {
	Status() scheduler.Status
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Server struct {
	Jobs   JobLister
	Loop   StatusSource
	DB     Pinger
	Logger *zap.SugaredLogger
	Now    func() time.Time
}

type apiError struct {
	Message string `json:"message"`
}

type jobResp struct {
	jobs.JobDefinition
	Due bool `json:"due"`
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger(s.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "scheduler"})
	})
	r.Get("/readyz", s.ready)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/jobs", s.listJobs)
		r.Get("/status", s.status)
	})
	return r
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Message: "database unavailable"})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.Jobs.List(r.Context())
	if err != nil {
		s.log().Errorw("list jobs", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Message: "list jobs failed"})
		return
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	out := make([]jobResp, 0, len(list))
	for _, j := range list {
		out = append(out, jobResp{JobDefinition: j, Due: j.Active && j.Due(now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Loop.Status())
}

func (s *Server) log() *zap.SugaredLogger {
	if s.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
