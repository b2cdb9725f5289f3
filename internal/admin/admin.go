// Package admin serves the operator HTTP interface: health, metrics and
// manual backfill.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"news_bot/internal/ingest"
	"news_bot/internal/metrics"
)

// Backfiller runs historical ingestion.
type Backfiller interface {
	Backfill(ctx context.Context, start, end int) (ingest.Stats, error)
	Backfilling() bool
}

// Server is the admin HTTP handler.
type Server struct {
	router     chi.Router
	backfiller Backfiller
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type backfillResponse struct {
	Status     string `json:"status"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Pages      int    `json:"pages,omitempty"`
	Candidates int    `json:"candidates,omitempty"`
	Stored     int    `json:"stored,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	Failed     int    `json:"failed,omitempty"`
}

// New creates a Server. When apiKey is non-empty, /backfill requires it in
// the X-API-Key header.
func New(bf Backfiller, apiKey string, log *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{backfiller: bf, log: log, ctx: ctx, cancel: cancel}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Group(func(r chi.Router) {
		if apiKey != "" {
			r.Use(apiKeyMiddleware(apiKey))
		}
		r.Post("/backfill", s.backfill)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close cancels background backfills started over HTTP and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// backfill starts a backfill of pages start..end. It answers 202 right
// away unless wait=1 is given, in which case it answers with the stats.
func (s *Server) backfill(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := intParam(q.Get("start"), ingest.DefaultBackfillStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := intParam(q.Get("end"), ingest.DefaultBackfillEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end")
		return
	}
	if start < 1 || end < start {
		writeError(w, http.StatusBadRequest, ingest.ErrInvalidRange.Error())
		return
	}

	if q.Get("wait") == "1" {
		stats, err := s.backfiller.Backfill(r.Context(), start, end)
		switch {
		case errors.Is(err, ingest.ErrBackfillRunning):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			s.log.Error("backfill", "error", err)
			writeError(w, http.StatusInternalServerError, "backfill failed")
		default:
			writeJSON(w, http.StatusOK, backfillResponse{
				Status:     "done",
				Start:      start,
				End:        end,
				Pages:      stats.Pages,
				Candidates: stats.Candidates,
				Stored:     stats.Stored,
				Duplicates: stats.Duplicates,
				Failed:     stats.Failed,
			})
		}
		return
	}

	if s.backfiller.Backfilling() {
		writeError(w, http.StatusConflict, ingest.ErrBackfillRunning.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.backfiller.Backfill(s.ctx, start, end); err != nil {
			s.log.Error("backfill", "start", start, "end", end, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, backfillResponse{Status: "started", Start: start, End: end})
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("write JSON failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
