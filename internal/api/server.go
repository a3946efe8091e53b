// Package api exposes the HTTP control surface for the crawl service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/manager"
	"github.com/threadharvest/threadharvest/internal/scheduler"
	"github.com/threadharvest/threadharvest/internal/themes"
)

// CrawlManager is the managed crawl surface the API drives.
type CrawlManager interface {
	Run(ctx context.Context, rng crawler.CrawlRange) (manager.Outcome, error)
	Stop()
	IsRunning() bool
	Status() crawler.Status
	TestConnection(ctx context.Context) (bool, string)
}

// RecordLister serves stored thread records.
type RecordLister interface {
	List(ctx context.Context, forumID string, limit, offset int) ([]crawler.ThreadRecord, error)
	CountByForum(ctx context.Context, forumID string) (int, error)
}

// TaskRunner fires a scheduled task out of band.
type TaskRunner interface {
	RunNow(ctx context.Context, id string) (bool, error)
}

// Defaults carries the crawl parameters the API applies when a request
// leaves them unset.
type Defaults struct {
	PageDelay     time.Duration
	MaxConcurrent int
}

// Server wires HTTP handlers to the manager, stores, and scheduler.
type Server struct {
	router   chi.Router
	manager  CrawlManager
	records  RecordLister
	tasks    scheduler.TaskStore
	runner   TaskRunner
	themes   *themes.Registry
	defaults Defaults
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. tasks and runner
// may be nil when scheduling is disabled; the task routes then return 404.
func NewServer(mgr CrawlManager, records RecordLister, tasks scheduler.TaskStore, runner TaskRunner, registry *themes.Registry, defaults Defaults, logger *zap.Logger) *Server {
	if registry == nil {
		registry = themes.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:  mgr,
		records:  records,
		tasks:    tasks,
		runner:   runner,
		themes:   registry,
		defaults: defaults,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/crawler", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Post("/stop", s.stopCrawl)
			r.Get("/status", s.crawlStatus)
			r.Get("/themes", s.listThemes)
			r.Get("/test-connection", s.testConnection)
		})
		r.Get("/magnets", s.listRecords)
		if tasks != nil {
			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.listTasks)
				r.Post("/", s.createTask)
				r.Get("/{task_id}", s.getTask)
				r.Put("/{task_id}", s.updateTask)
				r.Delete("/{task_id}", s.deleteTask)
				r.Post("/{task_id}/toggle", s.toggleTask)
				r.Post("/{task_id}/run", s.runTask)
			})
		}
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startCrawlRequest struct {
	ForumID   string   `json:"forum_id"`
	StartPage int      `json:"start_page"`
	EndPage   int      `json:"end_page"`
	Keywords  []string `json:"keywords"`
}

// startCrawl launches a managed run in the background and returns 202. The
// run's context is detached from the request so disconnects do not kill it.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	var req startCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ForumID == "" {
		writeError(w, http.StatusBadRequest, "forum_id is required")
		return
	}
	if req.StartPage < 1 {
		req.StartPage = 1
	}
	if req.EndPage < req.StartPage {
		req.EndPage = req.StartPage
	}
	if s.manager.IsRunning() {
		writeError(w, http.StatusConflict, manager.ErrBusy.Error())
		return
	}

	rng := crawler.CrawlRange{
		ForumID:           req.ForumID,
		StartPage:         req.StartPage,
		EndPage:           req.EndPage,
		Keywords:          req.Keywords,
		DelayBetweenPages: s.defaults.PageDelay,
		MaxConcurrent:     s.defaults.MaxConcurrent,
	}
	go func() {
		outcome, err := s.manager.Run(context.Background(), rng)
		if err != nil && !errors.Is(err, manager.ErrBusy) {
			s.logger.Error("background crawl failed",
				zap.String("forum_id", rng.ForumID),
				zap.String("message", outcome.Message),
				zap.Error(err),
			)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":   true,
		"forum_id":   req.ForumID,
		"forum_name": s.themes.Name(req.ForumID),
		"start_page": req.StartPage,
		"end_page":   req.EndPage,
	})
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	if !s.manager.IsRunning() {
		writeJSON(w, http.StatusOK, map[string]any{"stopped": false, "message": "no crawl in progress"})
		return
	}
	s.manager.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.manager.IsRunning(),
		"status":  s.manager.Status(),
	})
}

func (s *Server) listThemes(w http.ResponseWriter, r *http.Request) {
	type themeCount struct {
		FID   string `json:"fid"`
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	out := make([]themeCount, 0, len(s.themes.IDs()))
	for _, fid := range s.themes.IDs() {
		count := 0
		if s.records != nil {
			if c, err := s.records.CountByForum(r.Context(), fid); err == nil {
				count = c
			}
		}
		out = append(out, themeCount{FID: fid, Name: s.themes.Name(fid), Count: count})
	}
	writeJSON(w, http.StatusOK, map[string]any{"themes": out})
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	ok, msg := s.manager.TestConnection(ctx)
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"reachable": ok, "message": msg})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusNotImplemented, "record store not configured")
		return
	}
	forumID := r.URL.Query().Get("forum_id")
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	records, err := s.records.List(r.Context(), forumID, limit, offset)
	if err != nil {
		s.logger.Error("listing records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []crawler.ThreadRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   limit,
		"offset":  offset,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return def
	}
	return val
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
