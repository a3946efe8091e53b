package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/scheduler"
)

type taskRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	CronExpr    string   `json:"cron_expr"`
	Timezone    string   `json:"timezone"`
	ForumID     string   `json:"forum_id"`
	StartPage   int      `json:"start_page"`
	EndPage     int      `json:"end_page"`
	Keywords    []string `json:"keywords"`
	Enabled     *bool    `json:"enabled"`
}

func (req taskRequest) toTask() scheduler.Task {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return scheduler.Task{
		Name:        req.Name,
		Description: req.Description,
		CronExpr:    req.CronExpr,
		Timezone:    req.Timezone,
		ForumID:     req.ForumID,
		StartPage:   req.StartPage,
		EndPage:     req.EndPage,
		Keywords:    req.Keywords,
		Enabled:     enabled,
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Error("listing tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []scheduler.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.tasks.Create(r.Context(), req.toTask())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task := req.toTask()
	task.ID = chi.URLParam(r, "task_id")
	if err := s.tasks.Update(r.Context(), task); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "task_id")); err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id := chi.URLParam(r, "task_id")
	if err := s.tasks.Toggle(r.Context(), id, req.Enabled); err != nil {
		s.writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": req.Enabled})
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusNotImplemented, "scheduler not running")
		return
	}
	id := chi.URLParam(r, "task_id")
	fired, err := s.runner.RunNow(r.Context(), id)
	if err != nil {
		s.writeTaskError(w, err)
		return
	}
	if !fired {
		writeError(w, http.StatusConflict, "task is disabled or already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "fired": true})
}

func (s *Server) writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.logger.Error("task store error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "task store error")
}
