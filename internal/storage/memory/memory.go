// Package memory provides map-backed stores for tests and for running
// without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/scheduler"
)

// RecordStore keeps thread records in a map. First write wins, matching the
// database store's conflict behavior.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]crawler.ThreadRecord
}

// NewRecordStore returns an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]crawler.ThreadRecord)}
}

// Exists reports whether a thread id is stored.
func (s *RecordStore) Exists(_ context.Context, tid string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[tid]
	return ok, nil
}

// Save stores a record unless the thread id is already present.
func (s *RecordStore) Save(_ context.Context, record crawler.ThreadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.TID]; ok {
		return nil
	}
	s.records[record.TID] = record
	return nil
}

// CountByForum counts stored records for one forum.
func (s *RecordStore) CountByForum(_ context.Context, forumID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, rec := range s.records {
		if rec.ForumID == forumID {
			count++
		}
	}
	return count, nil
}

// List returns records newest first, optionally filtered by forum.
func (s *RecordStore) List(_ context.Context, forumID string, limit, offset int) ([]crawler.ThreadRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	all := make([]crawler.ThreadRecord, 0, len(s.records))
	for _, rec := range s.records {
		if forumID == "" || rec.ForumID == forumID {
			all = append(all, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CrawledAt.After(all[j].CrawledAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// TaskStore keeps scheduled tasks in a map.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]scheduler.Task
}

// NewTaskStore returns an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]scheduler.Task)}
}

// ListEnabled returns enabled tasks ordered by creation time.
func (s *TaskStore) ListEnabled(ctx context.Context) ([]scheduler.Task, error) {
	tasks, _ := s.List(ctx)
	enabled := tasks[:0:0]
	for _, task := range tasks {
		if task.Enabled {
			enabled = append(enabled, task)
		}
	}
	return enabled, nil
}

// List returns all tasks ordered by creation time.
func (s *TaskStore) List(_ context.Context) ([]scheduler.Task, error) {
	s.mu.RLock()
	tasks := make([]scheduler.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

// Get fetches one task.
func (s *TaskStore) Get(_ context.Context, id string) (scheduler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return scheduler.Task{}, scheduler.ErrTaskNotFound
	}
	return task, nil
}

// Create validates and stores a new task.
func (s *TaskStore) Create(_ context.Context, task scheduler.Task) (scheduler.Task, error) {
	if err := task.Validate(); err != nil {
		return scheduler.Task{}, err
	}
	task.ID = uuid.NewString()
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return task, nil
}

// Update rewrites a task's definition and clears its next fire time so the
// runner recomputes it under the new expression.
func (s *TaskStore) Update(_ context.Context, task scheduler.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[task.ID]
	if !ok {
		return scheduler.ErrTaskNotFound
	}
	task.CreatedAt = current.CreatedAt
	task.LastRun = current.LastRun
	task.NextRun = time.Time{}
	task.RunCount = current.RunCount
	task.SuccessCount = current.SuccessCount
	task.ErrorCount = current.ErrorCount
	task.LastResult = current.LastResult
	task.LastError = current.LastError
	task.UpdatedAt = time.Now()
	s.tasks[task.ID] = task
	return nil
}

// Delete removes a task.
func (s *TaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return scheduler.ErrTaskNotFound
	}
	delete(s.tasks, id)
	return nil
}

// Toggle flips a task's enabled flag.
func (s *TaskStore) Toggle(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return scheduler.ErrTaskNotFound
	}
	task.Enabled = enabled
	task.UpdatedAt = time.Now()
	s.tasks[id] = task
	return nil
}

// UpdateRun records the last fire and next due times.
func (s *TaskStore) UpdateRun(_ context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return scheduler.ErrTaskNotFound
	}
	task.LastRun = lastRun
	task.NextRun = nextRun
	s.tasks[id] = task
	return nil
}

// RecordResult updates the run counters after a crawl finishes.
func (s *TaskStore) RecordResult(_ context.Context, id string, success bool, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return scheduler.ErrTaskNotFound
	}
	task.RunCount++
	if success {
		task.SuccessCount++
		task.LastResult = message
		task.LastError = ""
	} else {
		task.ErrorCount++
		task.LastError = message
	}
	s.tasks[id] = task
	return nil
}
