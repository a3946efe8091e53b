package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/threadharvest/threadharvest/internal/scheduler"
)

// TaskStore persists scheduled crawl tasks.
type TaskStore struct {
	db db
}

// NewTaskStore wraps a connection pool.
func NewTaskStore(conn db) *TaskStore {
	return &TaskStore{db: conn}
}

const taskColumns = `id, name, description, cron_expr, timezone, forum_id,
	start_page, end_page, keywords, enabled, last_run, next_run, run_count,
	success_count, error_count, last_result, last_error, created_at, updated_at`

// ListEnabled returns every enabled task.
func (s *TaskStore) ListEnabled(ctx context.Context) ([]scheduler.Task, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list enabled tasks: %w", err)
	}
	return scanTasks(rows)
}

// List returns every task, enabled or not.
func (s *TaskStore) List(ctx context.Context) ([]scheduler.Task, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return scanTasks(rows)
}

// Get fetches one task by id.
func (s *TaskStore) Get(ctx context.Context, id string) (scheduler.Task, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	tasks, err := scanTasks(rows)
	if err != nil {
		return scheduler.Task{}, err
	}
	if len(tasks) == 0 {
		return scheduler.Task{}, scheduler.ErrTaskNotFound
	}
	return tasks[0], nil
}

// Create inserts a task, assigning it an id and timestamps.
func (s *TaskStore) Create(ctx context.Context, task scheduler.Task) (scheduler.Task, error) {
	if err := task.Validate(); err != nil {
		return scheduler.Task{}, err
	}
	task.ID = uuid.NewString()
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now

	keywords, err := json.Marshal(task.Keywords)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("encode keywords: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO scheduled_tasks (
			id, name, description, cron_expr, timezone, forum_id, start_page,
			end_page, keywords, enabled, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		task.ID, task.Name, task.Description, task.CronExpr, task.Timezone,
		task.ForumID, task.StartPage, task.EndPage, keywords, task.Enabled,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// Update rewrites a task's definition. Run bookkeeping fields are managed
// separately via UpdateRun.
func (s *TaskStore) Update(ctx context.Context, task scheduler.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	keywords, err := json.Marshal(task.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scheduled_tasks SET
			name = $2, description = $3, cron_expr = $4, timezone = $5,
			forum_id = $6, start_page = $7, end_page = $8, keywords = $9,
			enabled = $10, next_run = NULL, updated_at = now()
		WHERE id = $1`,
		task.ID, task.Name, task.Description, task.CronExpr, task.Timezone,
		task.ForumID, task.StartPage, task.EndPage, keywords, task.Enabled,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrTaskNotFound
	}
	return nil
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrTaskNotFound
	}
	return nil
}

// Toggle flips a task's enabled flag.
func (s *TaskStore) Toggle(ctx context.Context, id string, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_tasks SET enabled = $2, updated_at = now() WHERE id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("toggle task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrTaskNotFound
	}
	return nil
}

// UpdateRun records the task's last fire time and next due time.
func (s *TaskStore) UpdateRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	var last any
	if !lastRun.IsZero() {
		last = lastRun
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_tasks SET last_run = $2, next_run = $3 WHERE id = $1`,
		id, last, nextRun)
	if err != nil {
		return fmt.Errorf("update run times for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrTaskNotFound
	}
	return nil
}

// RecordResult updates the per-task run counters after a crawl finishes.
func (s *TaskStore) RecordResult(ctx context.Context, id string, success bool, message string) error {
	var query string
	if success {
		query = `UPDATE scheduled_tasks SET run_count = run_count + 1,
			success_count = success_count + 1, last_result = $2, last_error = ''
			WHERE id = $1`
	} else {
		query = `UPDATE scheduled_tasks SET run_count = run_count + 1,
			error_count = error_count + 1, last_error = $2
			WHERE id = $1`
	}
	tag, err := s.db.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("record result for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return scheduler.ErrTaskNotFound
	}
	return nil
}

func scanTasks(rows pgx.Rows) ([]scheduler.Task, error) {
	defer rows.Close()
	var tasks []scheduler.Task
	for rows.Next() {
		var (
			task     scheduler.Task
			keywords []byte
			lastRun  *time.Time
			nextRun  *time.Time
		)
		if err := rows.Scan(
			&task.ID, &task.Name, &task.Description, &task.CronExpr,
			&task.Timezone, &task.ForumID, &task.StartPage, &task.EndPage,
			&keywords, &task.Enabled, &lastRun, &nextRun, &task.RunCount,
			&task.SuccessCount, &task.ErrorCount, &task.LastResult,
			&task.LastError, &task.CreatedAt, &task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal(keywords, &task.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords for %s: %w", task.ID, err)
		}
		if lastRun != nil {
			task.LastRun = *lastRun
		}
		if nextRun != nil {
			task.NextRun = *nextRun
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
