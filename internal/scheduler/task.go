// Package scheduler runs crawl tasks on cron expressions. Tasks live in a
// store; a Runner polls for due ones and launches managed crawl runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/threadharvest/threadharvest/internal/crawler"
)

// cronFailureFallback is how far out the next run is pushed when a task's
// cron expression does not parse. The task stays visible and retryable
// instead of silently dying.
const cronFailureFallback = time.Hour

// ErrTaskNotFound is returned by stores for unknown task ids.
var ErrTaskNotFound = errors.New("scheduled task not found")

// Task is one recurring crawl definition.
type Task struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CronExpr     string    `json:"cron_expr"`
	Timezone     string    `json:"timezone"`
	ForumID      string    `json:"forum_id"`
	StartPage    int       `json:"start_page"`
	EndPage      int       `json:"end_page"`
	Keywords     []string  `json:"keywords,omitempty"`
	Enabled      bool      `json:"enabled"`
	LastRun      time.Time `json:"last_run,omitzero"`
	NextRun      time.Time `json:"next_run,omitzero"`
	RunCount     int       `json:"run_count"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	LastResult   string    `json:"last_result,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the fields a task needs before it can be stored.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("task name is required")
	}
	if t.ForumID == "" {
		return errors.New("forum id is required")
	}
	if t.EndPage < t.StartPage || t.StartPage < 1 {
		return fmt.Errorf("invalid page range %d..%d", t.StartPage, t.EndPage)
	}
	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q: %w", t.Timezone, err)
		}
	}
	return nil
}

// Range converts the task into a crawl invocation.
func (t Task) Range(pageDelay time.Duration, maxConcurrent int) crawler.CrawlRange {
	return crawler.CrawlRange{
		ForumID:           t.ForumID,
		StartPage:         t.StartPage,
		EndPage:           t.EndPage,
		Keywords:          t.Keywords,
		DelayBetweenPages: pageDelay,
		MaxConcurrent:     maxConcurrent,
	}
}

// NextAfter computes the task's next fire time after ref in the task's
// timezone, falling back to defaultTZ and then UTC. An unparseable
// expression yields ref plus a fixed fallback rather than an error.
func (t Task) NextAfter(ref time.Time, defaultTZ string) time.Time {
	tz := t.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	schedule, err := cron.ParseStandard(t.CronExpr)
	if err != nil {
		return ref.Add(cronFailureFallback)
	}
	return schedule.Next(ref.In(loc))
}

// TaskStore persists scheduled tasks.
type TaskStore interface {
	ListEnabled(ctx context.Context) ([]Task, error)
	List(ctx context.Context) ([]Task, error)
	Get(ctx context.Context, id string) (Task, error)
	Create(ctx context.Context, task Task) (Task, error)
	Update(ctx context.Context, task Task) error
	Delete(ctx context.Context, id string) error
	Toggle(ctx context.Context, id string, enabled bool) error
	UpdateRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
	RecordResult(ctx context.Context, id string, success bool, message string) error
}
