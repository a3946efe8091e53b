package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/manager"
)

// RunFunc executes one managed crawl for a task. The Runner builds the range
// from the task; the function owns session handling and retries.
type RunFunc func(ctx context.Context, rng crawler.CrawlRange) (manager.Outcome, error)

// Config tunes the Runner.
type Config struct {
	PollInterval    time.Duration
	DefaultTimezone string
	PageDelay       time.Duration
	MaxConcurrent   int
}

// Runner polls the task store and fires due tasks. Each task runs in its own
// goroutine; a task never overlaps itself, but distinct tasks may overlap
// (the manager's single-flight guard then serializes them).
type Runner struct {
	cfg    Config
	store  TaskStore
	run    RunFunc
	logger *zap.Logger
	clock  func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner builds a Runner around a task store and a run function.
func NewRunner(cfg Config, store TaskStore, run RunFunc, logger *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		store:    store,
		run:      run,
		logger:   logger,
		clock:    time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the polling loop. It returns immediately; Stop shuts the
// loop down and waits for in-flight task runs.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx)
}

// Stop cancels the loop and blocks until running tasks finish.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick checks every enabled task and fires the due ones.
func (r *Runner) tick(ctx context.Context) {
	tasks, err := r.store.ListEnabled(ctx)
	if err != nil {
		r.logger.Error("listing scheduled tasks failed", zap.Error(err))
		return
	}
	now := r.clock()
	for _, task := range tasks {
		next := task.NextRun
		if next.IsZero() {
			// Newly created or migrated task: compute and persist the first
			// fire time, do not run immediately.
			next = task.NextAfter(now, r.cfg.DefaultTimezone)
			if err := r.store.UpdateRun(ctx, task.ID, task.LastRun, next); err != nil {
				r.logger.Warn("seeding next run failed", zap.String("task", task.ID), zap.Error(err))
			}
			continue
		}
		if now.Before(next) {
			continue
		}
		r.fire(ctx, task, now)
	}
}

// fire launches one task run unless the task is already in flight.
func (r *Runner) fire(ctx context.Context, task Task, now time.Time) {
	r.mu.Lock()
	if _, running := r.inFlight[task.ID]; running {
		r.mu.Unlock()
		return
	}
	r.inFlight[task.ID] = struct{}{}
	r.mu.Unlock()

	next := task.NextAfter(now, r.cfg.DefaultTimezone)
	if err := r.store.UpdateRun(ctx, task.ID, now, next); err != nil {
		r.logger.Warn("updating task run times failed", zap.String("task", task.ID), zap.Error(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.inFlight, task.ID)
			r.mu.Unlock()
		}()

		r.logger.Info("scheduled task firing",
			zap.String("task", task.ID),
			zap.String("name", task.Name),
			zap.String("forum_id", task.ForumID),
			zap.Time("next_run", next),
		)
		outcome, err := r.run(ctx, task.Range(r.cfg.PageDelay, r.cfg.MaxConcurrent))
		// Record the result even when the loop context is already gone.
		resultCtx := context.WithoutCancel(ctx)
		if err != nil {
			r.logger.Error("scheduled task failed",
				zap.String("task", task.ID),
				zap.String("message", outcome.Message),
				zap.Error(err),
			)
			if rerr := r.store.RecordResult(resultCtx, task.ID, false, err.Error()); rerr != nil {
				r.logger.Warn("recording task result failed", zap.String("task", task.ID), zap.Error(rerr))
			}
			return
		}
		r.logger.Info("scheduled task finished",
			zap.String("task", task.ID),
			zap.Int("records", outcome.Records),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("elapsed", outcome.Elapsed),
		)
		if rerr := r.store.RecordResult(resultCtx, task.ID, true, outcome.Message); rerr != nil {
			r.logger.Warn("recording task result failed", zap.String("task", task.ID), zap.Error(rerr))
		}
	}()
}

// RunNow fires a task immediately, regardless of its schedule. It returns
// false when the task is unknown, disabled, or already running.
func (r *Runner) RunNow(ctx context.Context, id string) (bool, error) {
	task, err := r.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !task.Enabled {
		return false, nil
	}
	r.mu.Lock()
	if _, running := r.inFlight[task.ID]; running {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()
	// Detach from the caller's context so an HTTP request ending does not
	// cancel the run it triggered.
	r.fire(context.WithoutCancel(ctx), task, r.clock())
	return true, nil
}
