package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/manager"
)

type stubStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

func newStubStore(tasks ...Task) *stubStore {
	s := &stubStore{tasks: make(map[string]Task)}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return s
}

func (s *stubStore) ListEnabled(context.Context) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, task := range s.tasks {
		if task.Enabled {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *stubStore) List(ctx context.Context) ([]Task, error) { return s.ListEnabled(ctx) }

func (s *stubStore) Get(_ context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (s *stubStore) Create(_ context.Context, task Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return task, nil
}

func (s *stubStore) Update(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *stubStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *stubStore) Toggle(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.Enabled = enabled
	s.tasks[id] = task
	return nil
}

func (s *stubStore) UpdateRun(_ context.Context, id string, lastRun, nextRun time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.LastRun = lastRun
	task.NextRun = nextRun
	s.tasks[id] = task
	return nil
}

func (s *stubStore) RecordResult(_ context.Context, id string, success bool, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.RunCount++
	if success {
		task.SuccessCount++
		task.LastResult = message
	} else {
		task.ErrorCount++
		task.LastError = message
	}
	s.tasks[id] = task
	return nil
}

func (s *stubStore) snapshot(id string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

type runRecorder struct {
	mu   sync.Mutex
	runs []crawler.CrawlRange
}

func (r *runRecorder) run(_ context.Context, rng crawler.CrawlRange) (manager.Outcome, error) {
	r.mu.Lock()
	r.runs = append(r.runs, rng)
	r.mu.Unlock()
	return manager.Outcome{Success: true, Records: 1, Attempts: 1}, nil
}

func (r *runRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func testRunner(store TaskStore, rec *runRecorder) *Runner {
	return NewRunner(Config{
		PollInterval:    time.Hour, // ticks are driven manually in tests
		DefaultTimezone: "UTC",
		PageDelay:       time.Second,
		MaxConcurrent:   5,
	}, store, rec.run, nil)
}

func TestTickSeedsNextRunWithoutFiring(t *testing.T) {
	t.Parallel()

	store := newStubStore(Task{
		ID: "t1", Name: "seed", CronExpr: "*/5 * * * *",
		ForumID: "36", StartPage: 1, EndPage: 1, Enabled: true,
	})
	rec := &runRecorder{}
	r := testRunner(store, rec)
	r.clock = func() time.Time { return time.Date(2025, 6, 1, 10, 3, 0, 0, time.UTC) }

	r.tick(context.Background())
	require.Zero(t, rec.count(), "seeding must not fire the task")
	require.Equal(t,
		time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC).Unix(),
		store.snapshot("t1").NextRun.Unix(),
	)
}

func TestTickFiresDueTask(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 5, 0, 0, time.UTC)
	store := newStubStore(Task{
		ID: "t1", Name: "due", CronExpr: "*/5 * * * *",
		ForumID: "36", StartPage: 1, EndPage: 3, Enabled: true,
		NextRun: now.Add(-time.Second),
	})
	rec := &runRecorder{}
	r := testRunner(store, rec)
	r.clock = func() time.Time { return now }

	r.tick(context.Background())
	r.wg.Wait()

	require.Equal(t, 1, rec.count())
	rec.mu.Lock()
	rng := rec.runs[0]
	rec.mu.Unlock()
	require.Equal(t, "36", rng.ForumID)
	require.Equal(t, 3, rng.EndPage)

	updated := store.snapshot("t1")
	require.Equal(t, now.Unix(), updated.LastRun.Unix())
	require.True(t, updated.NextRun.After(now))
	require.Equal(t, 1, updated.RunCount)
	require.Equal(t, 1, updated.SuccessCount)
	require.Zero(t, updated.ErrorCount)
}

func TestTickSkipsNotYetDueTask(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	store := newStubStore(Task{
		ID: "t1", Name: "later", CronExpr: "0 12 * * *",
		ForumID: "2", StartPage: 1, EndPage: 1, Enabled: true,
		NextRun: now.Add(2 * time.Hour),
	})
	rec := &runRecorder{}
	r := testRunner(store, rec)
	r.clock = func() time.Time { return now }

	r.tick(context.Background())
	r.wg.Wait()
	require.Zero(t, rec.count())
}

func TestRunNow(t *testing.T) {
	t.Parallel()

	store := newStubStore(
		Task{ID: "on", Name: "on", CronExpr: "0 3 * * *", ForumID: "36", StartPage: 1, EndPage: 1, Enabled: true},
		Task{ID: "off", Name: "off", CronExpr: "0 3 * * *", ForumID: "36", StartPage: 1, EndPage: 1, Enabled: false},
	)
	rec := &runRecorder{}
	r := testRunner(store, rec)

	fired, err := r.RunNow(context.Background(), "on")
	require.NoError(t, err)
	require.True(t, fired)
	r.wg.Wait()
	require.Equal(t, 1, rec.count())

	fired, err = r.RunNow(context.Background(), "off")
	require.NoError(t, err)
	require.False(t, fired, "disabled tasks cannot be fired")

	_, err = r.RunNow(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
