package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/scheduler"
)

func TestRecordStoreFirstWriteWins(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, crawler.ThreadRecord{TID: "1", Title: "first", ForumID: "36"}))
	require.NoError(t, store.Save(ctx, crawler.ThreadRecord{TID: "1", Title: "second", ForumID: "36"}))

	exists, err := store.Exists(ctx, "1")
	require.NoError(t, err)
	require.True(t, exists)

	records, err := store.List(ctx, "36", 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "first", records[0].Title)
}

func TestRecordStoreListFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i, tid := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, crawler.ThreadRecord{
			TID: tid, ForumID: "36", CrawledAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, store.Save(ctx, crawler.ThreadRecord{TID: "d", ForumID: "37", CrawledAt: base}))

	records, err := store.List(ctx, "36", 2, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "c", records[0].TID, "newest first")

	records, err = store.List(ctx, "36", 2, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "a", records[0].TID)

	count, err := store.CountByForum(ctx, "37")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTaskStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	ctx := context.Background()

	task, err := store.Create(ctx, scheduler.Task{
		Name: "nightly", CronExpr: "0 3 * * *", ForumID: "36",
		StartPage: 1, EndPage: 5, Enabled: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "nightly", got.Name)

	require.NoError(t, store.Toggle(ctx, task.ID, false))
	enabled, err := store.ListEnabled(ctx)
	require.NoError(t, err)
	require.Empty(t, enabled)

	now := time.Now()
	require.NoError(t, store.UpdateRun(ctx, task.ID, now, now.Add(time.Hour)))
	got, err = store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, now.Unix(), got.LastRun.Unix())

	require.NoError(t, store.RecordResult(ctx, task.ID, true, "persisted 3 records"))
	require.NoError(t, store.RecordResult(ctx, task.ID, false, "probe failed"))
	got, err = store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.RunCount)
	require.Equal(t, 1, got.SuccessCount)
	require.Equal(t, 1, got.ErrorCount)
	require.Equal(t, "probe failed", got.LastError)

	task.Name = "renamed"
	task.NextRun = now // must be cleared by Update
	require.NoError(t, store.Update(ctx, task))
	got, err = store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Name)
	require.True(t, got.NextRun.IsZero(), "updating a task resets its schedule")
	require.Equal(t, 2, got.RunCount, "updating a task keeps its counters")

	require.NoError(t, store.Delete(ctx, task.ID))
	_, err = store.Get(ctx, task.ID)
	require.ErrorIs(t, err, scheduler.ErrTaskNotFound)
}

func TestTaskStoreCreateValidates(t *testing.T) {
	t.Parallel()

	store := NewTaskStore()
	_, err := store.Create(context.Background(), scheduler.Task{Name: "bad", CronExpr: "nope", ForumID: "36", StartPage: 1, EndPage: 1})
	require.Error(t, err)
}
