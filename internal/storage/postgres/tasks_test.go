package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/threadharvest/threadharvest/internal/scheduler"
)

func TestTaskStoreCreateAssignsID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTaskStore(mock)

	mock.ExpectExec("INSERT INTO scheduled_tasks").
		WithArgs(
			pgxmock.AnyArg(), "nightly", "", "0 3 * * *", "Asia/Shanghai",
			"36", 1, 5, []byte(`null`), true, pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task, err := store.Create(context.Background(), scheduler.Task{
		Name:      "nightly",
		CronExpr:  "0 3 * * *",
		Timezone:  "Asia/Shanghai",
		ForumID:   "36",
		StartPage: 1,
		EndPage:   5,
		Enabled:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.False(t, task.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreCreateRejectsBadCron(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTaskStore(mock)

	_, err = store.Create(context.Background(), scheduler.Task{
		Name:      "broken",
		CronExpr:  "not a cron",
		ForumID:   "36",
		StartPage: 1,
		EndPage:   1,
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreToggleUnknownID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTaskStore(mock)

	mock.ExpectExec("UPDATE scheduled_tasks SET enabled").
		WithArgs("missing", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Toggle(context.Background(), "missing", true)
	require.ErrorIs(t, err, scheduler.ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreUpdateRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTaskStore(mock)
	last := time.Unix(1700000000, 0).UTC()
	next := last.Add(time.Hour)

	mock.ExpectExec("UPDATE scheduled_tasks SET last_run").
		WithArgs("task-1", last, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateRun(context.Background(), "task-1", last, next))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStoreRecordResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewTaskStore(mock)

	mock.ExpectExec("UPDATE scheduled_tasks SET run_count").
		WithArgs("task-1", "persisted 12 records").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordResult(context.Background(), "task-1", true, "persisted 12 records"))

	mock.ExpectExec("UPDATE scheduled_tasks SET run_count").
		WithArgs("task-1", "connectivity check failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.RecordResult(context.Background(), "task-1", false, "connectivity check failed"))

	require.NoError(t, mock.ExpectationsWereMet())
}
