package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskNextAfterUsesTaskTimezone(t *testing.T) {
	t.Parallel()

	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	task := Task{CronExpr: "*/5 * * * *", Timezone: "Asia/Shanghai"}
	ref := time.Date(2025, 6, 1, 10, 3, 0, 0, shanghai)

	next := task.NextAfter(ref, "UTC")
	require.Equal(t, time.Date(2025, 6, 1, 10, 5, 0, 0, shanghai).Unix(), next.Unix())
}

func TestTaskNextAfterFallsBackToDefaultTimezone(t *testing.T) {
	t.Parallel()

	task := Task{CronExpr: "0 3 * * *"}
	ref := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	// 03:00 in Shanghai is 19:00 UTC the previous day; the next fire after
	// 10:00 UTC is 19:00 UTC the same day.
	next := task.NextAfter(ref, "Asia/Shanghai")
	require.Equal(t, time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC).Unix(), next.Unix())
}

func TestTaskNextAfterBadCronFallsForwardOneHour(t *testing.T) {
	t.Parallel()

	task := Task{CronExpr: "definitely not cron"}
	ref := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.Equal(t, ref.Add(time.Hour), task.NextAfter(ref, "UTC"))
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	valid := Task{Name: "nightly", CronExpr: "0 3 * * *", ForumID: "36", StartPage: 1, EndPage: 5}
	require.NoError(t, valid.Validate())

	cases := []Task{
		{CronExpr: "0 3 * * *", ForumID: "36", StartPage: 1, EndPage: 5},          // no name
		{Name: "x", CronExpr: "0 3 * * *", StartPage: 1, EndPage: 5},              // no forum
		{Name: "x", CronExpr: "0 3 * * *", ForumID: "36", StartPage: 5, EndPage: 1}, // inverted
		{Name: "x", CronExpr: "bad", ForumID: "36", StartPage: 1, EndPage: 5},     // bad cron
		{Name: "x", CronExpr: "0 3 * * *", ForumID: "36", StartPage: 1, EndPage: 5, Timezone: "Mars/Olympus"},
	}
	for i, task := range cases {
		require.Error(t, task.Validate(), "case %d", i)
	}
}

func TestTaskRange(t *testing.T) {
	t.Parallel()

	task := Task{ForumID: "103", StartPage: 2, EndPage: 4, Keywords: []string{"字幕"}}
	rng := task.Range(2*time.Second, 5)
	require.Equal(t, "103", rng.ForumID)
	require.Equal(t, 2, rng.StartPage)
	require.Equal(t, 4, rng.EndPage)
	require.Equal(t, []string{"字幕"}, rng.Keywords)
	require.Equal(t, 2*time.Second, rng.DelayBetweenPages)
	require.Equal(t, 5, rng.MaxConcurrent)
}
