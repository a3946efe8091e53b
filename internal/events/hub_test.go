package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu   sync.Mutex
	evts []Event
}

func (c *captureSink) Consume(evt Event) {
	c.mu.Lock()
	c.evts = append(c.evts, evt)
	c.mu.Unlock()
}

func (c *captureSink) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.evts...)
}

func validEvent(stage Stage, percent float64) Event {
	return Event{
		RunID:   uuid.New(),
		TS:      time.Now(),
		Level:   LevelInfo,
		Stage:   stage,
		ForumID: "36",
		Message: "msg",
		Percent: percent,
	}
}

func TestHubDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	a, b := &captureSink{}, &captureSink{}
	hub := NewHub(nil, a, b)

	hub.Emit(validEvent(StageRunStart, 0))
	hub.Emit(validEvent(StageRecordSaved, 50))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, a.all(), 2)
	require.Len(t, b.all(), 2)
	require.Equal(t, StageRunStart, a.all()[0].Stage)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(nil, sink)

	hub.Emit(Event{Stage: StageRunStart}) // zero timestamp, no level
	hub.Emit(validEvent(StageRunDone, 100))
	require.NoError(t, hub.Close(context.Background()))

	evts := sink.all()
	require.Len(t, evts, 1)
	require.Equal(t, StageRunDone, evts[0].Stage)
}

func TestHubEmitAfterCloseIsNoop(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	hub := NewHub(nil, sink)
	require.NoError(t, hub.Close(context.Background()))

	hub.Emit(validEvent(StageDetail, -1))
	require.Empty(t, sink.all())
}

func TestNilHubIsValidEmitter(t *testing.T) {
	t.Parallel()

	var hub *Hub
	var emitter Emitter = hub
	emitter.Emit(validEvent(StageSession, -1))
	require.NoError(t, hub.Close(context.Background()))
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validEvent(StageFilter, 10).Validate())
	require.Error(t, Event{}.Validate())

	evt := validEvent(StageFilter, 10)
	evt.Level = "SHOUTING"
	require.Error(t, evt.Validate())

	evt = validEvent(StageFilter, 10)
	evt.Stage = "NOT_A_STAGE"
	require.Error(t, evt.Validate())

	evt = validEvent(StageFilter, 101)
	require.Error(t, evt.Validate())
}

func TestHasProgress(t *testing.T) {
	t.Parallel()

	require.True(t, validEvent(StageDetail, 0).HasProgress())
	require.True(t, validEvent(StageDetail, 99.5).HasProgress())
	require.False(t, validEvent(StageDetail, -1).HasProgress())
}

func TestProgressFuncIgnoresNonProgressEvents(t *testing.T) {
	t.Parallel()

	var got []float64
	sink := ProgressFunc(func(percent float64, _ string) {
		got = append(got, percent)
	})
	sink.Consume(validEvent(StageDetail, 25))
	sink.Consume(validEvent(StageSession, -1))
	require.Equal(t, []float64{25}, got)
}
