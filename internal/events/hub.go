package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Sink consumes events from the Hub. Implementations may be invoked from the
// Hub's dispatch goroutine only and must not block for long.
type Sink interface {
	Consume(evt Event)
}

// Emitter publishes individual events; Hub satisfies this interface so the
// crawl core can remain agnostic about delivery. A nil *Hub is a valid no-op
// emitter, which keeps the core usable with no sink attached.
type Emitter interface {
	Emit(evt Event)
}

const (
	defaultBufferSize = 1024
	dropLogInterval   = 5 * time.Second
)

// Hub fans events out to registered sinks. Emit never blocks; when the buffer
// is full the event is dropped and a rate-limited warning is logged.
type Hub struct {
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts the dispatch goroutine and returns a Hub ready for Emit.
func NewHub(logger *zap.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, defaultBufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go h.run()
	return h
}

// Emit enqueues an Event for dispatch. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid crawl event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.logDrops()
	}
}

// Close drains remaining events and blocks until dispatch exits.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		case <-h.stopCh:
			for {
				select {
				case evt := <-h.events:
					h.dispatch(evt)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) dispatch(evt Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		sink.Consume(evt)
	}
}

func (h *Hub) logDrops() {
	now := time.Now().UnixNano()
	last := h.lastLog.Load()
	if now-last < dropLogInterval.Nanoseconds() {
		return
	}
	if h.lastLog.CompareAndSwap(last, now) {
		count := h.dropped.Swap(0)
		h.logger.Warn("crawl events dropped due to backpressure", zap.Int64("dropped", count))
	}
}
