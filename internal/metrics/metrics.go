// Package metrics exposes Prometheus instrumentation for the crawl service.
package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/threadharvest/threadharvest/internal/events"
)

var (
	initOnce sync.Once

	// ListPagesFetched counts list page fetches by forum.
	ListPagesFetched *prometheus.CounterVec
	// RecordsSaved counts persisted thread records by forum.
	RecordsSaved *prometheus.CounterVec
	// RecordsSkipped counts threads skipped as duplicates or magnet-less.
	RecordsSkipped *prometheus.CounterVec
	// SessionAcquisitions counts browser session acquisitions by result.
	SessionAcquisitions *prometheus.CounterVec
	// CrawlRuns counts finished runs by result.
	CrawlRuns *prometheus.CounterVec
	// CrawlDuration observes run wall time in seconds.
	CrawlDuration prometheus.Histogram
)

// Init registers all collectors on the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		ListPagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadharvest",
			Name:      "list_pages_fetched_total",
			Help:      "List pages fetched, by forum id.",
		}, []string{"forum_id"})
		RecordsSaved = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadharvest",
			Name:      "records_saved_total",
			Help:      "Thread records persisted, by forum id.",
		}, []string{"forum_id"})
		RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadharvest",
			Name:      "records_skipped_total",
			Help:      "Threads skipped as duplicates or without magnets, by forum id.",
		}, []string{"forum_id"})
		SessionAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadharvest",
			Name:      "session_acquisitions_total",
			Help:      "Browser session acquisitions, by result.",
		}, []string{"result"})
		CrawlRuns = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadharvest",
			Name:      "crawl_runs_total",
			Help:      "Finished crawl runs, by result.",
		}, []string{"result"})
		CrawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "threadharvest",
			Name:      "crawl_duration_seconds",
			Help:      "Wall time of crawl runs.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		})
	})
}

// Sink translates crawl events into collector updates. It tracks run start
// times by run id so it can observe wall time when the run finishes.
// Register it on the event hub after Init.
type Sink struct {
	mu     sync.Mutex
	starts map[uuid.UUID]time.Time
}

// NewSink returns a Sink ready to register on the event hub.
func NewSink() *Sink {
	return &Sink{starts: make(map[uuid.UUID]time.Time)}
}

// Consume implements events.Sink.
func (s *Sink) Consume(evt events.Event) {
	switch evt.Stage {
	case events.StageRunStart:
		s.mu.Lock()
		s.starts[evt.RunID] = evt.TS
		s.mu.Unlock()
	case events.StageListPage:
		ListPagesFetched.WithLabelValues(evt.ForumID).Inc()
	case events.StageRecordSaved:
		if evt.Level == events.LevelInfo {
			RecordsSaved.WithLabelValues(evt.ForumID).Inc()
		}
	case events.StageRecordSkip:
		RecordsSkipped.WithLabelValues(evt.ForumID).Inc()
	case events.StageSessionAcquired:
		if evt.Level == events.LevelInfo {
			SessionAcquisitions.WithLabelValues("success").Inc()
		} else {
			SessionAcquisitions.WithLabelValues("error").Inc()
		}
	case events.StageRunDone:
		CrawlRuns.WithLabelValues("success").Inc()
		s.observeDuration(evt)
	case events.StageRunError:
		CrawlRuns.WithLabelValues("error").Inc()
		s.observeDuration(evt)
	}
}

func (s *Sink) observeDuration(evt events.Event) {
	s.mu.Lock()
	start, ok := s.starts[evt.RunID]
	delete(s.starts, evt.RunID)
	s.mu.Unlock()
	if ok {
		CrawlDuration.Observe(evt.TS.Sub(start).Seconds())
	}
}
