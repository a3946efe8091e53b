package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/events"
	"github.com/threadharvest/threadharvest/internal/themes"
)

// detailFetchDelay is the pause between consecutive detail page fetches.
// The target forum rate-limits aggressively; one request per second plus
// the list page cadence keeps runs under its radar.
const detailFetchDelay = time.Second

// ErrAlreadyRunning is returned when Crawl is invoked while a run is active.
var ErrAlreadyRunning = errors.New("a crawl run is already in progress")

// Status is a point-in-time snapshot of the orchestrator, safe to serve from
// an API handler while a run is active.
type Status struct {
	State        State     `json:"state"`
	RunID        string    `json:"run_id,omitempty"`
	ForumID      string    `json:"forum_id,omitempty"`
	PagesDone    int       `json:"pages_done"`
	PagesTotal   int       `json:"pages_total"`
	RecordsSaved int       `json:"records_saved"`
	StartedAt    time.Time `json:"started_at,omitzero"`
}

// Orchestrator drives a full crawl run: list pages, filtering, detail pages,
// and persistence. One Orchestrator runs at most one crawl at a time; callers
// needing retry or scheduling wrap it rather than extend it.
type Orchestrator struct {
	fetcher   Fetcher
	parser    PageParser
	store     RecordStore
	snapshots *SnapshotWriter
	themes    *themes.Registry
	events    events.Emitter
	logger    *zap.Logger

	stop    atomic.Bool
	running atomic.Bool

	mu     sync.Mutex
	status Status
}

// NewOrchestrator wires a crawl engine. snapshots and emitter may be nil,
// disabling run snapshots and event delivery respectively.
func NewOrchestrator(fetcher Fetcher, parser PageParser, store RecordStore, snapshots *SnapshotWriter, registry *themes.Registry, emitter events.Emitter, logger *zap.Logger) *Orchestrator {
	if registry == nil {
		registry = themes.Default()
	}
	if emitter == nil {
		emitter = (*events.Hub)(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:   fetcher,
		parser:    parser,
		store:     store,
		snapshots: snapshots,
		themes:    registry,
		events:    emitter,
		logger:    logger,
		status:    Status{State: StateIdle},
	}
}

// Status returns the current run snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// IsRunning reports whether a crawl run is active.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Stop requests a cooperative stop. The active run finishes its current
// detail fetch, persists what it has, and returns partial results.
func (o *Orchestrator) Stop() {
	if o.running.Load() {
		o.stop.Store(true)
	}
}

// Crawl executes one run over the configured page range and returns every
// record persisted during the run. A stop request or context cancellation
// ends the run early with the records gathered so far.
func (o *Orchestrator) Crawl(ctx context.Context, rng CrawlRange) ([]ThreadRecord, error) {
	if rng.ForumID == "" {
		return nil, errors.New("forum id is required")
	}
	if rng.PageCount() == 0 {
		return nil, fmt.Errorf("empty page range %d..%d", rng.StartPage, rng.EndPage)
	}
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)
	o.stop.Store(false)

	runID := uuid.New()
	forumName := o.themes.Name(rng.ForumID)
	startedAt := time.Now()
	o.setStatus(Status{
		State:      StateListing,
		RunID:      runID.String(),
		ForumID:    rng.ForumID,
		PagesTotal: rng.PageCount(),
		StartedAt:  startedAt,
	})
	o.emit(runID, events.LevelInfo, events.StageRunStart, rng.ForumID,
		fmt.Sprintf("crawl started: %s pages %d-%d", forumName, rng.StartPage, rng.EndPage), 0)
	o.logger.Info("crawl run started",
		zap.String("run_id", runID.String()),
		zap.String("forum_id", rng.ForumID),
		zap.String("forum_name", forumName),
		zap.Int("start_page", rng.StartPage),
		zap.Int("end_page", rng.EndPage),
	)

	var (
		saved      []ThreadRecord
		seen       = make(map[string]struct{})
		pagesDone  int
		pagesTotal = rng.PageCount()
		listFailed int
	)

	finish := func(stage events.Stage, level events.Level, msg string, st State) {
		o.emit(runID, level, stage, rng.ForumID, msg, 100)
		o.setState(st)
	}

	for page := rng.StartPage; page <= rng.EndPage; page++ {
		if err := o.checkStop(ctx); err != nil {
			o.writeSnapshot(forumName, rng.ForumID, startedAt, saved)
			finish(events.StageRunDone, events.LevelWarn,
				fmt.Sprintf("crawl stopped early at page %d with %d records", page, len(saved)), StateStopped)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return saved, err
			}
			return saved, nil
		}

		o.setState(StateListing)
		links := o.fetchListPage(ctx, runID, rng.ForumID, page)
		if links == nil {
			listFailed++
			pagesDone++
			o.setPageProgress(pagesDone, len(saved))
			continue
		}

		o.setState(StateFiltering)
		links = o.parser.Deduplicate(links)
		fresh := links[:0:0]
		for _, link := range links {
			if _, dup := seen[link.TID]; dup {
				continue
			}
			seen[link.TID] = struct{}{}
			fresh = append(fresh, link)
		}
		fresh = o.parser.FilterKeywords(fresh, rng.Keywords)
		o.emit(runID, events.LevelInfo, events.StageFilter, rng.ForumID,
			fmt.Sprintf("page %d: %d threads after filtering", page, len(fresh)),
			o.progress(pagesDone, 0, 1, pagesTotal))

		records, stopped := o.fetchDetails(ctx, runID, rng, fresh, pagesDone, pagesTotal, forumName, len(saved))
		saved = append(saved, records...)
		pagesDone++
		o.setPageProgress(pagesDone, len(saved))
		if stopped {
			o.writeSnapshot(forumName, rng.ForumID, startedAt, saved)
			finish(events.StageRunDone, events.LevelWarn,
				fmt.Sprintf("crawl stopped early with %d records", len(saved)), StateStopped)
			return saved, ctx.Err()
		}

		if page < rng.EndPage && rng.DelayBetweenPages > 0 {
			if err := sleepCtx(ctx, rng.DelayBetweenPages); err != nil {
				o.writeSnapshot(forumName, rng.ForumID, startedAt, saved)
				finish(events.StageRunDone, events.LevelWarn,
					fmt.Sprintf("crawl cancelled with %d records", len(saved)), StateStopped)
				return saved, err
			}
		}
	}

	if listFailed == pagesTotal {
		finish(events.StageRunError, events.LevelError, "all list pages failed to fetch", StateIdle)
		return nil, fmt.Errorf("all %d list pages failed for forum %s", pagesTotal, rng.ForumID)
	}

	o.writeSnapshot(forumName, rng.ForumID, startedAt, saved)
	finish(events.StageRunDone, events.LevelInfo,
		fmt.Sprintf("crawl finished: %d records from %d pages", len(saved), pagesTotal), StateIdle)
	o.logger.Info("crawl run finished",
		zap.String("run_id", runID.String()),
		zap.String("forum_id", rng.ForumID),
		zap.Int("records", len(saved)),
		zap.Int("pages_failed", listFailed),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	return saved, nil
}

// fetchListPage fetches both URL templates for a list page concurrently and
// merges whatever parsed. It returns nil only when every template failed.
func (o *Orchestrator) fetchListPage(ctx context.Context, runID uuid.UUID, forumID string, page int) []ThreadLink {
	urls := o.parser.ListPageURLs(forumID, page)
	results := o.fetcher.FetchMany(ctx, urls)

	var merged []ThreadLink
	failures := 0
	for i, res := range results {
		if res.Err != nil {
			failures++
			o.logger.Warn("list page fetch failed",
				zap.String("url", urls[i]),
				zap.Int("page", page),
				zap.Error(res.Err),
			)
			continue
		}
		merged = append(merged, o.parser.ParseListPage(string(res.Response.Body), res.Response.URL)...)
	}
	if failures == len(results) {
		o.emit(runID, events.LevelWarn, events.StageListPage, forumID,
			fmt.Sprintf("page %d: both list templates failed", page), -1)
		return nil
	}
	o.emit(runID, events.LevelInfo, events.StageListPage, forumID,
		fmt.Sprintf("page %d: %d thread links", page, len(merged)), -1)
	return merged
}

// fetchDetails walks one page's links serially, honoring the per-request
// delay, and returns the records it persisted. stopped is true when a stop
// request or context cancellation cut the walk short.
func (o *Orchestrator) fetchDetails(ctx context.Context, runID uuid.UUID, rng CrawlRange, links []ThreadLink, pagesDone, pagesTotal int, forumName string, savedSoFar int) (records []ThreadRecord, stopped bool) {
	o.setState(StateDetailFetching)
	for i, link := range links {
		if o.checkStop(ctx) != nil {
			return records, true
		}

		exists, err := o.store.Exists(ctx, link.TID)
		if err != nil {
			o.logger.Warn("existence check failed", zap.String("tid", link.TID), zap.Error(err))
		} else if exists {
			o.emit(runID, events.LevelInfo, events.StageRecordSkip, rng.ForumID,
				fmt.Sprintf("thread %s already stored", link.TID),
				o.progress(pagesDone, i+1, len(links), pagesTotal))
			continue
		}

		res, err := o.fetcher.Fetch(ctx, link.URL)
		if err != nil {
			o.logger.Warn("detail fetch failed", zap.String("url", link.URL), zap.Error(err))
			o.emit(runID, events.LevelWarn, events.StageDetail, rng.ForumID,
				fmt.Sprintf("thread %s fetch failed", link.TID), -1)
			continue
		}

		record := o.parser.ParseThreadDetail(string(res.Body))
		if record == nil {
			o.emit(runID, events.LevelInfo, events.StageRecordSkip, rng.ForumID,
				fmt.Sprintf("thread %s has no magnet", link.TID),
				o.progress(pagesDone, i+1, len(links), pagesTotal))
			continue
		}
		record.TID = link.TID
		record.URL = link.URL
		record.ForumID = rng.ForumID
		record.ForumName = forumName
		record.CrawledAt = time.Now()
		if record.Title == "" {
			record.Title = link.Title
		}

		o.setState(StatePersisting)
		if err := o.store.Save(ctx, *record); err != nil {
			o.logger.Error("record save failed", zap.String("tid", record.TID), zap.Error(err))
			o.emit(runID, events.LevelError, events.StageRecordSaved, rng.ForumID,
				fmt.Sprintf("thread %s save failed: %v", record.TID, err), -1)
		} else {
			records = append(records, *record)
			o.emit(runID, events.LevelInfo, events.StageRecordSaved, rng.ForumID,
				fmt.Sprintf("saved %s (%d magnets)", record.TID, len(record.Magnets)),
				o.progress(pagesDone, i+1, len(links), pagesTotal))
			o.setRecordCount(savedSoFar + len(records))
		}
		o.setState(StateDetailFetching)

		if i < len(links)-1 {
			if sleepCtx(ctx, detailFetchDelay) != nil {
				return records, true
			}
		}
	}
	return records, false
}

// progress maps (finished pages, position within current page) to a 0-100
// percentage across the whole run.
func (o *Orchestrator) progress(pagesDone, linkIdx, linkTotal, pagesTotal int) float64 {
	if pagesTotal == 0 {
		return -1
	}
	frac := float64(pagesDone)
	if linkTotal > 0 {
		frac += float64(linkIdx) / float64(linkTotal)
	}
	pct := frac / float64(pagesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (o *Orchestrator) checkStop(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.stop.Load() {
		return errors.New("stop requested")
	}
	return nil
}

// writeSnapshot persists the run's result document. Zero-record runs still
// write one so every run leaves an on-disk trace of when it ran.
func (o *Orchestrator) writeSnapshot(forumName, forumID string, crawlTime time.Time, records []ThreadRecord) {
	if o.snapshots == nil {
		return
	}
	if _, err := o.snapshots.Write(forumName, forumID, crawlTime, records); err != nil {
		o.logger.Error("snapshot write failed", zap.String("forum_id", forumID), zap.Error(err))
	}
}

func (o *Orchestrator) emit(runID uuid.UUID, level events.Level, stage events.Stage, forumID, msg string, percent float64) {
	o.events.Emit(events.Event{
		RunID:   runID,
		TS:      time.Now(),
		Level:   level,
		Stage:   stage,
		ForumID: forumID,
		Message: msg,
		Percent: percent,
	})
}

func (o *Orchestrator) setStatus(s Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.status.State = s
	o.mu.Unlock()
}

func (o *Orchestrator) setPageProgress(pagesDone, records int) {
	o.mu.Lock()
	o.status.PagesDone = pagesDone
	o.status.RecordsSaved = records
	o.mu.Unlock()
}

func (o *Orchestrator) setRecordCount(records int) {
	o.mu.Lock()
	o.status.RecordsSaved = records
	o.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
