// Package manager layers session lifecycle and retry policy on top of the
// crawl engine. It owns the decision of when browser cookies are stale, when
// the site is unreachable, and how many times a failed run is retried with a
// fresh session before giving up.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/events"
	"github.com/threadharvest/threadharvest/internal/session"
)

// ErrBusy is returned when a crawl is requested while one is in flight.
var ErrBusy = errors.New("crawl already in progress")

// CrawlEngine is the engine contract the manager drives.
type CrawlEngine interface {
	Crawl(ctx context.Context, rng crawler.CrawlRange) ([]crawler.ThreadRecord, error)
	Stop()
	IsRunning() bool
	Status() crawler.Status
}

// SessionAcquirer obtains fresh site cookies through a real browser.
type SessionAcquirer interface {
	Acquire(ctx context.Context, headless bool) ([]session.Cookie, error)
}

// SessionFetcher is a Fetcher whose cookie jar can be reloaded after a new
// session is acquired.
type SessionFetcher interface {
	crawler.Fetcher
	Reload() error
}

// Config tunes the retry and freshness policy.
type Config struct {
	BaseURL         string
	MaxRetries      int           // retries after the first attempt
	RetryDelay      time.Duration // pause before each retry
	RefreshInterval time.Duration // cookie age beyond which a new session is forced
	Headless        bool
}

// Outcome summarizes one managed crawl run for callers and API responses.
type Outcome struct {
	Success  bool          `json:"success"`
	Records  int           `json:"records"`
	Attempts int           `json:"attempts"`
	Message  string        `json:"message"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Manager coordinates session acquisition, connectivity checks, and bounded
// retries around the crawl engine. It admits one run at a time.
type Manager struct {
	cfg      Config
	engine   CrawlEngine
	fetcher  SessionFetcher
	acquirer SessionAcquirer
	store    *session.Store
	events   events.Emitter
	logger   *zap.Logger
	apex     string

	busy atomic.Bool
	stop atomic.Bool

	mu           sync.Mutex
	lastAcquired time.Time
}

// New builds a Manager. The acquirer may be nil when running against a site
// that needs no browser session; stale-cookie paths then fail fast.
func New(cfg Config, engine CrawlEngine, fetcher SessionFetcher, acquirer SessionAcquirer, store *session.Store, emitter events.Emitter, logger *zap.Logger) (*Manager, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Hour
	}
	if emitter == nil {
		emitter = (*events.Hub)(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		engine:   engine,
		fetcher:  fetcher,
		acquirer: acquirer,
		store:    store,
		events:   emitter,
		logger:   logger,
		apex:     apexDomain(parsed.Hostname()),
	}
	m.seedLastAcquired()
	return m, nil
}

// seedLastAcquired takes the cookie file's mtime as the acquisition time so
// a restart does not force a pointless browser round trip.
func (m *Manager) seedLastAcquired() {
	if m.store == nil {
		return
	}
	info, err := os.Stat(m.store.Path())
	if err != nil {
		return
	}
	m.lastAcquired = info.ModTime()
}

// IsRunning reports whether a managed run is in flight.
func (m *Manager) IsRunning() bool {
	return m.busy.Load()
}

// Status returns the engine's current run snapshot.
func (m *Manager) Status() crawler.Status {
	return m.engine.Status()
}

// Stop cancels the retry loop and asks the engine to stop cooperatively.
func (m *Manager) Stop() {
	m.stop.Store(true)
	m.engine.Stop()
}

// Run executes one managed crawl: ensure a usable session, verify the site
// is reachable, then run the engine with bounded reacquire-and-retry. A run
// that completes without persisting anything is treated as a session failure
// and retried, since an expired session yields challenge pages, not errors.
func (m *Manager) Run(ctx context.Context, rng crawler.CrawlRange) (Outcome, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Outcome{Message: ErrBusy.Error()}, ErrBusy
	}
	defer m.busy.Store(false)
	m.stop.Store(false)
	start := time.Now()

	if err := m.ensureSession(ctx, false); err != nil {
		return m.fail(start, 0, fmt.Errorf("session unavailable: %w", err))
	}
	if err := m.checkReachable(ctx); err != nil {
		return m.fail(start, 0, err)
	}

	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if m.stop.Load() || ctx.Err() != nil {
			return m.fail(start, attempt, errors.New("run stopped"))
		}
		if attempt > 0 {
			m.emitSession(events.LevelWarn,
				fmt.Sprintf("retry %d/%d after session refresh", attempt, m.cfg.MaxRetries))
			if err := sleepCtx(ctx, m.cfg.RetryDelay); err != nil {
				return m.fail(start, attempt, err)
			}
			if err := m.ensureSession(ctx, true); err != nil {
				lastErr = err
				continue
			}
		}

		records, err := m.engine.Crawl(ctx, rng)
		switch {
		case errors.Is(err, crawler.ErrAlreadyRunning):
			return Outcome{Message: err.Error()}, err
		case err != nil:
			lastErr = err
			m.logger.Warn("crawl attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		case len(records) == 0:
			lastErr = errors.New("run persisted zero records")
			m.logger.Warn("crawl yielded nothing, session likely stale",
				zap.Int("attempt", attempt+1),
			)
		default:
			return Outcome{
				Success:  true,
				Records:  len(records),
				Attempts: attempt + 1,
				Message:  fmt.Sprintf("crawl succeeded with %d records", len(records)),
				Elapsed:  time.Since(start),
			}, nil
		}
	}
	return m.fail(start, m.cfg.MaxRetries+1, fmt.Errorf("all attempts exhausted: %w", lastErr))
}

// checkReachable probes the site root, reacquiring the session and retrying
// up to the configured bound when the probe keeps failing. An expired session
// usually surfaces here as a challenge page or an error status.
func (m *Manager) checkReachable(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if m.stop.Load() || ctx.Err() != nil {
			return errors.New("run stopped")
		}
		if attempt > 0 {
			m.emitSession(events.LevelWarn,
				fmt.Sprintf("connectivity retry %d/%d after session refresh", attempt, m.cfg.MaxRetries))
			if err := sleepCtx(ctx, m.cfg.RetryDelay); err != nil {
				return err
			}
			if err := m.ensureSession(ctx, true); err != nil {
				lastErr = err
				continue
			}
		}
		if err := m.probe(ctx); err != nil {
			lastErr = err
			m.logger.Warn("connectivity probe failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return nil
	}
	return fmt.Errorf("site unreachable after %d attempts: %w", m.cfg.MaxRetries+1, lastErr)
}

// TestConnection probes the site root and reports reachability without
// touching retry state. Safe to call while a run is active.
func (m *Manager) TestConnection(ctx context.Context) (bool, string) {
	if err := m.probe(ctx); err != nil {
		return false, err.Error()
	}
	return true, "site reachable"
}

// ensureSession guarantees a usable cookie set, acquiring a new one when the
// stored session is missing, invalid for the apex domain, older than the
// refresh interval, or when force is set.
func (m *Manager) ensureSession(ctx context.Context, force bool) error {
	if !force && m.sessionFresh() {
		return nil
	}
	if m.acquirer == nil {
		return session.ErrNoSession
	}
	m.emitSession(events.LevelInfo, "acquiring browser session")
	cookies, err := m.acquirer.Acquire(ctx, m.cfg.Headless)
	if err != nil {
		m.emitStage(events.StageSessionAcquired, events.LevelError,
			fmt.Sprintf("session acquisition failed: %v", err))
		return err
	}
	if !session.ValidFor(cookies, m.apex) {
		m.emitStage(events.StageSessionAcquired, events.LevelError,
			"acquired cookies do not cover the target domain")
		return session.ErrNoSession
	}
	if m.fetcher != nil {
		if err := m.fetcher.Reload(); err != nil {
			return fmt.Errorf("reload fetch cookies: %w", err)
		}
	}
	m.mu.Lock()
	m.lastAcquired = time.Now()
	m.mu.Unlock()
	m.emitStage(events.StageSessionAcquired, events.LevelInfo,
		fmt.Sprintf("session acquired, %d cookies", len(cookies)))
	return nil
}

func (m *Manager) sessionFresh() bool {
	if m.store == nil {
		return false
	}
	cookies, err := m.store.Load()
	if err != nil {
		return false
	}
	if !session.ValidFor(cookies, m.apex) {
		return false
	}
	m.mu.Lock()
	age := time.Since(m.lastAcquired)
	m.mu.Unlock()
	return age < m.cfg.RefreshInterval
}

// probe fetches the site root and checks for a plain 200.
func (m *Manager) probe(ctx context.Context) error {
	res, err := m.fetcher.Fetch(ctx, m.cfg.BaseURL)
	if err != nil {
		return err
	}
	if res.StatusCode != 200 {
		return fmt.Errorf("site root returned status %d", res.StatusCode)
	}
	return nil
}

func (m *Manager) fail(start time.Time, attempts int, err error) (Outcome, error) {
	m.emitSession(events.LevelError, err.Error())
	return Outcome{
		Attempts: attempts,
		Message:  err.Error(),
		Elapsed:  time.Since(start),
	}, err
}

func (m *Manager) emitSession(level events.Level, msg string) {
	m.emitStage(events.StageSession, level, msg)
}

func (m *Manager) emitStage(stage events.Stage, level events.Level, msg string) {
	m.events.Emit(events.Event{
		TS:      time.Now(),
		Level:   level,
		Stage:   stage,
		Message: msg,
		Percent: -1,
	})
}

// apexDomain reduces a hostname to its registrable two-label suffix. Good
// enough for the single target site; no public-suffix list needed.
func apexDomain(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
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
