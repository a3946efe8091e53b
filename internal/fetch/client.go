// Package fetch implements the session-authenticated HTTP client used for
// all site traffic. Fetches are concurrency-bounded by an admission gate and
// carry the stored session cookies plus a browser-like header set.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
	"github.com/threadharvest/threadharvest/internal/session"
)

// Headers sent with every request. The set mimics a desktop browser so the
// session-gated site treats fetches like the browser that earned the cookies.
var defaultHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
	"Connection":      "keep-alive",
}

// Config controls client behavior.
type Config struct {
	BaseURL       string
	MaxConcurrent int
	Timeout       time.Duration
	Proxy         string
	NoProxyHosts  []string
}

// Client implements crawler.Fetcher on top of a Colly collector. The base
// collector owns the shared HTTP backend (transport, cookie jar); each fetch
// clones it the way per-request collectors are built upstream.
type Client struct {
	cfg     Config
	base    *colly.Collector
	sem     chan struct{}
	bypass  *proxyBypass
	store   *session.Store
	logger  *zap.Logger
	mu      sync.Mutex
}

// New builds a Client and loads the session cookies from the store. A missing
// session is tolerated: requests simply go out cookie-less until Reload.
func New(cfg Config, store *session.Store, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bypass, err := newProxyBypass(cfg.Proxy, cfg.NoProxyHosts)
	if err != nil {
		return nil, err
	}

	base := colly.NewCollector(colly.Async(false))
	base.SetRequestTimeout(cfg.Timeout)
	transport := newHTTPTransport()
	transport.Proxy = bypass.proxyFor
	base.WithTransport(transport)

	c := &Client{
		cfg:    cfg,
		base:   base,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		bypass: bypass,
		store:  store,
		logger: logger,
	}
	if err := c.Reload(); err != nil && !errors.Is(err, session.ErrNoSession) {
		return nil, err
	}
	return c, nil
}

// Reload re-applies the session cookies from the store, tolerating the file
// being replaced between reads. A parse failure means "no valid session".
func (c *Client) Reload() error {
	values, err := c.store.NameValues()
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			c.logger.Warn("no session cookies available", zap.String("file", c.store.Path()))
			return err
		}
		return fmt.Errorf("load session cookies: %w", err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	cookies := make([]*http.Cookie, 0, len(values))
	for _, name := range names {
		cookies = append(cookies, &http.Cookie{Name: name, Value: values[name]})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.base.SetCookies(c.cfg.BaseURL, cookies); err != nil {
		return fmt.Errorf("apply session cookies: %w", err)
	}
	c.logger.Info("session cookies applied", zap.Int("cookies", len(cookies)))
	return nil
}

// Fetch executes a single HTTP GET. The error is per-request: a failed page
// does not mean the client is broken.
func (c *Client) Fetch(ctx context.Context, url string) (crawler.Response, error) {
	if err := c.acquire(ctx); err != nil {
		return crawler.Response{}, err
	}

	var (
		result   crawler.Response
		fetchErr error
	)
	start := time.Now()

	c.mu.Lock()
	collector := c.base.Clone()
	c.mu.Unlock()

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range defaultHeaders {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = crawler.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		// The request is still in flight; keep its admission slot held
		// until it finishes so the gate is never exceeded.
		go func() {
			<-done
			c.release()
		}()
		return crawler.Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		c.release()
		if err != nil {
			return crawler.Response{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		if fetchErr != nil {
			return crawler.Response{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return result, nil
	}
}

// FetchMany fetches urls concurrently within the admission gate and returns
// results in input order regardless of completion order.
func (c *Client) FetchMany(ctx context.Context, urls []string) []crawler.FetchResult {
	results := make([]crawler.FetchResult, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			resp, err := c.Fetch(ctx, url)
			results[i] = crawler.FetchResult{Response: resp, Err: err}
		}(i, url)
	}
	wg.Wait()
	return results
}

func (c *Client) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fetch slot wait canceled: %w", ctx.Err())
	}
}

func (c *Client) release() {
	<-c.sem
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
