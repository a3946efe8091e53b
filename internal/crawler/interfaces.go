package crawler

import (
	"context"
	"time"
)

// Response is the body plus metadata returned by a Fetcher.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// FetchResult pairs a Response with the per-request error so batch callers
// can distinguish one failed page from a broken client.
type FetchResult struct {
	Response Response
	Err      error
}

// Fetcher performs session-authenticated HTTP GETs against the target site.
// FetchMany is concurrency-bounded and preserves input order in its results.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
	FetchMany(ctx context.Context, urls []string) []FetchResult
}

// PageParser turns fetched HTML into typed thread data. ParseThreadDetail
// returns nil for pages that carry no magnet URI.
type PageParser interface {
	ListPageURLs(forumID string, page int) []string
	ParseListPage(html, sourceURL string) []ThreadLink
	ParseThreadDetail(html string) *ThreadRecord
	Deduplicate(links []ThreadLink) []ThreadLink
	FilterKeywords(links []ThreadLink, keywords []string) []ThreadLink
}

// RecordStore is the persistence contract the orchestrator consumes. The
// crawl core never issues raw queries.
type RecordStore interface {
	Exists(ctx context.Context, tid string) (bool, error)
	Save(ctx context.Context, record ThreadRecord) error
	CountByForum(ctx context.Context, forumID string) (int, error)
}
