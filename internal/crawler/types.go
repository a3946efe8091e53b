// Package crawler defines the core types and contracts of the crawl engine:
// thread links and records, crawl configuration, and the interfaces the
// orchestrator depends on.
package crawler

import (
	"time"
)

// ThreadLink is a thread reference extracted from a forum list page. It is
// ephemeral: links are deduplicated and consumed within a single crawl run.
type ThreadLink struct {
	TID       string `json:"tid"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	SourceURL string `json:"source_url"`
}

// ThreadRecord is the fully parsed detail of one forum thread. Records
// without at least one magnet URI are discarded before persistence.
type ThreadRecord struct {
	TID          string    `json:"tid"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Magnets      []string  `json:"magnets"`
	Code         string    `json:"code,omitempty"`
	Author       string    `json:"author,omitempty"`
	Size         string    `json:"size,omitempty"`
	IsUncensored bool      `json:"is_uncensored"`
	CoverImages  []string  `json:"cover_images"`
	AllImages    []string  `json:"all_images"`
	URL          string    `json:"url"`
	ForumID      string    `json:"forum_id"`
	ForumName    string    `json:"forum_name,omitempty"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// CoverURL returns the primary thumbnail, the first cover image if any.
func (r ThreadRecord) CoverURL() string {
	if len(r.CoverImages) == 0 {
		return ""
	}
	return r.CoverImages[0]
}

// CrawlRange is the immutable configuration for one crawl invocation.
type CrawlRange struct {
	ForumID           string        `json:"forum_id"`
	StartPage         int           `json:"start_page"`
	EndPage           int           `json:"end_page"`
	Keywords          []string      `json:"keywords,omitempty"`
	DelayBetweenPages time.Duration `json:"delay_between_pages"`
	MaxConcurrent     int           `json:"max_concurrent"`
}

// PageCount returns the number of list pages covered by the range.
func (r CrawlRange) PageCount() int {
	if r.EndPage < r.StartPage {
		return 0
	}
	return r.EndPage - r.StartPage + 1
}

// State is the orchestrator lifecycle state for one invocation.
type State string

// Orchestrator states. Stopped is reachable from any point via Stop.
const (
	StateIdle           State = "idle"
	StateListing        State = "listing"
	StateFiltering      State = "filtering"
	StateDetailFetching State = "detail_fetching"
	StatePersisting     State = "persisting"
	StateStopped        State = "stopped"
)
