// Package parse turns raw forum HTML into typed thread structures. All
// parsing is pure: absence of extractable data yields empty fields, never an
// error.
package parse

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
)

// Thread link selectors, in recall order. The site serves several template
// variants; every selector known to wrap thread URLs is tried.
var listSelectors = []string{
	"a[href*='thread-']",
	"a[href*='forum.php?mod=viewthread']",
	".tl a",
	".s a",
}

var (
	tidPathRe  = regexp.MustCompile(`thread-(\d+)`)
	tidQueryRe = regexp.MustCompile(`tid=(\d+)`)
)

// Parser extracts thread links and records from forum pages. Methods perform
// no I/O; the base URL is only used to resolve relative references.
type Parser struct {
	base   *url.URL
	logger *zap.Logger
}

// New builds a Parser rooted at the site base URL.
func New(baseURL string, logger *zap.Logger) (*Parser, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{base: base, logger: logger}, nil
}

// ListPageURLs returns both known routing schemes for a forum list page.
func (p *Parser) ListPageURLs(forumID string, page int) []string {
	return []string{
		fmt.Sprintf("%s://%s/forum-%s-%d.html", p.base.Scheme, p.base.Host, forumID, page),
		fmt.Sprintf("%s://%s/forum.php?mod=forumdisplay&fid=%s&page=%d", p.base.Scheme, p.base.Host, forumID, page),
	}
}

// ParseListPage extracts thread links from a forum list page, discarding
// advertisement titles and deduplicating by thread id (first occurrence wins).
func (p *Parser) ParseListPage(html, sourceURL string) []crawler.ThreadLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("list page not parseable", zap.String("source", sourceURL), zap.Error(err))
		return nil
	}

	var links []crawler.ThreadLink
	for _, selector := range listSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href, ok := sel.Attr("href")
			if !ok || href == "" {
				return
			}
			tid := ExtractTID(href)
			if tid == "" {
				return
			}
			title := extractLinkTitle(sel)
			if title == "" || IsAdvertisementTitle(title) {
				return
			}
			links = append(links, crawler.ThreadLink{
				TID:       tid,
				Title:     title,
				URL:       p.resolve(sourceURL, href),
				SourceURL: sourceURL,
			})
		})
	}

	unique := DeduplicateThreads(links)
	p.logger.Info("list page parsed",
		zap.String("source", sourceURL),
		zap.Int("raw", len(links)),
		zap.Int("unique", len(unique)),
	)
	return unique
}

// ExtractTID pulls the numeric thread identifier from a thread URL. It
// understands both the path form (thread-<id>) and the query form (tid=<id>).
func ExtractTID(href string) string {
	if m := tidPathRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	if m := tidQueryRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

// extractLinkTitle resolves the link title in priority order: title
// attribute, visible text, then alt / data-title attributes.
func extractLinkTitle(sel *goquery.Selection) string {
	if title, ok := sel.Attr("title"); ok && strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	if text := strings.TrimSpace(sel.Text()); text != "" {
		return text
	}
	for _, attr := range []string{"alt", "data-title"} {
		if title, ok := sel.Attr(attr); ok && strings.TrimSpace(title) != "" {
			return strings.TrimSpace(title)
		}
	}
	return ""
}

// DeduplicateThreads removes duplicate thread ids, keeping first occurrences.
// It is idempotent: applying it to its own output changes nothing.
func DeduplicateThreads(links []crawler.ThreadLink) []crawler.ThreadLink {
	seen := make(map[string]struct{}, len(links))
	unique := make([]crawler.ThreadLink, 0, len(links))
	for _, link := range links {
		if link.TID == "" {
			continue
		}
		if _, dup := seen[link.TID]; dup {
			continue
		}
		seen[link.TID] = struct{}{}
		unique = append(unique, link)
	}
	return unique
}

// FilterByKeywords keeps links whose title contains at least one keyword,
// case-insensitively. No keywords means no filtering.
func FilterByKeywords(links []crawler.ThreadLink, keywords []string) []crawler.ThreadLink {
	if len(keywords) == 0 {
		return links
	}
	filtered := make([]crawler.ThreadLink, 0, len(links))
	for _, link := range links {
		title := strings.ToLower(link.Title)
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(title, strings.ToLower(kw)) {
				filtered = append(filtered, link)
				break
			}
		}
	}
	return filtered
}

// Deduplicate removes duplicate thread ids, keeping first occurrences.
func (p *Parser) Deduplicate(links []crawler.ThreadLink) []crawler.ThreadLink {
	return DeduplicateThreads(links)
}

// FilterKeywords keeps links whose title matches at least one keyword.
func (p *Parser) FilterKeywords(links []crawler.ThreadLink, keywords []string) []crawler.ThreadLink {
	return FilterByKeywords(links, keywords)
}

func (p *Parser) resolve(sourceURL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base := p.base
	if src, err := url.Parse(sourceURL); err == nil && src.Host != "" {
		base = src
	}
	return base.ResolveReference(ref).String()
}

// Advertisement title heuristics. The keyword blocklist covers promotional,
// gambling, finance, adult-service, and fraud terms observed on the site.
var adKeywords = []string{
	"广告", "推广", "赞助", "合作", "商业", "营销",
	"ad", "advertisement", "sponsor", "promotion", "commercial",
	"推广链接", "广告位", "招商", "代理", "加盟",
	"赚钱", "致富", "兼职", "招聘", "求职",
	"游戏", "赌博", "博彩", "彩票", "时时彩",
	"贷款", "信用卡", "理财", "投资", "股票",
	"保健品", "减肥", "美容", "整形", "增高",
	"代购", "代刷", "代练", "代充", "代挂",
	"刷单", "刷钻", "刷信誉", "刷流量", "刷粉丝",
	"色情", "成人", "一夜情", "援交", "按摩",
	"办证", "刻章", "发票", "假证", "假文凭",
	"黑客", "破解", "盗号", "外挂",
}

var symbolOnlyRe = regexp.MustCompile(`^[^\p{Han}\w\s]+$`)

// IsAdvertisementTitle reports whether a thread title matches the ad
// heuristics: blocklisted keyword, under 5 characters after trimming, all
// non-word/non-CJK symbols, or more than 30% digits.
func IsAdvertisementTitle(title string) bool {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, kw := range adKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	runes := []rune(trimmed)
	if len(runes) < 5 {
		return true
	}
	if symbolOnlyRe.MatchString(trimmed) {
		return true
	}
	digits := 0
	for _, r := range runes {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return float64(digits) > float64(len(runes))*0.3
}
