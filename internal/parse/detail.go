package parse

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/threadharvest/threadharvest/internal/crawler"
)

var titleSelectors = []string{
	"h1#thread_subject",
	"h1.thread_subject",
	"h1",
	".thread_subject",
	"title",
}

var contentSelectors = []string{
	"div.t_msgfont",
	"div.postmessage",
	".t_msgfont",
	".postmessage",
	"div[id*='post_']",
	"td.t_f",
}

var (
	magnetTextRe = regexp.MustCompile(`(?i)magnet:\?xt=urn:btih:[0-9a-f]{40,}`)
	magnetHashRe = regexp.MustCompile(`(?i)btih:([0-9a-f]{40,})`)
)

// Release code patterns, tried in priority order against title + body.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[A-Z]{2,4}-\d{3,4}`),
	regexp.MustCompile(`(?i)[A-Z]{2,4}\d{3,4}`),
	regexp.MustCompile(`(?i)[A-Z]{2,4}-\d{2,3}`),
}

// Performer field labels. Only these structured labels are trusted; free
// text is never guessed.
var authorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`【出演女优】：\s*([^\n\r【】]+)`),
	regexp.MustCompile(`【女优】：\s*([^\n\r【】]+)`),
	regexp.MustCompile(`【演员】：\s*([^\n\r【】]+)`),
	regexp.MustCompile(`出演女优[：:]\s*([^\n\r【】]+)`),
	regexp.MustCompile(`女优[：:]\s*([^\n\r【】]+)`),
	regexp.MustCompile(`演员[：:]\s*([^\n\r【】]+)`),
}

var authorCleanRe = regexp.MustCompile(`[^\p{Han}\w\s]`)

// Capacity labels first, then a bare number+unit fallback as the last entry.
var sizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)【影片容量】：\s*(\d+(?:\.\d+)?)\s*(GB|MB|KB|G|M|K)`),
	regexp.MustCompile(`(?i)【容量】：\s*(\d+(?:\.\d+)?)\s*(GB|MB|KB|G|M|K)`),
	regexp.MustCompile(`(?i)影片容量[：:]\s*(\d+(?:\.\d+)?)\s*(GB|MB|KB|G|M|K)`),
	regexp.MustCompile(`(?i)容量[：:]\s*(\d+(?:\.\d+)?)\s*(GB|MB|KB|G|M|K)`),
	regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(GB|MB|KB|G|M|K)B?`),
}

var censorLabelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`【是否有码】：\s*(无码|有码)`),
	regexp.MustCompile(`【有码】：\s*(无码|有码)`),
	regexp.MustCompile(`是否有码[：:]\s*(无码|有码)`),
	regexp.MustCompile(`有码[：:]\s*(无码|有码)`),
}

var uncensoredKeywords = []string{
	"无码", "無碼", "uncensored", "无修正", "無修正",
	"流出", "破解", "破解版", "破解版流出",
}

// ParseThreadDetail parses a thread detail page into a ThreadRecord. It
// returns nil when the page carries no magnet URI: such records have no value
// downstream, so the absence is a hard filter rather than a soft signal.
// Thread id, forum id, and timestamps are filled in by the caller.
func (p *Parser) ParseThreadDetail(html string) *crawler.ThreadRecord {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		p.logger.Warn("detail page not parseable", zap.Error(err))
		return nil
	}

	magnets := extractMagnets(doc)
	if len(magnets) == 0 {
		return nil
	}

	title := firstText(doc, titleSelectors)
	content := firstText(doc, contentSelectors)
	cover, all := p.extractImages(doc)

	return &crawler.ThreadRecord{
		Title:        title,
		Content:      content,
		Magnets:      magnets,
		Code:         ExtractCode(title + " " + content),
		Author:       extractAuthor(content),
		Size:         ExtractSize(content),
		IsUncensored: CheckUncensored(title + " " + content),
		CoverImages:  cover,
		AllImages:    all,
	}
}

// firstText returns the trimmed text of the first selector that yields a
// non-empty result.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, selector := range selectors {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			return text
		}
	}
	return ""
}

// extractMagnets unions the full-text regex scan with magnet-scheme anchors
// and deduplicates case-insensitively by the btih hash component.
func extractMagnets(doc *goquery.Document) []string {
	var found []string
	found = append(found, magnetTextRe.FindAllString(doc.Text(), -1)...)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if strings.HasPrefix(href, "magnet:") {
			found = append(found, href)
		}
	})

	seen := make(map[string]struct{}, len(found))
	unique := make([]string, 0, len(found))
	for _, uri := range found {
		key := strings.ToLower(uri)
		if m := magnetHashRe.FindStringSubmatch(uri); m != nil {
			key = strings.ToLower(m[1])
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, uri)
	}
	return unique
}

// ExtractCode finds a product/release code in the combined title+body text.
func ExtractCode(text string) string {
	for _, pattern := range codePatterns {
		if m := pattern.FindString(text); m != "" {
			return strings.ToUpper(m)
		}
	}
	return ""
}

func extractAuthor(content string) string {
	if content == "" {
		return ""
	}
	for _, pattern := range authorPatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(authorCleanRe.ReplaceAllString(m[1], ""))
		if len([]rune(name)) > 1 {
			return name
		}
	}
	return ""
}

// ExtractSize finds a size label, preferring structured capacity labels,
// and normalizes the unit to KB/MB/GB.
func ExtractSize(content string) string {
	for _, pattern := range sizePatterns {
		m := pattern.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		value, unit := m[1], strings.ToUpper(m[2])
		switch unit {
		case "G", "GB":
			return value + "GB"
		case "M", "MB":
			return value + "MB"
		case "K", "KB":
			return value + "KB"
		}
	}
	return ""
}

// CheckUncensored determines the uncensored flag. A structured censorship
// label always takes precedence; keyword presence may only set the flag true
// when no label exists, never override a structured "censored" value.
func CheckUncensored(text string) bool {
	for _, pattern := range censorLabelPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1] == "无码"
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range uncensoredKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
