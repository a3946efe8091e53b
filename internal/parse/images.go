package parse

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Image sources inside post content, widest selector first.
var imageSelectors = []string{
	"td.t_f img",
	"div.t_msgfont img",
	"div.postmessage img",
	".t_msgfont img",
	".postmessage img",
	"div[id*='post_'] img",
}

// Lazy-loading templates stash the real URL in one of these attributes.
var imageSrcAttrs = []string{"src", "data-src", "zoomfile", "file"}

const attachmentScope = "td.t_f, div.t_msgfont, div.postmessage"

// Path/filename substrings marking avatars, icons, ad assets, and the site's
// placeholder image. Any match excludes the URL.
var imageBlocklist = []string{
	"none.gif",
	"placeholder",
	"static/image/common",
	"avatar",
	"logo",
	"icon",
	"btn",
	"torrent.gif",
	"ad",
	"banner",
	"sponsor",
	"ads",
	"advertisement",
	"promo",
	"commercial",
	"tuiguang",
	"guanggao",
}

var coverCodeRe = regexp.MustCompile(`(?i)[A-Z]{2,4}-\d{3,4}`)

const maxCoverImages = 2

// extractImages collects post images in two passes: content <img> elements
// filtered to jpg/jpeg minus the blocklist, then attachment anchors pointing
// directly at jpg files. Images whose URL contains the release-code pattern
// are classified as covers, capped at maxCoverImages.
func (p *Parser) extractImages(doc *goquery.Document) (cover, all []string) {
	seen := make(map[string]struct{})

	add := func(raw string) {
		src := p.absolute(raw)
		if src == "" {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		all = append(all, src)
	}

	for _, selector := range imageSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			src := firstAttr(sel, imageSrcAttrs)
			if src == "" || !isJPEG(src) || isBlockedImage(src) {
				return
			}
			add(src)
		})
	}

	doc.Find(attachmentScope).Each(func(_ int, scope *goquery.Selection) {
		scope.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if !isJPEG(href) {
				return
			}
			add(href)
		})
	})

	for _, src := range all {
		if len(cover) >= maxCoverImages {
			break
		}
		if coverCodeRe.MatchString(src) {
			cover = append(cover, src)
		}
	}
	return cover, all
}

func firstAttr(sel *goquery.Selection, attrs []string) string {
	for _, attr := range attrs {
		if v, ok := sel.Attr(attr); ok && v != "" {
			return v
		}
	}
	return ""
}

func isJPEG(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}

func isBlockedImage(src string) bool {
	lower := strings.ToLower(src)
	for _, marker := range imageBlocklist {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// absolute resolves a possibly relative image URL against the site origin.
func (p *Parser) absolute(src string) string {
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	origin := p.base.Scheme + "://" + p.base.Host
	if strings.HasPrefix(src, "/") {
		return origin + src
	}
	return origin + "/" + src
}
