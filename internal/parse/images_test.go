package parse

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func imageDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div class="t_msgfont">` + body + `</div></body></html>`))
	require.NoError(t, err)
	return doc
}

func TestExtractImagesFiltersAndClassifiesCovers(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	doc := imageDoc(t, `
		<img src="img/SSIS-001-a.jpg">
		<img src="img/SSIS-001-b.jpg">
		<img src="img/SSIS-001-c.jpg">
		<img src="img/avatar.jpg">
		<img src="img/scene.png">
		<img data-src="img/MIDE-222.jpg">
	`)

	cover, all := p.extractImages(doc)
	require.Len(t, all, 4, "avatar and non-jpeg are excluded")
	require.Len(t, cover, 2, "covers are capped at two")
	require.Equal(t, "https://sehuatang.org/img/SSIS-001-a.jpg", cover[0])
	require.Equal(t, "https://sehuatang.org/img/SSIS-001-b.jpg", cover[1])
	require.Contains(t, all, "https://sehuatang.org/img/MIDE-222.jpg", "lazy data-src is honored")
}

func TestExtractImagesKeepsAttachmentAnchors(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	doc := imageDoc(t, `
		<a href="attachment/forum/ABP-123.jpg">附件</a>
		<a href="attachment/forum/notes.txt">附件2</a>
	`)

	_, all := p.extractImages(doc)
	require.Equal(t, []string{"https://sehuatang.org/attachment/forum/ABP-123.jpg"}, all)
}

func TestExtractImagesDeduplicatesAcrossPasses(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	doc := imageDoc(t, `
		<img src="img/STARS-800.jpg">
		<a href="img/STARS-800.jpg">same file</a>
	`)

	_, all := p.extractImages(doc)
	require.Len(t, all, 1)
}
