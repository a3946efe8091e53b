package parse

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const magnetA = "magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
const magnetB = "magnet:?xt=urn:btih:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

func detailPage(body string) string {
	return fmt.Sprintf(`<html><head><title>page</title></head><body>
		<h1 id="thread_subject">SSIS-001 出演女优A 完整版</h1>
		<div class="t_msgfont">%s</div>
	</body></html>`, body)
}

func TestParseThreadDetailWithoutMagnetReturnsNil(t *testing.T) {
	t.Parallel()

	p := newTestParser(t)
	require.Nil(t, p.ParseThreadDetail(detailPage("【影片名称】：SSIS-001 但是没有链接")))
}

func TestParseThreadDetailExtractsFields(t *testing.T) {
	t.Parallel()

	body := `【影片名称】：SSIS-001 完整版<br>
		【出演女优】：葵司<br>
		【影片容量】：5.2G<br>
		【是否有码】：有码<br>
		` + magnetA
	p := newTestParser(t)
	rec := p.ParseThreadDetail(detailPage(body))
	require.NotNil(t, rec)
	require.Equal(t, "SSIS-001 出演女优A 完整版", rec.Title)
	require.Equal(t, "SSIS-001", rec.Code)
	require.Equal(t, "葵司", rec.Author)
	require.Equal(t, "5.2GB", rec.Size, "bare G normalizes to GB")
	require.False(t, rec.IsUncensored)
	require.Equal(t, []string{magnetA}, rec.Magnets)
}

func TestExtractMagnetsDeduplicatesByHashCaseInsensitively(t *testing.T) {
	t.Parallel()

	body := magnetA + `<br>
		<a href="` + strings.ToUpper(magnetA) + `">download</a>
		<a href="` + magnetB + `">second</a>`
	p := newTestParser(t)
	rec := p.ParseThreadDetail(detailPage(body))
	require.NotNil(t, rec)
	require.Len(t, rec.Magnets, 2, "same hash in different case is one magnet")
}

func TestCheckUncensoredLabelBeatsKeywords(t *testing.T) {
	t.Parallel()

	// Structured label wins even when an uncensored keyword appears nearby.
	require.False(t, CheckUncensored("【是否有码】：有码 标题提到无码流出"))
	require.True(t, CheckUncensored("【是否有码】：无码"))

	// Without a label, keywords may set the flag.
	require.True(t, CheckUncensored("SSIS-001 无修正版本"))
	require.True(t, CheckUncensored("FC2 uncensored leak"))
	require.False(t, CheckUncensored("SSIS-001 普通版本"))
}

func TestExtractCodePriority(t *testing.T) {
	t.Parallel()

	require.Equal(t, "SSIS-001", ExtractCode("标题 ssis-001 资源"))
	require.Equal(t, "MIDE222", ExtractCode("mide222 中文字幕"))
	require.Equal(t, "", ExtractCode("没有编号的标题"))
}

func TestExtractSizeNormalizesUnits(t *testing.T) {
	t.Parallel()

	require.Equal(t, "5.2GB", ExtractSize("【影片容量】：5.2G"))
	require.Equal(t, "700MB", ExtractSize("容量：700 MB"))
	require.Equal(t, "850KB", ExtractSize("大约 850K 的样本"))
	require.Equal(t, "", ExtractSize("容量未知"))
}

func TestExtractAuthorCleansAndRejectsShortNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "葵司", extractAuthor("【出演女优】：葵司★"))
	require.Equal(t, "", extractAuthor("【出演女优】：★"), "single rune after cleanup is rejected")
	require.Equal(t, "三上悠亚", extractAuthor("演员：三上悠亚"))
	require.Equal(t, "", extractAuthor("正文里随便提到一个名字"))
}
