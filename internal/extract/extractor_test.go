package extract

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const pageURL = "https://example.com/kinh-te/gia-xang.html"

func paragraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "<p>Đoạn %d: %s</p>\n", i, strings.Repeat("nội dung bài viết ", 5))
	}
	return b.String()
}

func page(head, body string) []byte {
	return []byte("<!doctype html><html lang=\"vi\"><head>" + head + "</head><body>" + body + "</body></html>")
}

func requireExtractionKind(t *testing.T, err error, kind crawler.ExtractionErrorKind) {
	t.Helper()
	var extractErr *crawler.ExtractionError
	require.True(t, errors.As(err, &extractErr), "expected ExtractionError, got %v", err)
	require.Equal(t, kind, extractErr.Kind)
}

func TestExtract_FullArticle(t *testing.T) {
	t.Parallel()

	head := `<title>Fallback title</title>
<meta property="og:title" content="Giá xăng giảm mạnh">
<meta name="description" content="  Mô tả   ngắn ">
<meta property="article:published_time" content="2024-05-01T08:30:00+07:00">
<meta property="article:modified_time" content="2024-05-01T09:00:00Z">
<meta property="og:image" content="/images/lead.jpg">
<meta name="keywords" content="xăng, Giá Xăng, kinh tế">
<meta property="article:section" content="Kinh doanh">`
	body := `<header><h1>Site header</h1></header>
<article class="detail">
<h1 class="title">Giá xăng giảm mạnh</h1>` + paragraphs(5) + `
<figure><img src="/img/photo1.jpg" alt="alt text"><figcaption>Ảnh minh họa</figcaption></figure>
<img src="/img/logo.png">
<img src="data:image/gif;base64,R0lGOD" data-src="https://cdn.example.com/a.webp">
<div class="related-news"><p>Tin liên quan không được giữ lại trong nội dung</p></div>
<div class="tags"><a href="/tag/kinh-te">Kinh tế</a></div>
<script>var tracking = 1;</script>
</article>
<footer>Bản quyền</footer>`

	article, err := New(Config{}, nil).Extract(page(head, body), pageURL, crawler.ExtractionRules{})
	require.NoError(t, err)

	require.Equal(t, crawler.ArticleID(pageURL), article.ID)
	require.Equal(t, pageURL, article.URL)
	require.Equal(t, "Giá xăng giảm mạnh", article.Title)
	require.Equal(t, "Mô tả ngắn", article.Description)
	require.Equal(t, []string{"xăng", "Giá Xăng", "kinh tế"}, article.Tags)
	require.Equal(t, "Kinh doanh", article.Category)
	require.Equal(t, "vi", article.Locale)
	require.Empty(t, article.Warnings)
	require.Len(t, article.ContentHash, 64)

	require.NotContains(t, article.Body, "Tin liên quan")
	require.NotContains(t, article.Body, "tracking")
	require.NotContains(t, article.Body, "Bản quyền")
	require.Len(t, strings.Split(article.Body, "\n\n"), 5)

	require.NotNil(t, article.PublishedAt)
	require.Equal(t, time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC), *article.PublishedAt)
	require.NotNil(t, article.UpdatedAt)
	require.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), *article.UpdatedAt)

	require.Equal(t, []crawler.MediaReference{
		{URL: "https://example.com/images/lead.jpg", Kind: crawler.MediaImage},
		{URL: "https://example.com/img/photo1.jpg", Kind: crawler.MediaImage, Caption: "Ảnh minh họa"},
		{URL: "https://cdn.example.com/a.webp", Kind: crawler.MediaImage},
	}, article.Media)
}

func TestExtract_BodyThresholds(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	head := `<title>Tiêu đề bài viết</title>`

	short := page(head, "<article><p>"+strings.Repeat("chữ ", 25)+"</p></article>")
	article, err := e.Extract(short, pageURL, crawler.ExtractionRules{})
	require.NoError(t, err)
	require.Len(t, article.Warnings, 1)
	require.Contains(t, article.Warnings[0], "short body")

	tiny := page(head, "<article><p>Ngắn quá.</p></article>")
	_, err = e.Extract(tiny, pageURL, crawler.ExtractionRules{})
	requireExtractionKind(t, err, crawler.ExtractEmptyBody)

	_, err = e.Extract(short, pageURL, crawler.ExtractionRules{MinBodyChars: 500})
	requireExtractionKind(t, err, crawler.ExtractEmptyBody)
}

func TestExtract_MissingTitle(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	for _, head := range []string{"", "<title>404 Not Found</title>", "<title>Không tìm thấy</title>"} {
		_, err := e.Extract(page(head, "<article>"+paragraphs(3)+"</article>"), pageURL, crawler.ExtractionRules{})
		requireExtractionKind(t, err, crawler.ExtractMissingTitle)
	}
}

func TestExtract_Malformed(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	_, err := e.Extract([]byte("   "), pageURL, crawler.ExtractionRules{})
	requireExtractionKind(t, err, crawler.ExtractMalformedHTML)

	_, err = e.Extract([]byte{0x89, 'P', 'N', 'G', 0x00, 0x01}, pageURL, crawler.ExtractionRules{})
	requireExtractionKind(t, err, crawler.ExtractMalformedHTML)
}

func TestExtract_LocaleFilter(t *testing.T) {
	t.Parallel()

	e := New(Config{}, nil)
	english := []byte(`<html lang="en"><head><title>Fuel prices fall</title></head><body><article>` +
		paragraphs(3) + `</article></body></html>`)
	_, err := e.Extract(english, pageURL, crawler.ExtractionRules{AllowedLocales: []string{"vi"}})
	requireExtractionKind(t, err, crawler.ExtractLocaleMismatch)

	vietnamese := []byte(`<html lang="vi-VN"><head><title>Giá xăng</title></head><body><article>` +
		paragraphs(3) + `</article></body></html>`)
	article, err := e.Extract(vietnamese, pageURL, crawler.ExtractionRules{AllowedLocales: []string{"vi"}})
	require.NoError(t, err)
	require.Equal(t, "vi-vn", article.Locale)
}

func TestExtract_SiteRules(t *testing.T) {
	t.Parallel()

	body := `<div class="breadcrumb"><a href="/">Trang chủ</a><a href="/the-gioi">Thế giới</a></div>
<h1 class="headline">Tiêu đề theo quy tắc</h1>
<div class="sidebar">` + paragraphs(8) + `</div>
<div class="content-detail">` + paragraphs(3) + `<p class="author-note">Ghi chú tác giả cần loại bỏ</p>
<img src="/img/small.jpg" width="40" height="40">
<img src="https://img.example.com/photo/123" alt="Ảnh không đuôi">
</div>`
	rules := crawler.ExtractionRules{
		TitleSelectors:           []string{"h1.headline"},
		ContainerSelectors:       []string{".content-detail"},
		ExcludedSelectors:        []string{".author-note"},
		CategorySelectors:        []string{".breadcrumb a"},
		MinImageDimension:        100,
		AllowExtensionlessImages: true,
		InlineMediaOnly:          true,
	}
	head := `<title>Meta title</title><meta property="og:image" content="/lead.jpg">`
	article, err := New(Config{}, nil).Extract(page(head, body), pageURL, rules)
	require.NoError(t, err)

	require.Equal(t, "Tiêu đề theo quy tắc", article.Title)
	require.Equal(t, "Thế giới", article.Category)
	require.NotContains(t, article.Body, "Ghi chú")
	require.Len(t, strings.Split(article.Body, "\n\n"), 3)
	require.Equal(t, []crawler.MediaReference{
		{URL: "https://img.example.com/photo/123", Kind: crawler.MediaImage, Caption: "Ảnh không đuôi"},
	}, article.Media)
}

func TestExtract_ContainerKeywords(t *testing.T) {
	t.Parallel()

	body := `<div id="main-detail-body">` + paragraphs(4) + `</div><div class="other">` + paragraphs(1) + `</div>`
	article, err := New(Config{}, nil).Extract(page("<title>Bài viết</title>", body), pageURL,
		crawler.ExtractionRules{ContainerKeywords: []string{"detail-body"}})
	require.NoError(t, err)
	require.Len(t, strings.Split(article.Body, "\n\n"), 4)
}

func TestExtract_JSONLDDatesAndVideo(t *testing.T) {
	t.Parallel()

	head := `<title>Video bài viết</title>
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[
{"@type":"WebPage"},
{"@type":"NewsArticle","datePublished":"2024-05-02T10:00:00+07:00","dateModified":"2024-05-02T11:00:00+07:00"}]}</script>
<script type="application/ld+json">{not json</script>`
	body := `<article>` + paragraphs(3) + `<video controls><source src="/media/clip.mp4" type="video/mp4"></video></article>`
	article, err := New(Config{}, nil).Extract(page(head, body), pageURL, crawler.ExtractionRules{})
	require.NoError(t, err)

	require.Equal(t, time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC), *article.PublishedAt)
	require.Equal(t, time.Date(2024, 5, 2, 4, 0, 0, 0, time.UTC), *article.UpdatedAt)
	require.Equal(t, []crawler.MediaReference{
		{URL: "https://example.com/media/clip.mp4", Kind: crawler.MediaVideo},
	}, article.Media)
}

func TestExtract_LegacyCharset(t *testing.T) {
	t.Parallel()

	html := []byte("<html><head><meta charset=\"windows-1252\"><title>Caf\xe9 news</title></head><body><article><p>" +
		strings.Repeat("Le caf\xe9 est servi. ", 12) + "</p></article></body></html>")
	article, err := New(Config{}, nil).Extract(html, pageURL, crawler.ExtractionRules{})
	require.NoError(t, err)
	require.Equal(t, "Café news", article.Title)
	require.Contains(t, article.Body, "Le café est servi.")
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	ict := time.FixedZone("ICT", 7*3600)
	e := New(Config{Location: ict}, nil)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01T08:30:00+07:00", time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)},
		{"2024-05-01T08:30:00.123Z", time.Date(2024, 5, 1, 8, 30, 0, 123000000, time.UTC)},
		{"2024-05-01T08:30:00+0700", time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)},
		{"2024-05-01T08:30:00", time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)},
		{"2024-05-01", time.Date(2024, 4, 30, 17, 0, 0, 0, time.UTC)},
		{"01/05/2024 08:30", time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)},
		{"Wed, 01 May 2024 08:30:00 +0000", time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got := e.parseTime(tc.in)
		require.NotNil(t, got, tc.in)
		require.True(t, tc.want.Equal(*got), "%s: got %s", tc.in, got)
	}
	require.Nil(t, e.parseTime("hôm qua"))
	require.Nil(t, e.parseTime(""))
}

func TestExtractTags_Truncates(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><head><meta name="keywords" content="abc, defg, ABC, hij"></head><body></body></html>`))
	require.NoError(t, err)
	require.Equal(t, []string{"abc", "defg"}, extractTags(doc, nil, 10))
	require.Equal(t, []string{"abc", "defg", "hij"}, extractTags(doc, nil, 500))
}

func TestHasExcludedMarker(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div>
<div id="a" class="box-share-social"></div>
<div id="b" data-role="comments"></div>
<div id="c" class="box-advertise"></div>
<div id="d" class="article-content"></div>
</div>`))
	require.NoError(t, err)
	require.True(t, hasExcludedMarker(doc.Find("#a")))
	require.True(t, hasExcludedMarker(doc.Find("#b")))
	require.True(t, hasExcludedMarker(doc.Find("#c")))
	require.False(t, hasExcludedMarker(doc.Find("#d")))
}
