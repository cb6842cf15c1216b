// Package extract turns fetched article HTML into crawler.ParsedArticle values
// using per-site selector rules with generic fallbacks.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	defaultMinBodyChars  = 50
	defaultWarnBodyChars = 200
	defaultMaxTagsLength = 500
	sniffLen             = 512
)

// Config holds extractor-wide settings.
type Config struct {
	// Location is used for timestamps that carry no zone. Defaults to UTC.
	Location *time.Location
}

// Extractor is stateless apart from its configuration and safe for concurrent use.
type Extractor struct {
	location *time.Location
	logger   *zap.Logger
}

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) *Extractor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{location: loc, logger: logger}
}

// Extract parses html fetched from pageURL using rules. pageURL should already
// be canonical; it becomes the article URL and the source of its ID.
func (e *Extractor) Extract(html []byte, pageURL string, rules crawler.ExtractionRules) (crawler.ParsedArticle, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractMalformedHTML, Detail: "empty document"}
	}
	if looksBinary(html) {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractMalformedHTML, Detail: "binary content"}
	}
	reader, err := decode(html)
	if err != nil {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractMalformedHTML, Detail: err.Error()}
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractMalformedHTML, Detail: err.Error()}
	}
	rules = withDefaults(rules)

	locale := extractLocale(doc)
	if !localeAllowed(locale, rules.AllowedLocales) {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{
			Kind:   crawler.ExtractLocaleMismatch,
			Detail: fmt.Sprintf("page locale %q not in %v", locale, rules.AllowedLocales),
		}
	}

	title := extractTitle(doc, rules.TitleSelectors)
	if title == "" || isPlaceholderTitle(title) {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractMissingTitle, Detail: title}
	}

	ld := parseJSONLD(doc, e.logger)
	article := crawler.ParsedArticle{
		ID:          crawler.ArticleID(pageURL),
		URL:         pageURL,
		Title:       title,
		Description: extractDescription(doc, rules.DescriptionSelectors),
		Tags:        extractTags(doc, rules.TagSelectors, rules.MaxTagsLength),
		Category:    extractCategory(doc, rules.CategorySelectors),
		Locale:      locale,
		PublishedAt: e.publishedAt(doc, ld),
		UpdatedAt:   e.updatedAt(doc, ld),
	}
	leadImage := metaContent(doc, `meta[property="og:image"]`, `meta[name="og:image"]`)

	container := findContainer(doc, rules)
	if container == nil {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{Kind: crawler.ExtractEmptyBody, Detail: "no content container"}
	}
	prune(container, rules.ExcludedSelectors)

	article.Body = flattenBody(container)
	chars := utf8.RuneCountInString(article.Body)
	if chars < rules.MinBodyChars {
		return crawler.ParsedArticle{}, &crawler.ExtractionError{
			Kind:   crawler.ExtractEmptyBody,
			Detail: fmt.Sprintf("%d chars, need %d", chars, rules.MinBodyChars),
		}
	}
	if chars < rules.WarnBodyChars {
		article.Warnings = append(article.Warnings, fmt.Sprintf("short body: %d chars", chars))
	}
	article.ContentHash = crawler.ContentHash(article.Body)
	article.Media = collectMedia(container, pageURL, leadImage, rules)
	return article, nil
}

func withDefaults(rules crawler.ExtractionRules) crawler.ExtractionRules {
	if rules.MinBodyChars <= 0 {
		rules.MinBodyChars = defaultMinBodyChars
	}
	if rules.WarnBodyChars <= 0 {
		rules.WarnBodyChars = defaultWarnBodyChars
	}
	if rules.MaxTagsLength <= 0 {
		rules.MaxTagsLength = defaultMaxTagsLength
	}
	return rules
}

// decode converts legacy-encoded pages to UTF-8. Valid UTF-8 is passed through
// untouched because charset sniffing falls back to windows-1252 for pages whose
// first kilobyte is plain ASCII.
func decode(body []byte) (io.Reader, error) {
	if utf8.Valid(body) {
		return bytes.NewReader(body), nil
	}
	r, err := charset.NewReader(bytes.NewReader(body), "")
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	return r, nil
}

func looksBinary(body []byte) bool {
	if len(body) > sniffLen {
		body = body[:sniffLen]
	}
	return bytes.IndexByte(body, 0) >= 0
}

var placeholderTitles = map[string]struct{}{
	"404":                 {},
	"404 not found":       {},
	"not found":           {},
	"page not found":      {},
	"error":               {},
	"không tìm thấy":      {},
	"trang không tồn tại": {},
}

func isPlaceholderTitle(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	if _, ok := placeholderTitles[t]; ok {
		return true
	}
	return strings.HasPrefix(t, "404 ")
}

// collapseSpace joins all whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
