package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var defaultTagSelectors = []string{`a[rel="tag"]`, ".tags a", ".tag-list a", ".box-tag a"}

// metaContent returns the first non-empty content attribute among selectors.
func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		var value string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value = collapseSpace(s.AttrOr("content", ""))
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

// selectionText reads meta-like elements through their content attribute and
// everything else through its text.
func selectionText(s *goquery.Selection) string {
	if goquery.NodeName(s) == "meta" {
		return collapseSpace(s.AttrOr("content", ""))
	}
	return collapseSpace(s.Text())
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		var value string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			value = selectionText(s)
			return value == ""
		})
		if value != "" {
			return value
		}
	}
	return ""
}

func extractTitle(doc *goquery.Document, selectors []string) string {
	if title := firstText(doc, selectors); title != "" {
		return title
	}
	if title := metaContent(doc, `meta[property="og:title"]`, `meta[name="og:title"]`); title != "" {
		return title
	}
	if title := collapseSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return collapseSpace(doc.Find("h1").First().Text())
}

func extractDescription(doc *goquery.Document, selectors []string) string {
	if desc := firstText(doc, selectors); desc != "" {
		return desc
	}
	return metaContent(doc,
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	)
}

// extractTags gathers tags from article meta, keyword meta and tag links. Tags
// are deduplicated case-insensitively, keeping the first spelling seen, and the
// list is cut so its comma-joined form fits maxLength.
func extractTags(doc *goquery.Document, selectors []string, maxLength int) []string {
	var raw []string
	doc.Find(`meta[property="article:tag"], meta[name="article:tag"]`).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, s.AttrOr("content", ""))
	})
	doc.Find(`meta[name="keywords"], meta[name="news_keywords"]`).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, strings.Split(s.AttrOr("content", ""), ",")...)
	})
	if len(selectors) == 0 {
		selectors = defaultTagSelectors
	}
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			raw = append(raw, selectionText(s))
		})
	}

	seen := make(map[string]struct{}, len(raw))
	var tags []string
	joined := 0
	for _, candidate := range raw {
		tag := collapseSpace(candidate)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		add := len(tag)
		if len(tags) > 0 {
			add++
		}
		if joined+add > maxLength {
			break
		}
		joined += add
		tags = append(tags, tag)
	}
	return tags
}

// extractCategory prefers the deepest breadcrumb entry matched by the site's
// selectors and falls back to article:section.
func extractCategory(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		var last string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := selectionText(s); text != "" {
				last = text
			}
		})
		if last != "" {
			return last
		}
	}
	return metaContent(doc, `meta[property="article:section"]`, `meta[name="article:section"]`)
}

func extractLocale(doc *goquery.Document) string {
	lang, _ := doc.Find("html").First().Attr("lang")
	if strings.TrimSpace(lang) == "" {
		lang = metaContent(doc, `meta[property="og:locale"]`)
	}
	return normalizeLocale(lang)
}

func normalizeLocale(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
}

// localeAllowed accepts unknown locales and matches on the primary language
// subtag, so "vi" admits "vi-vn".
func localeAllowed(locale string, allowed []string) bool {
	if locale == "" || len(allowed) == 0 {
		return true
	}
	primary, _, _ := strings.Cut(locale, "-")
	for _, candidate := range allowed {
		c := normalizeLocale(candidate)
		if c == locale {
			return true
		}
		if cp, _, _ := strings.Cut(c, "-"); cp == primary {
			return true
		}
	}
	return false
}
