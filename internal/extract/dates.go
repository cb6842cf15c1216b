package extract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// zonedLayouts carry their own offset; localLayouts are read in the
// extractor's configured location.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006 - 15:04",
		"02/01/2006",
		"2/1/2006 15:04",
		"2/1/2006",
	}
)

var (
	publishedSelectors = []string{
		`meta[property="article:published_time"]`,
		`meta[name="article:published_time"]`,
		`meta[itemprop="datePublished"]`,
		`meta[name="pubdate"]`,
		`meta[name="publishdate"]`,
		`meta[name="timestamp"]`,
	}
	updatedSelectors = []string{
		`meta[property="article:modified_time"]`,
		`meta[property="og:updated_time"]`,
		`meta[itemprop="dateModified"]`,
	}
)

// linkedData holds the date fields we read from JSON-LD blocks.
type linkedData struct {
	published string
	modified  string
}

func (e *Extractor) publishedAt(doc *goquery.Document, ld linkedData) *time.Time {
	for _, sel := range publishedSelectors {
		if t := e.parseTime(metaContent(doc, sel)); t != nil {
			return t
		}
	}
	var found *time.Time
	doc.Find(`[itemprop="datePublished"], time[datetime]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		value := s.AttrOr("datetime", s.AttrOr("content", ""))
		if value == "" {
			value = s.Text()
		}
		found = e.parseTime(value)
		return found == nil
	})
	if found != nil {
		return found
	}
	return e.parseTime(ld.published)
}

func (e *Extractor) updatedAt(doc *goquery.Document, ld linkedData) *time.Time {
	for _, sel := range updatedSelectors {
		if t := e.parseTime(metaContent(doc, sel)); t != nil {
			return t
		}
	}
	return e.parseTime(ld.modified)
}

// parseTime accepts the timestamp shapes seen on news sites and returns nil
// for anything it cannot read. Results are always UTC.
func (e *Extractor) parseTime(value string) *time.Time {
	value = collapseSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, e.location); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func parseJSONLD(doc *goquery.Document, logger *zap.Logger) linkedData {
	var ld linkedData
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			logger.Debug("skipping invalid JSON-LD block", zap.Error(err))
			return
		}
		walkLinkedData(payload, &ld)
	})
	return ld
}

func walkLinkedData(node any, ld *linkedData) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			walkLinkedData(item, ld)
		}
	case map[string]any:
		if ld.published == "" {
			if s, ok := v["datePublished"].(string); ok {
				ld.published = s
			} else if s, ok := v["dateCreated"].(string); ok {
				ld.published = s
			}
		}
		if ld.modified == "" {
			if s, ok := v["dateModified"].(string); ok {
				ld.modified = s
			}
		}
		if graph, ok := v["@graph"]; ok {
			walkLinkedData(graph, ld)
		}
	}
}
