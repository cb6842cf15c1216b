// Package storage holds what the article store implementations share: the
// archive object layout and the JSON document format.
package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Providers accepted by the storage.provider setting.
const (
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderPostgres = "postgres"
	ProviderGCS      = "gcs"
)

// ObjectName returns the archive key of an article,
// "<prefix>/<site>/<id[:2]>/<id>.json". It depends only on the site and the
// article id so repeated saves of one URL collide.
func ObjectName(prefix, site, id string) (string, error) {
	site = sanitize(site)
	if site == "" {
		return "", fmt.Errorf("site is required")
	}
	if len(id) < 2 || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid article id %q", id)
	}
	return path.Join(strings.Trim(prefix, "/"), site, id[:2], id+".json"), nil
}

// Encode renders an article as the archived JSON document.
func Encode(article crawler.ParsedArticle) ([]byte, error) {
	data, err := json.MarshalIndent(article, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal article: %w", err)
	}
	return append(data, '\n'), nil
}

func sanitize(site string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(site)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), ".")
}
