package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// MediaKind classifies a media reference.
type MediaKind string

// Media kinds recognised by the extractor.
const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaReference is an image or video attached to exactly one article.
type MediaReference struct {
	URL     string    `json:"url"`
	Kind    MediaKind `json:"kind"`
	Caption string    `json:"caption,omitempty"`
}

// ParsedArticle is the structured result of a successful extraction. It is
// immutable once handed to storage.
type ParsedArticle struct {
	ID          string           `json:"id"`
	URL         string           `json:"url"`
	Site        string           `json:"site"`
	SiteName    string           `json:"site_name,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Body        string           `json:"body"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Media       []MediaReference `json:"media,omitempty"`
	Category    string           `json:"category,omitempty"`
	Locale      string           `json:"locale,omitempty"`
	ContentHash string           `json:"content_hash"`
	Warnings    []string         `json:"warnings,omitempty"`
	CrawledAt   time.Time        `json:"crawled_at"`
}

// articleNamespace scopes article ids so the same URL always maps to the same id.
var articleNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("realtime-news-crawler/article"))

// ArticleID derives the stable storage key for a normalized article URL.
func ArticleID(canonicalURL string) string {
	return uuid.NewSHA1(articleNamespace, []byte(canonicalURL)).String()
}

// ContentHash returns the hex SHA-256 digest of an article body.
func ContentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// SaveOutcome reports what a storage sink did with an article.
type SaveOutcome string

// Storage outcomes. Errors are reported separately and wrapped as StorageError.
const (
	Saved         SaveOutcome = "saved"
	AlreadyExists SaveOutcome = "already_exists"
)

// ArticleSavedEvent is published after an article is persisted for the first time.
type ArticleSavedEvent struct {
	ArticleID   string     `json:"article_id"`
	Site        string     `json:"site"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SavedAt     time.Time  `json:"saved_at"`
}
