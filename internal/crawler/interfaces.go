package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves remote resources, enforcing throttling and retries.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// ArticleStore persists parsed articles. Implementations must tolerate
// concurrent writes keyed by ParsedArticle.ID.
type ArticleStore interface {
	Save(ctx context.Context, site string, article ParsedArticle) (SaveOutcome, error)
}

// Publisher emits notifications for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the wall clock in UTC.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
