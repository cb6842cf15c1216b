// Package publisher holds the message encoding shared by publisher
// implementations and a no-op publisher for deployments without a broker.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Message is an encoded notification ready for a broker.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Encode marshals the payload to JSON. Saved-article events also carry their
// site, article id and category as attributes so subscribers can filter
// without decoding the body.
func Encode(payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Data: data, Attributes: map[string]string{}}
	switch event := payload.(type) {
	case crawler.ArticleSavedEvent:
		addEventAttributes(msg.Attributes, event)
	case *crawler.ArticleSavedEvent:
		if event != nil {
			addEventAttributes(msg.Attributes, *event)
		}
	}
	return msg, nil
}

func addEventAttributes(attrs map[string]string, event crawler.ArticleSavedEvent) {
	attrs["event"] = "article.saved"
	attrs["site"] = event.Site
	attrs["article_id"] = event.ArticleID
	if event.Category != "" {
		attrs["category"] = event.Category
	}
}

// Noop drops every message.
type Noop struct{}

// Publish discards the payload after checking it encodes.
func (Noop) Publish(_ context.Context, _ string, payload any) (string, error) {
	if _, err := Encode(payload); err != nil {
		return "", err
	}
	return "", nil
}
