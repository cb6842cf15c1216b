package publisher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

func TestEncodeSavedEvent(t *testing.T) {
	t.Parallel()

	event := crawler.ArticleSavedEvent{
		ArticleID: "id-1",
		Site:      "example",
		URL:       "https://example.com/a.html",
		Title:     "A",
		Category:  "politics",
		SavedAt:   time.Unix(1700000000, 0).UTC(),
	}
	msg, err := Encode(event)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"event":      "article.saved",
		"site":       "example",
		"article_id": "id-1",
		"category":   "politics",
	}, msg.Attributes)

	var decoded crawler.ArticleSavedEvent
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, event, decoded)

	ptrMsg, err := Encode(&event)
	require.NoError(t, err)
	require.Equal(t, msg.Attributes, ptrMsg.Attributes)
}

func TestEncodeOtherPayload(t *testing.T) {
	t.Parallel()

	msg, err := Encode(map[string]int{"n": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"n":1}`, string(msg.Data))
	require.Empty(t, msg.Attributes)

	_, err = Encode(make(chan int))
	require.Error(t, err)
}

func TestNoop(t *testing.T) {
	t.Parallel()

	id, err := Noop{}.Publish(context.Background(), "topic", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Empty(t, id)
}
