// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/realtime-news-crawler/internal/publisher"
)

// Publisher publishes JSON messages to Pub/Sub topics, keeping one topic
// handle per topic id for batching.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher backed by the provided client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals the payload to JSON, publishes it to the topic and waits
// for the server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if p.client == nil {
		return "", fmt.Errorf("pubsub client is not configured")
	}
	if topicID == "" {
		return "", fmt.Errorf("topic is required")
	}
	msg, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}

	result := p.topic(topicID).Publish(ctx, &pubsub.Message{Data: msg.Data, Attributes: msg.Attributes})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = p.client.Topic(id)
		p.topics[id] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
