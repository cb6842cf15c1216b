// Package memory records published messages in process memory for tests and
// local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-news-crawler/internal/publisher"
)

// PublishedMessage captures one publish call in both its original and
// encoded forms.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes the payload the way a broker publisher would, records it
// and returns a sequential message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	msg, err := publisher.Encode(payload)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{
		ID:         id,
		Topic:      topic,
		Payload:    payload,
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Topic returns the messages recorded for one topic.
func (p *Publisher) Topic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, msg := range p.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Reset drops every recorded message.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
