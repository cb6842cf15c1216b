// Package ratelimit enforces a minimum delay between requests sharing a throttling key.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

// Limiter manages one token bucket per throttling key. Keys are typically
// hostnames, so crawlers targeting different hosts never block each other.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*keyLimiter
	defaultDelay time.Duration
}

type keyLimiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultDelay applies when Wait is called with a zero interval.
	DefaultDelay time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{
		limiters:     make(map[string]*keyLimiter),
		defaultDelay: cfg.DefaultDelay,
	}
}

// Wait blocks until at least interval has passed since the previous request
// admitted for key. The first request for a key is admitted immediately.
func (l *Limiter) Wait(ctx context.Context, key string, interval time.Duration) error {
	if interval <= 0 {
		interval = l.defaultDelay
	}
	if interval <= 0 {
		return nil
	}
	if key == "" {
		key = "unknown"
	}
	limiter := l.limiterFor(key, interval)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(key, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(key string, interval time.Duration) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, ok := l.limiters[key]
	if ok {
		if existing.interval != interval {
			existing.limiter.SetLimit(rate.Every(interval))
			existing.interval = interval
		}
		return existing.limiter
	}
	kl := &keyLimiter{
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
	l.limiters[key] = kl
	return kl.limiter
}

// Keys returns the number of throttling keys seen so far.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
