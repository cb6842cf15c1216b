// Package memory keeps saved articles in process memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// Store is a concurrency-safe in-memory crawler.ArticleStore.
type Store struct {
	mu       sync.RWMutex
	articles map[string]crawler.ParsedArticle
}

// New creates an empty Store.
func New() *Store {
	return &Store{articles: make(map[string]crawler.ParsedArticle)}
}

// Save records the article unless its id is already present.
func (s *Store) Save(_ context.Context, site string, article crawler.ParsedArticle) (crawler.SaveOutcome, error) {
	if article.ID == "" {
		return "", &crawler.StorageError{Err: fmt.Errorf("article id is required")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.articles[article.ID]; ok {
		return crawler.AlreadyExists, nil
	}
	if article.Site == "" {
		article.Site = site
	}
	s.articles[article.ID] = article
	return crawler.Saved, nil
}

// Get returns a saved article by id.
func (s *Store) Get(id string) (crawler.ParsedArticle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	return article, ok
}

// Articles returns every saved article ordered by URL.
func (s *Store) Articles() []crawler.ParsedArticle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ParsedArticle, 0, len(s.articles))
	for _, article := range s.articles {
		out = append(out, article)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Len reports the number of saved articles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}
