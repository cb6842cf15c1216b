package sitecrawler

import "github.com/JakeFAU/realtime-news-crawler/internal/crawler"

// backlog keeps discovered URLs in discovery order, each at most once.
type backlog struct {
	items []crawler.DiscoveredURL
	index map[string]struct{}
}

func newBacklog() *backlog {
	return &backlog{index: make(map[string]struct{})}
}

func (b *backlog) add(u crawler.DiscoveredURL) {
	if _, ok := b.index[u.URL]; ok {
		return
	}
	b.index[u.URL] = struct{}{}
	b.items = append(b.items, u)
}

func (b *backlog) len() int { return len(b.items) }

func (b *backlog) urls() []string {
	out := make([]string, len(b.items))
	for i, item := range b.items {
		out[i] = item.URL
	}
	return out
}
