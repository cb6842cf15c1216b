package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/sitecrawler"
)

type stubCrawler struct {
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32

	mu    sync.Mutex
	calls []string
	opts  []sitecrawler.Options
}

func (s *stubCrawler) Crawl(_ context.Context, profile crawler.SiteProfile, opts sitecrawler.Options) crawler.CrawlResult {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	s.mu.Lock()
	s.calls = append(s.calls, profile.Key)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()

	time.Sleep(s.delay)
	r := crawler.NewCrawlResult(profile.Key, time.Now())
	r.Discovered, r.Fetched, r.Extracted, r.Saved = 3, 2, 2, 1
	r.Finish(time.Now())
	return r
}

func (s *stubCrawler) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func profiles(keys ...string) []crawler.SiteProfile {
	out := make([]crawler.SiteProfile, 0, len(keys))
	for _, key := range keys {
		out = append(out, crawler.SiteProfile{Key: key, BaseURL: "https://" + key + ".example"})
	}
	return out
}

func TestRun_AllConfiguredSites(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{}
	d := New(profiles("a", "b", "c"), stub, nil, Config{}, nil)

	results := d.Run(context.Background(), RunRequest{MaxArticles: 7, DiscoverOnly: true})

	require.Len(t, results, 3)
	for _, key := range []string{"a", "b", "c"} {
		require.Equal(t, crawler.StateDone, results[key].State)
		require.Equal(t, 1, results[key].Saved)
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, stub.called())
	for _, opts := range stub.opts {
		require.Equal(t, sitecrawler.Options{MaxArticles: 7, DiscoverOnly: true}, opts)
	}
}

func TestRun_UnknownSite(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{}
	d := New(profiles("a", "b"), stub, nil, Config{}, nil)

	results := d.Run(context.Background(), RunRequest{Sites: []string{"b", "nope", "b"}})

	require.Len(t, results, 2)
	require.Equal(t, crawler.StateDone, results["b"].State)
	require.Equal(t, crawler.StateFailed, results["nope"].State)
	require.Equal(t, ReasonUnknownSite, results["nope"].Reason)
	require.Equal(t, "nope", results["nope"].Site)
	require.Equal(t, []string{"b"}, stub.called())
}

func TestRun_WorkerCap(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{delay: 50 * time.Millisecond}
	d := New(profiles("a", "b", "c", "d", "e"), stub, nil, Config{MaxWorkers: 2}, nil)

	results := d.Run(context.Background(), RunRequest{Workers: 10})

	require.Len(t, results, 5)
	require.Equal(t, int32(2), stub.peak.Load())
}

func TestRun_RequestedWorkers(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{delay: 30 * time.Millisecond}
	d := New(profiles("a", "b", "c", "d"), stub, nil, Config{MaxWorkers: 8}, nil)

	d.Run(context.Background(), RunRequest{Workers: 1})
	require.Equal(t, int32(1), stub.peak.Load())
}

func TestRun_TimeoutAbandonsUnstartedSites(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{delay: 200 * time.Millisecond}
	d := New(profiles("a", "b", "c"), stub, nil, Config{}, nil)

	results := d.Run(context.Background(), RunRequest{Workers: 1, Timeout: 300 * time.Millisecond})

	require.Len(t, results, 3)
	require.Equal(t, crawler.StateDone, results["a"].State)
	require.Equal(t, crawler.StateDone, results["b"].State)
	require.Equal(t, crawler.StateFailed, results["c"].State)
	require.Equal(t, ReasonRunTimeout, results["c"].Reason)
	require.Equal(t, []string{"a", "b"}, stub.called())
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	stub := &stubCrawler{}
	d := New(profiles("a", "b"), stub, nil, Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := d.Run(ctx, RunRequest{})

	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, crawler.StateFailed, r.State)
		require.Equal(t, "canceled", r.Reason)
	}
	require.Empty(t, stub.called())
}

func TestSites_PreservesOrderAndDropsDuplicates(t *testing.T) {
	t.Parallel()

	ps := profiles("b", "a", "b")
	d := New(ps, &stubCrawler{}, nil, Config{}, nil)

	var keys []string
	for _, p := range d.Sites() {
		keys = append(keys, p.Key)
	}
	require.Equal(t, []string{"b", "a"}, keys)
}
