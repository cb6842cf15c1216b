// Package dispatcher fans a crawl run out over a bounded pool of site workers.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/sitecrawler"
)

// Reasons reported for sites that never ran.
const (
	ReasonUnknownSite = "unknown_site"
	ReasonRunTimeout  = "run_timeout"
)

var (
	// ErrUnknownSite marks a requested site key with no configured profile.
	ErrUnknownSite = errors.New("unknown site")
	// ErrRunTimeout marks a site abandoned because the run deadline passed before it started.
	ErrRunTimeout = errors.New("run timeout elapsed before site started")
)

// SiteCrawler crawls one site.
type SiteCrawler interface {
	Crawl(ctx context.Context, profile crawler.SiteProfile, opts sitecrawler.Options) crawler.CrawlResult
}

// Config bounds the worker pool.
type Config struct {
	MaxWorkers int
}

// RunRequest selects the sites and limits of one run.
type RunRequest struct {
	// Sites lists site keys. Empty selects every configured site.
	Sites        []string
	MaxArticles  int
	Workers      int
	Timeout      time.Duration
	DiscoverOnly bool
}

// Dispatcher runs site crawls concurrently, one worker per site.
type Dispatcher struct {
	profiles map[string]crawler.SiteProfile
	order    []string
	crawler  SiteCrawler
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New creates a Dispatcher over the configured site profiles.
func New(profiles []crawler.SiteProfile, sc SiteCrawler, clock crawler.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		profiles: make(map[string]crawler.SiteProfile, len(profiles)),
		crawler:  sc,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	for _, p := range profiles {
		if _, dup := d.profiles[p.Key]; dup {
			continue
		}
		d.profiles[p.Key] = p
		d.order = append(d.order, p.Key)
	}
	return d
}

// Sites returns the configured profiles in configuration order.
func (d *Dispatcher) Sites() []crawler.SiteProfile {
	out := make([]crawler.SiteProfile, 0, len(d.order))
	for _, key := range d.order {
		out = append(out, d.profiles[key])
	}
	return out
}

// Run crawls the requested sites and blocks until every started crawl returns.
// The result map holds an entry for every requested site key.
func (d *Dispatcher) Run(ctx context.Context, req RunRequest) map[string]crawler.CrawlResult {
	keys := d.selectKeys(req.Sites)
	results := make(map[string]crawler.CrawlResult, len(keys))
	var mu sync.Mutex
	record := func(key string, r crawler.CrawlResult) {
		mu.Lock()
		defer mu.Unlock()
		results[key] = r
	}

	var runnable []crawler.SiteProfile
	for _, key := range keys {
		profile, ok := d.profiles[key]
		if !ok {
			d.logger.Warn("unknown site requested", zap.String("site", key))
			record(key, d.abandoned(key, ErrUnknownSite, ReasonUnknownSite))
			continue
		}
		runnable = append(runnable, profile)
	}

	workers := d.poolSize(req.Workers, len(runnable))
	expired := func() bool { return false }
	if req.Timeout > 0 {
		deadline, cancel := context.WithTimeout(context.Background(), req.Timeout)
		defer cancel()
		expired = func() bool { return deadline.Err() != nil }
	}
	d.logger.Info("run starting",
		zap.Int("sites", len(keys)),
		zap.Int("workers", workers),
		zap.Duration("timeout", req.Timeout),
	)

	opts := sitecrawler.Options{MaxArticles: req.MaxArticles, DiscoverOnly: req.DiscoverOnly}
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for _, profile := range runnable {
		g.Go(func() error {
			switch {
			case ctx.Err() != nil:
				record(profile.Key, d.abandoned(profile.Key, ctx.Err(), ""))
				return nil
			case expired():
				d.logger.Warn("site abandoned by run timeout", zap.String("site", profile.Key))
				record(profile.Key, d.abandoned(profile.Key, ErrRunTimeout, ReasonRunTimeout))
				return nil
			}
			record(profile.Key, d.crawler.Crawl(ctx, profile, opts))
			return nil
		})
	}
	_ = g.Wait()

	d.logSummary(results)
	return results
}

func (d *Dispatcher) selectKeys(requested []string) []string {
	if len(requested) == 0 {
		return append([]string(nil), d.order...)
	}
	seen := make(map[string]struct{}, len(requested))
	keys := make([]string, 0, len(requested))
	for _, key := range requested {
		if _, dup := seen[key]; dup || key == "" {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// poolSize uses the requested worker count, or one worker per site, capped by
// the configured maximum.
func (d *Dispatcher) poolSize(requested, sites int) int {
	workers := requested
	if workers <= 0 {
		workers = sites
	}
	if d.cfg.MaxWorkers > 0 && workers > d.cfg.MaxWorkers {
		workers = d.cfg.MaxWorkers
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

func (d *Dispatcher) abandoned(key string, err error, reason string) crawler.CrawlResult {
	r := crawler.FailedResult(key, err, d.clock.Now())
	if reason != "" {
		r.Reason = reason
	}
	return r
}

func (d *Dispatcher) logSummary(results map[string]crawler.CrawlResult) {
	var done, failed, saved int
	for _, r := range results {
		saved += r.Saved
		if r.State == crawler.StateFailed {
			failed++
			continue
		}
		done++
	}
	d.logger.Info("run finished",
		zap.Int("done", done),
		zap.Int("failed", failed),
		zap.Int("saved", saved),
	)
}
