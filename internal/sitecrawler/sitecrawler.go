// Package sitecrawler runs the discovery, fetch, extract and save pipeline for
// a single site.
package sitecrawler

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/discovery"
	"github.com/JakeFAU/realtime-news-crawler/internal/extract"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-news-crawler/internal/sitemap"
)

// Article outcomes reported to metrics.
const (
	outcomeSaved         = "saved"
	outcomeDuplicate     = "duplicate"
	outcomeFetchFailed   = "fetch_failed"
	outcomeExtractFailed = "extract_failed"
	outcomeSaveFailed    = "save_failed"
)

// Config controls Crawler behavior.
type Config struct {
	// Topic receives an ArticleSavedEvent per newly saved article. Empty disables publishing.
	Topic string
	// DefaultMaxArticles applies when neither the run nor the site sets a limit.
	// Zero means unlimited.
	DefaultMaxArticles int
	SitemapMaxDepth    int
}

// Options tune one Crawl call.
type Options struct {
	MaxArticles  int
	DiscoverOnly bool
}

// Crawler executes site crawls. It holds no per-site state and may run
// several sites concurrently.
type Crawler struct {
	fetcher    crawler.Fetcher
	walker     *sitemap.Walker
	discoverer *discovery.Discoverer
	extractor  *extract.Extractor
	store      crawler.ArticleStore
	publisher  crawler.Publisher
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Crawler.
func New(
	fetcher crawler.Fetcher,
	extractor *extract.Extractor,
	store crawler.ArticleStore,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.New(extract.Config{}, logger.Named("extract"))
	}
	return &Crawler{
		fetcher:    fetcher,
		walker:     sitemap.New(fetcher, sitemap.Config{MaxDepth: cfg.SitemapMaxDepth}, clock, logger.Named("sitemap")),
		discoverer: discovery.New(fetcher, clock, logger.Named("discovery")),
		extractor:  extractor,
		store:      store,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// run carries the state of one Crawl call.
type run struct {
	site    discovery.Site
	result  *crawler.CrawlResult
	backlog *backlog
	logger  *zap.Logger
}

// Crawl discovers, fetches, extracts and saves the articles of one site. Per-URL
// failures are recorded in the result and never abort the crawl.
func (c *Crawler) Crawl(ctx context.Context, profile crawler.SiteProfile, opts Options) crawler.CrawlResult {
	result := crawler.NewCrawlResult(profile.Key, c.clock.Now())
	logger := c.logger.With(zap.String("site", profile.Key))

	metrics.IncActiveSites()
	defer metrics.DecActiveSites()
	defer func() { metrics.ObserveSiteRun(string(result.State)) }()

	scope, err := crawler.NewScope(profile)
	if err != nil {
		logger.Error("invalid site scope", zap.Error(err))
		result.Fail(err, c.clock.Now())
		return result
	}
	if len(profile.Extraction.AllowedLocales) == 0 {
		profile.Extraction.AllowedLocales = profile.AllowedLocales
	}
	r := &run{
		site:    discovery.Site{Profile: profile, Scope: scope},
		result:  &result,
		backlog: newBacklog(),
		logger:  logger,
	}

	result.State = crawler.StateDiscovering
	if err := c.discover(ctx, r); err != nil {
		logger.Error("discovery failed", zap.Error(err))
		result.Fail(err, c.clock.Now())
		return result
	}
	result.Discovered = r.backlog.len()
	logger.Info("discovery complete",
		zap.String("method", result.Method),
		zap.Int("discovered", result.Discovered),
		zap.Int("partial_failures", result.PartialFailures),
	)

	if opts.DiscoverOnly {
		result.Links = r.backlog.urls()
		result.Finish(c.clock.Now())
		return result
	}

	if err := c.process(ctx, r, c.limit(profile, opts)); err != nil {
		logger.Warn("crawl interrupted", zap.Error(err))
		result.Fail(err, c.clock.Now())
		return result
	}
	result.Finish(c.clock.Now())
	logger.Info("site crawl finished",
		zap.Int("discovered", result.Discovered),
		zap.Int("fetched", result.Fetched),
		zap.Int("extracted", result.Extracted),
		zap.Int("saved", result.Saved),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("failed", result.Failed),
	)
	return result
}

func (c *Crawler) limit(profile crawler.SiteProfile, opts Options) int {
	switch {
	case opts.MaxArticles > 0:
		return opts.MaxArticles
	case profile.MaxArticles > 0:
		return profile.MaxArticles
	default:
		return c.cfg.DefaultMaxArticles
	}
}

// discover fills the backlog using the site's discovery method. A sitemap that
// yields nothing falls back to category discovery when the site configures it.
func (c *Crawler) discover(ctx context.Context, r *run) error {
	profile := r.site.Profile
	method := profile.ResolveMethod()
	if method == crawler.DiscoveryAuto {
		return &crawler.DiscoveryError{Kind: crawler.DiscoveryNoMethodAvailable}
	}

	if method == crawler.DiscoverySitemap {
		r.result.Method = string(crawler.DiscoverySitemap)
		rootErrs, err := c.discoverSitemaps(ctx, r)
		if err != nil {
			return err
		}
		switch {
		case r.backlog.len() > 0:
		case profile.Discovery.Configured():
			r.logger.Info("sitemap yielded no urls, falling back to category discovery")
			method = crawler.DiscoveryCategory
		case len(rootErrs) > 0 && len(rootErrs) == len(profile.SitemapURLs):
			return rootErrs[0]
		}
	}
	if method == crawler.DiscoveryCategory {
		r.result.Method = string(crawler.DiscoveryCategory)
		if err := c.discoverCategories(ctx, r); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (c *Crawler) discoverSitemaps(ctx context.Context, r *run) ([]error, error) {
	profile := r.site.Profile
	target := sitemap.Target{
		Site:    profile.Key,
		Scope:   r.site.Scope,
		Include: profile.SitemapInclude,
		Exclude: profile.SitemapExclude,
		Fetch:   profile.Fetch,
	}
	var rootErrs []error
	for u, err := range c.walker.Walk(ctx, profile.SitemapURLs, target) {
		if err == nil {
			r.backlog.add(u)
			continue
		}
		var childErr *sitemap.ChildError
		var discoveryErr *crawler.DiscoveryError
		switch {
		case errors.As(err, &childErr):
			r.result.RecordPartialFailure(childErr.URL, err)
		case errors.As(err, &discoveryErr) && discoveryErr.Kind == crawler.DiscoveryInvalidConfig:
			return nil, err
		case errors.As(err, &discoveryErr):
			rootErrs = append(rootErrs, err)
			r.result.RecordPartialFailure(discoveryErr.URL, err)
		default:
			r.result.RecordPartialFailure("", err)
		}
	}
	return rootErrs, nil
}

func (c *Crawler) discoverCategories(ctx context.Context, r *run) error {
	categories, err := c.discoverer.Categories(ctx, r.site)
	if err != nil {
		return err
	}
	r.logger.Debug("categories found", zap.Int("count", len(categories)))
	for _, category := range categories {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		drain(c.discoverer.Articles(ctx, r.site, category), r.backlog, func(err error) {
			r.result.RecordPartialFailure(category, err)
		})
	}
	return nil
}

func drain(seq iter.Seq2[crawler.DiscoveredURL, error], b *backlog, onErr func(error)) {
	for u, err := range seq {
		if err != nil {
			onErr(err)
			continue
		}
		b.add(u)
	}
}

// process walks the backlog in discovery order until limit URLs have been
// attempted. It returns an error only when ctx ends.
func (c *Crawler) process(ctx context.Context, r *run, limit int) error {
	r.result.State = crawler.StateFetching
	seen := make(map[string]struct{}, r.backlog.len())
	attempted := 0
	for _, item := range r.backlog.items {
		if limit > 0 && attempted >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, dup := seen[item.URL]; dup {
			continue
		}
		seen[item.URL] = struct{}{}
		attempted++
		c.processURL(ctx, r, item, seen)
	}
	return nil
}

func (c *Crawler) processURL(ctx context.Context, r *run, item crawler.DiscoveredURL, seen map[string]struct{}) {
	profile := r.site.Profile
	result := r.result

	resp, err := c.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     item.URL,
		Site:    profile.Key,
		Options: profile.Fetch,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("article fetch failed", zap.String("url", item.URL), zap.Error(err))
		result.RecordFailure(item.URL, crawler.StageFetch, err)
		metrics.ObserveArticle(profile.Key, outcomeFetchFailed)
		return
	}

	final, ok := r.site.Scope.Canonicalize(resp.URL, item.URL)
	if !ok || (final != item.URL && !r.site.Scope.InScope(final)) {
		err := &crawler.FetchError{
			Kind: crawler.FetchOutOfScope,
			URL:  item.URL,
			Err:  fmt.Errorf("redirected to %s", resp.URL),
		}
		r.logger.Info("article redirected out of scope", zap.String("url", item.URL), zap.String("final_url", resp.URL))
		result.RecordFailure(item.URL, crawler.StageFetch, err)
		metrics.ObserveArticle(profile.Key, outcomeFetchFailed)
		return
	}
	result.Fetched++

	pageURL := item.URL
	if final != item.URL {
		if _, dup := seen[final]; dup {
			r.logger.Debug("redirected onto a processed url",
				zap.String("url", item.URL),
				zap.String("final_url", final),
			)
			result.Duplicates++
			metrics.ObserveArticle(profile.Key, outcomeDuplicate)
			return
		}
		seen[final] = struct{}{}
		pageURL = final
	}

	article, err := c.extractor.Extract(resp.Body, pageURL, profile.Extraction)
	if err != nil {
		r.logger.Info("article extraction failed", zap.String("url", pageURL), zap.Error(err))
		result.RecordFailure(pageURL, crawler.StageExtract, err)
		metrics.ObserveArticle(profile.Key, outcomeExtractFailed)
		return
	}
	result.Extracted++
	result.Warnings += len(article.Warnings)
	for _, warning := range article.Warnings {
		r.logger.Debug("extraction warning", zap.String("url", pageURL), zap.String("warning", warning))
	}

	article.Site = profile.Key
	article.SiteName = profile.DisplayName()
	article.CrawledAt = c.clock.Now()
	switch {
	case profile.ForcedCategory != "":
		article.Category = profile.ForcedCategory
	case article.Category == "":
		article.Category = item.Category
	}

	result.State = crawler.StateSaving
	c.save(ctx, r, article)
}

func (c *Crawler) save(ctx context.Context, r *run, article crawler.ParsedArticle) {
	site := r.site.Profile.Key
	outcome, err := c.store.Save(ctx, site, article)
	if err != nil {
		var storageErr *crawler.StorageError
		if !errors.As(err, &storageErr) {
			err = &crawler.StorageError{Err: err}
		}
		r.logger.Error("article save failed", zap.String("url", article.URL), zap.Error(err))
		r.result.RecordFailure(article.URL, crawler.StageSave, err)
		metrics.ObserveArticle(site, outcomeSaveFailed)
		return
	}
	if outcome == crawler.AlreadyExists {
		r.result.Duplicates++
		metrics.ObserveArticle(site, outcomeDuplicate)
		return
	}
	r.result.Saved++
	metrics.ObserveArticle(site, outcomeSaved)
	r.logger.Debug("article saved", zap.String("url", article.URL), zap.String("id", article.ID))
	c.publish(ctx, r, article)
}

// publish announces a saved article. Failures are logged and otherwise ignored.
func (c *Crawler) publish(ctx context.Context, r *run, article crawler.ParsedArticle) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	event := crawler.ArticleSavedEvent{
		ArticleID:   article.ID,
		Site:        article.Site,
		URL:         article.URL,
		Title:       article.Title,
		Category:    article.Category,
		PublishedAt: article.PublishedAt,
		SavedAt:     c.clock.Now(),
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, event)
	if err != nil {
		r.logger.Warn("publish saved article failed", zap.String("url", article.URL), zap.Error(err))
		return
	}
	r.logger.Debug("article published", zap.String("url", article.URL), zap.String("message_id", id))
}
