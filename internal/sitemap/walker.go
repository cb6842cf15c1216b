// Package sitemap discovers candidate article URLs by walking sitemap indexes,
// urlsets and plain-text sitemaps.
package sitemap

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

const defaultMaxDepth = 3

// ChildError reports a child sitemap that could not be fetched or parsed.
// The walk continues past it.
type ChildError struct {
	URL string
	Err error
}

func (e *ChildError) Error() string {
	return fmt.Sprintf("child sitemap %s: %v", e.URL, e.Err)
}

func (e *ChildError) Unwrap() error { return e.Err }

// Target describes the site a walk discovers URLs for.
type Target struct {
	Site  string
	Scope *crawler.Scope
	// Include and Exclude are glob patterns matched against child sitemap URLs.
	Include []string
	Exclude []string
	Fetch   crawler.FetchOptions
}

// Config tunes the walker.
type Config struct {
	MaxDepth int
}

// Walker fetches sitemaps through a crawler.Fetcher.
type Walker struct {
	fetcher  crawler.Fetcher
	clock    crawler.Clock
	maxDepth int
	logger   *zap.Logger
}

// New builds a Walker.
func New(fetcher crawler.Fetcher, cfg Config, clock crawler.Clock, logger *zap.Logger) *Walker {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{fetcher: fetcher, clock: clock, maxDepth: cfg.MaxDepth, logger: logger}
}

// walk holds the state of a single Walk call.
type walk struct {
	*Walker
	ctx     context.Context
	target  Target
	include []glob.Glob
	exclude []glob.Glob
	visited map[string]struct{}
	yield   func(crawler.DiscoveredURL, error) bool
}

// Walk lazily yields in-scope article URLs reachable from roots. Failures are
// yielded as errors without ending the sequence: an unreachable root as a
// *crawler.DiscoveryError, a broken child as a *ChildError. Relative roots
// resolve against the site base. Each call re-walks from the roots.
func (w *Walker) Walk(ctx context.Context, roots []string, target Target) iter.Seq2[crawler.DiscoveredURL, error] {
	return func(yield func(crawler.DiscoveredURL, error) bool) {
		include, err := compilePatterns(target.Include)
		if err != nil {
			yield(crawler.DiscoveredURL{}, invalidPatterns(err))
			return
		}
		exclude, err := compilePatterns(target.Exclude)
		if err != nil {
			yield(crawler.DiscoveredURL{}, invalidPatterns(err))
			return
		}
		st := &walk{
			Walker:  w,
			ctx:     ctx,
			target:  target,
			include: include,
			exclude: exclude,
			visited: make(map[string]struct{}),
			yield:   yield,
		}
		for _, root := range roots {
			if !st.visit(root, target.Scope.Base(), 0) {
				return
			}
		}
	}
}

func invalidPatterns(err error) error {
	return &crawler.DiscoveryError{
		Kind: crawler.DiscoveryInvalidConfig,
		Err:  fmt.Errorf("sitemap patterns: %w", err),
	}
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	var out []glob.Glob
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

func (st *walk) allowedChild(u string) bool {
	for _, g := range st.exclude {
		if g.Match(u) {
			return false
		}
	}
	if len(st.include) == 0 {
		return true
	}
	for _, g := range st.include {
		if g.Match(u) {
			return true
		}
	}
	return false
}

// visit processes one sitemap. It returns false once the consumer stops.
func (st *walk) visit(raw, parent string, depth int) bool {
	if st.ctx.Err() != nil {
		return false
	}
	sitemapURL, ok := crawler.Normalize(raw, parent)
	if !ok {
		if depth == 0 {
			return st.fail(raw, depth, fmt.Errorf("invalid sitemap url %q", raw))
		}
		return true
	}
	if _, seen := st.visited[sitemapURL]; seen {
		return true
	}
	st.visited[sitemapURL] = struct{}{}

	resp, err := st.fetcher.Fetch(st.ctx, crawler.FetchRequest{
		URL:     sitemapURL,
		Site:    st.target.Site,
		Options: st.target.Fetch,
	})
	if err != nil {
		if st.ctx.Err() != nil {
			return false
		}
		return st.fail(sitemapURL, depth, err)
	}
	body, err := gunzip(resp.Body)
	if err != nil {
		return st.fail(sitemapURL, depth, err)
	}
	doc, err := parse(body, resp.ContentType())
	if err != nil {
		return st.fail(sitemapURL, depth, err)
	}
	st.logger.Debug("sitemap parsed",
		zap.String("site", st.target.Site),
		zap.String("url", sitemapURL),
		zap.Int("entries", len(doc.entries)),
		zap.Int("depth", depth),
	)

	base := resp.URL
	if base == "" {
		base = sitemapURL
	}
	parentHost := crawler.MustHost(base)
	for _, e := range doc.entries {
		loc := strings.TrimSpace(e.Loc)
		if loc == "" {
			continue
		}
		if doc.kind == kindIndex || st.isNestedSitemap(loc, base, parentHost) {
			if !st.descend(loc, base, depth) {
				return false
			}
			continue
		}
		if !st.emit(loc, base, e) {
			return false
		}
	}
	return true
}

func (st *walk) isNestedSitemap(loc, base, parentHost string) bool {
	abs, ok := crawler.Normalize(loc, base)
	if !ok {
		return false
	}
	u, err := url.Parse(abs)
	if err != nil {
		return false
	}
	return looksLikeChildSitemap(parentHost, u)
}

func (st *walk) descend(loc, base string, depth int) bool {
	child, ok := crawler.Normalize(loc, base)
	if !ok || !st.allowedChild(child) {
		return true
	}
	if depth+1 > st.maxDepth {
		st.logger.Warn("sitemap depth limit reached",
			zap.String("site", st.target.Site),
			zap.String("url", child),
			zap.Int("max_depth", st.maxDepth),
		)
		return true
	}
	return st.visit(child, base, depth+1)
}

func (st *walk) emit(loc, base string, e entry) bool {
	canonical, ok := st.target.Scope.Canonicalize(loc, base)
	if !ok || !st.target.Scope.InScope(canonical) {
		return true
	}
	lastMod := parseLastMod(e.LastMod)
	if lastMod == nil {
		lastMod = parseLastMod(e.News.PublicationDate)
	}
	return st.yield(crawler.DiscoveredURL{
		URL:          canonical,
		Source:       crawler.SourceSitemap,
		DiscoveredAt: st.clock.Now(),
		LastModified: lastMod,
	}, nil)
}

func (st *walk) fail(sitemapURL string, depth int, err error) bool {
	st.logger.Warn("sitemap fetch failed",
		zap.String("site", st.target.Site),
		zap.String("url", sitemapURL),
		zap.Int("depth", depth),
		zap.Error(err),
	)
	if depth == 0 {
		return st.yield(crawler.DiscoveredURL{}, &crawler.DiscoveryError{
			Kind: crawler.DiscoverySitemapUnreachable,
			URL:  sitemapURL,
			Err:  err,
		})
	}
	metrics.ObserveSitemapPartialFailure(st.target.Site)
	return st.yield(crawler.DiscoveredURL{}, &ChildError{URL: sitemapURL, Err: err})
}
