// Package discovery finds category pages and article links on sites that do
// not publish a usable sitemap.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	defaultMaxCategories          = 20
	defaultMaxArticlesPerCategory = 100
	defaultMaxPagesPerCategory    = 1
	defaultCategoryPattern        = "/{slug}"
	defaultCategorySelector       = "a[href]"
	minHeuristicPathLength        = 10
)

// heuristicSelectors are tried, in order, when a site's article selectors
// match nothing on a category page.
var heuristicSelectors = []string{"h3 a[href]", "h2 a[href]"}

// Site couples a profile with its compiled URL scope.
type Site struct {
	Profile crawler.SiteProfile
	Scope   *crawler.Scope
}

// Discoverer fetches home and category pages through a crawler.Fetcher.
type Discoverer struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	logger  *zap.Logger
}

// New builds a Discoverer.
func New(fetcher crawler.Fetcher, clock crawler.Clock, logger *zap.Logger) *Discoverer {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{fetcher: fetcher, clock: clock, logger: logger}
}

// Categories returns the category page URLs of a site: configured URLs first,
// then links selected on the home page that pass the category filters.
func (d *Discoverer) Categories(ctx context.Context, site Site) ([]string, error) {
	rules := site.Profile.Discovery
	denyRegexes, err := compileRegexes(rules.DenyCategoryPathRegexes)
	if err != nil {
		return nil, err
	}
	limit := rules.MaxCategories
	if limit <= 0 {
		limit = defaultMaxCategories
	}
	pattern := strings.TrimSpace(rules.CategoryPathPattern)
	if pattern == "" {
		pattern = defaultCategoryPattern
	}

	var categories []string
	seen := make(map[string]struct{})
	add := func(u string) bool {
		if _, dup := seen[u]; dup {
			return true
		}
		seen[u] = struct{}{}
		categories = append(categories, u)
		return len(categories) < limit
	}

	for _, raw := range rules.CategoryURLs {
		u, ok := site.Scope.Canonicalize(raw, site.Scope.Base())
		if !ok || !site.Scope.IsInternal(u) {
			d.logger.Warn("skipping configured category url",
				zap.String("site", site.Profile.Key),
				zap.String("url", raw),
			)
			continue
		}
		if !add(u) {
			return categories, nil
		}
	}

	selectors := rules.CategorySelectors
	if len(selectors) == 0 {
		if len(categories) > 0 {
			return categories, nil
		}
		selectors = []string{defaultCategorySelector}
	}

	doc, pageURL, err := d.fetchHome(ctx, site)
	if err != nil {
		if len(categories) > 0 {
			d.logger.Warn("home page unavailable, using configured categories",
				zap.String("site", site.Profile.Key),
				zap.Error(err),
			)
			return categories, nil
		}
		return nil, err
	}

	f := categoryFilter{rules: rules, pattern: pattern, denyRegexes: denyRegexes}
	for _, sel := range selectors {
		full := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, ok := s.Attr("href")
			if !ok {
				return true
			}
			u, ok := site.Scope.Canonicalize(href, pageURL)
			if !ok || !site.Scope.IsInternal(u) {
				return true
			}
			category, ok := f.apply(u)
			if !ok {
				return true
			}
			full = !add(category)
			return !full
		})
		if full {
			break
		}
	}
	d.logger.Debug("categories discovered",
		zap.String("site", site.Profile.Key),
		zap.Int("count", len(categories)),
	)
	return categories, nil
}

// fetchHome loads the listing page, retrying the site root when a custom
// home path fails.
func (d *Discoverer) fetchHome(ctx context.Context, site Site) (*goquery.Document, string, error) {
	home := site.Profile.HomeURL()
	doc, final, err := d.fetchDocument(ctx, site, home)
	if err == nil {
		return doc, final, nil
	}
	root, ok := crawler.Normalize("/", site.Scope.Base())
	if !ok || root == home || ctx.Err() != nil {
		return nil, "", fmt.Errorf("fetch home page: %w", err)
	}
	d.logger.Warn("home page failed, retrying site root",
		zap.String("site", site.Profile.Key),
		zap.String("url", home),
		zap.Error(err),
	)
	doc, final, rootErr := d.fetchDocument(ctx, site, root)
	if rootErr != nil {
		return nil, "", fmt.Errorf("fetch home page: %w", rootErr)
	}
	return doc, final, nil
}

func (d *Discoverer) fetchDocument(ctx context.Context, site Site, pageURL string) (*goquery.Document, string, error) {
	resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     pageURL,
		Site:    site.Profile.Key,
		Options: site.Profile.Fetch,
	})
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", pageURL, err)
	}
	final := resp.URL
	if final == "" {
		final = pageURL
	}
	return doc, final, nil
}

// Articles lazily yields in-scope article links found on a category page and
// its follow-up pages. Fetch failures are yielded as errors and end the
// category.
func (d *Discoverer) Articles(ctx context.Context, site Site, categoryURL string) iter.Seq2[crawler.DiscoveredURL, error] {
	return func(yield func(crawler.DiscoveredURL, error) bool) {
		rules := site.Profile.Discovery
		limit := rules.MaxArticlesPerCategory
		if limit <= 0 {
			limit = defaultMaxArticlesPerCategory
		}
		maxPages := rules.MaxPagesPerCategory
		if maxPages <= 0 {
			maxPages = defaultMaxPagesPerCategory
		}
		pattern := strings.TrimSpace(rules.CategoryPathPattern)
		if pattern == "" {
			pattern = defaultCategoryPattern
		}
		category := slugFromURL(categoryURL, pattern)

		emitted := 0
		seen := make(map[string]struct{})
		visitedPages := make(map[string]struct{})
		pageURL := categoryURL
		for page := 0; page < maxPages && pageURL != ""; page++ {
			if ctx.Err() != nil {
				return
			}
			if _, done := visitedPages[pageURL]; done {
				return
			}
			visitedPages[pageURL] = struct{}{}

			doc, final, err := d.fetchDocument(ctx, site, pageURL)
			if err != nil && page == 0 && isNotFound(err) {
				doc, final, err = d.fetchStripped(ctx, site, pageURL, err)
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Warn("category page failed",
					zap.String("site", site.Profile.Key),
					zap.String("url", pageURL),
					zap.Error(err),
				)
				yield(crawler.DiscoveredURL{}, err)
				return
			}
			visitedPages[final] = struct{}{}

			for _, candidate := range articleLinks(doc, rules.ArticleLinkSelectors) {
				u, ok := site.Scope.Canonicalize(candidate.href, final)
				if !ok {
					continue
				}
				if candidate.longPathOnly && !hasLongPath(u) {
					continue
				}
				if _, dup := seen[u]; dup {
					continue
				}
				seen[u] = struct{}{}
				if !site.Scope.InScope(u) {
					continue
				}
				if !yield(crawler.DiscoveredURL{
					URL:          u,
					Source:       crawler.SourceCategory,
					DiscoveredAt: d.clock.Now(),
					Category:     category,
				}, nil) {
					return
				}
				emitted++
				if emitted >= limit {
					return
				}
			}
			pageURL = nextPage(doc, rules.NextPageSelector, final)
		}
	}
}

// fetchStripped retries a missing category page with each configured suffix
// removed from its path, e.g. "/news.htm" becomes "/news".
func (d *Discoverer) fetchStripped(ctx context.Context, site Site, pageURL string, cause error) (*goquery.Document, string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", cause
	}
	lowered := strings.ToLower(u.Path)
	for _, suffix := range site.Profile.Discovery.FallbackStripSuffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" || !strings.HasSuffix(lowered, suffix) {
			continue
		}
		stripped := u.Path[:len(u.Path)-len(suffix)]
		if stripped == "" {
			break
		}
		candidate := *u
		candidate.Path = stripped
		candidate.RawPath = ""
		candidate.RawQuery = ""
		candidate.Fragment = ""
		if candidate.String() == pageURL {
			break
		}
		d.logger.Info("category page not found, trying stripped path",
			zap.String("site", site.Profile.Key),
			zap.String("url", pageURL),
			zap.String("fallback", candidate.String()),
		)
		doc, final, err := d.fetchDocument(ctx, site, candidate.String())
		if err == nil {
			return doc, final, nil
		}
	}
	return nil, "", cause
}

type link struct {
	href         string
	longPathOnly bool
}

// articleLinks lists candidate hrefs in document order. Configured selectors
// win; when they match nothing the heuristic chain runs.
func articleLinks(doc *goquery.Document, selectors []string) []link {
	var links []link
	for _, sel := range selectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if href := hrefOf(s); href != "" {
				links = append(links, link{href: href})
			}
		})
	}
	if len(links) > 0 {
		return links
	}

	doc.Find("article").Each(func(_ int, s *goquery.Selection) {
		if href := hrefOf(s.Find("a[href]").First()); href != "" {
			links = append(links, link{href: href})
		}
	})
	for _, sel := range heuristicSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if href := hrefOf(s); href != "" {
				links = append(links, link{href: href})
			}
		})
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href := hrefOf(s); href != "" {
			links = append(links, link{href: href, longPathOnly: true})
		}
	})
	return links
}

// hrefOf reads the href of an anchor, or of the first anchor inside a
// selected container.
func hrefOf(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if href, ok := s.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	if href, ok := s.Find("a[href]").First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

func hasLongPath(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	return len(u.Path) >= minHeuristicPathLength
}

func nextPage(doc *goquery.Document, selector, pageURL string) string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return ""
	}
	href := hrefOf(doc.Find(selector).First())
	if href == "" {
		return ""
	}
	next, ok := crawler.Normalize(href, pageURL)
	if !ok {
		return ""
	}
	return next
}

func isNotFound(err error) bool {
	var fetchErr *crawler.FetchError
	return errors.As(err, &fetchErr) &&
		fetchErr.Kind == crawler.FetchHTTPStatus &&
		fetchErr.StatusCode == http.StatusNotFound
}

func compileRegexes(exprs []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, expr := range exprs {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &crawler.DiscoveryError{
				Kind: crawler.DiscoveryInvalidConfig,
				Err:  fmt.Errorf("discovery.deny_category_path_regexes %q: %w", expr, err),
			}
		}
		out = append(out, re)
	}
	return out, nil
}
