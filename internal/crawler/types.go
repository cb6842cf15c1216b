// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"strings"
	"time"
)

// DiscoveryMethod names how a site's candidate article URLs are found.
type DiscoveryMethod string

// Supported discovery methods.
const (
	DiscoveryAuto     DiscoveryMethod = ""
	DiscoverySitemap  DiscoveryMethod = "sitemap"
	DiscoveryCategory DiscoveryMethod = "category"
)

// SiteProfile is the immutable configuration describing one site's discovery
// and extraction behavior. Profiles are loaded once and never mutated during a run.
type SiteProfile struct {
	Key            string          `mapstructure:"key" json:"key"`
	Name           string          `mapstructure:"name" json:"name,omitempty"`
	BaseURL        string          `mapstructure:"base_url" json:"base_url"`
	HomePath       string          `mapstructure:"home_path" json:"home_path,omitempty"`
	Method         DiscoveryMethod `mapstructure:"method" json:"method,omitempty"`
	SitemapURLs    []string        `mapstructure:"sitemap_urls" json:"sitemap_urls,omitempty"`
	SitemapInclude []string        `mapstructure:"sitemap_include" json:"sitemap_include,omitempty"`
	SitemapExclude []string        `mapstructure:"sitemap_exclude" json:"sitemap_exclude,omitempty"`
	MaxArticles    int             `mapstructure:"max_articles" json:"max_articles,omitempty"`
	AllowedLocales []string        `mapstructure:"allowed_locales" json:"allowed_locales,omitempty"`
	ForcedCategory string          `mapstructure:"forced_category" json:"forced_category,omitempty"`

	Discovery  CategoryRules   `mapstructure:"discovery" json:"discovery"`
	Scope      ScopeRules      `mapstructure:"scope" json:"scope"`
	Fetch      FetchOptions    `mapstructure:"fetch" json:"fetch"`
	Extraction ExtractionRules `mapstructure:"extraction" json:"extraction"`
}

// CategoryRules drives category and article-link discovery for sites without
// a usable sitemap.
type CategoryRules struct {
	CategoryURLs            []string `mapstructure:"category_urls" json:"category_urls,omitempty"`
	CategorySelectors       []string `mapstructure:"category_selectors" json:"category_selectors,omitempty"`
	CategoryPathPattern     string   `mapstructure:"category_path_pattern" json:"category_path_pattern,omitempty"`
	KeepCategoryPaths       bool     `mapstructure:"keep_category_paths" json:"keep_category_paths,omitempty"`
	AllowCategoryPrefixes   []string `mapstructure:"allow_category_prefixes" json:"allow_category_prefixes,omitempty"`
	DenyCategoryPrefixes    []string `mapstructure:"deny_category_prefixes" json:"deny_category_prefixes,omitempty"`
	DenyExactPaths          []string `mapstructure:"deny_exact_paths" json:"deny_exact_paths,omitempty"`
	DenyCategoryPathRegexes []string `mapstructure:"deny_category_path_regexes" json:"deny_category_path_regexes,omitempty"`
	FallbackStripSuffixes   []string `mapstructure:"fallback_strip_suffixes" json:"fallback_strip_suffixes,omitempty"`
	MaxCategories           int      `mapstructure:"max_categories" json:"max_categories,omitempty"`
	ArticleLinkSelectors    []string `mapstructure:"article_link_selectors" json:"article_link_selectors,omitempty"`
	NextPageSelector        string   `mapstructure:"next_page_selector" json:"next_page_selector,omitempty"`
	MaxPagesPerCategory     int      `mapstructure:"max_pages_per_category" json:"max_pages_per_category,omitempty"`
	MaxArticlesPerCategory  int      `mapstructure:"max_articles_per_category" json:"max_articles_per_category,omitempty"`
}

// Configured reports whether enough category configuration exists to discover
// articles without a sitemap.
func (r CategoryRules) Configured() bool {
	return len(r.CategoryURLs) > 0 ||
		len(r.CategorySelectors) > 0 ||
		len(r.AllowCategoryPrefixes) > 0 ||
		len(r.ArticleLinkSelectors) > 0
}

// ScopeRules decides which URLs belong to a site.
type ScopeRules struct {
	AllowedHostSuffixes []string `mapstructure:"allowed_host_suffixes" json:"allowed_host_suffixes,omitempty"`
	DenyPrefixes        []string `mapstructure:"deny_prefixes" json:"deny_prefixes,omitempty"`
	AllowedSuffixes     []string `mapstructure:"allowed_suffixes" json:"allowed_suffixes,omitempty"`
	AllowedPathRegexes  []string `mapstructure:"allowed_path_regexes" json:"allowed_path_regexes,omitempty"`
	KeepQuery           bool     `mapstructure:"keep_query" json:"keep_query,omitempty"`
}

// FetchOptions carries per-site overrides for the rate-limited fetcher.
// Zero values fall back to the global HTTP configuration.
type FetchOptions struct {
	Timeout        time.Duration     `mapstructure:"timeout" json:"timeout,omitempty"`
	Delay          time.Duration     `mapstructure:"delay" json:"delay,omitempty"`
	MaxRetries     *int              `mapstructure:"max_retries" json:"max_retries,omitempty"`
	RetryBackoff   time.Duration     `mapstructure:"retry_backoff" json:"retry_backoff,omitempty"`
	Headers        map[string]string `mapstructure:"headers" json:"headers,omitempty"`
	AllowLegacyTLS bool              `mapstructure:"allow_legacy_tls" json:"allow_legacy_tls,omitempty"`
	BlockedMarkers []string          `mapstructure:"blocked_markers" json:"blocked_markers,omitempty"`
	ThrottleKey    string            `mapstructure:"throttle_key" json:"throttle_key,omitempty"`
}

// ExtractionRules holds the selector and keyword overrides used by the
// content extractor for one site.
type ExtractionRules struct {
	TitleSelectors           []string `mapstructure:"title_selectors" json:"title_selectors,omitempty"`
	DescriptionSelectors     []string `mapstructure:"description_selectors" json:"description_selectors,omitempty"`
	ContainerSelectors       []string `mapstructure:"container_selectors" json:"container_selectors,omitempty"`
	ContainerKeywords        []string `mapstructure:"container_keywords" json:"container_keywords,omitempty"`
	ExcludedSelectors        []string `mapstructure:"excluded_selectors" json:"excluded_selectors,omitempty"`
	TagSelectors             []string `mapstructure:"tag_selectors" json:"tag_selectors,omitempty"`
	CategorySelectors        []string `mapstructure:"category_selectors" json:"category_selectors,omitempty"`
	MediaExcludePatterns     []string `mapstructure:"media_exclude_patterns" json:"media_exclude_patterns,omitempty"`
	MinImageDimension        int      `mapstructure:"min_image_dimension" json:"min_image_dimension,omitempty"`
	InlineMediaOnly          bool     `mapstructure:"inline_media_only" json:"inline_media_only,omitempty"`
	AllowExtensionlessImages bool     `mapstructure:"allow_extensionless_images" json:"allow_extensionless_images,omitempty"`
	MinBodyChars             int      `mapstructure:"min_body_chars" json:"min_body_chars,omitempty"`
	WarnBodyChars            int      `mapstructure:"warn_body_chars" json:"warn_body_chars,omitempty"`
	MaxTagsLength            int      `mapstructure:"max_tags_length" json:"max_tags_length,omitempty"`
	AllowedLocales           []string `mapstructure:"-" json:"-"`
}

// DisplayName returns the label stored alongside saved articles.
func (p SiteProfile) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Key
}

// HomeURL resolves the home/listing page used for category discovery.
func (p SiteProfile) HomeURL() string {
	home := p.HomePath
	if home == "" {
		home = "/"
	}
	if canonical, ok := Normalize(home, p.BaseURL); ok {
		return canonical
	}
	return p.BaseURL
}

// ResolveMethod picks the discovery method for the profile. It returns
// DiscoveryAuto when nothing usable is configured.
func (p SiteProfile) ResolveMethod() DiscoveryMethod {
	switch p.Method {
	case DiscoverySitemap:
		if len(p.SitemapURLs) > 0 {
			return DiscoverySitemap
		}
		return DiscoveryAuto
	case DiscoveryCategory:
		return DiscoveryCategory
	}
	if len(p.SitemapURLs) > 0 {
		return DiscoverySitemap
	}
	if p.Discovery.Configured() {
		return DiscoveryCategory
	}
	return DiscoveryAuto
}

// Clone returns a deep copy so defaults can be applied without touching the
// loaded configuration.
func (p SiteProfile) Clone() SiteProfile {
	cp := p
	cp.SitemapURLs = cloneStrings(p.SitemapURLs)
	cp.SitemapInclude = cloneStrings(p.SitemapInclude)
	cp.SitemapExclude = cloneStrings(p.SitemapExclude)
	cp.AllowedLocales = cloneStrings(p.AllowedLocales)

	d := &cp.Discovery
	d.CategoryURLs = cloneStrings(p.Discovery.CategoryURLs)
	d.CategorySelectors = cloneStrings(p.Discovery.CategorySelectors)
	d.AllowCategoryPrefixes = cloneStrings(p.Discovery.AllowCategoryPrefixes)
	d.DenyCategoryPrefixes = cloneStrings(p.Discovery.DenyCategoryPrefixes)
	d.DenyExactPaths = cloneStrings(p.Discovery.DenyExactPaths)
	d.DenyCategoryPathRegexes = cloneStrings(p.Discovery.DenyCategoryPathRegexes)
	d.FallbackStripSuffixes = cloneStrings(p.Discovery.FallbackStripSuffixes)
	d.ArticleLinkSelectors = cloneStrings(p.Discovery.ArticleLinkSelectors)

	s := &cp.Scope
	s.AllowedHostSuffixes = cloneStrings(p.Scope.AllowedHostSuffixes)
	s.DenyPrefixes = cloneStrings(p.Scope.DenyPrefixes)
	s.AllowedSuffixes = cloneStrings(p.Scope.AllowedSuffixes)
	s.AllowedPathRegexes = cloneStrings(p.Scope.AllowedPathRegexes)

	if p.Fetch.MaxRetries != nil {
		retries := *p.Fetch.MaxRetries
		cp.Fetch.MaxRetries = &retries
	}
	if p.Fetch.Headers != nil {
		cp.Fetch.Headers = make(map[string]string, len(p.Fetch.Headers))
		for k, v := range p.Fetch.Headers {
			cp.Fetch.Headers[k] = v
		}
	}
	cp.Fetch.BlockedMarkers = cloneStrings(p.Fetch.BlockedMarkers)

	e := &cp.Extraction
	e.TitleSelectors = cloneStrings(p.Extraction.TitleSelectors)
	e.DescriptionSelectors = cloneStrings(p.Extraction.DescriptionSelectors)
	e.ContainerSelectors = cloneStrings(p.Extraction.ContainerSelectors)
	e.ContainerKeywords = cloneStrings(p.Extraction.ContainerKeywords)
	e.ExcludedSelectors = cloneStrings(p.Extraction.ExcludedSelectors)
	e.TagSelectors = cloneStrings(p.Extraction.TagSelectors)
	e.CategorySelectors = cloneStrings(p.Extraction.CategorySelectors)
	e.MediaExcludePatterns = cloneStrings(p.Extraction.MediaExcludePatterns)
	e.AllowedLocales = cloneStrings(p.Extraction.AllowedLocales)
	return cp
}

// DiscoverySource records where a candidate URL came from.
type DiscoverySource string

// Discovery sources.
const (
	SourceSitemap  DiscoverySource = "sitemap"
	SourceCategory DiscoverySource = "category"
)

// DiscoveredURL is a candidate article URL found during one crawl run.
type DiscoveredURL struct {
	URL          string          `json:"url"`
	Source       DiscoverySource `json:"source"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	LastModified *time.Time      `json:"last_modified,omitempty"`
	Category     string          `json:"category,omitempty"`
}

// FetchRequest describes a single HTTP fetch issued by the crawl pipeline.
type FetchRequest struct {
	URL     string
	Site    string
	Options FetchOptions
}

// FetchResponse contains the HTTP result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// ContentType returns the response content type header, if any.
func (r FetchResponse) ContentType() string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get("Content-Type")
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
