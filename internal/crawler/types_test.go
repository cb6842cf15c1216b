package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSiteProfile_ResolveMethod(t *testing.T) {
	t.Parallel()

	withSitemap := SiteProfile{SitemapURLs: []string{"https://e.com/sitemap.xml"}}
	withCategories := SiteProfile{Discovery: CategoryRules{CategoryURLs: []string{"/the-gioi"}}}

	require.Equal(t, DiscoverySitemap, withSitemap.ResolveMethod())
	require.Equal(t, DiscoveryCategory, withCategories.ResolveMethod())
	require.Equal(t, DiscoveryAuto, SiteProfile{}.ResolveMethod())
	require.Equal(t, DiscoveryAuto, SiteProfile{Method: DiscoverySitemap}.ResolveMethod())

	forced := withSitemap
	forced.Method = DiscoveryCategory
	require.Equal(t, DiscoveryCategory, forced.ResolveMethod())
}

func TestSiteProfile_HomeURLAndName(t *testing.T) {
	t.Parallel()

	p := SiteProfile{Key: "tt", BaseURL: "https://Tuoitre.vn", HomePath: "/tin-moi.htm"}
	require.Equal(t, "https://tuoitre.vn/tin-moi.htm", p.HomeURL())
	require.Equal(t, "tt", p.DisplayName())

	p.Name = "Tuoi Tre"
	p.HomePath = ""
	require.Equal(t, "https://tuoitre.vn/", p.HomeURL())
	require.Equal(t, "Tuoi Tre", p.DisplayName())
}

func TestSiteProfile_CloneIsDeep(t *testing.T) {
	t.Parallel()

	retries := 2
	p := SiteProfile{
		SitemapURLs: []string{"a"},
		Fetch:       FetchOptions{MaxRetries: &retries, Headers: map[string]string{"k": "v"}},
		Discovery:   CategoryRules{CategoryURLs: []string{"/x"}},
	}
	cp := p.Clone()
	cp.SitemapURLs[0] = "b"
	*cp.Fetch.MaxRetries = 5
	cp.Fetch.Headers["k"] = "changed"
	cp.Discovery.CategoryURLs[0] = "/y"

	require.Equal(t, "a", p.SitemapURLs[0])
	require.Equal(t, 2, *p.Fetch.MaxRetries)
	require.Equal(t, "v", p.Fetch.Headers["k"])
	require.Equal(t, "/x", p.Discovery.CategoryURLs[0])
}

func TestArticleIDAndHash(t *testing.T) {
	t.Parallel()

	a := ArticleID("https://example.com/a")
	require.Equal(t, a, ArticleID("https://example.com/a"))
	require.NotEqual(t, a, ArticleID("https://example.com/b"))
	require.Len(t, ContentHash("body"), 64)
}
