package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// categoryFilter applies the category rules of a site to internal links found
// on its home page.
type categoryFilter struct {
	rules       crawler.CategoryRules
	pattern     string
	denyRegexes []*regexp.Regexp
}

// apply returns the category URL for canonical, or false when the link is not
// a category. Unless the site keeps discovered paths, the result is rewritten
// onto the category path pattern.
func (f categoryFilter) apply(canonical string) (string, bool) {
	u, err := url.Parse(canonical)
	if err != nil {
		return "", false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if strings.Trim(p, "/") == "" {
		return "", false
	}
	for _, exact := range f.rules.DenyExactPaths {
		if p == exact {
			return "", false
		}
	}
	prefix, _, _ := strings.Cut(f.pattern, "{slug}")
	if listing := strings.TrimRight(prefix, "/"); listing != "" && strings.TrimRight(p, "/") == listing {
		return "", false
	}

	slug := slugFromCategoryPath(p, f.pattern)
	categoryPath := strings.ReplaceAll(f.pattern, "{slug}", slug)
	candidate := categoryPath
	if f.rules.KeepCategoryPaths {
		candidate = p
	}

	if len(f.rules.AllowCategoryPrefixes) > 0 && !hasAnyPrefix(candidate, f.rules.AllowCategoryPrefixes) {
		return "", false
	}
	if hasAnyPrefix(candidate, f.rules.DenyCategoryPrefixes) {
		return "", false
	}
	for _, re := range f.denyRegexes {
		if re.MatchString(candidate) {
			return "", false
		}
	}

	u.Path = candidate
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

func hasAnyPrefix(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// slugFromCategoryPath strips the pattern's prefix and suffix from p and
// returns the first remaining segment.
func slugFromCategoryPath(p, pattern string) string {
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	prefix, suffix, _ := strings.Cut(pattern, "{slug}")
	if prefix == "" && suffix == "" {
		return firstSegment(p)
	}
	candidate := p
	if prefix != "" {
		dir := strings.TrimRight(prefix, "/") + "/"
		candidate = strings.TrimPrefix(candidate, dir)
	}
	if suffix != "" {
		candidate = strings.TrimSuffix(candidate, suffix)
	}
	candidate = strings.Trim(candidate, "/")
	if candidate == "" {
		return firstSegment(p)
	}
	slug, _, _ := strings.Cut(candidate, "/")
	return slug
}

func firstSegment(p string) string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "root"
	}
	segment, _, _ := strings.Cut(trimmed, "/")
	return segment
}

// slugFromURL names the category a page URL belongs to.
func slugFromURL(categoryURL, pattern string) string {
	u, err := url.Parse(categoryURL)
	if err != nil || strings.Trim(u.Path, "/") == "" {
		return ""
	}
	return slugFromCategoryPath(u.Path, pattern)
}
