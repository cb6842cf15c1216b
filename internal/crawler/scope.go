package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// hostMatcher stores exact hosts and suffix wildcards derived from configuration.
type hostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newHostMatcher(patterns []string) *hostMatcher {
	matcher := &hostMatcher{
		exact: make(map[string]struct{}),
	}
	for _, raw := range patterns {
		value := strings.TrimSuffix(strings.TrimSpace(strings.ToLower(raw)), ".")
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			matcher.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			matcher.addSuffix(strings.TrimPrefix(value, "."))
		default:
			matcher.exact[value] = struct{}{}
		}
	}
	return matcher
}

func (m *hostMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

func (m *hostMatcher) Match(host string) bool {
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := m.exact[host]; exact {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Scope decides whether canonical URLs belong to a site. It is built once per
// crawl from a SiteProfile and is safe for concurrent reads.
type Scope struct {
	base         *url.URL
	hosts        *hostMatcher
	denyPrefixes []string
	suffixes     []string
	pathRegexes  []*regexp.Regexp
	keepQuery    bool
}

// NewScope compiles the URL rules of a profile.
func NewScope(profile SiteProfile) (*Scope, error) {
	base, err := url.Parse(strings.TrimSpace(profile.BaseURL))
	if err != nil || !base.IsAbs() || base.Hostname() == "" {
		return nil, &DiscoveryError{
			Kind: DiscoveryInvalidConfig,
			URL:  profile.BaseURL,
			Err:  fmt.Errorf("base_url must be an absolute URL"),
		}
	}
	host := strings.ToLower(base.Hostname())
	root := strings.TrimPrefix(host, "www.")
	patterns := []string{host, root, "www." + root, "*." + root}
	patterns = append(patterns, profile.Scope.AllowedHostSuffixes...)

	s := &Scope{
		base:      base,
		hosts:     newHostMatcher(patterns),
		keepQuery: profile.Scope.KeepQuery,
	}
	for _, prefix := range profile.Scope.DenyPrefixes {
		if p := strings.TrimSpace(prefix); p != "" {
			s.denyPrefixes = append(s.denyPrefixes, p)
		}
	}
	for _, suffix := range profile.Scope.AllowedSuffixes {
		if sfx := strings.TrimSpace(suffix); sfx != "" {
			s.suffixes = append(s.suffixes, strings.ToLower(sfx))
		}
	}
	for _, expr := range profile.Scope.AllowedPathRegexes {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &DiscoveryError{
				Kind: DiscoveryInvalidConfig,
				Err:  fmt.Errorf("scope.allowed_path_regexes %q: %w", expr, err),
			}
		}
		s.pathRegexes = append(s.pathRegexes, re)
	}
	return s, nil
}

// Base returns the site's base URL string.
func (s *Scope) Base() string {
	return s.base.String()
}

// Canonicalize normalizes raw against base and applies the site's query policy.
func (s *Scope) Canonicalize(raw, base string) (string, bool) {
	canonical, ok := Normalize(raw, base)
	if !ok {
		return "", false
	}
	if !s.keepQuery {
		canonical = StripQuery(canonical)
	}
	return canonical, true
}

// IsInternal reports whether the canonical URL's host belongs to the site.
func (s *Scope) IsInternal(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	return s.hosts.Match(u.Hostname())
}

// InScope reports whether a canonical URL is an article candidate for the site:
// the host must be allowed, the path must not start with a deny prefix, and when
// suffix or path rules are configured the path must satisfy at least one of them.
func (s *Scope) InScope(canonical string) bool {
	u, err := url.Parse(canonical)
	if err != nil {
		return false
	}
	if !s.hosts.Match(u.Hostname()) {
		return false
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	for _, prefix := range s.denyPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	if len(s.suffixes) == 0 && len(s.pathRegexes) == 0 {
		return true
	}
	lowerPath := strings.ToLower(p)
	for _, suffix := range s.suffixes {
		if strings.HasSuffix(lowerPath, suffix) {
			return true
		}
	}
	for _, re := range s.pathRegexes {
		if re.MatchString(p) {
			return true
		}
	}
	return false
}
