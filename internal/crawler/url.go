package crawler

import (
	"net"
	"net/url"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"gclsrc":  {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"_ga":     {},
	"yclid":   {},
	"igshid":  {},
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "sms:"}

// Normalize resolves raw against base and returns the canonical form of the URL.
// The scheme and host are lowercased, default ports, credentials, fragments and
// tracking parameters are removed, and the remaining query is sorted. Only
// http and https URLs are accepted. Normalize is idempotent and never touches
// the network.
func Normalize(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	// Resolving against an empty reference removes dot segments.
	u := ref.ResolveReference(&url.URL{})
	if !ref.IsAbs() {
		if base == "" {
			return "", false
		}
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || !baseURL.IsAbs() {
			return "", false
		}
		u = baseURL.ResolveReference(ref)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[u.Scheme]; !ok {
		return "", false
	}
	host := normalizeHost(u)
	if host == "" {
		return "", false
	}
	u.Host = host
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	u.Opaque = ""
	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}
	return u.String(), true
}

// MustHost returns the lowercase hostname of a URL or an empty string.
func MustHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

func normalizeHost(u *url.URL) string {
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if hostname == "" {
		return ""
	}
	port := u.Port()
	if port == defaultPorts[u.Scheme] {
		port = ""
	}
	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname
	}
	return net.JoinHostPort(strings.Trim(hostname, "[]"), port)
}

func cleanQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	for key := range values {
		if isTrackingParam(key) {
			values.Del(key)
		}
	}
	return values.Encode()
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// StripQuery drops the query string of a canonical URL.
func StripQuery(canonical string) string {
	u, err := url.Parse(canonical)
	if err != nil {
		return canonical
	}
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String()
}
