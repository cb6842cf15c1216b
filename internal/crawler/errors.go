package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// FetchErrorKind enumerates fetch failure classes.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchTimeout          FetchErrorKind = "timeout"
	FetchConnectionReset  FetchErrorKind = "connection_reset"
	FetchTooManyRedirects FetchErrorKind = "too_many_redirects"
	FetchTLS              FetchErrorKind = "tls"
	FetchHTTPStatus       FetchErrorKind = "http_status"
	FetchBlocked          FetchErrorKind = "blocked"
	FetchNetwork          FetchErrorKind = "network"
	FetchOutOfScope       FetchErrorKind = "redirect_out_of_scope"
)

// FetchError is returned by fetchers once retries are exhausted.
type FetchError struct {
	Kind       FetchErrorKind
	StatusCode int
	URL        string
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch " + e.URL + ": " + string(e.Kind)
	if e.Kind == FetchHTTPStatus {
		msg += " " + strconv.Itoa(e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether another attempt may succeed.
func (e *FetchError) Transient() bool {
	switch e.Kind {
	case FetchTimeout, FetchConnectionReset, FetchBlocked:
		return true
	case FetchHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// ExtractionErrorKind enumerates extraction failure classes.
type ExtractionErrorKind string

// Extraction failure classes.
const (
	ExtractEmptyBody      ExtractionErrorKind = "empty_body"
	ExtractMissingTitle   ExtractionErrorKind = "missing_title"
	ExtractMalformedHTML  ExtractionErrorKind = "malformed_html"
	ExtractLocaleMismatch ExtractionErrorKind = "locale_mismatch"
)

// ExtractionError reports why a page could not be turned into an article.
type ExtractionError struct {
	Kind   ExtractionErrorKind
	Detail string
}

func (e *ExtractionError) Error() string {
	if e.Detail == "" {
		return "extract: " + string(e.Kind)
	}
	return "extract: " + string(e.Kind) + ": " + e.Detail
}

// DiscoveryErrorKind enumerates site-level discovery failures.
type DiscoveryErrorKind string

// Discovery failure classes.
const (
	DiscoveryNoMethodAvailable  DiscoveryErrorKind = "no_method_available"
	DiscoverySitemapUnreachable DiscoveryErrorKind = "sitemap_unreachable"
	DiscoveryInvalidConfig      DiscoveryErrorKind = "invalid_config"
)

// DiscoveryError is raised when a site cannot produce candidate URLs.
type DiscoveryError struct {
	Kind DiscoveryErrorKind
	URL  string
	Err  error
}

func (e *DiscoveryError) Error() string {
	msg := "discovery: " + string(e.Kind)
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// StorageError wraps an opaque failure returned by a storage sink.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %v", e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ReasonCode maps an error to the stable code recorded in CrawlResult
// failures. The outermost typed error in the chain wins, so a discovery error
// caused by a fetch failure reports as discovery.
func ReasonCode(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch typed := e.(type) {
		case *FetchError:
			if typed.Kind == FetchHTTPStatus {
				return "fetch.http_status." + strconv.Itoa(typed.StatusCode)
			}
			return "fetch." + string(typed.Kind)
		case *ExtractionError:
			return "extract." + string(typed.Kind)
		case *DiscoveryError:
			return "discovery." + string(typed.Kind)
		case *StorageError:
			return "storage"
		}
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "unknown"
}
