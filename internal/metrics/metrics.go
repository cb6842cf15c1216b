// Package metrics exposes Prometheus collectors for the news crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal                *prometheus.CounterVec
	fetchBytesTotal             *prometheus.CounterVec
	articlesTotal               *prometheus.CounterVec
	sitemapPartialFailuresTotal *prometheus.CounterVec
	siteRunsTotal               *prometheus.CounterVec
	activeSites                 prometheus.Gauge
	rateLimitDelaysSeconds      *prometheus.HistogramVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	legacyTLSFallbacksTotal     *prometheus.CounterVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of response bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_articles_total",
				Help: "Articles processed, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		sitemapPartialFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sitemap_partial_failures_total",
				Help: "Child sitemaps that failed without aborting the walk.",
			},
			[]string{"site"},
		)

		siteRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_site_runs_total",
				Help: "Completed site crawls, labeled by terminal state.",
			},
			[]string{"state"},
		)

		activeSites = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_sites",
				Help: "Number of site crawls currently running.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of throttle wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		legacyTLSFallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_legacy_tls_fallbacks_total",
				Help: "Fetches retried with relaxed TLS parameters, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch outcome and the bytes transferred.
func ObserveFetch(site, outcome string, bytesFetched int) {
	Init()
	fetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveArticle records what happened to one candidate article.
func ObserveArticle(site, outcome string) {
	Init()
	articlesTotal.WithLabelValues(site, outcome).Inc()
}

// ObserveSitemapPartialFailure counts a child sitemap that could not be read.
func ObserveSitemapPartialFailure(site string) {
	Init()
	sitemapPartialFailuresTotal.WithLabelValues(site).Inc()
}

// ObserveSiteRun counts a finished site crawl by terminal state.
func ObserveSiteRun(state string) {
	Init()
	siteRunsTotal.WithLabelValues(state).Inc()
}

// IncActiveSites increments the running site crawls gauge.
func IncActiveSites() {
	Init()
	activeSites.Inc()
}

// DecActiveSites decrements the running site crawls gauge.
func DecActiveSites() {
	Init()
	activeSites.Dec()
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveLegacyTLSFallback counts a relaxed-TLS retry.
func ObserveLegacyTLSFallback(site string) {
	Init()
	legacyTLSFallbacksTotal.WithLabelValues(site).Inc()
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
