// Package collyfetcher implements the rate-limited crawler.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRetries   = 2
	defaultRetryBackoff = time.Second
	defaultMaxRedirects = 10
	defaultMaxBodySize  = 10 * 1024 * 1024
)

// Throttle enforces the minimum delay between requests sharing a key.
type Throttle interface {
	Wait(ctx context.Context, key string, interval time.Duration) error
}

// Config controls collector behavior. Per-site FetchOptions override the
// timeout, delay, retry and header settings.
type Config struct {
	UserAgent      string
	AcceptLanguage string
	Timeout        time.Duration
	Delay          time.Duration
	// MaxRetries is the number of retries after the first attempt. Nil means
	// the default of 2; zero disables retries.
	MaxRetries     *int
	RetryBackoff   time.Duration
	MaxRedirects   int
	MaxBodySize    int
}

// Fetcher implements crawler.Fetcher using one Colly collector per request.
type Fetcher struct {
	cfg             Config
	maxRetries      int
	throttle        Throttle
	transport       http.RoundTripper
	legacyTransport http.RoundTripper
	logger          *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
}

// requestOptions is the resolved view of Config plus per-site overrides.
type requestOptions struct {
	timeout        time.Duration
	delay          time.Duration
	maxRetries     int
	backoff        time.Duration
	headers        map[string]string
	allowLegacyTLS bool
	blockedMarkers []string
	throttleKey    string
}

// New builds a Fetcher. A nil throttle disables inter-request delays.
func New(cfg Config, throttle Throttle, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	maxRetries := defaultMaxRetries
	if cfg.MaxRetries != nil && *cfg.MaxRetries >= 0 {
		maxRetries = *cfg.MaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:             cfg,
		maxRetries:      maxRetries,
		throttle:        throttle,
		transport:       newHTTPTransport(),
		legacyTransport: newLegacyTLSTransport(),
		logger:          logger,
	}
}

// Fetch executes a GET with throttling, retries, redirect limits and the
// legacy TLS carve-out. Non-2xx responses are returned as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	opts := f.resolve(request)
	transport := f.transport
	legacy := false

	for attempt := 0; ; attempt++ {
		resp, err := f.attempt(ctx, request, opts, transport)
		if err == nil {
			resp.Attempts = attempt + 1
			metrics.ObserveFetch(request.Site, "ok", len(resp.Body))
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s canceled: %w", request.URL, ctxErr)
		}
		var fetchErr *crawler.FetchError
		if !errors.As(err, &fetchErr) {
			return crawler.FetchResponse{}, err
		}
		if fetchErr.Kind == crawler.FetchTLS {
			if opts.allowLegacyTLS && !legacy {
				legacy = true
				transport = f.legacyTransport
				metrics.ObserveLegacyTLSFallback(request.Site)
				f.logger.Info("retrying with legacy TLS parameters",
					zap.String("site", request.Site),
					zap.String("url", request.URL),
					zap.Error(err),
				)
				attempt--
				continue
			}
			metrics.ObserveFetch(request.Site, string(fetchErr.Kind), 0)
			return crawler.FetchResponse{}, fetchErr
		}
		if !fetchErr.Transient() || attempt >= opts.maxRetries {
			metrics.ObserveFetch(request.Site, string(fetchErr.Kind), 0)
			return crawler.FetchResponse{}, fetchErr
		}
		wait := opts.backoff * time.Duration(attempt+1)
		f.logger.Debug("retrying fetch",
			zap.String("site", request.Site),
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := sleepWithContext(ctx, wait); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
}

func (f *Fetcher) resolve(request crawler.FetchRequest) requestOptions {
	o := request.Options
	opts := requestOptions{
		timeout:        f.cfg.Timeout,
		delay:          f.cfg.Delay,
		maxRetries:     f.maxRetries,
		backoff:        f.cfg.RetryBackoff,
		headers:        o.Headers,
		allowLegacyTLS: o.AllowLegacyTLS,
		blockedMarkers: o.BlockedMarkers,
		throttleKey:    o.ThrottleKey,
	}
	if o.Timeout > 0 {
		opts.timeout = o.Timeout
	}
	if o.Delay > 0 {
		opts.delay = o.Delay
	}
	if o.MaxRetries != nil && *o.MaxRetries >= 0 {
		opts.maxRetries = *o.MaxRetries
	}
	if o.RetryBackoff > 0 {
		opts.backoff = o.RetryBackoff
	}
	if opts.throttleKey == "" {
		opts.throttleKey = crawler.MustHost(request.URL)
	}
	return opts
}

func (f *Fetcher) attempt(
	ctx context.Context,
	request crawler.FetchRequest,
	opts requestOptions,
	transport http.RoundTripper,
) (crawler.FetchResponse, error) {
	if f.throttle != nil {
		if err := f.throttle.Wait(ctx, opts.throttleKey, opts.delay); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("throttle %s: %w", opts.throttleKey, err)
		}
	}

	var (
		result   crawler.FetchResponse
		received bool
	)
	start := time.Now()
	collector := f.buildCollector(opts, transport)
	f.configureCollectorHooks(collector, opts, start, &result, &received)

	if err := runCollector(ctx, collector, request.URL); err != nil {
		return crawler.FetchResponse{}, classifyError(request.URL, err)
	}
	if !received {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind: crawler.FetchNetwork,
			URL:  request.URL,
			Err:  errors.New("no response received"),
		}
	}
	if result.StatusCode < http.StatusOK || result.StatusCode >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.FetchHTTPStatus,
			StatusCode: result.StatusCode,
			URL:        request.URL,
		}
	}
	if marker := matchBlockedMarker(result.Body, opts.blockedMarkers); marker != "" {
		return crawler.FetchResponse{}, &crawler.FetchError{
			Kind:       crawler.FetchBlocked,
			StatusCode: result.StatusCode,
			URL:        request.URL,
			Err:        fmt.Errorf("response contains blocked marker %q", marker),
		}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(opts requestOptions, transport http.RoundTripper) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodySize),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(transport)
	collector.SetRequestTimeout(opts.timeout)
	maxRedirects := f.cfg.MaxRedirects
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return errTooManyRedirects
		}
		return nil
	})
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	opts requestOptions,
	start time.Time,
	result *crawler.FetchResponse,
	received *bool,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		for key, value := range opts.headers {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*received = true
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func matchBlockedMarker(body []byte, markers []string) string {
	if len(markers) == 0 || len(body) == 0 {
		return ""
	}
	lowered := bytes.ToLower(body)
	for _, marker := range markers {
		m := strings.TrimSpace(marker)
		if m == "" {
			continue
		}
		if bytes.Contains(lowered, []byte(strings.ToLower(m))) {
			return m
		}
	}
	return ""
}
