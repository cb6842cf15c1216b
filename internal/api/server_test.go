package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/config"
	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/dispatcher"
)

type fakeRunner struct {
	profiles []crawler.SiteProfile
	release  chan struct{}

	mu       sync.Mutex
	requests []dispatcher.RunRequest
}

func (f *fakeRunner) Run(_ context.Context, req dispatcher.RunRequest) map[string]crawler.CrawlResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	now := time.Unix(200, 0).UTC()
	out := map[string]crawler.CrawlResult{}
	for _, p := range f.profiles {
		r := crawler.NewCrawlResult(p.Key, now)
		r.Discovered, r.Fetched, r.Extracted, r.Saved = 2, 2, 1, 1
		r.Finish(now)
		out[p.Key] = r
	}
	return out
}

func (f *fakeRunner) Sites() []crawler.SiteProfile {
	return f.profiles
}

func (f *fakeRunner) lastRequest() dispatcher.RunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakeIDGen struct {
	ids []string
	err error
}

func (f *fakeIDGen) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeRecorder struct {
	mu    sync.Mutex
	sites []string
}

func (f *fakeRecorder) RecordSiteRun(_ context.Context, runID string, result crawler.CrawlResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sites = append(f.sites, runID+"/"+result.Site)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 5},
		Crawler: config.CrawlerConfig{MaxWorkers: 4, MaxArticles: 30, RunTimeoutSeconds: 120},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func testProfiles() []crawler.SiteProfile {
	return []crawler.SiteProfile{
		{Key: "alpha", Name: "Alpha News", BaseURL: "https://alpha.example", SitemapURLs: []string{"https://alpha.example/sitemap.xml"}},
		{Key: "beta", BaseURL: "https://beta.example"},
	}
}

func newTestServer(runner *fakeRunner, cfg config.Config, opts ...Option) *Server {
	return NewServer(runner, NewRunStore(0), &fakeIDGen{ids: []string{"run-1", "run-2"}}, fakeClock{now: time.Unix(100, 0).UTC()}, cfg, zap.NewNop(), opts...)
}

func do(t *testing.T, s *Server, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.Drain()
	rec = do(t, s, http.MethodGet, "/readyz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, testConfig())
	rec := do(t, s, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "abc-123"})
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, testConfig())
	do(t, s, http.MethodGet, "/healthz", nil, nil)

	rec := do(t, s, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_ListSites(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{profiles: testProfiles()}, testConfig())
	rec := do(t, s, http.MethodGet, "/v1/sites", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Sites []siteResponse `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []siteResponse{
		{Key: "alpha", Name: "Alpha News", BaseURL: "https://alpha.example", Method: "sitemap"},
		{Key: "beta", Name: "beta", BaseURL: "https://beta.example", Method: "none"},
	}, body.Sites)
}

func TestServer_StartRunAndFetchResult(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{profiles: testProfiles(), release: make(chan struct{})}
	recorder := &fakeRecorder{}
	s := newTestServer(runner, testConfig(), WithRecorder(recorder))

	rec := do(t, s, http.MethodPost, "/v1/runs", []byte(`{"sites":["alpha"],"workers":2}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"run_id":"run-1"}`, rec.Body.String())
	require.Equal(t, "/v1/runs/run-1", rec.Header().Get("Location"))

	rec = do(t, s, http.MethodGet, "/v1/runs/run-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Contains(t, []RunStatus{RunQueued, RunRunning}, pending.Status)

	close(runner.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))

	req := runner.lastRequest()
	require.Equal(t, []string{"alpha"}, req.Sites)
	require.Equal(t, 2, req.Workers)
	require.Equal(t, 30, req.MaxArticles)
	require.Equal(t, 120*time.Second, req.Timeout)

	rec = do(t, s, http.MethodGet, "/v1/runs/run-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var done Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	require.Equal(t, RunDone, done.Status)
	require.Len(t, done.Results, 2)
	require.Equal(t, crawler.StateDone, done.Results["alpha"].State)
	require.NotNil(t, done.FinishedAt)

	require.ElementsMatch(t, []string{"run-1/alpha", "run-1/beta"}, recorder.sites)

	rec = do(t, s, http.MethodGet, "/v1/runs", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-1"`)
}

func TestServer_StartRunRequestOverrides(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{profiles: testProfiles()}
	s := newTestServer(runner, testConfig())

	rec := do(t, s, http.MethodPost, "/v1/runs", []byte(`{"max_articles":5,"timeout_seconds":10,"discover_only":true}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, s.Wait(context.Background()))

	req := runner.lastRequest()
	require.Equal(t, 5, req.MaxArticles)
	require.Equal(t, 10*time.Second, req.Timeout)
	require.True(t, req.DiscoverOnly)
	require.Empty(t, req.Sites)
}

func TestServer_StartRunValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		runner  *fakeRunner
		body    string
		idErr   error
		want    int
		message string
	}{
		{name: "invalid json", runner: &fakeRunner{profiles: testProfiles()}, body: "{bad", want: http.StatusBadRequest, message: "invalid JSON"},
		{name: "negative limit", runner: &fakeRunner{profiles: testProfiles()}, body: `{"max_articles":-1}`, want: http.StatusBadRequest, message: "must be >= 0"},
		{name: "no sites", runner: &fakeRunner{}, body: `{}`, want: http.StatusConflict, message: "no sites configured"},
		{name: "id failure", runner: &fakeRunner{profiles: testProfiles()}, body: `{}`, idErr: errors.New("entropy"), want: http.StatusInternalServerError, message: "entropy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewServer(tt.runner, nil, &fakeIDGen{ids: []string{"run-1"}, err: tt.idErr}, nil, testConfig(), nil)
			rec := do(t, s, http.MethodPost, "/v1/runs", []byte(tt.body), nil)
			require.Equal(t, tt.want, rec.Code)
			require.Contains(t, rec.Body.String(), tt.message)
		})
	}
}

func TestServer_GetRunNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRunner{}, testConfig())
	rec := do(t, s, http.MethodGet, "/v1/runs/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s := newTestServer(&fakeRunner{profiles: testProfiles()}, cfg)

	rec := do(t, s, http.MethodGet, "/v1/sites", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sites", nil, map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sites?api_key=secret", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
