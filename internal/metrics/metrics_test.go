package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchesTotal == nil || articlesTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveFetch(t *testing.T) {
	ObserveFetch("metrics-test", "ok", 512)
	ObserveFetch("metrics-test", "ok", 0)

	if val := testutil.ToFloat64(fetchesTotal.WithLabelValues("metrics-test", "ok")); val != 2 {
		t.Errorf("expected 2 fetches, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal.WithLabelValues("metrics-test")); val != 512 {
		t.Errorf("expected 512 bytes, got %f", val)
	}
}

func TestObserveArticleAndSiteRun(t *testing.T) {
	ObserveArticle("metrics-test", "saved")
	ObserveArticle("metrics-test", "duplicate")
	ObserveSiteRun("done")
	ObserveSitemapPartialFailure("metrics-test")

	if val := testutil.ToFloat64(articlesTotal.WithLabelValues("metrics-test", "saved")); val != 1 {
		t.Errorf("expected 1 saved article, got %f", val)
	}
	if val := testutil.ToFloat64(articlesTotal.WithLabelValues("metrics-test", "duplicate")); val != 1 {
		t.Errorf("expected 1 duplicate article, got %f", val)
	}
	if val := testutil.ToFloat64(sitemapPartialFailuresTotal.WithLabelValues("metrics-test")); val != 1 {
		t.Errorf("expected 1 partial failure, got %f", val)
	}
}

func TestActiveSitesGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeSites)
	IncActiveSites()
	IncActiveSites()
	DecActiveSites()
	if val := testutil.ToFloat64(activeSites); val != before+1 {
		t.Errorf("expected gauge %f, got %f", before+1, val)
	}
	DecActiveSites()
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("metrics-test.example", 250*time.Millisecond)
	if val := testutil.CollectAndCount(rateLimitDelaysSeconds); val <= 0 {
		t.Errorf("expected rate limit histogram to be observed, got %d", val)
	}
}
