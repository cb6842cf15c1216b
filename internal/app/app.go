// Package app builds the crawler's long-lived services from configuration,
// acting as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/config"
	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/dispatcher"
	"github.com/JakeFAU/realtime-news-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/realtime-news-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/realtime-news-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-news-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-news-crawler/internal/publisher"
	gcppublisher "github.com/JakeFAU/realtime-news-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-news-crawler/internal/sitecrawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-news-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-news-crawler/internal/storage/postgres"
)

// RunRecorder persists per-site results of finished runs.
type RunRecorder interface {
	RecordSiteRun(ctx context.Context, runID string, result crawler.CrawlResult) error
}

type closer struct {
	name  string
	close func() error
}

// App holds the services shared by the crawl and serve commands.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	dispatcher *dispatcher.Dispatcher
	store      crawler.ArticleStore
	publisher  crawler.Publisher
	recorder   RunRecorder
	ids        *uuid.Generator
	closers    []closer
}

// Build creates the application's dependencies. On error, anything already
// opened is closed before returning.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	if a.cfg.Metrics.Enabled {
		metrics.Init()
	}

	a.logger.Info("building application dependencies",
		zap.Int("sites", len(a.cfg.Sites)),
		zap.String("storage", a.cfg.Storage.Provider),
		zap.Bool("pubsub", a.cfg.PubSub.Enabled),
	)

	var err error
	if a.store, err = a.setupStorage(ctx); err != nil {
		return err
	}
	if a.publisher, err = a.setupPublisher(ctx); err != nil {
		return err
	}
	if a.dispatcher, err = a.setupDispatcher(); err != nil {
		return err
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.ArticleStore, error) {
	switch a.cfg.Storage.Provider {
	case storage.ProviderGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.addCloser("gcs client", client.Close)
		store, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs article store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend",
			zap.String("bucket", a.cfg.Storage.GCS.Bucket),
			zap.String("prefix", a.cfg.Storage.GCS.Prefix),
		)
		return store, nil
	case storage.ProviderPostgres:
		store, err := pgstore.NewArticleStore(ctx, a.cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres article store init failed: %w", err)
		}
		a.addCloser("postgres pool", func() error {
			store.Close()
			return nil
		})
		a.recorder = store
		a.logger.Info("using postgres storage backend", zap.String("table", a.cfg.Storage.Postgres.Table))
		return store, nil
	case storage.ProviderLocal:
		store, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local article store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return store, nil
	case storage.ProviderMemory, "":
		a.logger.Info("using in-memory storage backend")
		return memorystorage.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		a.logger.Info("pubsub disabled, saved-article notifications are dropped")
		return publisher.Noop{}, nil
	}
	client, err := gcpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	pub := gcppublisher.New(client)
	a.addCloser("pubsub publisher", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Crawler.Topic),
	)
	return pub, nil
}

func (a *App) setupDispatcher() (*dispatcher.Dispatcher, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := crawler.SystemClock{}

	delay := time.Duration(a.cfg.HTTP.DelayMs) * time.Millisecond
	limiter := ratelimit.New(ratelimit.Config{DefaultDelay: delay})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.HTTP.UserAgent,
		AcceptLanguage: a.cfg.HTTP.AcceptLanguage,
		Timeout:        time.Duration(a.cfg.HTTP.TimeoutSeconds) * time.Second,
		Delay:          delay,
		MaxRetries:     &a.cfg.HTTP.MaxRetries,
		RetryBackoff:   time.Duration(a.cfg.HTTP.BackoffMs) * time.Millisecond,
		MaxRedirects:   a.cfg.HTTP.MaxRedirects,
		MaxBodySize:    a.cfg.HTTP.MaxBodyBytes,
	}, limiter, a.logger.Named("fetcher"))
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Duration("delay", delay),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
	)

	extractor := extract.New(extract.Config{Location: loc}, a.logger.Named("extract"))
	sc := sitecrawler.New(fetcher, extractor, a.store, a.publisher, clock, sitecrawler.Config{
		Topic:              a.cfg.Crawler.Topic,
		DefaultMaxArticles: a.cfg.Crawler.MaxArticles,
		SitemapMaxDepth:    a.cfg.Crawler.SitemapMaxDepth,
	}, a.logger.Named("sitecrawler"))

	return dispatcher.New(a.cfg.Profiles(), sc, clock, dispatcher.Config{
		MaxWorkers: a.cfg.Crawler.MaxWorkers,
	}, a.logger.Named("dispatcher")), nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, close: fn})
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the run coordinator.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Store returns the configured article store.
func (a *App) Store() crawler.ArticleStore {
	return a.store
}

// Recorder returns the run result sink, or nil when the storage backend keeps
// no run history.
func (a *App) Recorder() RunRecorder {
	return a.recorder
}

// IDs returns the run id generator.
func (a *App) IDs() *uuid.Generator {
	return a.ids
}

// Crawl executes one run to completion and returns its id and per-site results.
// Zero request limits fall back to the configured defaults.
func (a *App) Crawl(ctx context.Context, req dispatcher.RunRequest) (string, map[string]crawler.CrawlResult, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return "", nil, err
	}
	if req.Timeout == 0 {
		req.Timeout = a.cfg.RunTimeout()
	}
	logger := a.logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Strings("sites", req.Sites), zap.Int("max_articles", req.MaxArticles))

	results := a.dispatcher.Run(ctx, req)

	if a.recorder != nil {
		recordCtx := context.WithoutCancel(ctx)
		for _, result := range results {
			if err := a.recorder.RecordSiteRun(recordCtx, runID, result); err != nil {
				logger.Warn("record site run failed", zap.String("site", result.Site), zap.Error(err))
			}
		}
	}
	return runID, results, nil
}

// Close releases every opened client in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
