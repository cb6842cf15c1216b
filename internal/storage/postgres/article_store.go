// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage"
)

const (
	defaultArticleTable = "articles"
	defaultRunTable     = "site_runs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and the tables written to.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	RunTable        string        `mapstructure:"run_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ArticleStore writes parsed articles into Postgres, one row per article id.
type ArticleStore struct {
	pool     execCloser
	table    string
	runTable string
}

// NewArticleStore creates a Postgres-backed ArticleStore using the provided config.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewArticleStoreWithPool(pool, cfg.Table, cfg.RunTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool execCloser, table, runTable string) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultArticleTable
	}
	if runTable == "" {
		runTable = defaultRunTable
	}
	for _, name := range []string{table, runTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &ArticleStore{pool: pool, table: table, runTable: runTable}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the article and site run tables when they are missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	articles := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           TEXT PRIMARY KEY,
	site         TEXT NOT NULL,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL,
	category     TEXT,
	published_at TIMESTAMPTZ,
	content_hash TEXT NOT NULL,
	document     JSONB NOT NULL,
	crawled_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, articles); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}

	runs := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id      TEXT NOT NULL,
	site        TEXT NOT NULL,
	state       TEXT NOT NULL,
	reason      TEXT,
	result      JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	PRIMARY KEY (run_id, site)
)`, s.runTable)
	if _, err := s.pool.Exec(ctx, runs); err != nil {
		return fmt.Errorf("create %s: %w", s.runTable, err)
	}
	return nil
}

// Save inserts the article unless a row with its id already exists.
func (s *ArticleStore) Save(ctx context.Context, site string, article crawler.ParsedArticle) (crawler.SaveOutcome, error) {
	if s == nil || s.pool == nil {
		return "", &crawler.StorageError{Err: fmt.Errorf("article store is not configured")}
	}
	if article.ID == "" {
		return "", &crawler.StorageError{Err: fmt.Errorf("article id is required")}
	}
	if article.Site == "" {
		article.Site = site
	}
	document, err := storage.Encode(article)
	if err != nil {
		return "", &crawler.StorageError{Err: err}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	site,
	url,
	title,
	category,
	published_at,
	content_hash,
	document,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (id) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		article.ID,
		article.Site,
		article.URL,
		article.Title,
		article.Category,
		article.PublishedAt,
		article.ContentHash,
		document,
		article.CrawledAt,
	)
	if err != nil {
		return "", &crawler.StorageError{Err: fmt.Errorf("insert article: %w", err)}
	}
	if tag.RowsAffected() == 0 {
		return crawler.AlreadyExists, nil
	}
	return crawler.Saved, nil
}

// RecordSiteRun upserts the outcome of one site within a run.
func (s *ArticleStore) RecordSiteRun(ctx context.Context, runID string, result crawler.CrawlResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("article store is not configured")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal site run: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, site, state, reason, result, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, site) DO UPDATE
SET state = EXCLUDED.state,
	reason = EXCLUDED.reason,
	result = EXCLUDED.result,
	finished_at = EXCLUDED.finished_at`, s.runTable)

	if _, err := s.pool.Exec(ctx, query,
		runID,
		result.Site,
		string(result.State),
		result.Reason,
		payload,
		result.StartedAt,
		result.FinishedAt,
	); err != nil {
		return fmt.Errorf("upsert site run: %w", err)
	}
	return nil
}
