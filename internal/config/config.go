// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // site timezones resolve in images without zoneinfo

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/gcs"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/local"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSCRAWLER_SERVER_PORT.
const EnvPrefix = "NEWSCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig          `mapstructure:"server"`
	Auth       AuthConfig            `mapstructure:"auth"`
	Crawler    CrawlerConfig         `mapstructure:"crawler"`
	HTTP       HTTPConfig            `mapstructure:"http"`
	Extraction ExtractionConfig      `mapstructure:"extraction"`
	Storage    StorageConfig         `mapstructure:"storage"`
	PubSub     PubSubConfig          `mapstructure:"pubsub"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
	Sites      []crawler.SiteProfile `mapstructure:"sites"`
	SitesFile  string                `mapstructure:"sites_file"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the run coordinator and per-site crawl limits.
type CrawlerConfig struct {
	MaxWorkers        int    `mapstructure:"max_workers"`
	MaxArticles       int    `mapstructure:"max_articles"`
	SitemapMaxDepth   int    `mapstructure:"sitemap_max_depth"`
	RunTimeoutSeconds int    `mapstructure:"run_timeout_seconds"`
	Topic             string `mapstructure:"topic"`
}

// HTTPConfig configures the rate-limited fetcher. Site profiles may override
// the timeout, delay and retry settings.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DelayMs        int    `mapstructure:"delay_ms"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffMs      int    `mapstructure:"backoff_ms"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// ExtractionConfig holds extractor-wide settings.
type ExtractionConfig struct {
	// Timezone is applied to published timestamps without an explicit zone.
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig selects and configures the article store.
type StorageConfig struct {
	Provider string          `mapstructure:"provider"`
	Local    local.Config    `mapstructure:"local"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// PubSubConfig holds metadata for saved-article notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.SitesFile != "" {
		sitesPath := cfg.SitesFile
		if !filepath.IsAbs(sitesPath) && path != "" {
			sitesPath = filepath.Join(filepath.Dir(path), sitesPath)
		}
		sites, err := LoadSites(sitesPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Sites = append(cfg.Sites, sites...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadSites reads site profiles from a standalone YAML or JSON file whose
// top-level key is "sites".
func LoadSites(path string) ([]crawler.SiteProfile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	var file struct {
		Sites []crawler.SiteProfile `mapstructure:"sites"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal sites file: %w", err)
	}
	return file.Sites, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("crawler.max_workers", 8)
	v.SetDefault("crawler.max_articles", 0)
	v.SetDefault("crawler.sitemap_max_depth", 3)
	v.SetDefault("crawler.run_timeout_seconds", 0)
	v.SetDefault("crawler.topic", "")
	v.SetDefault("http.user_agent", "realtime-news-crawler/0.1 (+https://github.com/JakeFAU/realtime-news-crawler)")
	v.SetDefault("http.accept_language", "en-US,en;q=0.8")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.delay_ms", 1000)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_ms", 500)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("extraction.timezone", "UTC")
	v.SetDefault("storage.provider", storage.ProviderMemory)
	v.SetDefault("storage.local.base_dir", "data/articles")
	v.SetDefault("storage.gcs.prefix", "articles")
	v.SetDefault("storage.postgres.table", "articles")
	v.SetDefault("storage.postgres.run_table", "site_runs")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxWorkers <= 0 {
		return fmt.Errorf("crawler.max_workers must be > 0")
	}
	if c.Crawler.MaxArticles < 0 {
		return fmt.Errorf("crawler.max_articles must be >= 0")
	}
	if c.Crawler.SitemapMaxDepth <= 0 {
		return fmt.Errorf("crawler.sitemap_max_depth must be > 0")
	}
	if c.Crawler.RunTimeoutSeconds < 0 {
		return fmt.Errorf("crawler.run_timeout_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.DelayMs < 0 {
		return fmt.Errorf("http.delay_ms must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.PubSub.Enabled {
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
		}
		if c.Crawler.Topic == "" {
			return fmt.Errorf("crawler.topic must be set when pubsub is enabled")
		}
	}
	return c.validateSites()
}

func (c Config) validateStorage() error {
	switch c.Storage.Provider {
	case storage.ProviderMemory:
	case storage.ProviderLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local provider")
		}
	case storage.ProviderGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs provider")
		}
	case storage.ProviderPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not supported", c.Storage.Provider)
	}
	return nil
}

func (c Config) validateSites() error {
	seen := make(map[string]struct{}, len(c.Sites))
	for i, site := range c.Sites {
		key := strings.TrimSpace(site.Key)
		if key == "" {
			return fmt.Errorf("sites[%d].key is required", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sites[%d].key %q is duplicated", i, key)
		}
		seen[key] = struct{}{}
		u, err := url.Parse(site.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sites[%d].base_url must be an absolute http(s) URL", i)
		}
		switch site.Method {
		case crawler.DiscoveryAuto, crawler.DiscoverySitemap, crawler.DiscoveryCategory:
		default:
			return fmt.Errorf("sites[%d].method %q is not supported", i, site.Method)
		}
		if site.MaxArticles < 0 {
			return fmt.Errorf("sites[%d].max_articles must be >= 0", i)
		}
	}
	return nil
}

// Profiles returns copies of the configured site profiles with keys trimmed.
func (c Config) Profiles() []crawler.SiteProfile {
	out := make([]crawler.SiteProfile, 0, len(c.Sites))
	for _, site := range c.Sites {
		p := site.Clone()
		p.Key = strings.TrimSpace(p.Key)
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		out = append(out, p)
	}
	return out
}

// Location resolves extraction.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Extraction.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Extraction.Timezone)
	if err != nil {
		return nil, fmt.Errorf("extraction.timezone: %w", err)
	}
	return loc, nil
}

// RunTimeout converts crawler.run_timeout_seconds; zero means no deadline.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Crawler.RunTimeoutSeconds) * time.Second
}

// RequestTimeout bounds API request handling.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful server shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
