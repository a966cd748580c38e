// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingToken is returned when no delivery token is configured and dry-run is off.
var ErrMissingToken = errors.New("telegram.token is required (set RELEASEWATCH_TELEGRAM_TOKEN)")

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Source    SourceConfig    `mapstructure:"source"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Search    SearchConfig    `mapstructure:"search"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig locates the catalog pages.
type SourceConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	ListingPath string `mapstructure:"listing_path"`
	FeedPath    string `mapstructure:"feed_path"`
	ItemPath    string `mapstructure:"item_path"`
}

// HTTPConfig configures outbound fetches.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	IgnoreRobots   bool    `mapstructure:"ignore_robots"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// CrawlerConfig bounds the full sync.
type CrawlerConfig struct {
	MaxPages int `mapstructure:"max_pages"`
}

// SchedulerConfig sets loop cadence.
type SchedulerConfig struct {
	FullSyncInterval time.Duration `mapstructure:"full_sync_interval"`
	UpdateInterval   time.Duration `mapstructure:"update_interval"`
	CycleTimeout     time.Duration `mapstructure:"cycle_timeout"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// TelegramConfig holds the delivery collaborator settings.
type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	APIEndpoint string        `mapstructure:"api_endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RPS         float64       `mapstructure:"rps"`
	Burst       int           `mapstructure:"burst"`
}

// NotifierConfig toggles dry-run delivery.
type NotifierConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// SearchConfig points at the Elasticsearch cluster. Empty addresses disable indexing.
type SearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// PubSubConfig holds metadata for episode event publication.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELEASEWATCH")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("source.base_url", "https://animy.org")
	v.SetDefault("source.listing_path", "/releases/page/%d")
	v.SetDefault("source.feed_path", "/")
	v.SetDefault("source.item_path", "/releases/item/")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.user_agent", "releasewatch/0.1")
	v.SetDefault("http.ignore_robots", false)
	v.SetDefault("http.rps", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("scheduler.full_sync_interval", "58m")
	v.SetDefault("scheduler.update_interval", "60m")
	v.SetDefault("scheduler.cycle_timeout", "30m")
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "releasewatch.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.rps", 25.0)
	v.SetDefault("telegram.burst", 5)
	v.SetDefault("notifier.dry_run", false)
	v.SetDefault("search.addresses", []string{})
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.index", "items")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute http(s) url, got %q", c.Source.BaseURL)
	}
	if !strings.Contains(c.Source.ListingPath, "%d") {
		return fmt.Errorf("source.listing_path must contain %%d for the page number")
	}
	if c.Source.ItemPath == "" {
		return fmt.Errorf("source.item_path is required")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Scheduler.FullSyncInterval <= 0 || c.Scheduler.UpdateInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be > 0")
	}
	if c.Scheduler.CycleTimeout <= 0 {
		return fmt.Errorf("scheduler.cycle_timeout must be > 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if !c.Notifier.DryRun && strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	if !c.Notifier.DryRun && c.Telegram.Timeout <= 0 {
		return fmt.Errorf("telegram.timeout must be > 0")
	}
	return nil
}

// RequestTimeout converts the fetch timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
