// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Browser BrowserConfig `mapstructure:"browser"`
	DB      DBConfig      `mapstructure:"db"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Queue   QueueConfig   `mapstructure:"queue"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// BrowserConfig points at the remote automation backend.
type BrowserConfig struct {
	WSEndpoint          string `mapstructure:"ws_endpoint"`
	NavTimeoutSeconds   int    `mapstructure:"nav_timeout_seconds"`
	FieldReadTimeoutSec int    `mapstructure:"field_read_timeout_seconds"`
	UserAgent           string `mapstructure:"user_agent"`
	BlockResourceAssets bool   `mapstructure:"block_resource_assets"`
}

// DBConfig controls the job ledger store.
type DBConfig struct {
	Provider       string `mapstructure:"provider"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	CooldownHours  int    `mapstructure:"cooldown_hours"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// CacheConfig controls the dedup cache.
type CacheConfig struct {
	Provider  string `mapstructure:"provider"`
	RedisAddr string `mapstructure:"redis_addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueConfig sizes the worker pool and task queue.
type QueueConfig struct {
	Depth       int `mapstructure:"depth"`
	Workers     int `mapstructure:"workers"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// PubSubConfig holds metadata for completion-event notifications.
// An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects the snapshot blob store.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("browser.nav_timeout_seconds", 25)
	v.SetDefault("browser.field_read_timeout_seconds", 10)
	v.SetDefault("browser.user_agent", "jobscraper-bot/0.1")
	v.SetDefault("browser.block_resource_assets", true)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.table", "scraped_jobs")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.cooldown_hours", 24)
	v.SetDefault("db.migrate_on_start", true)
	v.SetDefault("cache.provider", "memory")
	v.SetDefault("cache.key_prefix", "scrape:")
	v.SetDefault("queue.depth", 64)
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.DB.CooldownHours <= 0 {
		return fmt.Errorf("db.cooldown_hours must be > 0")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	switch c.DB.Provider {
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when db.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	switch c.Cache.Provider {
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set when cache.provider is redis")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown cache.provider %q", c.Cache.Provider)
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	return nil
}

// Cooldown returns the dedup/re-queue window. It doubles as the dedup
// marker TTL so the cache never outlives ledger eligibility.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.DB.CooldownHours) * time.Hour
}

// NavTimeout returns the bounded page-load wait.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// FieldReadTimeout bounds each DOM read.
func (c Config) FieldReadTimeout() time.Duration {
	return time.Duration(c.Browser.FieldReadTimeoutSec) * time.Second
}
