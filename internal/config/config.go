// Package config loads and validates run configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Writer backends.
const (
	WriterLocal    = "local"
	WriterGCS      = "gcs"
	WriterPostgres = "postgres"
	WriterMemory   = "memory"
)

// Cache and notification backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendPubSub = "pubsub"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Output   OutputConfig   `mapstructure:"output"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Status   StatusConfig   `mapstructure:"status"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// CrawlConfig governs the crawl pipeline.
type CrawlConfig struct {
	// Concurrency overrides the definition's limit when positive.
	Concurrency int `mapstructure:"concurrency"`
	// Limit truncates every crawled list; zero disables truncation.
	Limit int `mapstructure:"limit"`
	// Timezone overrides the definition's timezone.
	Timezone string `mapstructure:"timezone"`
	// CacheDir enables record/replay of responses.
	CacheDir string `mapstructure:"cache_dir"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	RandomUserAgent  bool    `mapstructure:"random_user_agent"`
	ProxyURI         string  `mapstructure:"proxy_uri"`
	RespectRobots    bool    `mapstructure:"respect_robots"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	RatePerSecond    float64 `mapstructure:"rate_per_second"`
	RateBurst        int     `mapstructure:"rate_burst"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
}

// RetryConfig configures showtimes list retries.
type RetryConfig struct {
	Attempts   int `mapstructure:"attempts"`
	IntervalMs int `mapstructure:"interval_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	// Mode is one of off, auto or always.
	Mode            string   `mapstructure:"mode"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	WaitSelector    string   `mapstructure:"wait_selector"`
	PromotionThresh int      `mapstructure:"promotion_threshold"`
	Expect          []string `mapstructure:"expect"`
}

// CacheConfig selects the response cache.
type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Prefix     string `mapstructure:"prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// OutputConfig selects where result documents are written.
type OutputConfig struct {
	Writer   string         `mapstructure:"writer"`
	Dir      string         `mapstructure:"dir"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// GCSConfig holds bucket settings for the GCS writer.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig controls the Postgres writer.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// NotifyConfig holds metadata for saved-document notifications.
type NotifyConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	Verbose     bool `mapstructure:"verbose"`
}

// TracingConfig enables the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOWTIMES")
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
	v.SetDefault("crawl.concurrency", 0)
	v.SetDefault("crawl.limit", 0)
	v.SetDefault("http.user_agent", "showtimes-crawler/1.0")
	v.SetDefault("http.random_user_agent", false)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.rate_per_second", 0)
	v.SetDefault("http.rate_burst", 1)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.interval_ms", 500)
	v.SetDefault("headless.mode", "off")
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.prefix", "showtimes:response:")
	v.SetDefault("cache.redis.ttl_seconds", 3600)
	v.SetDefault("output.writer", WriterLocal)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.postgres.table", "showtimes_documents")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.verbose", false)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "showtimes-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Concurrency < 0 {
		return fmt.Errorf("crawl.concurrency must be >= 0")
	}
	if c.Crawl.Limit < 0 {
		return fmt.Errorf("crawl.limit must be >= 0")
	}
	if c.Crawl.Timezone != "" {
		if _, err := time.LoadLocation(c.Crawl.Timezone); err != nil {
			return fmt.Errorf("crawl.timezone: %w", err)
		}
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Headless.Mode {
	case "off", "auto", "always":
	default:
		return fmt.Errorf("headless.mode must be off, auto or always, got %q", c.Headless.Mode)
	}
	if c.Headless.Mode != "off" && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory:
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr must be set for the redis cache")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Output.Writer {
	case WriterLocal:
		if c.Output.Dir == "" {
			return fmt.Errorf("output.dir must be set for the local writer")
		}
	case WriterGCS:
		if c.Output.GCS.Bucket == "" {
			return fmt.Errorf("output.gcs.bucket must be set for the gcs writer")
		}
	case WriterPostgres:
		if c.Output.Postgres.DSN == "" {
			return fmt.Errorf("output.postgres.dsn must be set for the postgres writer")
		}
	case WriterMemory:
	default:
		return fmt.Errorf("unknown output.writer %q", c.Output.Writer)
	}
	switch c.Notify.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for pubsub")
		}
	default:
		return fmt.Errorf("unknown notify.backend %q", c.Notify.Backend)
	}
	return nil
}

// RequestTimeout returns the HTTP timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavigationTimeout returns the headless navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// RetryInterval returns the pause between showtimes list attempts.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.Retry.IntervalMs) * time.Millisecond
}

// Backoff returns the transport retry backoff bounds.
func (c Config) Backoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// CacheTTL returns the Redis entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.Redis.TTLSeconds) * time.Second
}
