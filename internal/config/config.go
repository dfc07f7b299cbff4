// Package config loads and validates rankcrawl configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Store     StoreConfig     `mapstructure:"store"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Crawl     crawl.Settings  `mapstructure:"crawl"`
	Selection crawl.Selection `mapstructure:"selection"`
	History   HistoryConfig   `mapstructure:"history"`
	Timezone  string          `mapstructure:"timezone"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ReadTimeoutSeconds     int `mapstructure:"read_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// UpstreamConfig points the fetcher at the ranking API.
type UpstreamConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	MaxRPS         float64           `mapstructure:"max_rps"`
	Burst          int               `mapstructure:"burst"`
	ResultField    string            `mapstructure:"result_field"`
	Headers        map[string]string `mapstructure:"headers"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Local    LocalConfig    `mapstructure:"local"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	GCS      GCSConfig      `mapstructure:"gcs"`
}

// LocalConfig configures the directory backend.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications. Notifications are
// disabled when TopicName is empty.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// HistoryConfig bounds the run history.
type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RANKCRAWL")
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
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.shutdown_timeout_seconds", 20)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.user_agent", "rankcrawl/0.1")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.max_rps", 0)
	v.SetDefault("upstream.burst", 1)
	v.SetDefault("upstream.result_field", "data")
	v.SetDefault("store.backend", "local")
	v.SetDefault("store.local.dir", "./data")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "crawl_state")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.redis.url", "")
	v.SetDefault("store.redis.prefix", "rankcrawl:")
	v.SetDefault("store.gcs.bucket", "")
	v.SetDefault("store.gcs.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.service_name", "rankcrawl")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("history.limit", crawl.DefaultHistoryLimit)
	v.SetDefault("timezone", "Local")

	d := crawl.DefaultSettings()
	v.SetDefault("crawl.speed.request_delay_ms", d.Speed.RequestDelayMs)
	v.SetDefault("crawl.speed.batch_size", d.Speed.BatchSize)
	v.SetDefault("crawl.speed.content_cooldown_ms", d.Speed.ContentCooldown)
	v.SetDefault("crawl.speed.max_concurrency", d.Speed.MaxConcurrency)
	v.SetDefault("crawl.smart.auto_slowdown", d.Smart.AutoSlowdown)
	v.SetDefault("crawl.smart.slowdown_multiplier", d.Smart.SlowdownMultiplier)
	v.SetDefault("crawl.smart.retry_count", d.Smart.RetryCount)
	v.SetDefault("crawl.smart.retry_delay_ms", d.Smart.RetryDelayMs)
	v.SetDefault("crawl.smart.skip_recent_hours", d.Smart.SkipRecentHours)
	v.SetDefault("crawl.smart.resume_enabled", d.Smart.ResumeEnabled)
	v.SetDefault("crawl.schedule.auto_run", d.Schedule.AutoRun)
	v.SetDefault("crawl.schedule.interval_minutes", d.Schedule.IntervalMinutes)
	v.SetDefault("crawl.schedule.time_of_day", d.Schedule.TimeOfDay)
	v.SetDefault("crawl.schedule.scheduled_time", d.Schedule.ScheduledTime)
	v.SetDefault("crawl.safety.max_consecutive_errors", d.Safety.MaxConsecutiveErrors)
	v.SetDefault("crawl.safety.daily_request_limit", d.Safety.DailyRequestLimit)
	v.SetDefault("crawl.safety.emergency_stop", d.Safety.EmergencyStop)
	v.SetDefault("crawl.safety.pause_on_error", d.Safety.PauseOnError)
	v.SetDefault("selection.content_types", []string{})
	v.SetDefault("selection.servers", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url %q must be an absolute URL", c.Upstream.BaseURL)
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return errors.New("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.MaxRPS < 0 {
		return errors.New("upstream.max_rps must be >= 0")
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "local":
		if c.Store.Local.Dir == "" {
			return errors.New("store.local.dir is required for the local backend")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("store.postgres.dsn is required for the postgres backend")
		}
	case "redis":
		if c.Store.Redis.URL == "" {
			return errors.New("store.redis.url is required for the redis backend")
		}
	case "gcs":
		if c.Store.GCS.Bucket == "" {
			return errors.New("store.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if _, err := time.LoadLocation(c.locationName()); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// UpstreamTimeout converts the upstream timeout to a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the graceful shutdown budget to a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func (c Config) locationName() string {
	if c.Timezone == "" {
		return "Local"
	}
	return c.Timezone
}
