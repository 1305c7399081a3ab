package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SELLERD_"

// Duration is a time.Duration written as a Go duration string ("30s") in
// files and environment variables.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// BackendConfig holds the seller backend connection settings
type BackendConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url" env:"BACKEND_URL"`
	Token   string   `json:"token" yaml:"token" env:"TOKEN"`
	Timeout Duration `json:"timeout" yaml:"timeout" env:"BACKEND_TIMEOUT"`
}

// CacheConfig holds cache store settings
type CacheConfig struct {
	DefaultTTL          Duration `json:"default_ttl" yaml:"default_ttl" env:"CACHE_TTL"`
	LoadTimeout         Duration `json:"load_timeout" yaml:"load_timeout" env:"CACHE_LOAD_TIMEOUT"`
	LiveOrdersTTL       Duration `json:"live_orders_ttl" yaml:"live_orders_ttl" env:"LIVE_ORDERS_TTL"`
	LiveOrdersPoll      Duration `json:"live_orders_poll" yaml:"live_orders_poll" env:"LIVE_ORDERS_POLL"`
	DashboardStatsTTL   Duration `json:"dashboard_stats_ttl" yaml:"dashboard_stats_ttl" env:"DASHBOARD_STATS_TTL"`
	DashboardStatsPoll  Duration `json:"dashboard_stats_poll" yaml:"dashboard_stats_poll" env:"DASHBOARD_STATS_POLL"`
	Snapshots           string   `json:"snapshots" yaml:"snapshots" env:"CACHE_SNAPSHOTS"` // "" or redis
	SnapshotTTL         Duration `json:"snapshot_ttl" yaml:"snapshot_ttl" env:"CACHE_SNAPSHOT_TTL"`
	ShareInvalidations  bool     `json:"share_invalidations" yaml:"share_invalidations" env:"CACHE_SHARE_INVALIDATIONS"`
	InvalidationChannel string   `json:"invalidation_channel" yaml:"invalidation_channel" env:"CACHE_INVALIDATION_CHANNEL"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password  string `json:"password" yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `json:"db" yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

// BreakerConfig holds per-endpoint circuit breaker settings
type BreakerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" env:"BREAKER_ENABLED"`
	ErrorPct       float64  `json:"error_pct" yaml:"error_pct" env:"BREAKER_ERROR_PCT"`
	MinRequests    int      `json:"min_requests" yaml:"min_requests" env:"BREAKER_MIN_REQUESTS"`
	Window         Duration `json:"window" yaml:"window" env:"BREAKER_WINDOW"`
	OpenDuration   Duration `json:"open_duration" yaml:"open_duration" env:"BREAKER_OPEN_DURATION"`
	HalfOpenProbes int      `json:"half_open_probes" yaml:"half_open_probes" env:"BREAKER_HALF_OPEN_PROBES"`
}

// RetryConfig bounds retries of idempotent completion calls
type RetryConfig struct {
	MaxRetries int      `json:"max_retries" yaml:"max_retries" env:"RETRY_MAX"`
	Initial    Duration `json:"initial" yaml:"initial" env:"RETRY_INITIAL"`
	Max        Duration `json:"max" yaml:"max" env:"RETRY_MAX_INTERVAL"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" env:"TRACING_ENABLED"`
	Exporter    string  `json:"exporter" yaml:"exporter" env:"TRACING_EXPORTER"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" env:"TRACING_ENDPOINT"`
	ServiceName string  `json:"service_name" yaml:"service_name" env:"TRACING_SERVICE_NAME"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate" env:"TRACING_SAMPLE_RATE"`
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Addr      string `json:"addr" yaml:"addr" env:"METRICS_ADDR"`
	Namespace string `json:"namespace" yaml:"namespace" env:"METRICS_NAMESPACE"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level     string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format    string `json:"format" yaml:"format" env:"LOG_FORMAT"` // text, json
	AuditFile string `json:"audit_file" yaml:"audit_file" env:"AUDIT_FILE"`
	Audit     bool   `json:"audit" yaml:"audit" env:"AUDIT"`
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Breaker   BreakerConfig   `json:"breaker" yaml:"breaker"`
	Retry     RetryConfig     `json:"retry" yaml:"retry"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: Duration(10 * time.Second),
		},
		Cache: CacheConfig{
			DefaultTTL:          Duration(30 * time.Second),
			LoadTimeout:         Duration(15 * time.Second),
			LiveOrdersTTL:       Duration(10 * time.Second),
			LiveOrdersPoll:      Duration(15 * time.Second),
			DashboardStatsTTL:   Duration(60 * time.Second),
			DashboardStatsPoll:  Duration(60 * time.Second),
			SnapshotTTL:         Duration(24 * time.Hour),
			InvalidationChannel: "sellerd:cache:invalidate",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Password:  "",
			DB:        0,
			KeyPrefix: "sellerd:snapshot:",
		},
		Breaker: BreakerConfig{
			Enabled:        true,
			ErrorPct:       50,
			MinRequests:    5,
			Window:         Duration(30 * time.Second),
			OpenDuration:   Duration(10 * time.Second),
			HalfOpenProbes: 1,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Initial:    Duration(200 * time.Millisecond),
			Max:        Duration(2 * time.Second),
		},
		Telemetry: TelemetryConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "sellerd",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Namespace: "sellerd",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Audit:  true,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file, chosen by
// extension. Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// LoadFromEnv applies SELLERD_* environment variable overrides to the config.
// Unset variables leave the corresponding fields unchanged.
func LoadFromEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads path (if not empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail later at start-up.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	switch c.Cache.Snapshots {
	case "", "redis":
	default:
		return fmt.Errorf("cache.snapshots must be empty or redis, got %q", c.Cache.Snapshots)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Breaker.Enabled && (c.Breaker.ErrorPct <= 0 || c.Breaker.ErrorPct > 100) {
		return fmt.Errorf("breaker.error_pct must be in (0, 100], got %v", c.Breaker.ErrorPct)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}

// SnapshotPrefix returns the Redis key prefix for this session's snapshots.
// Sessions are told apart by backend and token, so two sellers sharing one
// Redis never read or evict each other's views. The token itself is not
// stored.
func (c *Config) SnapshotPrefix() string {
	session := uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.Backend.BaseURL+"\x00"+c.Backend.Token))
	return c.Redis.KeyPrefix + session.String() + ":"
}
