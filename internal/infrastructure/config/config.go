package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	AI        AIConfig
	Insight   InsightConfig
	Buffer    BufferConfig
	Database  DatabaseConfig
	Demo      DemoConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// AuthConfig holds the multi-tenant auth surface. TenantsJSON is the raw
// tenant/app/viewer blob; empty means no tenants configured (open mode).
type AuthConfig struct {
	TenantsJSON string `envconfig:"TENANTS_JSON" default:""`
}

// AIConfig holds diagnostic backend configuration.
type AIConfig struct {
	Enabled    bool   `envconfig:"AI_ENABLED" default:"false"`
	BaseURL    string `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	APIKey     string `envconfig:"AI_API_KEY" default:""`
	Model      string `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	TimeoutMs  int    `envconfig:"AI_TIMEOUT_MS" default:"12000"`
	MaxRetries int    `envconfig:"AI_MAX_RETRIES" default:"2"`

	SampleRate       float64 `envconfig:"AI_SAMPLE_RATE" default:"1.0"`
	SampleErrorsOnly bool    `envconfig:"AI_SAMPLE_ERRORS_ONLY" default:"false"`
}

// InsightConfig holds insight cache and rate-limit configuration.
type InsightConfig struct {
	CacheTTLMs        int    `envconfig:"INSIGHT_CACHE_TTL_MS" default:"3600000"`
	RateLimitMax      int    `envconfig:"INSIGHT_RATE_LIMIT_MAX" default:"20"`
	RateLimitWindowMs int    `envconfig:"INSIGHT_RATE_LIMIT_WINDOW_MS" default:"60000"`
	RedisAddr         string `envconfig:"RATE_LIMIT_REDIS_ADDR" default:""`
	RedisPassword     string `envconfig:"RATE_LIMIT_REDIS_PASSWORD" default:""`
	RedisDB           int    `envconfig:"RATE_LIMIT_REDIS_DB" default:"0"`
}

// BufferConfig bounds the in-memory event buffer and read sizes.
type BufferConfig struct {
	EventBufferSize int `envconfig:"EVENT_BUFFER_SIZE" default:"1000"`
	TraceQueryLimit int `envconfig:"TRACE_QUERY_LIMIT" default:"250"`
}

// DatabaseConfig holds the durable event store configuration. An empty URL
// disables persistence entirely.
type DatabaseConfig struct {
	URL           string `envconfig:"DATABASE_URL" default:""`
	MigrationsDir string `envconfig:"DB_MIGRATIONS_DIR" default:"migrations"`
}

// DemoConfig controls the demo-data capability surface.
type DemoConfig struct {
	Enabled bool   `envconfig:"DEMO_MODE_ENABLED" default:"false"`
	Token   string `envconfig:"DEMO_TOKEN" default:""`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds the outer per-IP rate limit middleware configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8000", Host: "0.0.0.0"},
		AI: AIConfig{
			Enabled:    false,
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			TimeoutMs:  12000,
			MaxRetries: 2,
			SampleRate: 1.0,
		},
		Insight: InsightConfig{
			CacheTTLMs:        3600000,
			RateLimitMax:      20,
			RateLimitWindowMs: 60000,
		},
		Buffer:   BufferConfig{EventBufferSize: 1000, TraceQueryLimit: 250},
		Database: DatabaseConfig{MigrationsDir: "migrations"},
		Logging:  LogConfig{Level: "info", Development: false},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// AITimeout returns the diagnostic backend call timeout.
func (c AIConfig) AITimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the insight cache TTL.
func (c InsightConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// RateLimitWindow returns the insight rate-limit window.
func (c InsightConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowMs) * time.Millisecond
}
