package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Mode selects the runtime mode: "api" or "worker".
	Mode string `env:"BENTHAM_MODE" envDefault:"api"`

	// Server
	Host string `env:"BENTHAM_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"BENTHAM_PORT" envDefault:"8080"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:""`

	// Redis. Empty disables Redis entirely: outcome fan-out falls back to
	// the in-process Broker and the rate limiter stays in-memory.
	RedisURL string `env:"REDIS_URL" envDefault:""`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	MetricsPath  string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Executor
	ExecutorConcurrency int `env:"EXECUTOR_CONCURRENCY" envDefault:"8"`
	// ExecutorPollInterval is how often the worker pool scans active
	// studies for pending jobs, in addition to in-process kicks.
	ExecutorPollInterval string `env:"EXECUTOR_POLL_INTERVAL" envDefault:"500ms"`

	// Recovery Manager tuning: retry/backoff and circuit-breaker behavior.
	RecoveryMaxRetries int    `env:"RECOVERY_MAX_RETRIES" envDefault:"3"`
	RecoveryBaseDelay  string `env:"RECOVERY_BASE_DELAY" envDefault:"200ms"`
	RecoveryMaxDelay   string `env:"RECOVERY_MAX_DELAY" envDefault:"5s"`
	CircuitThreshold   int    `env:"CIRCUIT_THRESHOLD" envDefault:"5"`
	CircuitResetAfter  string `env:"CIRCUIT_RESET_AFTER" envDefault:"60s"`

	// Rate limiting applied to every API key. The gateway passes no per-key
	// override, so a key's own stored rate-limit fields are not applied.
	DefaultRateLimitRPS   float64 `env:"DEFAULT_RATE_LIMIT_RPS" envDefault:"10"`
	DefaultRateLimitBurst int     `env:"DEFAULT_RATE_LIMIT_BURST" envDefault:"20"`

	// Surface adapters. An unset base URL registers a mock adapter for
	// that surface instead, so the process is runnable without any
	// upstream credentials configured.
	ChatGPTBaseURL     string `env:"SURFACE_CHATGPT_BASE_URL"`
	ChatGPTAPIKey      string `env:"SURFACE_CHATGPT_API_KEY"`
	PerplexityBaseURL  string `env:"SURFACE_PERPLEXITY_BASE_URL"`
	PerplexityAPIKey   string `env:"SURFACE_PERPLEXITY_API_KEY"`

	// SeedDemoAPIKey, if true, generates and stores a demo key at startup
	// and logs it (not persisted past process restart for the in-memory
	// store) so a fresh deployment has a usable key without a separate
	// provisioning step.
	SeedDemoAPIKey bool `env:"SEED_DEMO_API_KEY" envDefault:"true"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
