// Package config loads the service configuration from environment
// variables with defaults, and validates it on startup so misconfiguration
// fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading the request, including the uploaded file.
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for non-ingest requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds pipeline policies.
type IngestConfig struct {
	// MaxFileSize is the pre-scan size ceiling in bytes (default: 100MB).
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the number of files ingested in parallel.
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"3"`

	// MaxWaitTime is how long to wait for an ingest slot.
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds one file's ingestion.
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"10m"`

	RetryAttempts int           `env:"INGEST_RETRY_ATTEMPTS" default:"3"`
	RetryBackoff  time.Duration `env:"INGEST_RETRY_BACKOFF" default:"2s"`

	// Strict makes pre-scan warnings fail the file.
	Strict bool `env:"INGEST_STRICT" default:"false"`

	// AllowQuarantine holds high-risk files for review instead of failing them.
	AllowQuarantine bool `env:"INGEST_ALLOW_QUARANTINE" default:"false"`

	DeepScan bool `env:"INGEST_DEEP_SCAN" default:"true"`

	// Encodings is the decoding order tried for non-UTF-8 input.
	Encodings []string `env:"INGEST_ENCODINGS" default:"utf-8,iso-8859-1,windows-1252"`

	// SchemaFile replaces the embedded validation schemas when set.
	SchemaFile string `env:"INGEST_SCHEMA_FILE"`

	// BatchTTL is how long an uncommitted batch is kept.
	BatchTTL      time.Duration `env:"INGEST_BATCH_TTL" default:"1h"`
	SweepInterval time.Duration `env:"INGEST_SWEEP_INTERVAL" default:"1m"`
}

// RateLimitConfig holds per-IP rate limits.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// IngestLimit is requests per minute for the ingest endpoint.
	IngestLimit int `env:"RATE_LIMIT_INGEST" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// ExtraMIMETypes extends the declared-type allow list.
	ExtraMIMETypes []string `env:"SECURITY_EXTRA_MIME_TYPES"`

	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// RedisConfig holds the report stream settings. An empty URL disables
// publishing.
type RedisConfig struct {
	URL    string `env:"REDIS_URL"`
	Stream string `env:"REDIS_STREAM" default:"ingest:reports"`

	// MaxLen caps the stream length approximately; 0 is unbounded.
	MaxLen int64 `env:"REDIS_STREAM_MAX_LEN" default:"10000"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" default:"true"`
	Path    string `env:"METRICS_PATH" default:"/metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is text or json.
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
