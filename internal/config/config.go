// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Audit    AuditConfig
	Archive  ArchiveConfig
	Blob     BlobConfig
	LLM      LLMConfig
	Compiler CompilerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0, bounded by RequestTimeout)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 180s, above the run timeout)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"180s"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres or memory (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string (required for the postgres driver)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// AutoMigrate applies pending migrations at startup (default: true)
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" default:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds ingest and clean run settings.
type IngestConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrent is the maximum number of parallel ingest/clean runs (default: 5)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// MaxRowsPerRun caps rows parsed by an ingest and evaluated by a clean run (default: 20000)
	MaxRowsPerRun int `env:"INGEST_MAX_ROWS_PER_RUN" default:"20000"`

	// Timeout is the maximum duration for a single ingest or clean run (default: 120s)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"120s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// RunLimit is requests per minute for ingest, clean and compile endpoints (default: 10)
	RunLimit int `env:"RATE_LIMIT_RUN" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// JWTSecret signs and verifies HS256 bearer tokens (required)
	JWTSecret string `env:"AUTH_JWT_SECRET" envAlt:"JWT_SECRET" required:"true"`

	// JWTIssuer is the expected "iss" claim (default: domainkeeper)
	JWTIssuer string `env:"AUTH_JWT_ISSUER" default:"domainkeeper"`

	// TokenTTL is the lifetime of tokens minted by the CLI (default: 24h)
	TokenTTL time.Duration `env:"AUTH_TOKEN_TTL" default:"24h"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// AuditConfig holds asynchronous audit writer settings.
type AuditConfig struct {
	// Enabled controls whether audit entries are persisted (default: true)
	Enabled bool `env:"AUDIT_ENABLED" default:"true"`

	// BufferSize is the number of queued entries before new ones are dropped (default: 1024)
	BufferSize int `env:"AUDIT_BUFFER_SIZE" default:"1024"`

	// FlushInterval is how often queued entries are written (default: 2s)
	FlushInterval time.Duration `env:"AUDIT_FLUSH_INTERVAL" default:"2s"`
}

// ArchiveConfig holds audit log archiving settings.
type ArchiveConfig struct {
	// HotRetentionDays is days to keep entries in the hot table (default: 90)
	HotRetentionDays int `env:"ARCHIVE_HOT_RETENTION_DAYS" default:"90"`

	// ArchiveRetentionYears is years to keep archived entries (default: 7)
	ArchiveRetentionYears int `env:"ARCHIVE_RETENTION_YEARS" default:"7"`

	// BatchSize is rows to process per archive batch (default: 5000)
	BatchSize int `env:"ARCHIVE_BATCH_SIZE" default:"5000"`

	// CheckInterval is how often to run the archive job (default: 24h)
	CheckInterval time.Duration `env:"ARCHIVE_CHECK_INTERVAL" default:"24h"`
}

// BlobConfig holds blob storage settings.
type BlobConfig struct {
	// Root is the directory ingest paths are resolved against (default: ./data/blobs)
	Root string `env:"BLOB_ROOT" default:"./data/blobs"`

	// Retries is the number of extra read attempts on transient errors (default: 2)
	Retries int `env:"BLOB_RETRIES" default:"2"`
}

// LLMConfig holds language model settings for the rule compiler fallback.
type LLMConfig struct {
	// Providers is the fallback order, e.g. "openai,anthropic". Empty disables the fallback.
	Providers []string `env:"LLM_PROVIDERS"`

	// OpenAIKey is the OpenAI API key
	OpenAIKey string `env:"OPENAI_API_KEY"`

	// OpenAIModel is the OpenAI model name (default: gpt-4o-mini)
	OpenAIModel string `env:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// OpenAIBaseURL overrides the API endpoint for compatible servers
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	// AnthropicKey is the Anthropic API key
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`

	// AnthropicModel is the Anthropic model name (default: claude-3-5-haiku-latest)
	AnthropicModel string `env:"ANTHROPIC_MODEL" default:"claude-3-5-haiku-latest"`

	// Temperature is the sampling temperature (default: 0)
	Temperature float64 `env:"LLM_TEMPERATURE" default:"0"`

	// MaxTokens bounds the completion length (default: 1024)
	MaxTokens int `env:"LLM_MAX_TOKENS" default:"1024"`

	// Timeout bounds a single completion attempt (default: 20s)
	Timeout time.Duration `env:"LLM_TIMEOUT" default:"20s"`

	// Retries is the number of extra attempts per provider (default: 1)
	Retries int `env:"LLM_RETRIES" default:"1"`
}

// CompilerConfig holds rule compiler preview settings.
type CompilerConfig struct {
	// SampleSize is the number of current rows a preview evaluates (default: 1000)
	SampleSize int `env:"COMPILER_SAMPLE_SIZE" default:"1000"`

	// PreviewRows is the number of rows a preview returns (default: 20)
	PreviewRows int `env:"COMPILER_PREVIEW_ROWS" default:"20"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
