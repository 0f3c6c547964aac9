// Package config provides centralized configuration management for the service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Store backends for jobs, mappings and the outcome ledger.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Delivery  DeliveryConfig
	Pipeline  PipelineConfig
	Retention RetentionConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds storage backend settings.
type DatabaseConfig struct {
	// Backend selects the store implementation: postgres or memory (default: postgres).
	// The memory backend keeps everything in-process; useful for development.
	Backend string `env:"STORE_BACKEND" default:"postgres"`

	// URL is the PostgreSQL connection string (required for the postgres backend).
	// Supports both DATABASE_URL and DB_URL env vars for compatibility.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// MigrateOnStart applies pending schema migrations at startup (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// DeliveryConfig holds settings for the downstream delivery endpoint.
type DeliveryConfig struct {
	// EndpointURL is the downstream API URL that receives normalized records (required).
	EndpointURL string `env:"DELIVERY_ENDPOINT_URL" required:"true"`

	// Token is the API token sent as "Authorization: Token <value>" (optional).
	Token string `env:"DELIVERY_TOKEN"`

	// RequestTimeout is the timeout for a single delivery call (default: 10s)
	RequestTimeout time.Duration `env:"DELIVERY_REQUEST_TIMEOUT" default:"10s"`

	// MaxAttempts is the delivery attempt ceiling per record (default: 3)
	MaxAttempts int `env:"DELIVERY_MAX_ATTEMPTS" default:"3"`

	// BackoffBase is the base delay for exponential backoff (default: 1s)
	BackoffBase time.Duration `env:"DELIVERY_BACKOFF_BASE" default:"1s"`

	// BackoffMax caps the backoff delay between attempts (default: 60s)
	BackoffMax time.Duration `env:"DELIVERY_BACKOFF_MAX" default:"60s"`
}

// PipelineConfig holds file processing settings.
type PipelineConfig struct {
	// SpoolDir is where uploaded files are stored until processed (default: ./spool)
	SpoolDir string `env:"PIPELINE_SPOOL_DIR" default:"spool"`

	// InboxDir is scanned for per-client drop folders; empty disables the scan.
	InboxDir string `env:"PIPELINE_INBOX_DIR"`

	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"PIPELINE_MAX_FILE_SIZE" default:"104857600"`

	// MaxConcurrentFiles is the worker pool size for file processing (default: 5)
	MaxConcurrentFiles int `env:"PIPELINE_MAX_CONCURRENT_FILES" default:"5"`

	// MaxWaitTime is how long to wait for a worker slot (default: 30s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"30s"`

	// FileTimeout is the maximum duration for processing one file (default: 10m)
	FileTimeout time.Duration `env:"PIPELINE_FILE_TIMEOUT" default:"10m"`

	// LeaseTTL is how long a processing lease is held before a crashed
	// attempt becomes eligible for pickup (default: 15m)
	LeaseTTL time.Duration `env:"PIPELINE_LEASE_TTL" default:"15m"`

	// PollInterval is how often the dispatcher looks for received jobs (default: 5s)
	PollInterval time.Duration `env:"PIPELINE_POLL_INTERVAL" default:"5s"`

	// InboxScanSpec is the cron spec for the inbox directory scan (default: every minute)
	InboxScanSpec string `env:"PIPELINE_INBOX_SCAN_SPEC" default:"* * * * *"`

	// MappingSeedFile is an optional YAML file with initial client mappings,
	// loaded at startup when the mapping store is empty.
	MappingSeedFile string `env:"MAPPING_SEED_FILE"`
}

// RetentionConfig holds outcome ledger retention settings.
type RetentionConfig struct {
	// LedgerRetentionDays is how long row outcomes and delivery attempts are
	// kept before pruning (default: 30)
	LedgerRetentionDays int `env:"RETENTION_LEDGER_DAYS" default:"30"`

	// PruneSpec is the cron spec for the retention job (default: daily at 03:00)
	PruneSpec string `env:"RETENTION_PRUNE_SPEC" default:"0 3 * * *"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
