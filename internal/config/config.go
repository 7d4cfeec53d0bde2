// Package config provides centralized configuration management for the
// merge service. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast
// on misconfiguration.
package config

import (
	"fmt"
	"time"
)

// Config holds all service configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Source   SourceConfig
	Merge    MergeConfig
	Run      RunConfig
	Security SecurityConfig
	Logging  LoggingConfig
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

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SourceConfig selects and configures the export backend.
type SourceConfig struct {
	// Backend names where exports come from: "dir" or "s3" (default: dir)
	Backend string `env:"SOURCE_BACKEND" default:"dir"`

	// Root is the dir backend's base directory (default: ./bank_data)
	Root string `env:"SOURCE_ROOT" default:"./bank_data"`

	// Bucket and Prefix locate exports for the s3 backend.
	// The alternate names match the legacy loader's environment.
	Bucket string `env:"S3_BUCKET" envAlt:"S3_BUCKET_NAME"`
	Prefix string `env:"S3_PREFIX" envAlt:"S3_BASE_FOLDER" default:"bank_data"`

	// Region overrides the AWS credential chain's region when set.
	Region string `env:"S3_REGION" envAlt:"AWS_DEFAULT_REGION"`

	// Encoding names the character set of CSV exports (default: utf-8)
	Encoding string `env:"SOURCE_ENCODING" default:"utf-8"`
}

// MergeConfig holds merge pipeline settings.
type MergeConfig struct {
	// SchemaFile overrides the embedded canonical layout when set.
	SchemaFile string `env:"SCHEMA_FILE"`

	// FetchConcurrency bounds parallel source fetches per run (default: 4)
	FetchConcurrency int `env:"MERGE_FETCH_CONCURRENCY" default:"4"`

	// PageSize is the number of records per store write (default: 1000)
	PageSize int `env:"MERGE_PAGE_SIZE" default:"1000"`

	// PageRetries is extra attempts for a failed page (default: 2)
	PageRetries int `env:"MERGE_PAGE_RETRIES" default:"2"`

	// RetryBackoff is the pause between page attempts (default: 500ms)
	RetryBackoff time.Duration `env:"MERGE_RETRY_BACKOFF" default:"500ms"`

	// RequireBranchColumn fails a source whose header shows no branch
	// column even under the widened scan (default: false)
	RequireBranchColumn bool `env:"MERGE_REQUIRE_BRANCH_COLUMN" default:"false"`

	// ExportEnabled writes each merged dataset back as a workbook (default: false)
	ExportEnabled bool `env:"EXPORT_ENABLED" default:"false"`

	// ExportPrefix is where merged workbooks land within the backend.
	// Empty means the backend root, outside the listed source folders.
	ExportPrefix string `env:"EXPORT_PREFIX"`
}

// RunConfig holds run scheduling and lifecycle settings.
type RunConfig struct {
	// Interval between scheduled merge runs in daemon mode (default: 24h)
	Interval time.Duration `env:"RUN_INTERVAL" default:"24h"`

	// Timeout bounds one merge run end to end (default: 10m)
	Timeout time.Duration `env:"RUN_TIMEOUT" default:"10m"`

	// MaxConcurrent caps simultaneous runs; the default serializes (default: 1)
	MaxConcurrent int `env:"RUN_MAX_CONCURRENT" default:"1"`

	// Wait is how long a blocking caller waits for a run slot (default: 10s)
	Wait time.Duration `env:"RUN_WAIT" default:"10s"`

	// MaintenanceEnabled runs periodic duplicate reconciliation in
	// daemon mode (default: true)
	MaintenanceEnabled bool `env:"MAINTENANCE_ENABLED" default:"true"`

	// MaintenanceInterval is how often that job runs (default: 24h)
	MaintenanceInterval time.Duration `env:"MAINTENANCE_INTERVAL" default:"24h"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey gates the API behind X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies lists CIDRs whose forwarded headers are honored
	// when deriving the client IP.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
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
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
