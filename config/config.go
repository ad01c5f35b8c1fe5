// Package config provides configuration management for the orchestrator.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for the orchestrator.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Execution is the saga execution configuration.
	Execution ExecutionConfig `mapstructure:"execution"`

	// Scheduler is the background sweep configuration.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Cache is the read-through saga cache configuration.
	Cache CacheConfig `mapstructure:"cache"`

	// RateLimit is the per-client rate limit configuration.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Breaker is the circuit breaker configuration.
	Breaker BreakerConfig `mapstructure:"breaker"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`

	// FileRoot is the directory file-operation steps are confined to.
	FileRoot string `mapstructure:"file_root"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// Auth is the administrative endpoint authentication configuration.
	Auth AuthConfig `mapstructure:"auth"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// AuthConfig holds basic auth settings for administrative operations.
type AuthConfig struct {
	// Enabled enables basic auth on administrative endpoints.
	Enabled bool `mapstructure:"enabled"`

	// Username is the administrative username.
	Username string `mapstructure:"username"`

	// Password is the administrative password.
	Password string `mapstructure:"password"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// ExecutionConfig holds saga engine settings.
type ExecutionConfig struct {
	// MaxRetries is the default per-step retry budget.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`

	// RetryDelay is the default delay between step retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Timeout is the default saga wall-clock budget. Zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout"`

	// ConflictRetries bounds reload-and-reapply passes on version conflicts.
	ConflictRetries int `mapstructure:"conflict_retries" validate:"min=1"`

	// SagaWorkers / SagaQueue size the saga execution pool.
	SagaWorkers int `mapstructure:"saga_workers" validate:"min=1"`
	SagaQueue   int `mapstructure:"saga_queue" validate:"min=1"`

	// StepWorkers / StepQueue size the step execution pool.
	StepWorkers int `mapstructure:"step_workers" validate:"min=1"`
	StepQueue   int `mapstructure:"step_queue" validate:"min=1"`

	// CompensationWorkers / CompensationQueue size the compensation pool.
	CompensationWorkers int `mapstructure:"compensation_workers" validate:"min=1"`
	CompensationQueue   int `mapstructure:"compensation_queue" validate:"min=1"`
}

// SchedulerConfig holds background sweep settings.
type SchedulerConfig struct {
	// TimeoutInterval is how often to sweep for timed-out sagas.
	TimeoutInterval time.Duration `mapstructure:"timeout_interval"`

	// RetryInterval is how often to sweep for retryable failed sagas.
	RetryInterval time.Duration `mapstructure:"retry_interval"`

	// RetryEnabled enables the automatic retry sweep.
	RetryEnabled bool `mapstructure:"retry_enabled"`

	// RetentionPeriod is how long terminal sagas are kept.
	RetentionPeriod time.Duration `mapstructure:"retention_period"`

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// SnapshotInterval is how often metrics snapshots are published.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Postgres is the connection used by database steps.
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis is the broker used by message-queue steps.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`
}

// PostgresConfig holds the Postgres settings for database steps.
type PostgresConfig struct {
	// Enabled enables the database step adapter.
	Enabled bool `mapstructure:"enabled"`

	// DSN is the connection string.
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Enabled enables the message-queue step adapter.
	Enabled bool `mapstructure:"enabled"`

	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`
}

// CacheConfig holds read-through saga cache settings.
type CacheConfig struct {
	// Enabled enables the cache in front of the store.
	Enabled bool `mapstructure:"enabled"`

	// MaxEntries is the cache capacity.
	MaxEntries int64 `mapstructure:"max_entries" validate:"min=1"`

	// TTL is how long a cached saga stays fresh.
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig holds per-client rate limit settings.
type RateLimitConfig struct {
	// Enabled enables per-client rate limiting on the API.
	Enabled bool `mapstructure:"enabled"`

	// BurstLimit is the per-client request budget in the burst window.
	BurstLimit int `mapstructure:"burst_limit" validate:"min=1"`

	// MinuteLimit is the per-client request budget per minute.
	MinuteLimit int `mapstructure:"minute_limit" validate:"min=1"`

	// HourLimit is the per-client request budget per hour.
	HourLimit int `mapstructure:"hour_limit" validate:"min=1"`

	// BurstWindow is the length of the burst window.
	BurstWindow time.Duration `mapstructure:"burst_window"`

	// GlobalRPS caps requests per second across all clients. Zero disables.
	GlobalRPS float64 `mapstructure:"global_rps" validate:"min=0"`

	// GlobalBurst is the global limiter's burst size.
	GlobalBurst int `mapstructure:"global_burst" validate:"min=0"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens a breaker.
	FailureThreshold int `mapstructure:"failure_threshold" validate:"min=1"`

	// SuccessThreshold is the half-open success count that closes a breaker.
	SuccessThreshold int `mapstructure:"success_threshold" validate:"min=1"`

	// Cooldown is how long an open breaker rejects before probing.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the trace exporter kind.
	Exporter string `mapstructure:"exporter"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Sampler selects always_on, always_off, or parent-based ratio sampling.
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`

	// Timeout bounds each export call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
