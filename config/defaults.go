package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sagaforge",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
			FileRoot:    "./data/files",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			Auth: AuthConfig{
				Enabled:  false,
				Username: "admin",
				Password: "",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Execution: ExecutionConfig{
			MaxRetries:          3,
			RetryDelay:          time.Second,
			Timeout:             30 * time.Second,
			ConflictRetries:     3,
			SagaWorkers:         50,
			SagaQueue:           2000,
			StepWorkers:         100,
			StepQueue:           2000,
			CompensationWorkers: 10,
			CompensationQueue:   200,
		},
		Scheduler: SchedulerConfig{
			TimeoutInterval:  10 * time.Second,
			RetryInterval:    60 * time.Second,
			RetryEnabled:     false,
			RetentionPeriod:  24 * time.Hour,
			CleanupInterval:  time.Hour,
			SnapshotInterval: 5 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:       "./data/badger",
				SyncWrites: true,
			},
			Postgres: PostgresConfig{
				Enabled: false,
				DSN:     "postgres://localhost:5432/sagaforge",
			},
			Redis: RedisConfig{
				Enabled:  false,
				Address:  "localhost:6379",
				Password: "",
				DB:       0,
			},
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1000,
			TTL:        30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			BurstLimit:  50,
			MinuteLimit: 100,
			HourLimit:   1000,
			BurstWindow: 10 * time.Second,
			GlobalRPS:   0,
			GlobalBurst: 0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			Cooldown:         30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Sampler:    "ratio",
			SampleRate: 0.1,
			Timeout:    10 * time.Second,
		},
	}
}
