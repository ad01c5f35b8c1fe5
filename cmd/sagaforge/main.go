package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sagaforge/sagaforge/config"
	"github.com/sagaforge/sagaforge/pkg/api"
	"github.com/sagaforge/sagaforge/pkg/api/events"
	"github.com/sagaforge/sagaforge/pkg/api/handlers"
	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/engine"
	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/executor"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/metrics"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
	"github.com/sagaforge/sagaforge/pkg/store"
	"github.com/sagaforge/sagaforge/pkg/telemetry/tracing"
	"github.com/sagaforge/sagaforge/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	// Print help
	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	// Print version
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Build CLI overrides map
	overrides := buildOverrides()

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting SagaForge",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	log.Debug("Configuration loaded", "config", cfg.String())

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Watch the config file for hot-reloadable changes
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, config.NewLoader(), config.WithWatchLogger(log))
		if err != nil {
			log.Warn("Config watcher unavailable", "error", err)
		} else {
			watcher.OnChange(func(updated *config.Config) {
				logger.SetLevel(logger.ParseLevel(updated.Log.Level))
				log.Info("Reloaded log level", "level", updated.Log.Level)
			})
			go func() {
				if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("Config watcher stopped", "error", err)
				}
			}()
			defer func() {
				if err := watcher.Stop(); err != nil {
					log.Error("Error stopping config watcher", "error", err)
				}
			}()
		}
	}

	// Initialize the saga store
	var st store.Store
	switch cfg.Storage.Type {
	case "badger":
		st, err = store.OpenBadgerStore(cfg.Storage.Badger.Path, cfg.Storage.Badger.SyncWrites)
		if err != nil {
			log.Error("Failed to open Badger store", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized Badger store", "path", cfg.Storage.Badger.Path)
	case "memory":
		st = store.NewMemoryStore()
		log.Info("Initialized memory store")
	default:
		st = store.NewMemoryStore()
		log.Warn("Unknown storage type, using memory store", "type", cfg.Storage.Type)
	}
	if cfg.Cache.Enabled {
		st, err = store.NewCachingStore(st, store.CacheConfig{
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        cfg.Cache.TTL,
		})
		if err != nil {
			log.Error("Failed to create caching store", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized read-through cache", "max_entries", cfg.Cache.MaxEntries, "ttl", cfg.Cache.TTL)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()

	// Initialize metrics
	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:             cfg.Metrics.Enabled,
		Port:                cfg.Metrics.Port,
		Path:                cfg.Metrics.Path,
		SagaDurationBuckets: metrics.DefaultConfig().SagaDurationBuckets,
		StepDurationBuckets: metrics.DefaultConfig().StepDurationBuckets,
		HTTPDurationBuckets: metrics.DefaultConfig().HTTPDurationBuckets,
	})
	collector := metrics.NewCollector(metricsManager)

	// Start metrics server if enabled
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Initialize protection layers
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
	}, collector)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		BurstLimit:  cfg.RateLimit.BurstLimit,
		MinuteLimit: cfg.RateLimit.MinuteLimit,
		HourLimit:   cfg.RateLimit.HourLimit,
		BurstWindow: cfg.RateLimit.BurstWindow,
	}, collector)

	// Register step adapters
	registry := executor.NewRegistry()
	registry.Register(executor.NewHTTPExecutor(&http.Client{Timeout: cfg.Execution.Timeout}, breakers))
	registry.Register(executor.NewBusinessExecutor())
	registry.Register(executor.NewWaitExecutor())
	registry.Register(executor.NewFileExecutor(cfg.App.FileRoot))

	if cfg.Storage.Postgres.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			log.Error("Failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		registry.Register(executor.NewDatabaseExecutor(pool, breakers))
		log.Info("Registered database step adapter")
	}
	if cfg.Storage.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Error("Error closing Redis client", "error", err)
			}
		}()
		registry.Register(executor.NewQueueExecutor(redisClient, breakers))
		log.Info("Registered message-queue step adapter")
	}

	// Initialize the engine and orchestrator
	bus := eventbus.NewMemoryBus()
	eng := engine.New(engine.Config{
		ConflictRetries: cfg.Execution.ConflictRetries,
		StepWorkers:     cfg.Execution.StepWorkers,
		StepQueue:       cfg.Execution.StepQueue,
	}, st, registry, collector, bus, log)
	orch := engine.NewOrchestrator(engine.OrchestratorConfig{
		SagaWorkers:         cfg.Execution.SagaWorkers,
		SagaQueue:           cfg.Execution.SagaQueue,
		CompensationWorkers: cfg.Execution.CompensationWorkers,
		CompensationQueue:   cfg.Execution.CompensationQueue,
	}, eng, st, log)

	// Start background sweeps
	scheduler := engine.NewScheduler(engine.SchedulerConfig{
		TimeoutInterval:  cfg.Scheduler.TimeoutInterval,
		RetryInterval:    cfg.Scheduler.RetryInterval,
		RetryEnabled:     cfg.Scheduler.RetryEnabled,
		RetentionPeriod:  cfg.Scheduler.RetentionPeriod,
		CleanupInterval:  cfg.Scheduler.CleanupInterval,
		SnapshotInterval: cfg.Scheduler.SnapshotInterval,
	}, st, orch, eng, collector, bus, log)
	scheduler.Start(ctx)

	// Initialize HTTP server with handlers
	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	// Lifecycle events fan out through the broadcaster so additional
	// in-process consumers can subscribe alongside the websocket handler.
	broadcaster := events.NewBroadcaster()
	bridge := events.NewBridge(bus, log, broadcaster.Broadcast)
	if err := bridge.Start(ctx); err != nil {
		log.Error("Failed to start event bridge", "error", err)
		os.Exit(1)
	}
	wsEvents := broadcaster.Subscribe(256)
	go func() {
		for event := range wsEvents {
			if err := wsHandler.Broadcast(handlers.EventMessage{
				Type:      event.Type,
				Timestamp: event.Timestamp,
				Payload:   event.Payload,
			}); err != nil {
				log.Warn("Websocket broadcast failed", "error", err)
			}
		}
	}()

	apiHandlers := &api.Handlers{
		Saga:      handlers.NewSagaHandler(orch, log),
		Health:    handlers.NewHealthHandler(st),
		Dashboard: handlers.NewDashboardHandler(st, collector, breakers, limiter),
		Admin:     handlers.NewAdminHandler(breakers, limiter),
		WebSocket: wsHandler,
		Limiter:   limiter,
		Metrics:   metricsManager,
	}
	if metricsManager.Enabled() {
		apiHandlers.PrometheusHandler = metricsManager.Handler()
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	// Start HTTP server in a separate goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("SagaForge is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
	)
	log.Info("Press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server first
	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	wsHandler.Close()

	// Stop background work
	log.Info("Stopping orchestrator")
	cancel()
	bridge.Close()
	broadcaster.Close()
	orch.Shutdown()
	eng.Shutdown()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("SagaForge stopped gracefully")
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("SagaForge - Saga Orchestration Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("SagaForge - Saga orchestration engine with compensation, retries, and protection layers\n\n")
	fmt.Printf("Usage: sagaforge [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaforge                                   # Run with default config\n")
	fmt.Printf("  sagaforge -config config.yaml               # Use specific config file\n")
	fmt.Printf("  sagaforge -port 9090 -log-level debug       # Override specific options\n")
	fmt.Printf("  sagaforge -version                          # Print version info\n")
}
