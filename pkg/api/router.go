// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/sagaforge/sagaforge/config"
	"github.com/sagaforge/sagaforge/pkg/api/handlers"
	"github.com/sagaforge/sagaforge/pkg/api/middleware"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Saga handles saga lifecycle endpoints
	Saga *handlers.SagaHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Dashboard handles the aggregated operator view
	Dashboard *handlers.DashboardHandler

	// Admin handles breaker and rate-limit inspection endpoints
	Admin *handlers.AdminHandler

	// WebSocket streams lifecycle events to subscribers
	WebSocket *handlers.WebSocketHandler

	// Limiter applies per-client request limits when set
	Limiter *ratelimit.Limiter

	// PrometheusHandler serves the /metrics scrape endpoint when set
	PrometheusHandler http.Handler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.GlobalRPS > 0 {
			r.Use(middleware.GlobalRateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit.GlobalRPS), cfg.RateLimit.GlobalBurst)))
		}
		if handlers.Limiter != nil {
			r.Use(middleware.RateLimit(handlers.Limiter))
		}
	}

	// Register routes
	RegisterRoutes(r, cfg, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, handlers *Handlers) {
	// API v1 routes. Every operation endpoint sits behind basic auth when
	// it is enabled; only the health probes and the metrics scrape stay open.
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Auth.Enabled {
			r.Use(middleware.BasicAuth(cfg.Server.Auth.Username, cfg.Server.Auth.Password))
		}

		// Saga lifecycle routes
		if handlers.Saga != nil {
			r.Route("/sagas", func(r chi.Router) {
				r.Post("/", handlers.Saga.Create)
				r.Get("/", handlers.Saga.List)
				r.Post("/bulk/retry", handlers.Saga.BulkRetry)
				r.Get("/correlation/{cid}", handlers.Saga.ListByCorrelation)
				r.Get("/{id}", handlers.Saga.Get)
				r.Delete("/{id}", handlers.Saga.Delete)
				r.Post("/{id}/execute", handlers.Saga.Execute)
				r.Post("/{id}/retry", handlers.Saga.Retry)
				r.Post("/{id}/compensate", handlers.Saga.Compensate)
			})
		}

		// Dashboard routes
		if handlers.Dashboard != nil {
			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/overview", handlers.Dashboard.Overview)
				r.Get("/metrics", handlers.Dashboard.Metrics)
			})
		}

		// Admin routes
		if handlers.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/breakers", handlers.Admin.BreakerStatuses)
				r.Get("/breakers/{service}", handlers.Admin.BreakerStatus)
				r.Post("/breakers/{service}/reset", handlers.Admin.BreakerReset)
				r.Get("/ratelimits", handlers.Admin.RateLimitStatuses)
				r.Get("/ratelimits/{client}", handlers.Admin.RateLimitStatus)
				r.Post("/ratelimits/{client}/reset", handlers.Admin.RateLimitReset)
			})
		}
	})

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	// Lifecycle event stream
	if handlers.WebSocket != nil {
		r.Get("/ws/events", handlers.WebSocket.ServeHTTP)
	}

	// Prometheus scrape endpoint
	if handlers.PrometheusHandler != nil {
		r.Handle("/metrics", handlers.PrometheusHandler)
	}
}
