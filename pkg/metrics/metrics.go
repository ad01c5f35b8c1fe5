// Package metrics provides in-process saga metrics plus Prometheus
// instrumentation for the orchestrator.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the orchestrator.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Saga metrics
	sagaExecutions *prometheus.CounterVec
	sagaDuration   *prometheus.HistogramVec
	sagaActive     prometheus.Gauge

	// Step metrics
	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepRetries    *prometheus.CounterVec

	// Protection metrics
	breakerTrips     *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	rateLimitRejects *prometheus.CounterVec

	// HTTP metrics
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	// Histogram bucket configurations
	SagaDurationBuckets []float64
	StepDurationBuckets []float64
	HTTPDurationBuckets []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Port:                9091,
		Path:                "/metrics",
		SagaDurationBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		StepDurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		HTTPDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()

	// Register Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
	}

	m.initSagaMetrics(cfg)
	m.initStepMetrics(cfg)
	m.initProtectionMetrics()
	m.initHTTPMetrics(cfg)

	return m
}

func (m *Manager) initSagaMetrics(cfg Config) {
	m.sagaExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_executions_total",
			Help: "Total number of saga executions by outcome",
		},
		[]string{"outcome"},
	)

	m.sagaDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Saga end-to-end duration in seconds",
			Buckets: cfg.SagaDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.sagaActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "saga_active",
			Help: "Current number of sagas in a non-terminal status",
		},
	)

	m.registry.MustRegister(m.sagaExecutions)
	m.registry.MustRegister(m.sagaDuration)
	m.registry.MustRegister(m.sagaActive)
}

func (m *Manager) initStepMetrics(cfg Config) {
	m.stepExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_executions_total",
			Help: "Total number of step executions by type and outcome",
		},
		[]string{"step_type", "outcome"},
	)

	m.stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "step_duration_seconds",
			Help:    "Step attempt duration in seconds",
			Buckets: cfg.StepDurationBuckets,
		},
		[]string{"step_type"},
	)

	m.stepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_retries_total",
			Help: "Total number of step retry attempts by type",
		},
		[]string{"step_type"},
	)

	m.registry.MustRegister(m.stepExecutions)
	m.registry.MustRegister(m.stepDuration)
	m.registry.MustRegister(m.stepRetries)
}

func (m *Manager) initProtectionMetrics() {
	m.breakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_trips_total",
			Help: "Total number of circuit breaker trips per service",
		},
		[]string{"service"},
	)

	m.breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per service (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service"},
	)

	m.rateLimitRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of rate limited requests per client",
		},
		[]string{"client"},
	)

	m.registry.MustRegister(m.breakerTrips)
	m.registry.MustRegister(m.breakerState)
	m.registry.MustRegister(m.rateLimitRejects)
}

// RecordSaga records a finished saga with its outcome and duration.
func (m *Manager) RecordSaga(outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.sagaExecutions.WithLabelValues(outcome).Inc()
	m.sagaDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetActiveSagas sets the active saga gauge.
func (m *Manager) SetActiveSagas(n float64) {
	if !m.enabled {
		return
	}
	m.sagaActive.Set(n)
}

// RecordStep records a step attempt.
func (m *Manager) RecordStep(stepType, outcome string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.stepExecutions.WithLabelValues(stepType, outcome).Inc()
	m.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// RecordStepRetry records one retry attempt of a step.
func (m *Manager) RecordStepRetry(stepType string) {
	if !m.enabled {
		return
	}
	m.stepRetries.WithLabelValues(stepType).Inc()
}

// RecordBreakerTrip records a circuit breaker trip.
func (m *Manager) RecordBreakerTrip(service string) {
	if !m.enabled {
		return
	}
	m.breakerTrips.WithLabelValues(service).Inc()
	m.breakerState.WithLabelValues(service).Set(1)
}

// RecordBreakerReset records a circuit breaker closing.
func (m *Manager) RecordBreakerReset(service string) {
	if !m.enabled {
		return
	}
	m.breakerState.WithLabelValues(service).Set(0)
}

// RecordRateLimitReject records a rate limited request.
func (m *Manager) RecordRateLimitReject(client string) {
	if !m.enabled {
		return
	}
	m.rateLimitRejects.WithLabelValues(client).Inc()
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// NoOpManager returns a no-op metrics manager for when metrics are disabled.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}
