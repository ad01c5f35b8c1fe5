package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initHTTPMetrics registers the REST API series: request counts and
// latencies per method and normalized path, plus the in-flight gauge.
func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "path"},
	)
	m.httpConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_connections",
			Help: "Current number of active HTTP connections",
		},
	)
	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpConnections)
}

// RecordHTTPRequest counts one finished API request. path must already be
// normalized; raw saga IDs would explode the label cardinality.
func (m *Manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncActiveConnections tracks a request entering the server.
func (m *Manager) IncActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpConnections.Inc()
}

// DecActiveConnections tracks a request leaving the server.
func (m *Manager) DecActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpConnections.Dec()
}
