// Package tracing wires process-wide OpenTelemetry tracing for the
// orchestrator: saga execution spans, HTTP server spans, and outbound
// propagation all flow through the provider installed here.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sagaforge/sagaforge/config"
	"github.com/sagaforge/sagaforge/pkg/logger"
)

// ShutdownFunc flushes and releases the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// Init installs the global tracer provider and propagator. With tracing
// disabled a noop provider is installed so instrumented code needs no
// guards. The returned ShutdownFunc must be called on exit to flush
// batched spans.
func Init(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (ShutdownFunc, error) {
	installPropagator := func() {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		installPropagator()
		return func(context.Context) error { return nil }, nil
	}

	if strings.TrimSpace(cfg.Exporter) == "" {
		return nil, fmt.Errorf("tracing exporter cannot be empty")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("tracing timeout must be > 0")
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	installPropagator()

	return func(shutdownCtx context.Context) error {
		if err := tp.ForceFlush(shutdownCtx); err != nil {
			_ = tp.Shutdown(shutdownCtx)
			return fmt.Errorf("force flush tracing provider: %w", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown tracing provider: %w", err)
		}
		return nil
	}, nil
}

func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := hostOnly(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("tracing endpoint cannot be empty")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
		otlptracegrpc.WithInsecure(),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &loggingExporter{
		exporter: exporter,
		kind:     strings.ToLower(strings.TrimSpace(cfg.Exporter)),
		endpoint: endpoint,
	}, nil
}

// loggingExporter keeps a collector outage from surfacing as saga errors:
// a failed batch export is logged and dropped.
type loggingExporter struct {
	exporter sdktrace.SpanExporter
	kind     string
	endpoint string
}

func (e *loggingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.exporter.ExportSpans(ctx, spans); err != nil {
		logger.Warn("tracing exporter failed",
			"error", err,
			"exporter", e.kind,
			"endpoint", e.endpoint,
			"span_count", len(spans),
		)
	}
	return nil
}

func (e *loggingExporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}

// hostOnly strips a scheme from the configured endpoint; the gRPC exporter
// wants host:port.
func hostOnly(endpoint string) string {
	raw := strings.TrimSpace(endpoint)
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	return parsed.Host
}
