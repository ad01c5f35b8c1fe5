package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/saga"
)

const maxResponseBytes = 1 << 20

// HTTPExecutor performs HTTP_CALL steps against external services, guarded
// by the per-service circuit breaker.
type HTTPExecutor struct {
	client   *http.Client
	breakers *breaker.Manager
}

// NewHTTPExecutor creates the HTTP adapter. A nil client gets a default with
// a 30s overall timeout; the per-attempt context still bounds each call.
func NewHTTPExecutor(client *http.Client, breakers *breaker.Manager) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client, breakers: breakers}
}

// Type implements Executor.
func (e *HTTPExecutor) Type() saga.StepType { return saga.StepTypeHTTPCall }

// Execute renders the request from the step config and saga input, sends it,
// and returns the decoded response.
func (e *HTTPExecutor) Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	cfg := step.Config
	if cfg.URL == "" {
		return nil, Permanent(fmt.Errorf("http step %q: url cannot be empty", step.Name))
	}
	target := renderTemplate(cfg.URL, input)
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, Permanent(fmt.Errorf("http step %q: invalid url: %w", step.Name, err))
	}

	service := cfg.ServiceName
	if service == "" {
		service = parsed.Host
	}
	if e.breakers != nil {
		if err := e.breakers.Allow(service); err != nil {
			return nil, fmt.Errorf("service %s: %w", service, err)
		}
	}

	output, err := e.call(ctx, step, parsed, input)
	if e.breakers != nil {
		if err != nil {
			e.breakers.RecordFailure(service)
		} else {
			e.breakers.RecordSuccess(service)
		}
	}
	return output, err
}

func (e *HTTPExecutor) call(ctx context.Context, step *saga.Step, target *url.URL, input map[string]any) (map[string]any, error) {
	cfg := step.Config
	method := cfg.HTTPMethod
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if cfg.RequestBodyTemplate != "" {
		body = strings.NewReader(renderTemplate(cfg.RequestBodyTemplate, input))
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, Permanent(fmt.Errorf("http step %q: %w", step.Name, err))
	}
	// Propagate the saga's trace so downstream services join the same trace.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	req.Header.Set("Content-Type", "application/json")
	for name, value := range cfg.Headers {
		req.Header.Set(name, renderTemplate(value, input))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http step %q: %w", step.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("http step %q: reading response: %w", step.Name, err)
	}

	if !statusAccepted(resp.StatusCode, cfg.ExpectedStatusCodes) {
		return nil, fmt.Errorf("http step %q: unexpected status %d", step.Name, resp.StatusCode)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
	}
	if len(raw) > 0 {
		var decoded map[string]any
		if json.Unmarshal(raw, &decoded) == nil {
			output["response"] = decoded
		} else {
			output["response_body"] = string(raw)
		}
	}
	return output, nil
}

// statusAccepted defaults to any 2xx when no explicit list is configured.
func statusAccepted(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(expected, status)
}
