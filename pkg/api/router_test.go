package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sagaforge/sagaforge/config"
	"github.com/sagaforge/sagaforge/pkg/api/handlers"
	"github.com/sagaforge/sagaforge/pkg/engine"
	"github.com/sagaforge/sagaforge/pkg/executor"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/store"
)

const createSagaBody = `{
	"name": "order-fulfillment",
	"steps": [
		{"name": "pause", "type": "WAIT", "config": {"delay_ms": 1}}
	]
}`

func newAuthedRouter(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	registry := executor.NewRegistry()
	registry.Register(executor.NewWaitExecutor())
	eng := engine.New(engine.Config{ConflictRetries: 3, StepWorkers: 4, StepQueue: 16}, st, registry, nil, nil, nil)
	orch := engine.NewOrchestrator(engine.OrchestratorConfig{SagaWorkers: 4, SagaQueue: 16, CompensationWorkers: 2, CompensationQueue: 8}, eng, st, nil)
	t.Cleanup(orch.Shutdown)

	cfg := config.DefaultConfig()
	cfg.RateLimit.Enabled = false
	cfg.Server.Auth.Enabled = true
	cfg.Server.Auth.Username = "admin"
	cfg.Server.Auth.Password = "secret"

	return NewRouter(cfg, logger.Global(), &Handlers{
		Saga:   handlers.NewSagaHandler(orch, nil),
		Health: handlers.NewHealthHandler(st),
	})
}

func TestRouterSagaRoutesRequireAuth(t *testing.T) {
	router := newAuthedRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sagas", strings.NewReader(createSagaBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sagas", strings.NewReader(createSagaBody))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("authenticated create = %d, want 201, body %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sagas", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials = %d, want 401", rec.Code)
	}
}

func TestRouterHealthStaysOpen(t *testing.T) {
	router := newAuthedRouter(t)

	for _, target := range []string{"/health", "/ready", "/status"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, probes must not require credentials", target, rec.Code)
		}
	}
}
