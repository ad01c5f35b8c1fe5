package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/metrics"
	"github.com/sagaforge/sagaforge/pkg/ratelimit"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

func TestDashboardOverview(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()

	created := saga.New("order", []*saga.Step{saga.NewStep("pause", saga.StepTypeWait)})
	if _, err := st.Save(context.Background(), created); err != nil {
		t.Fatal(err)
	}

	collector := metrics.NewCollector(nil)
	collector.SagaStarted()
	breakers := breaker.NewManager(breaker.Config{FailureThreshold: 5, SuccessThreshold: 3, Cooldown: 30 * time.Second}, collector)
	breakers.RecordFailure("payments")
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), collector)
	limiter.Allow("client-a")

	h := NewDashboardHandler(st, collector, breakers, limiter)
	rec := httptest.NewRecorder()
	h.Overview(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/overview", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var overview Overview
	if err := json.NewDecoder(rec.Body).Decode(&overview); err != nil {
		t.Fatal(err)
	}
	if overview.SagasByState["CREATED"] != 1 {
		t.Errorf("sagas by state = %v", overview.SagasByState)
	}
	if overview.Metrics.SagasStarted != 1 {
		t.Errorf("metrics = %+v", overview.Metrics)
	}
	if len(overview.Breakers) != 1 || len(overview.RateLimits) != 1 {
		t.Errorf("breakers = %d, ratelimits = %d", len(overview.Breakers), len(overview.RateLimits))
	}
}

func TestDashboardMetrics(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	collector := metrics.NewCollector(nil)
	collector.StepExecuted("WAIT", true, 10*time.Millisecond)

	h := NewDashboardHandler(st, collector, nil, nil)
	rec := httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.StepsExecuted != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHealthEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	h := NewHealthHandler(st)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}
	var ready map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&ready); err != nil {
		t.Fatal(err)
	}
	if !ready["ready"] {
		t.Error("store-backed readiness should pass")
	}

	rec = httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
