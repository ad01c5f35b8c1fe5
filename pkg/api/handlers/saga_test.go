package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sagaforge/sagaforge/pkg/api/models"
	"github.com/sagaforge/sagaforge/pkg/api/response"
	"github.com/sagaforge/sagaforge/pkg/engine"
	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/executor"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

type sagaRig struct {
	store  store.Store
	orch   *engine.Orchestrator
	router *chi.Mux
}

func newSagaRig(t *testing.T) *sagaRig {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	registry := executor.NewRegistry()
	registry.Register(executor.NewWaitExecutor())

	eng := engine.New(engine.Config{ConflictRetries: 3, StepWorkers: 4, StepQueue: 16}, st, registry, nil, eventbus.NewMemoryBus(), nil)
	orch := engine.NewOrchestrator(engine.OrchestratorConfig{SagaWorkers: 4, SagaQueue: 16, CompensationWorkers: 2, CompensationQueue: 8}, eng, st, nil)
	t.Cleanup(orch.Shutdown)

	h := NewSagaHandler(orch, nil)
	r := chi.NewRouter()
	r.Route("/api/v1/sagas", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Post("/bulk/retry", h.BulkRetry)
		r.Get("/correlation/{cid}", h.ListByCorrelation)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/execute", h.Execute)
		r.Post("/{id}/retry", h.Retry)
		r.Post("/{id}/compensate", h.Compensate)
	})
	return &sagaRig{store: st, orch: orch, router: r}
}

func (rig *sagaRig) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) models.SagaView {
	t.Helper()
	var view models.SagaView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return view
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

const createBody = `{
	"name": "order-fulfillment",
	"correlation_id": "order-42",
	"steps": [
		{"name": "pause", "type": "WAIT", "config": {"delay_ms": 1}}
	]
}`

func TestSagaCreateAndGet(t *testing.T) {
	rig := newSagaRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/sagas", createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	created := decodeView(t, rec)
	if created.SagaID == "" || created.Status != "CREATED" || len(created.Steps) != 1 {
		t.Errorf("created = %+v", created)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sagas/"+created.SagaID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if got := decodeView(t, rec); got.Name != "order-fulfillment" {
		t.Errorf("name = %s", got.Name)
	}
}

func TestSagaGetNotFound(t *testing.T) {
	rig := newSagaRig(t)
	rec := rig.do(t, http.MethodGet, "/api/v1/sagas/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeError(t, rec)
	if body.ErrorCode != response.ErrCodeNotFound || body.SagaID != "nope" {
		t.Errorf("error body = %+v", body)
	}
}

func TestSagaCreateValidation(t *testing.T) {
	rig := newSagaRig(t)

	tests := []struct {
		name string
		body string
	}{
		{"no steps", `{"name": "x", "steps": []}`},
		{"no name", `{"steps": [{"name": "a", "type": "WAIT"}]}`},
		{"bad json", `{`},
		{"unknown step type", `{"name": "x", "steps": [{"name": "a", "type": "TELEPORT"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := rig.do(t, http.MethodPost, "/api/v1/sagas", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestSagaCreateWithExecute(t *testing.T) {
	rig := newSagaRig(t)

	body := strings.Replace(createBody, `"name": "order-fulfillment",`, `"name": "order-fulfillment", "execute": true,`, 1)
	rec := rig.do(t, http.MethodPost, "/api/v1/sagas", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	created := decodeView(t, rec)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := rig.store.Find(context.Background(), created.SagaID)
		if err == nil && current.Status == saga.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("saga never completed after create-and-execute")
}

func TestSagaList(t *testing.T) {
	rig := newSagaRig(t)
	rig.do(t, http.MethodPost, "/api/v1/sagas", createBody)
	rig.do(t, http.MethodPost, "/api/v1/sagas", createBody)

	rec := rig.do(t, http.MethodGet, "/api/v1/sagas?status=CREATED&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list models.SagaListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 2 || len(list.Items) != 1 || list.Limit != 1 {
		t.Errorf("list = %+v", list)
	}

	rec = rig.do(t, http.MethodGet, "/api/v1/sagas?status=SPINNING", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status filter returned %d", rec.Code)
	}
}

func TestSagaListByCorrelation(t *testing.T) {
	rig := newSagaRig(t)
	rig.do(t, http.MethodPost, "/api/v1/sagas", createBody)

	rec := rig.do(t, http.MethodGet, "/api/v1/sagas/correlation/order-42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []models.SagaView
	if err := json.NewDecoder(rec.Body).Decode(&views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Errorf("matched = %d", len(views))
	}
}

func TestSagaExecuteEndpoint(t *testing.T) {
	rig := newSagaRig(t)
	created := decodeView(t, rig.do(t, http.MethodPost, "/api/v1/sagas", createBody))

	// Execution is synchronous: the response carries the terminal state.
	rec := rig.do(t, http.MethodPost, "/api/v1/sagas/"+created.SagaID+"/execute", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body)
	}
	if got := decodeView(t, rec); got.Status != "COMPLETED" {
		t.Errorf("status = %s, want COMPLETED in the execute response", got.Status)
	}

	current, err := rig.store.Find(context.Background(), created.SagaID)
	if err != nil {
		t.Fatal(err)
	}
	if current.Status != saga.StatusCompleted {
		t.Errorf("stored status = %s, want COMPLETED", current.Status)
	}
}

func TestSagaRetryWrongState(t *testing.T) {
	rig := newSagaRig(t)
	created := decodeView(t, rig.do(t, http.MethodPost, "/api/v1/sagas", createBody))

	rec := rig.do(t, http.MethodPost, "/api/v1/sagas/"+created.SagaID+"/retry", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 for non-FAILED saga", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorCode != response.ErrCodeInvalidState {
		t.Errorf("error code = %s", body.ErrorCode)
	}
}

func TestSagaDelete(t *testing.T) {
	rig := newSagaRig(t)
	created := decodeView(t, rig.do(t, http.MethodPost, "/api/v1/sagas", createBody))

	rec := rig.do(t, http.MethodDelete, "/api/v1/sagas/"+created.SagaID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	rec = rig.do(t, http.MethodDelete, "/api/v1/sagas/"+created.SagaID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
}

func TestSagaBulkRetry(t *testing.T) {
	rig := newSagaRig(t)

	rec := rig.do(t, http.MethodPost, "/api/v1/sagas/bulk/retry", `{"saga_ids": ["missing-1", "missing-2"]}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var result models.BulkRetryResponse
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Requested != 2 || result.Scheduled != 0 {
		t.Errorf("result = %+v", result)
	}

	rec = rig.do(t, http.MethodPost, "/api/v1/sagas/bulk/retry", `{"saga_ids": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty list status = %d, want 400", rec.Code)
	}
}
