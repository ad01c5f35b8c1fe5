package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

func newTestOrchestrator(t *testing.T, st store.Store) (*Orchestrator, *scriptedExecutor) {
	t.Helper()
	eng, fake := newTestEngine(t, st)
	orch := NewOrchestrator(OrchestratorConfig{SagaWorkers: 4, SagaQueue: 16, CompensationWorkers: 2, CompensationQueue: 8}, eng, st, nil)
	t.Cleanup(orch.Shutdown)
	return orch, fake
}

// waitForStatus polls the store until the saga reaches the status or the
// deadline passes.
func waitForStatus(t *testing.T, st store.Store, sagaID string, want saga.Status) *saga.Saga {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := st.Find(context.Background(), sagaID)
		if err == nil && current.Status == want {
			return current
		}
		time.Sleep(5 * time.Millisecond)
	}
	current, _ := st.Find(context.Background(), sagaID)
	t.Fatalf("saga %s never reached %s, last seen %+v", sagaID, want, current)
	return nil
}

func TestOrchestratorCreate(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	created, err := orch.Create(context.Background(), saga.New("order", []*saga.Step{testStep("reserve")}))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Version != 1 || created.Status != saga.StatusCreated {
		t.Errorf("created = version %d status %s", created.Version, created.Status)
	}

	invalid := saga.New("", []*saga.Step{testStep("reserve")})
	if _, err := orch.Create(context.Background(), invalid); err == nil {
		t.Error("Create() must reject an invalid saga")
	}
}

func TestOrchestratorExecute(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	created, err := orch.Create(context.Background(), saga.New("order", []*saga.Step{testStep("reserve"), testStep("ship")}))
	if err != nil {
		t.Fatal(err)
	}

	final, err := orch.Execute(context.Background(), created.SagaID)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if final.Status != saga.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", final.Status)
	}
}

func TestOrchestratorRetryRejectsNonFailed(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	created, err := orch.Create(context.Background(), saga.New("order", []*saga.Step{testStep("reserve")}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Retry(context.Background(), created.SagaID); err == nil {
		t.Error("Retry() must reject a saga that is not FAILED")
	}
}

func TestOrchestratorRetryRejectsExhaustedBudget(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	failed := saga.New("order", []*saga.Step{testStep("reserve")})
	failed.Status = saga.StatusFailed
	failed.Steps[0].Status = saga.StepStatusFailed
	failed.RetryCount = failed.MaxRetries
	stored := mustSave(t, st, failed)

	if _, err := orch.Retry(context.Background(), stored.SagaID); err == nil {
		t.Error("Retry() must reject a saga with no retry budget left")
	}
}

func TestOrchestratorRetryResumesFromCursor(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, fake := newTestOrchestrator(t, st)

	failed := saga.New("order", []*saga.Step{testStep("reserve"), testStep("charge")})
	failed.Status = saga.StatusFailed
	failed.Steps[0].Status = saga.StepStatusCompleted
	failed.Steps[1].Status = saga.StepStatusFailed
	failed.CurrentStepIndex = 1
	failed.SetFailure(`step "charge" failed: gateway down`, "")
	stored := mustSave(t, st, failed)

	resumed, err := orch.Retry(context.Background(), stored.SagaID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if resumed.Status != saga.StatusRunning {
		t.Errorf("status = %s, want RUNNING", resumed.Status)
	}
	if resumed.ErrorMessage != "" {
		t.Error("error detail must be cleared on retry")
	}

	final := waitForStatus(t, st, stored.SagaID, saga.StatusCompleted)
	if final.Steps[0].Status != saga.StepStatusCompleted {
		t.Error("completed step must not be re-run")
	}
	for _, call := range fake.callLog() {
		if call == "reserve" {
			t.Error("reserve was re-executed on retry")
		}
	}
}

func TestOrchestratorBulkRetry(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	failed := saga.New("order", []*saga.Step{testStep("reserve")})
	failed.Status = saga.StatusFailed
	failed.Steps[0].Status = saga.StepStatusFailed
	storedFailed := mustSave(t, st, failed)

	done := saga.New("done", []*saga.Step{testStep("reserve")})
	done.Status = saga.StatusCompleted
	now := time.Now().UTC()
	done.CompletedAt = &now
	storedDone := mustSave(t, st, done)

	scheduled := orch.BulkRetry(context.Background(), []string{storedFailed.SagaID, storedDone.SagaID, "missing"})
	if scheduled != 1 {
		t.Errorf("scheduled = %d, want only the FAILED saga", scheduled)
	}
	waitForStatus(t, st, storedFailed.SagaID, saga.StatusCompleted)
}

func TestOrchestratorCompensateFailedSaga(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, fake := newTestOrchestrator(t, st)

	failed := saga.New("order", []*saga.Step{compensableStep("reserve"), testStep("charge")})
	failed.Status = saga.StatusFailed
	failed.Steps[0].Status = saga.StepStatusCompleted
	failed.Steps[1].Status = saga.StepStatusFailed
	failed.CurrentStepIndex = 1
	stored := mustSave(t, st, failed)

	final, err := orch.Compensate(context.Background(), stored.SagaID)
	if err != nil {
		t.Fatalf("Compensate() error = %v", err)
	}
	if final.Status != saga.StatusCompensated {
		t.Errorf("status = %s, want COMPENSATED", final.Status)
	}
	calls := fake.callLog()
	if len(calls) != 1 || calls[0] != "reserve:compensation" {
		t.Errorf("calls = %v", calls)
	}
}

func TestOrchestratorListAndDelete(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	orch, _ := newTestOrchestrator(t, st)

	created := saga.New("order", []*saga.Step{testStep("reserve")})
	created.CorrelationID = "corr-1"
	stored := mustSave(t, st, created)

	listed, total, err := orch.ListByStatus(context.Background(), saga.StatusCreated, store.Page{Limit: 10})
	if err != nil || total != 1 || len(listed) != 1 {
		t.Errorf("ListByStatus = %d/%d, err %v", len(listed), total, err)
	}

	matched, err := orch.ListByCorrelation(context.Background(), "corr-1")
	if err != nil || len(matched) != 1 {
		t.Errorf("ListByCorrelation = %d, err %v", len(matched), err)
	}

	if err := orch.Delete(context.Background(), stored.SagaID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := orch.Get(context.Background(), stored.SagaID); err == nil {
		t.Error("Get() after delete should fail")
	}
}
