package engine

import (
	"context"
	"fmt"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

// OrchestratorConfig sizes the saga and compensation pools.
type OrchestratorConfig struct {
	SagaWorkers         int
	SagaQueue           int
	CompensationWorkers int
	CompensationQueue   int
}

// DefaultOrchestratorConfig returns the default pool sizes.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		SagaWorkers:         50,
		SagaQueue:           2000,
		CompensationWorkers: 10,
		CompensationQueue:   200,
	}
}

// Orchestrator is the public facade over the engine and the store. API
// handlers and the scheduler go through it.
type Orchestrator struct {
	engine   *Engine
	store    store.Store
	log      logger.Logger
	sagaPool *Pool
	compPool *Pool
}

// NewOrchestrator creates the facade.
func NewOrchestrator(cfg OrchestratorConfig, eng *Engine, st store.Store, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.Global()
	}
	return &Orchestrator{
		engine:   eng,
		store:    st,
		log:      log,
		sagaPool: NewPool("saga-exec", cfg.SagaWorkers, cfg.SagaQueue),
		compPool: NewPool("compensation", cfg.CompensationWorkers, cfg.CompensationQueue),
	}
}

// Shutdown drains the pools and stops the engine.
func (o *Orchestrator) Shutdown() {
	o.sagaPool.Shutdown()
	o.compPool.Shutdown()
	o.engine.Shutdown()
}

// Create validates and persists a new saga in CREATED.
func (o *Orchestrator) Create(ctx context.Context, s *saga.Saga) (*saga.Saga, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	stored, err := o.store.Save(ctx, s)
	if err != nil {
		return nil, err
	}
	o.engine.emitSaga(ctx, stored, eventbus.EventSagaCreated)
	o.log.InfoContext(ctx, "saga created",
		"saga_id", stored.SagaID, "name", stored.Name, "steps", len(stored.Steps))
	return stored, nil
}

// Execute runs the saga to a terminal status, blocking until it finishes or
// ctx ends.
func (o *Orchestrator) Execute(ctx context.Context, sagaID string) (*saga.Saga, error) {
	var runErr error
	if err := o.sagaPool.Run(ctx, func() {
		runErr = o.engine.Run(context.WithoutCancel(ctx), sagaID)
	}); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, runErr
	}
	return o.store.Find(ctx, sagaID)
}

// ExecuteAsync schedules the saga for execution and returns immediately.
func (o *Orchestrator) ExecuteAsync(sagaID string) {
	o.sagaPool.Do(func() {
		if err := o.engine.Run(context.Background(), sagaID); err != nil {
			o.log.Error("async saga execution failed", "saga_id", sagaID, "error", err)
		}
	})
}

// Retry resets a FAILED saga and resumes it from its current step. The
// saga-level retry budget is restored; completed steps are not re-run.
func (o *Orchestrator) Retry(ctx context.Context, sagaID string) (*saga.Saga, error) {
	current, err := o.store.Find(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	if current.Status != saga.StatusFailed {
		return nil, fmt.Errorf("saga %s cannot be retried from status %s", sagaID, current.Status)
	}
	if !current.CanRetry() {
		return nil, fmt.Errorf("saga %s retry budget exhausted (%d/%d)", sagaID, current.RetryCount, current.MaxRetries)
	}

	current.ResetForRetry()
	if err := current.TransitionTo(saga.StatusRunning); err != nil {
		return nil, err
	}
	if current, err = o.store.Save(ctx, current); err != nil {
		return nil, err
	}
	o.engine.emitSaga(ctx, current, eventbus.EventSagaRetried)
	o.ExecuteAsync(sagaID)
	return current, nil
}

// Compensate rolls back the saga on demand.
func (o *Orchestrator) Compensate(ctx context.Context, sagaID string) (*saga.Saga, error) {
	var compErr error
	if err := o.compPool.Run(ctx, func() {
		compErr = o.engine.Compensate(context.WithoutCancel(ctx), sagaID)
	}); err != nil {
		return nil, err
	}
	if compErr != nil {
		return nil, compErr
	}
	return o.store.Find(ctx, sagaID)
}

// Get returns one saga by id.
func (o *Orchestrator) Get(ctx context.Context, sagaID string) (*saga.Saga, error) {
	return o.store.Find(ctx, sagaID)
}

// ListByStatus lists sagas in a status, newest first.
func (o *Orchestrator) ListByStatus(ctx context.Context, status saga.Status, page store.Page) ([]*saga.Saga, int, error) {
	return o.store.FindByStatus(ctx, status, page)
}

// ListByCorrelation lists sagas sharing a correlation id.
func (o *Orchestrator) ListByCorrelation(ctx context.Context, correlationID string) ([]*saga.Saga, error) {
	return o.store.FindByCorrelation(ctx, correlationID)
}

// BulkRetry retries every saga in the list that is currently FAILED,
// returning the number scheduled.
func (o *Orchestrator) BulkRetry(ctx context.Context, sagaIDs []string) int {
	scheduled := 0
	for _, id := range sagaIDs {
		if _, err := o.Retry(ctx, id); err != nil {
			o.log.Warn("bulk retry skipped saga", "saga_id", id, "error", err)
			continue
		}
		scheduled++
	}
	return scheduled
}

// Delete removes one saga record.
func (o *Orchestrator) Delete(ctx context.Context, sagaID string) error {
	return o.store.Delete(ctx, sagaID)
}
