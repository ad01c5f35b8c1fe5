// Package engine drives saga execution: forward step advancement, retries,
// timeouts, and compensation on failure.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/executor"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/metrics"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

// Config holds engine tuning knobs.
type Config struct {
	// ConflictRetries bounds how often a version conflict triggers a
	// reload-and-reapply pass before giving up.
	ConflictRetries int
	// StepWorkers / StepQueue size the step execution pool.
	StepWorkers int
	StepQueue   int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ConflictRetries: 3,
		StepWorkers:     100,
		StepQueue:       2000,
	}
}

// Engine executes sagas against a store using the registered step adapters.
// One saga is advanced by at most one goroutine at a time; the version CAS
// in the store catches violations.
type Engine struct {
	cfg       Config
	store     store.Store
	registry  *executor.Registry
	collector *metrics.Collector
	bus       *eventbus.MemoryBus
	log       logger.Logger
	stepPool  *Pool
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates an engine.
func New(cfg Config, st store.Store, registry *executor.Registry, collector *metrics.Collector, bus *eventbus.MemoryBus, log logger.Logger) *Engine {
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if log == nil {
		log = logger.Global()
	}
	if collector == nil {
		collector = metrics.NewCollector(nil)
	}
	return &Engine{
		cfg:       cfg,
		store:     st,
		registry:  registry,
		collector: collector,
		bus:       bus,
		log:       log,
		stepPool:  NewPool("step-exec", cfg.StepWorkers, cfg.StepQueue),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Shutdown stops the step pool.
func (e *Engine) Shutdown() {
	e.stepPool.Shutdown()
}

// Run advances the saga until it reaches a terminal status or the context
// ends. Running a terminal saga is a no-op. A version conflict reloads the
// latest state and reapplies, up to the configured bound.
func (e *Engine) Run(ctx context.Context, sagaID string) error {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.ConflictRetries; attempt++ {
		err := e.run(ctx, sagaID)
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		lastErr = err
		e.log.WarnContext(ctx, "saga version conflict, reloading", "saga_id", sagaID, "attempt", attempt+1)
	}
	return lastErr
}

func (e *Engine) run(ctx context.Context, sagaID string) error {
	current, err := e.store.Find(ctx, sagaID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return nil
	}

	switch current.Status {
	case saga.StatusCreated:
		if err := current.TransitionTo(saga.StatusRunning); err != nil {
			return err
		}
		if current, err = e.store.Save(ctx, current); err != nil {
			return err
		}
		e.collector.SagaStarted()
		e.emitSaga(ctx, current, eventbus.EventSagaStarted)

	case saga.StatusRetrying:
		if err := current.TransitionTo(saga.StatusRunning); err != nil {
			return err
		}
		if current, err = e.store.Save(ctx, current); err != nil {
			return err
		}

	case saga.StatusCompensating:
		// A prior rollback was interrupted; resume it.
		_, err := e.compensate(ctx, current)
		return err
	}

	return e.advance(ctx, current)
}

// advance is the forward loop: execute the step under the cursor, merge its
// output, and move on until the steps run out or a failure diverts into
// retry or compensation.
func (e *Engine) advance(ctx context.Context, current *saga.Saga) error {
	for current.HasMoreSteps() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if current.TimedOut(e.now()) {
			return e.timeOut(ctx, current)
		}

		step := current.CurrentStep()
		switch step.Status {
		case saga.StepStatusCompleted, saga.StepStatusSkipped:
			current.MoveToNextStep()
			continue
		}

		step.MarkStarted(e.now())
		var err error
		if current, err = e.store.Save(ctx, current); err != nil {
			return err
		}
		step = current.CurrentStep()
		e.emitStep(ctx, current, step, eventbus.EventStepStarted)

		output, execErr := e.executeAttempt(ctx, current, step)
		step.MarkFinished(e.now())
		e.collector.StepExecuted(string(step.Type), execErr == nil, time.Duration(step.DurationMS)*time.Millisecond)

		if execErr == nil {
			step.Status = saga.StepStatusCompleted
			step.OutputData = output
			current.MergeOutput(output)
			current.RetryCount = 0
			current.MoveToNextStep()
			if current, err = e.store.Save(ctx, current); err != nil {
				return err
			}
			e.emitStep(ctx, current, step, eventbus.EventStepCompleted)
			continue
		}

		var done bool
		current, done, err = e.handleStepFailure(ctx, current, step, execErr)
		if err != nil || done {
			return err
		}
	}

	return e.complete(ctx, current)
}

// handleStepFailure routes a failed attempt into retry, skip, or
// compensation. done reports that the saga reached a terminal status.
func (e *Engine) handleStepFailure(ctx context.Context, current *saga.Saga, step *saga.Step, execErr error) (*saga.Saga, bool, error) {
	step.ErrorMessage = execErr.Error()
	step.ErrorTrace = fmt.Sprintf("%+v", execErr)

	timedOut := errors.Is(execErr, context.DeadlineExceeded)
	retryable := !executor.IsPermanent(execErr)

	if retryable && step.CanRetry() && current.CanRetry() {
		step.RetryCount++
		current.RetryCount++
		if timedOut {
			step.Status = saga.StepStatusTimeout
		} else {
			step.Status = saga.StepStatusRetrying
		}
		if err := current.TransitionTo(saga.StatusRetrying); err != nil {
			return current, false, err
		}
		var err error
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, false, err
		}
		step = current.CurrentStep()
		e.collector.StepRetried(string(step.Type))
		e.emitStep(ctx, current, step, eventbus.EventStepRetrying)
		e.log.WarnContext(ctx, "step failed, retrying",
			"saga_id", current.SagaID, "step", step.Name,
			"attempt", step.RetryCount, "error", execErr)

		if err := e.sleep(ctx, time.Duration(step.RetryDelayMS)*time.Millisecond); err != nil {
			return current, false, err
		}
		if err := current.TransitionTo(saga.StatusRunning); err != nil {
			return current, false, err
		}
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, false, err
		}
		return current, false, nil
	}

	// Retry budget exhausted or the failure is permanent.
	if timedOut {
		step.Status = saga.StepStatusTimeout
	} else {
		step.Status = saga.StepStatusFailed
	}

	if !step.Required {
		e.log.WarnContext(ctx, "optional step failed, continuing",
			"saga_id", current.SagaID, "step", step.Name, "error", execErr)
		step.Status = saga.StepStatusFailed
		current.MoveToNextStep()
		var err error
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, false, err
		}
		e.emitStep(ctx, current, step, eventbus.EventStepFailed)
		return current, false, nil
	}

	current.SetFailure(fmt.Sprintf("step %q failed: %s", step.Name, execErr.Error()), step.ErrorTrace)
	var err error
	if current, err = e.store.Save(ctx, current); err != nil {
		return current, false, err
	}
	e.emitStep(ctx, current, step, eventbus.EventStepFailed)
	current, err = e.compensate(ctx, current)
	return current, true, err
}

// executeAttempt runs one attempt of the step with its deadline applied.
func (e *Engine) executeAttempt(ctx context.Context, current *saga.Saga, step *saga.Step) (map[string]any, error) {
	exec, err := e.registry.Get(step.Type)
	if err != nil {
		return nil, err
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	deadline, hasDeadline := step.Deadline(e.now())
	if sagaDeadline, ok := current.Deadline(); ok && (!hasDeadline || sagaDeadline.Before(deadline)) {
		deadline, hasDeadline = sagaDeadline, true
	}
	if hasDeadline {
		attemptCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	input := mergeMaps(current.InputData, current.OutputData, step.InputData)

	var output map[string]any
	runErr := e.stepPool.Run(attemptCtx, func() {
		output, err = exec.Execute(attemptCtx, step, input)
	})
	if runErr != nil {
		return nil, runErr
	}
	return output, err
}

// timeOut marks the saga TIMEOUT and rolls back its completed prefix. The
// saga keeps TIMEOUT as its terminal status; only step statuses change
// during the rollback.
func (e *Engine) timeOut(ctx context.Context, current *saga.Saga) error {
	e.log.WarnContext(ctx, "saga timed out", "saga_id", current.SagaID, "timeout_ms", current.TimeoutMS)
	current.SetFailure(fmt.Sprintf("saga timed out after %dms", current.TimeoutMS), "")
	if err := current.TransitionTo(saga.StatusTimeout); err != nil {
		return err
	}
	var err error
	if current, err = e.store.Save(ctx, current); err != nil {
		return err
	}
	e.finish(current, "TIMEOUT")
	e.emitSaga(ctx, current, eventbus.EventSagaTimedOut)

	return e.rollbackTimedOut(ctx, current)
}

// Timeout is the scheduler entry point for sagas found past their deadline.
func (e *Engine) Timeout(ctx context.Context, sagaID string) error {
	current, err := e.store.Find(ctx, sagaID)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() || !current.TimedOut(e.now()) {
		return nil
	}
	return e.timeOut(ctx, current)
}

func (e *Engine) complete(ctx context.Context, current *saga.Saga) error {
	if err := current.TransitionTo(saga.StatusCompleted); err != nil {
		return err
	}
	var err error
	if current, err = e.store.Save(ctx, current); err != nil {
		return err
	}
	e.finish(current, "COMPLETED")
	e.emitSaga(ctx, current, eventbus.EventSagaCompleted)
	e.log.InfoContext(ctx, "saga completed", "saga_id", current.SagaID, "name", current.Name)
	return nil
}

// finish records the terminal outcome with the end-to-end duration.
func (e *Engine) finish(current *saga.Saga, outcome string) {
	var duration time.Duration
	if current.StartedAt != nil && current.CompletedAt != nil {
		duration = current.CompletedAt.Sub(*current.StartedAt)
	}
	e.collector.SagaFinished(outcome, duration)
}

func (e *Engine) emitSaga(ctx context.Context, s *saga.Saga, eventType string) {
	e.publish(ctx, eventbus.SagaSubject(s.SagaID, eventType), eventbus.BuildEnvelopeInput{
		EventType: eventType,
		SagaID:    s.SagaID,
		SagaName:  s.Name,
		Status:    string(s.Status),
	})
}

func (e *Engine) emitStep(ctx context.Context, s *saga.Saga, step *saga.Step, eventType string) {
	e.publish(ctx, eventbus.StepSubject(s.SagaID, eventType), eventbus.BuildEnvelopeInput{
		EventType: eventType,
		SagaID:    s.SagaID,
		SagaName:  s.Name,
		StepID:    step.StepID,
		StepName:  step.Name,
		Status:    string(step.Status),
	})
}

func (e *Engine) publish(ctx context.Context, subject string, input eventbus.BuildEnvelopeInput) {
	if e.bus == nil {
		return
	}
	envelope, err := eventbus.BuildEnvelope(input)
	if err != nil {
		e.log.Warn("building lifecycle event", "error", err)
		return
	}
	payload, err := envelope.Marshal()
	if err != nil {
		e.log.Warn("encoding lifecycle event", "error", err)
		return
	}
	if err := e.bus.Publish(ctx, subject, payload); err != nil {
		e.log.Warn("publishing lifecycle event", "subject", subject, "error", err)
	}
}

func mergeMaps(maps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
