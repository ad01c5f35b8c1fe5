package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/saga"
)

// compensate rolls back the completed prefix of a non-timed-out saga. The
// saga transitions through COMPENSATING and ends in COMPENSATED, or FAILED
// when a required compensation exhausts its retries.
func (e *Engine) compensate(ctx context.Context, current *saga.Saga) (*saga.Saga, error) {
	if current.Status != saga.StatusCompensating {
		if err := current.TransitionTo(saga.StatusCompensating); err != nil {
			return current, err
		}
		var err error
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, err
		}
	}
	e.log.InfoContext(ctx, "compensating saga", "saga_id", current.SagaID, "name", current.Name)

	current, failedStep, compErr, err := e.rollbackSteps(ctx, current)
	if err != nil {
		return current, err
	}
	if compErr != nil {
		current.SetFailure(fmt.Sprintf("compensation failed: %s", failedStep), compErr.Error())
		if err := current.TransitionTo(saga.StatusFailed); err != nil {
			return current, err
		}
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, err
		}
		e.finish(current, "FAILED")
		e.emitSaga(ctx, current, eventbus.EventSagaFailed)
		e.log.ErrorContext(ctx, "required compensation failed, saga failed",
			"saga_id", current.SagaID, "step", failedStep, "error", compErr)
		return current, nil
	}

	if err := current.TransitionTo(saga.StatusCompensated); err != nil {
		return current, err
	}
	if current, err = e.store.Save(ctx, current); err != nil {
		return current, err
	}
	e.finish(current, "COMPENSATED")
	e.emitSaga(ctx, current, eventbus.EventSagaCompensated)
	return current, nil
}

// rollbackTimedOut compensates the completed prefix of a timed-out saga
// without leaving TIMEOUT. A required compensation failure is recorded on
// the step; the saga status and completed_at stamp are untouched.
func (e *Engine) rollbackTimedOut(ctx context.Context, current *saga.Saga) error {
	current, failedStep, compErr, err := e.rollbackSteps(ctx, current)
	if err != nil {
		return err
	}
	if compErr != nil {
		e.log.ErrorContext(ctx, "required compensation failed after timeout",
			"saga_id", current.SagaID, "step", failedStep, "error", compErr)
	}
	return nil
}

// rollbackSteps walks the steps in reverse and compensates each COMPLETED
// one that is compensatable and carries a compensation config. A required
// compensation that exhausts its retries marks the step FAILED and stops the
// walk, returning the step name and cause; optional ones are logged and
// skipped. err carries store failures only.
func (e *Engine) rollbackSteps(ctx context.Context, current *saga.Saga) (*saga.Saga, string, error, error) {
	var err error
	for i := len(current.Steps) - 1; i >= 0; i-- {
		step := current.Steps[i]
		if step.Status != saga.StepStatusCompleted || !step.HasCompensation() {
			continue
		}

		step.Status = saga.StepStatusCompensating
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, "", nil, err
		}
		step = current.Steps[i]

		if stepErr := e.compensateStep(ctx, current, step); stepErr != nil {
			step.Status = saga.StepStatusFailed
			step.ErrorMessage = stepErr.Error()
			if current, err = e.store.Save(ctx, current); err != nil {
				return current, "", nil, err
			}
			if step.CompensationConfig.Required {
				return current, step.Name, stepErr, nil
			}
			e.log.WarnContext(ctx, "optional compensation failed, continuing",
				"saga_id", current.SagaID, "step", step.Name, "error", stepErr)
			continue
		}

		step.Status = saga.StepStatusCompensated
		if current, err = e.store.Save(ctx, current); err != nil {
			return current, "", nil, err
		}
		e.emitStep(ctx, current, step, eventbus.EventStepCompensated)
	}
	return current, "", nil, nil
}

// compensateStep runs the compensating action through the same adapter
// registry as forward steps, with the compensation's own retry budget.
func (e *Engine) compensateStep(ctx context.Context, current *saga.Saga, step *saga.Step) error {
	comp := step.CompensationConfig
	synthetic := &saga.Step{
		StepID:       step.StepID,
		Name:         step.Name + ":compensation",
		Type:         comp.CompensationType,
		Status:       saga.StepStatusRunning,
		Config:       comp.StepConfig,
		TimeoutMS:    step.TimeoutMS,
		MaxRetries:   comp.MaxRetries,
		RetryDelayMS: comp.RetryDelayMS,
	}
	input := mergeMaps(current.InputData, current.OutputData, step.OutputData)

	exec, err := e.registry.Get(comp.CompensationType)
	if err != nil {
		return err
	}

	attempts := comp.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, time.Duration(comp.RetryDelayMS)*time.Millisecond); err != nil {
				return err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if deadline, ok := synthetic.Deadline(e.now()); ok {
			attemptCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		_, lastErr = exec.Execute(attemptCtx, synthetic, input)
		if cancel != nil {
			cancel()
		}
		if lastErr == nil {
			return nil
		}
		e.log.WarnContext(ctx, "compensation attempt failed",
			"saga_id", current.SagaID, "step", step.Name,
			"attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

// Compensate is the administrative entry point: it rolls back a FAILED saga
// on demand. Terminal compensation states are left alone, and a timed-out
// saga is rolled back without leaving TIMEOUT.
func (e *Engine) Compensate(ctx context.Context, sagaID string) error {
	current, err := e.store.Find(ctx, sagaID)
	if err != nil {
		return err
	}
	switch current.Status {
	case saga.StatusCompleted, saga.StatusCompensated:
		return nil
	case saga.StatusTimeout:
		return e.rollbackTimedOut(ctx, current)
	case saga.StatusFailed, saga.StatusRunning, saga.StatusRetrying, saga.StatusCompensating:
		_, err := e.compensate(ctx, current)
		return err
	default:
		return fmt.Errorf("saga %s cannot be compensated from status %s", sagaID, current.Status)
	}
}
