package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// WaitExecutor performs WAIT steps: a plain delay that respects the attempt
// deadline.
type WaitExecutor struct{}

// NewWaitExecutor creates the wait adapter.
func NewWaitExecutor() *WaitExecutor { return &WaitExecutor{} }

// Type implements Executor.
func (e *WaitExecutor) Type() saga.StepType { return saga.StepTypeWait }

// Execute sleeps for the configured delay or until the context ends.
func (e *WaitExecutor) Execute(ctx context.Context, step *saga.Step, _ map[string]any) (map[string]any, error) {
	if step.Config.DelayMS < 0 {
		return nil, Permanent(fmt.Errorf("wait step %q: delay cannot be negative", step.Name))
	}
	delay := time.Duration(step.Config.DelayMS) * time.Millisecond

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"waited_ms": step.Config.DelayMS}, nil
}
