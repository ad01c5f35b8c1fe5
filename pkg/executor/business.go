package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// Handler is an in-process business function invocable from a
// BUSINESS_LOGIC step.
type Handler func(ctx context.Context, input map[string]any, properties map[string]any) (map[string]any, error)

// BusinessExecutor dispatches BUSINESS_LOGIC steps to named handlers
// registered at startup.
type BusinessExecutor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewBusinessExecutor creates the business-logic adapter.
func NewBusinessExecutor() *BusinessExecutor {
	return &BusinessExecutor{handlers: make(map[string]Handler)}
}

// RegisterHandler binds a handler name to a function.
func (e *BusinessExecutor) RegisterHandler(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Type implements Executor.
func (e *BusinessExecutor) Type() saga.StepType { return saga.StepTypeBusinessLogic }

// Execute looks up the configured handler and invokes it.
func (e *BusinessExecutor) Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	name := step.Config.HandlerName
	if name == "" {
		return nil, Permanent(fmt.Errorf("business step %q: handler name cannot be empty", step.Name))
	}

	e.mu.RLock()
	handler, ok := e.handlers[name]
	e.mu.RUnlock()
	if !ok {
		return nil, Permanent(fmt.Errorf("business step %q: unknown handler %q", step.Name, name))
	}
	return handler(ctx, input, step.Config.Properties)
}
