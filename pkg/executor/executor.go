// Package executor contains the step adapters that perform the actual work
// of saga steps, keyed by step type.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// ErrUnsupportedStepType is returned when no adapter is registered for a
// step's type. It is permanent; retrying cannot succeed.
var ErrUnsupportedStepType = errors.New("unsupported step type")

// Executor runs one step type. Execute receives the step definition and the
// saga's accumulated input and returns the step output. The context carries
// the attempt deadline.
type Executor interface {
	Type() saga.StepType
	Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error)
}

// PermanentError marks a failure that no amount of retrying will fix, such
// as a malformed step configuration.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// Registry maps step types to their adapters.
type Registry struct {
	mu        sync.RWMutex
	executors map[saga.StepType]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[saga.StepType]Executor)}
}

// Register adds an adapter, replacing any previous one for the same type.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Get returns the adapter for the step type.
func (r *Registry) Get(stepType saga.StepType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[stepType]
	if !ok {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnsupportedStepType, stepType))
	}
	return e, nil
}

// Types returns the registered step types.
func (r *Registry) Types() []saga.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]saga.StepType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}
