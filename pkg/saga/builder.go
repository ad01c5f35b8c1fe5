package saga

import (
	"fmt"
	"time"
)

// StepOption customizes a step added through the Builder.
type StepOption func(*Step) error

// WithConfig sets the type-specific execution configuration.
func WithConfig(cfg StepConfig) StepOption {
	return func(s *Step) error {
		s.Config = cfg
		return nil
	}
}

// WithCompensation attaches a compensating action.
func WithCompensation(cfg CompensationConfig) StepOption {
	return func(s *Step) error {
		if cfg.CompensationType == "" {
			return fmt.Errorf("compensation type cannot be empty")
		}
		comp := cfg
		s.CompensationConfig = &comp
		return nil
	}
}

// WithStepRetries sets the per-step retry budget and backoff.
func WithStepRetries(maxRetries int, delay time.Duration) StepOption {
	return func(s *Step) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries cannot be negative")
		}
		s.MaxRetries = maxRetries
		s.RetryDelayMS = delay.Milliseconds()
		return nil
	}
}

// WithStepTimeout bounds a single attempt of the step.
func WithStepTimeout(timeout time.Duration) StepOption {
	return func(s *Step) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
		s.TimeoutMS = timeout.Milliseconds()
		return nil
	}
}

// Optional marks the step non-required: a terminal failure is recorded but
// the saga advances.
func Optional() StepOption {
	return func(s *Step) error {
		s.Required = false
		return nil
	}
}

// NotCompensatable marks a completed step as having no rollback.
func NotCompensatable() StepOption {
	return func(s *Step) error {
		s.Compensatable = false
		return nil
	}
}

// Builder incrementally constructs a Saga.
type Builder struct {
	saga *Saga
	errs []error
}

// NewBuilder creates a builder for the named saga.
func NewBuilder(name string) *Builder {
	return &Builder{saga: New(name, nil)}
}

// Step appends a step of the given type.
func (b *Builder) Step(name string, stepType StepType, opts ...StepOption) *Builder {
	step := NewStep(name, stepType)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(step); err != nil {
			b.errs = append(b.errs, fmt.Errorf("step %q: %w", name, err))
		}
	}
	step.Order = len(b.saga.Steps)
	b.saga.Steps = append(b.saga.Steps, step)
	return b
}

// WithInput sets the saga input map.
func (b *Builder) WithInput(input map[string]any) *Builder {
	b.saga.InputData = copyMap(input)
	return b
}

// WithCorrelationID tags the saga with an external business key.
func (b *Builder) WithCorrelationID(id string) *Builder {
	b.saga.CorrelationID = id
	return b
}

// WithTimeout sets the saga wall-clock budget. Zero means unbounded.
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.saga.TimeoutMS = timeout.Milliseconds()
	return b
}

// WithMaxRetries sets the saga-level retry budget.
func (b *Builder) WithMaxRetries(max int) *Builder {
	b.saga.MaxRetries = max
	return b
}

// WithPriority sets scheduling priority; higher runs sooner.
func (b *Builder) WithPriority(priority int) *Builder {
	b.saga.Priority = priority
	return b
}

// WithMetadata attaches opaque metadata, not interpreted by the engine.
func (b *Builder) WithMetadata(metadata map[string]any) *Builder {
	b.saga.Metadata = copyMap(metadata)
	return b
}

// WithTags attaches opaque tags.
func (b *Builder) WithTags(tags ...string) *Builder {
	b.saga.Tags = append([]string(nil), tags...)
	return b
}

// Build validates and returns the saga.
func (b *Builder) Build() (*Saga, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.saga.Validate(); err != nil {
		return nil, err
	}
	return b.saga.Clone(), nil
}
