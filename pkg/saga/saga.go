// Package saga defines the saga aggregate, its steps, and the state
// machines that govern both.
package saga

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a saga.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusRunning      Status = "RUNNING"
	StatusRetrying     Status = "RETRYING"
	StatusPaused       Status = "PAUSED" // reserved, never entered
	StatusCompensating Status = "COMPENSATING"
	StatusCompleted    Status = "COMPLETED"
	StatusFailed       Status = "FAILED"
	StatusCompensated  Status = "COMPENSATED"
	StatusTimeout      Status = "TIMEOUT"
)

// IsTerminal reports whether the status is terminal. Terminal sagas are
// immutable except for administrative retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated, StatusTimeout:
		return true
	default:
		return false
	}
}

// Valid reports whether the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusRetrying, StatusPaused,
		StatusCompensating, StatusCompleted, StatusFailed,
		StatusCompensated, StatusTimeout:
		return true
	default:
		return false
	}
}

// Saga is the aggregate root: an ordered sequence of steps made atomic by
// compensations.
type Saga struct {
	SagaID           string         `json:"saga_id"`
	Name             string         `json:"name"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	Status           Status         `json:"status"`
	Steps            []*Step        `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	InputData        map[string]any `json:"input_data,omitempty"`
	OutputData       map[string]any `json:"output_data,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	TimeoutMS        int64          `json:"timeout_ms"`
	Priority         int            `json:"priority"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Version          int64          `json:"version"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	ErrorTrace       string         `json:"error_trace,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
}

// New creates a saga in CREATED with a generated id.
func New(name string, steps []*Step) *Saga {
	now := time.Now().UTC()
	s := &Saga{
		SagaID:     uuid.NewString(),
		Name:       name,
		Status:     StatusCreated,
		Steps:      steps,
		InputData:  make(map[string]any),
		OutputData: make(map[string]any),
		MaxRetries: 3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, step := range s.Steps {
		step.Order = i
	}
	return s
}

// CurrentStep returns the step at the cursor, or nil when all steps are done.
func (s *Saga) CurrentStep() *Step {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Steps) {
		return nil
	}
	return s.Steps[s.CurrentStepIndex]
}

// HasMoreSteps reports whether the cursor points at a pending step.
func (s *Saga) HasMoreSteps() bool {
	return s.CurrentStepIndex < len(s.Steps)
}

// MoveToNextStep advances the cursor by one.
func (s *Saga) MoveToNextStep() {
	s.CurrentStepIndex++
	s.UpdatedAt = time.Now().UTC()
}

// MergeOutput folds a completed step's output into the saga's output map.
// Later steps overwrite earlier ones on key collision; that is a documented
// contract, not an accident.
func (s *Saga) MergeOutput(output map[string]any) {
	if len(output) == 0 {
		return
	}
	if s.OutputData == nil {
		s.OutputData = make(map[string]any, len(output))
	}
	for k, v := range output {
		s.OutputData[k] = v
	}
}

// Deadline returns the wall-clock instant at which the saga times out, and
// whether a saga-level timeout applies at all.
func (s *Saga) Deadline() (time.Time, bool) {
	if s.TimeoutMS <= 0 || s.StartedAt == nil {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(s.TimeoutMS) * time.Millisecond), true
}

// TimedOut reports whether the saga's wall-clock budget is exhausted at now.
func (s *Saga) TimedOut(now time.Time) bool {
	deadline, ok := s.Deadline()
	return ok && now.After(deadline)
}

// CanRetry reports whether the saga-level retry budget permits another retry.
func (s *Saga) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// SetFailure records the failure detail on the saga.
func (s *Saga) SetFailure(message, trace string) {
	s.ErrorMessage = message
	s.ErrorTrace = trace
	s.UpdatedAt = time.Now().UTC()
}

// ResetForRetry prepares a FAILED saga for administrative retry: the retry
// budget is restored, error detail cleared, and execution resumes from the
// current step index, not from the start.
func (s *Saga) ResetForRetry() {
	s.RetryCount = 0
	s.ErrorMessage = ""
	s.ErrorTrace = ""
	s.CompletedAt = nil
	for _, step := range s.Steps {
		if step.Status == StepStatusFailed || step.Status == StepStatusTimeout {
			step.Status = StepStatusCreated
			step.RetryCount = 0
			step.ErrorMessage = ""
			step.ErrorTrace = ""
			step.CompletedAt = nil
		}
	}
	s.UpdatedAt = time.Now().UTC()
}

// Validate checks the structural invariants that must hold before the saga
// is accepted for execution.
func (s *Saga) Validate() error {
	if s == nil {
		return fmt.Errorf("saga cannot be nil")
	}
	if s.Name == "" {
		return fmt.Errorf("saga name cannot be empty")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("saga max retries cannot be negative")
	}
	if s.TimeoutMS < 0 {
		return fmt.Errorf("saga timeout cannot be negative")
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for i, step := range s.Steps {
		if step == nil {
			return fmt.Errorf("step %d is nil", i)
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		if step.Order != i {
			return fmt.Errorf("step %q order %d does not match position %d", step.StepID, step.Order, i)
		}
		if _, dup := seen[step.StepID]; dup {
			return fmt.Errorf("duplicate step id: %s", step.StepID)
		}
		seen[step.StepID] = struct{}{}
	}
	return nil
}

// CheckInvariants verifies the persisted-state invariants. It is used by
// tests and by the store in debug builds; execution code keeps them true by
// construction.
func (s *Saga) CheckInvariants() error {
	for i, step := range s.Steps {
		if step.Order != i {
			return fmt.Errorf("invariant: steps[%d].order == %d", i, step.Order)
		}
	}
	switch s.Status {
	case StatusRunning, StatusRetrying, StatusCompensating:
		if s.CurrentStepIndex < 0 || s.CurrentStepIndex > len(s.Steps) {
			return fmt.Errorf("invariant: current_step_index %d out of range", s.CurrentStepIndex)
		}
	}
	if s.Status == StatusRunning || s.Status == StatusRetrying {
		for i := 0; i < s.CurrentStepIndex && i < len(s.Steps); i++ {
			st := s.Steps[i].Status
			if st != StepStatusCompleted && st != StepStatusSkipped && st != StepStatusFailed {
				return fmt.Errorf("invariant: steps[%d] before cursor has status %s", i, st)
			}
		}
	}
	if s.Status == StatusCompleted {
		for _, step := range s.Steps {
			if step.Required && step.Status != StepStatusCompleted {
				return fmt.Errorf("invariant: required step %s not completed in COMPLETED saga", step.StepID)
			}
		}
	}
	if s.RetryCount > s.MaxRetries {
		return fmt.Errorf("invariant: saga retry_count %d > max_retries %d", s.RetryCount, s.MaxRetries)
	}
	for _, step := range s.Steps {
		if step.RetryCount > step.MaxRetries {
			return fmt.Errorf("invariant: step %s retry_count %d > max_retries %d", step.StepID, step.RetryCount, step.MaxRetries)
		}
	}
	if s.Status.IsTerminal() != (s.CompletedAt != nil) {
		return fmt.Errorf("invariant: completed_at set iff terminal (status=%s)", s.Status)
	}
	return nil
}

// Clone returns a deep copy of the saga.
func (s *Saga) Clone() *Saga {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Steps = make([]*Step, len(s.Steps))
	for i, step := range s.Steps {
		clone.Steps[i] = step.Clone()
	}
	clone.InputData = copyMap(s.InputData)
	clone.OutputData = copyMap(s.OutputData)
	clone.Metadata = copyMap(s.Metadata)
	clone.Tags = append([]string(nil), s.Tags...)
	if s.StartedAt != nil {
		started := *s.StartedAt
		clone.StartedAt = &started
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

func copyMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	copied := make(map[string]any, len(source))
	for k, v := range source {
		copied[k] = v
	}
	return copied
}
