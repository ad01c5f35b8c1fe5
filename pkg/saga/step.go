package saga

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepType identifies the adapter used to execute a step.
type StepType string

const (
	StepTypeHTTPCall      StepType = "HTTP_CALL"
	StepTypeDatabaseOp    StepType = "DATABASE_OP"
	StepTypeBusinessLogic StepType = "BUSINESS_LOGIC"
	StepTypeMessageQueue  StepType = "MESSAGE_QUEUE"
	StepTypeFileOp        StepType = "FILE_OP"
	StepTypeWait          StepType = "WAIT"
	StepTypeConditional   StepType = "CONDITIONAL" // reserved
	StepTypeParallel      StepType = "PARALLEL"    // reserved
	StepTypeSubSaga       StepType = "SUB_SAGA"    // reserved
)

// Valid reports whether the step type is a known value.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeHTTPCall, StepTypeDatabaseOp, StepTypeBusinessLogic,
		StepTypeMessageQueue, StepTypeFileOp, StepTypeWait,
		StepTypeConditional, StepTypeParallel, StepTypeSubSaga:
		return true
	default:
		return false
	}
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepStatusCreated      StepStatus = "CREATED"
	StepStatusRunning      StepStatus = "RUNNING"
	StepStatusCompleted    StepStatus = "COMPLETED"
	StepStatusFailed       StepStatus = "FAILED"
	StepStatusCompensating StepStatus = "COMPENSATING"
	StepStatusCompensated  StepStatus = "COMPENSATED"
	StepStatusTimeout      StepStatus = "TIMEOUT"
	StepStatusRetrying     StepStatus = "RETRYING"
	StepStatusSkipped      StepStatus = "SKIPPED"
)

// StepConfig carries the type-specific execution configuration. Adapters
// validate and parse the fields they recognize; unknown fields are ignored.
type StepConfig struct {
	// HTTP_CALL
	URL                 string            `json:"url,omitempty"`
	HTTPMethod          string            `json:"http_method,omitempty"`
	Headers             map[string]string `json:"headers,omitempty"`
	RequestBodyTemplate string            `json:"request_body_template,omitempty"`
	ExpectedStatusCodes []int             `json:"expected_status_codes,omitempty"`

	// DATABASE_OP
	Query           string         `json:"query,omitempty"`
	QueryParameters map[string]any `json:"query_parameters,omitempty"`

	// MESSAGE_QUEUE
	QueueName       string `json:"queue_name,omitempty"`
	MessageTemplate string `json:"message_template,omitempty"`

	// FILE_OP
	FilePath      string `json:"file_path,omitempty"`
	FileOperation string `json:"file_operation,omitempty"`

	// BUSINESS_LOGIC
	HandlerName string         `json:"handler_name,omitempty"`
	MethodName  string         `json:"method_name,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`

	// WAIT
	DelayMS int64 `json:"delay_ms,omitempty"`

	// Reserved types.
	Condition       string   `json:"condition,omitempty"`
	ParallelStepIDs []string `json:"parallel_step_ids,omitempty"`
	SubSagaName     string   `json:"sub_saga_name,omitempty"`

	// ServiceName overrides the circuit-breaker identity derived by the
	// adapter (URL host, DSN label, queue name).
	ServiceName string `json:"service_name,omitempty"`
}

// CompensationConfig describes the compensating action for a completed step.
type CompensationConfig struct {
	StepConfig
	CompensationType StepType `json:"compensation_type"`
	Required         bool     `json:"required"`
	MaxRetries       int      `json:"max_retries"`
	RetryDelayMS     int64    `json:"retry_delay_ms"`
}

// Step is one unit of forward work in a saga.
type Step struct {
	StepID             string              `json:"step_id"`
	Name               string              `json:"name"`
	Order              int                 `json:"order"`
	Type               StepType            `json:"type"`
	Status             StepStatus          `json:"status"`
	Config             StepConfig          `json:"config"`
	CompensationConfig *CompensationConfig `json:"compensation_config,omitempty"`
	InputData          map[string]any      `json:"input_data,omitempty"`
	OutputData         map[string]any      `json:"output_data,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	ErrorTrace         string              `json:"error_trace,omitempty"`
	RetryCount         int                 `json:"retry_count"`
	MaxRetries         int                 `json:"max_retries"`
	TimeoutMS          int64               `json:"timeout_ms"`
	RetryDelayMS       int64               `json:"retry_delay_ms"`
	Required           bool                `json:"required"`
	Compensatable      bool                `json:"compensatable"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	DurationMS         int64               `json:"duration_ms,omitempty"`
}

// NewStep creates a step in CREATED with a generated id and the engine
// defaults for retry behavior.
func NewStep(name string, stepType StepType) *Step {
	return &Step{
		StepID:        uuid.NewString(),
		Name:          name,
		Type:          stepType,
		Status:        StepStatusCreated,
		MaxRetries:    3,
		RetryDelayMS:  1000,
		Required:      true,
		Compensatable: true,
	}
}

// CanRetry reports whether the step's retry budget permits another attempt.
func (s *Step) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// MarkStarted moves the step to RUNNING and stamps the attempt start.
func (s *Step) MarkStarted(now time.Time) {
	s.Status = StepStatusRunning
	start := now
	s.StartedAt = &start
}

// MarkFinished stamps completion time and attempt duration.
func (s *Step) MarkFinished(now time.Time) {
	finished := now
	s.CompletedAt = &finished
	if s.StartedAt != nil {
		s.DurationMS = finished.Sub(*s.StartedAt).Milliseconds()
	}
}

// Deadline returns the per-attempt deadline relative to start, and whether
// one applies. TimeoutMS == 0 means no per-attempt deadline.
func (s *Step) Deadline(start time.Time) (time.Time, bool) {
	if s.TimeoutMS <= 0 {
		return time.Time{}, false
	}
	return start.Add(time.Duration(s.TimeoutMS) * time.Millisecond), true
}

// HasCompensation reports whether the step participates in rollback.
func (s *Step) HasCompensation() bool {
	return s.Compensatable && s.CompensationConfig != nil
}

// Validate checks step-level structural constraints.
func (s *Step) Validate() error {
	if s.StepID == "" {
		return fmt.Errorf("step id cannot be empty")
	}
	if s.Name == "" {
		return fmt.Errorf("step name cannot be empty")
	}
	if s.Type == "" {
		return fmt.Errorf("step type cannot be empty")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("step max retries cannot be negative")
	}
	if s.TimeoutMS < 0 {
		return fmt.Errorf("step timeout cannot be negative")
	}
	if s.RetryDelayMS < 0 {
		return fmt.Errorf("step retry delay cannot be negative")
	}
	if s.CompensationConfig != nil {
		if s.CompensationConfig.CompensationType == "" {
			return fmt.Errorf("compensation type cannot be empty")
		}
		if s.CompensationConfig.MaxRetries < 0 {
			return fmt.Errorf("compensation max retries cannot be negative")
		}
	}
	return nil
}

// Clone returns a deep copy of the step.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	clone := *s
	clone.InputData = copyMap(s.InputData)
	clone.OutputData = copyMap(s.OutputData)
	clone.Config = s.Config.clone()
	if s.CompensationConfig != nil {
		comp := *s.CompensationConfig
		comp.StepConfig = s.CompensationConfig.StepConfig.clone()
		clone.CompensationConfig = &comp
	}
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

func (c StepConfig) clone() StepConfig {
	copied := c
	if c.Headers != nil {
		copied.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			copied.Headers[k] = v
		}
	}
	copied.ExpectedStatusCodes = append([]int(nil), c.ExpectedStatusCodes...)
	copied.QueryParameters = copyMap(c.QueryParameters)
	copied.Properties = copyMap(c.Properties)
	copied.ParallelStepIDs = append([]string(nil), c.ParallelStepIDs...)
	return copied
}
