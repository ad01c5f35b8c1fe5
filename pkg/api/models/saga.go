// Package models defines the HTTP API request and response payloads.
package models

import (
	"time"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// CreateSagaRequest describes a saga definition submission payload.
type CreateSagaRequest struct {
	Name          string              `json:"name" validate:"required,min=1,max=100"`
	CorrelationID string              `json:"correlation_id,omitempty" validate:"omitempty,max=200"`
	TimeoutMS     int64               `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	MaxRetries    *int                `json:"max_retries,omitempty" validate:"omitempty,min=0"`
	Priority      int                 `json:"priority,omitempty"`
	Input         map[string]any      `json:"input,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	Tags          []string            `json:"tags,omitempty"`
	Steps         []CreateStepRequest `json:"steps" validate:"required,min=1,dive"`
	// Execute starts the saga immediately after creation.
	Execute bool `json:"execute,omitempty"`
}

// CreateStepRequest defines one step in a submitted saga definition.
type CreateStepRequest struct {
	Name         string                   `json:"name" validate:"required,min=1,max=100"`
	Type         string                   `json:"type" validate:"required"`
	Config       saga.StepConfig          `json:"config"`
	Compensation *saga.CompensationConfig `json:"compensation,omitempty"`
	MaxRetries   *int                     `json:"max_retries,omitempty" validate:"omitempty,min=0"`
	RetryDelayMS *int64                   `json:"retry_delay_ms,omitempty" validate:"omitempty,min=0"`
	TimeoutMS    int64                    `json:"timeout_ms,omitempty" validate:"omitempty,min=1"`
	Required     *bool                    `json:"required,omitempty"`
	Input        map[string]any           `json:"input,omitempty"`
}

// StepView is the API representation of one step.
type StepView struct {
	StepID       string         `json:"step_id"`
	Name         string         `json:"name"`
	Order        int            `json:"order"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	Required     bool           `json:"required"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	DurationMS   int64          `json:"duration_ms,omitempty"`
}

// SagaView is the API representation of one saga.
type SagaView struct {
	SagaID           string         `json:"saga_id"`
	Name             string         `json:"name"`
	CorrelationID    string         `json:"correlation_id,omitempty"`
	Status           string         `json:"status"`
	Steps            []StepView     `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	Input            map[string]any `json:"input,omitempty"`
	Output           map[string]any `json:"output,omitempty"`
	RetryCount       int            `json:"retry_count"`
	MaxRetries       int            `json:"max_retries"`
	TimeoutMS        int64          `json:"timeout_ms,omitempty"`
	Priority         int            `json:"priority,omitempty"`
	Version          int64          `json:"version"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
}

// SagaSummary is one row in a list response.
type SagaSummary struct {
	SagaID        string     `json:"saga_id"`
	Name          string     `json:"name"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Status        string     `json:"status"`
	Steps         int        `json:"steps"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// SagaListResponse is a paginated list of saga summaries.
type SagaListResponse struct {
	Items  []SagaSummary `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// BulkRetryRequest names sagas to retry in one call.
type BulkRetryRequest struct {
	SagaIDs []string `json:"saga_ids" validate:"required,min=1"`
}

// BulkRetryResponse reports how many retries were scheduled.
type BulkRetryResponse struct {
	Requested int `json:"requested"`
	Scheduled int `json:"scheduled"`
}

// ToView converts a domain saga into its API representation.
func ToView(s *saga.Saga) SagaView {
	view := SagaView{
		SagaID:           s.SagaID,
		Name:             s.Name,
		CorrelationID:    s.CorrelationID,
		Status:           string(s.Status),
		Steps:            make([]StepView, len(s.Steps)),
		CurrentStepIndex: s.CurrentStepIndex,
		Input:            s.InputData,
		Output:           s.OutputData,
		RetryCount:       s.RetryCount,
		MaxRetries:       s.MaxRetries,
		TimeoutMS:        s.TimeoutMS,
		Priority:         s.Priority,
		Version:          s.Version,
		ErrorMessage:     s.ErrorMessage,
		Metadata:         s.Metadata,
		Tags:             s.Tags,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
	}
	for i, step := range s.Steps {
		view.Steps[i] = StepView{
			StepID:       step.StepID,
			Name:         step.Name,
			Order:        step.Order,
			Type:         string(step.Type),
			Status:       string(step.Status),
			RetryCount:   step.RetryCount,
			MaxRetries:   step.MaxRetries,
			Required:     step.Required,
			Output:       step.OutputData,
			ErrorMessage: step.ErrorMessage,
			StartedAt:    step.StartedAt,
			CompletedAt:  step.CompletedAt,
			DurationMS:   step.DurationMS,
		}
	}
	return view
}

// ToSummary converts a domain saga into a list row.
func ToSummary(s *saga.Saga) SagaSummary {
	return SagaSummary{
		SagaID:        s.SagaID,
		Name:          s.Name,
		CorrelationID: s.CorrelationID,
		Status:        string(s.Status),
		Steps:         len(s.Steps),
		CreatedAt:     s.CreatedAt,
		CompletedAt:   s.CompletedAt,
	}
}
