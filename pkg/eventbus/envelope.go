// Package eventbus carries saga lifecycle events between the engine and
// in-process consumers such as the websocket broadcaster.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the initial lifecycle event schema.
	SchemaVersionV1 = "v1"
)

// Lifecycle event types emitted by the engine.
const (
	EventSagaCreated     = "SAGA_CREATED"
	EventSagaStarted     = "SAGA_STARTED"
	EventSagaCompleted   = "SAGA_COMPLETED"
	EventSagaFailed      = "SAGA_FAILED"
	EventSagaCompensated = "SAGA_COMPENSATED"
	EventSagaTimedOut    = "SAGA_TIMED_OUT"
	EventSagaRetried     = "SAGA_RETRIED"
	EventStepStarted     = "STEP_STARTED"
	EventStepCompleted   = "STEP_COMPLETED"
	EventStepFailed      = "STEP_FAILED"
	EventStepRetrying    = "STEP_RETRYING"
	EventStepCompensated = "STEP_COMPENSATED"
	EventMetricsSnapshot = "METRICS_SNAPSHOT"
)

// Envelope is the canonical saga lifecycle event envelope.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	SagaID        string          `json:"saga_id,omitempty"`
	SagaName      string          `json:"saga_name,omitempty"`
	StepID        string          `json:"step_id,omitempty"`
	StepName      string          `json:"step_name,omitempty"`
	Status        string          `json:"status,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// BuildEnvelopeInput is used to construct a new envelope.
type BuildEnvelopeInput struct {
	EventType     string
	SchemaVersion string
	SagaID        string
	SagaName      string
	StepID        string
	StepName      string
	Status        string
	Payload       any
}

// BuildEnvelope creates a canonical envelope with generated event identity.
func BuildEnvelope(input BuildEnvelopeInput) (Envelope, error) {
	if input.EventType == "" {
		return Envelope{}, fmt.Errorf("eventbus: event type is required")
	}
	if input.SchemaVersion == "" {
		input.SchemaVersion = SchemaVersionV1
	}

	var payload json.RawMessage
	if input.Payload != nil {
		encoded, err := json.Marshal(input.Payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("eventbus: marshal payload: %w", err)
		}
		payload = encoded
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     input.EventType,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: input.SchemaVersion,
		SagaID:        input.SagaID,
		SagaName:      input.SagaName,
		StepID:        input.StepID,
		StepName:      input.StepName,
		Status:        input.Status,
		Payload:       payload,
	}, nil
}

// Marshal encodes the envelope for transport.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope from transport bytes.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("eventbus: decode envelope: %w", err)
	}
	return e, nil
}
