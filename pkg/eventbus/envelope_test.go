package eventbus

import (
	"encoding/json"
	"testing"
)

func TestBuildEnvelope(t *testing.T) {
	envelope, err := BuildEnvelope(BuildEnvelopeInput{
		EventType: EventStepCompleted,
		SagaID:    "s-1",
		SagaName:  "order",
		StepID:    "st-1",
		StepName:  "reserve",
		Status:    "COMPLETED",
		Payload:   map[string]any{"reservation_id": "r-1"},
	})
	if err != nil {
		t.Fatalf("BuildEnvelope() error = %v", err)
	}
	if envelope.EventID == "" || envelope.Timestamp.IsZero() {
		t.Error("event identity not generated")
	}
	if envelope.SchemaVersion != SchemaVersionV1 {
		t.Errorf("schema version = %s", envelope.SchemaVersion)
	}

	var payload map[string]any
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["reservation_id"] != "r-1" {
		t.Errorf("payload = %v", payload)
	}
}

func TestBuildEnvelopeRequiresType(t *testing.T) {
	if _, err := BuildEnvelope(BuildEnvelopeInput{}); err == nil {
		t.Error("expected error for missing event type")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	original, err := BuildEnvelope(BuildEnvelopeInput{
		EventType: EventSagaFailed,
		SagaID:    "s-1",
		Status:    "FAILED",
	})
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := original.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Unmarshal(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.EventID != original.EventID || decoded.EventType != EventSagaFailed || decoded.SagaID != "s-1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected decode error")
	}
}

func TestSubjects(t *testing.T) {
	if got := SagaSubject("s-1", EventSagaStarted); got != "sagaforge.v1.lifecycle.saga.s-1.SAGA_STARTED" {
		t.Errorf("SagaSubject = %s", got)
	}
	if got := StepSubject("", EventStepFailed); got != "sagaforge.v1.lifecycle.step.unknown.STEP_FAILED" {
		t.Errorf("StepSubject = %s", got)
	}
	if got := MetricsSubject(); got != "sagaforge.v1.lifecycle.metrics.snapshot" {
		t.Errorf("MetricsSubject = %s", got)
	}
	if !subjectMatches(AllSubjects(), SagaSubject("s-1", EventSagaStarted)) {
		t.Error("AllSubjects must match saga events")
	}
}
