package executor

import (
	"errors"
	"testing"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

func TestRegistryUnsupportedType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(saga.StepTypeHTTPCall)
	if !errors.Is(err, ErrUnsupportedStepType) {
		t.Fatalf("Get() error = %v, want ErrUnsupportedStepType", err)
	}
	if !IsPermanent(err) {
		t.Error("unsupported type must be permanent")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(NewWaitExecutor())
	r.Register(NewBusinessExecutor())

	e, err := r.Get(saga.StepTypeWait)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if e.Type() != saga.StepTypeWait {
		t.Errorf("type = %s", e.Type())
	}
	if got := len(r.Types()); got != 2 {
		t.Errorf("Types() = %d, want 2", got)
	}
}

func TestPermanentWrapping(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must stay nil")
	}

	base := errors.New("bad config")
	wrapped := Permanent(base)
	if !IsPermanent(wrapped) {
		t.Error("wrapped error not detected as permanent")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error must unwrap to the cause")
	}
	if IsPermanent(base) {
		t.Error("plain error must not be permanent")
	}
}

func TestRenderTemplate(t *testing.T) {
	data := map[string]any{
		"order_id": "o-1",
		"amount":   42.5,
		"nested":   map[string]any{"a": 1},
		"empty":    nil,
	}
	tests := []struct {
		template string
		want     string
	}{
		{"plain text", "plain text"},
		{"id=${order_id}", "id=o-1"},
		{"amount=${amount}", "amount=42.5"},
		{"nested=${nested}", `nested={"a":1}`},
		{"missing=${nope}", "missing="},
		{"nil=${empty}", "nil="},
	}
	for _, tt := range tests {
		if got := renderTemplate(tt.template, data); got != tt.want {
			t.Errorf("renderTemplate(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestStatusAccepted(t *testing.T) {
	tests := []struct {
		status   int
		expected []int
		want     bool
	}{
		{200, nil, true},
		{299, nil, true},
		{404, nil, false},
		{404, []int{404}, true},
		{200, []int{201}, false},
	}
	for _, tt := range tests {
		if got := statusAccepted(tt.status, tt.expected); got != tt.want {
			t.Errorf("statusAccepted(%d, %v) = %v, want %v", tt.status, tt.expected, got, tt.want)
		}
	}
}
