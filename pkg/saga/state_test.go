package saga

import (
	"testing"
)

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"created to running", StatusCreated, StatusRunning, true},
		{"created to completed", StatusCreated, StatusCompleted, false},
		{"running to retrying", StatusRunning, StatusRetrying, true},
		{"running to compensating", StatusRunning, StatusCompensating, true},
		{"running to completed", StatusRunning, StatusCompleted, true},
		{"running to failed", StatusRunning, StatusFailed, true},
		{"running to timeout", StatusRunning, StatusTimeout, true},
		{"retrying to running", StatusRetrying, StatusRunning, true},
		{"retrying to completed", StatusRetrying, StatusCompleted, false},
		{"compensating to compensated", StatusCompensating, StatusCompensated, true},
		{"compensating to failed", StatusCompensating, StatusFailed, true},
		{"compensating to running", StatusCompensating, StatusRunning, false},
		{"failed to running", StatusFailed, StatusRunning, true},
		{"failed to compensating", StatusFailed, StatusCompensating, true},
		{"timeout to compensating", StatusTimeout, StatusCompensating, false},
		{"timeout to running", StatusTimeout, StatusRunning, false},
		{"completed is final", StatusCompleted, StatusRunning, false},
		{"compensated is final", StatusCompensated, StatusRunning, false},
		{"self transition", StatusRunning, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.allowed {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestValidateStepTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    StepStatus
		to      StepStatus
		wantErr bool
	}{
		{"created to running", StepStatusCreated, StepStatusRunning, false},
		{"created to skipped", StepStatusCreated, StepStatusSkipped, false},
		{"created to completed", StepStatusCreated, StepStatusCompleted, true},
		{"running to completed", StepStatusRunning, StepStatusCompleted, false},
		{"running to retrying", StepStatusRunning, StepStatusRetrying, false},
		{"running to timeout", StepStatusRunning, StepStatusTimeout, false},
		{"retrying to running", StepStatusRetrying, StepStatusRunning, false},
		{"timeout to running", StepStatusTimeout, StepStatusRunning, false},
		{"completed to compensating", StepStatusCompleted, StepStatusCompensating, false},
		{"completed to running", StepStatusCompleted, StepStatusRunning, true},
		{"compensating to compensated", StepStatusCompensating, StepStatusCompensated, false},
		{"failed to created", StepStatusFailed, StepStatusCreated, false},
		{"failed to running", StepStatusFailed, StepStatusRunning, true},
		{"self transition", StepStatusRunning, StepStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStepTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStepTransition(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestTransitionToStampsTimes(t *testing.T) {
	s := New("order", []*Step{NewStep("reserve", StepTypeBusinessLogic)})

	if s.StartedAt != nil {
		t.Fatal("StartedAt should be nil before first run")
	}

	if err := s.TransitionTo(StatusRunning); err != nil {
		t.Fatalf("TransitionTo(RUNNING) error = %v", err)
	}
	if s.StartedAt == nil {
		t.Error("StartedAt not stamped on entry into RUNNING")
	}
	if s.CompletedAt != nil {
		t.Error("CompletedAt should be nil while running")
	}

	if err := s.TransitionTo(StatusCompleted); err != nil {
		t.Fatalf("TransitionTo(COMPLETED) error = %v", err)
	}
	if s.CompletedAt == nil {
		t.Error("CompletedAt not stamped on terminal transition")
	}
	if err := s.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants() = %v", err)
	}
}

func TestTransitionToRejectsInvalid(t *testing.T) {
	s := New("order", nil)
	if err := s.TransitionTo(StatusCompleted); err == nil {
		t.Error("expected error on CREATED -> COMPLETED")
	}
	if s.Status != StatusCreated {
		t.Errorf("status mutated on rejected transition: %s", s.Status)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCompensated, StatusTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []Status{StatusCreated, StatusRunning, StatusRetrying, StatusPaused, StatusCompensating}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
