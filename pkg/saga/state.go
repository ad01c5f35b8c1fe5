package saga

import (
	"fmt"
	"time"
)

var validTransitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusRunning: {},
	},
	StatusRunning: {
		StatusRetrying:     {},
		StatusCompensating: {},
		StatusCompleted:    {},
		StatusFailed:       {},
		StatusTimeout:      {},
	},
	StatusRetrying: {
		StatusRunning:      {},
		StatusCompensating: {},
		StatusFailed:       {},
		StatusTimeout:      {},
	},
	StatusCompensating: {
		StatusCompensated: {},
		StatusFailed:      {},
	},
	// FAILED permits administrative retry and late compensation.
	StatusFailed: {
		StatusRunning:      {},
		StatusCompensating: {},
	},
	// TIMEOUT is strictly terminal: the completed prefix is rolled back
	// without leaving it.
	StatusTimeout: {},
}

var validStepTransitions = map[StepStatus]map[StepStatus]struct{}{
	StepStatusCreated: {
		StepStatusRunning: {},
		StepStatusSkipped: {},
	},
	StepStatusRunning: {
		StepStatusCompleted: {},
		StepStatusFailed:    {},
		StepStatusRetrying:  {},
		StepStatusTimeout:   {},
	},
	StepStatusRetrying: {
		StepStatusRunning: {},
		StepStatusFailed:  {},
		StepStatusTimeout: {},
	},
	StepStatusTimeout: {
		StepStatusRunning: {}, // timeout is a retryable failure
		StepStatusFailed:  {},
	},
	StepStatusCompleted: {
		StepStatusCompensating: {},
		StepStatusCompensated:  {},
		StepStatusFailed:       {}, // compensation exhausted
	},
	StepStatusCompensating: {
		StepStatusCompensated: {},
		StepStatusFailed:      {},
	},
	StepStatusFailed: {
		StepStatusCreated: {}, // administrative retry resets failed steps
	},
}

// CanTransitionTo checks whether a saga state transition is valid.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// ValidateTransition validates a saga state transition.
func ValidateTransition(current, next Status) error {
	if !current.CanTransitionTo(next) {
		return fmt.Errorf("invalid saga transition: %s -> %s", current, next)
	}
	return nil
}

// ValidateStepTransition validates a step state transition.
func ValidateStepTransition(current, next StepStatus) error {
	if current == next {
		return nil
	}
	allowed, ok := validStepTransitions[current]
	if !ok {
		return fmt.Errorf("invalid step transition: %s -> %s", current, next)
	}
	if _, ok := allowed[next]; !ok {
		return fmt.Errorf("invalid step transition: %s -> %s", current, next)
	}
	return nil
}

// TransitionTo applies a saga state transition, stamping started_at on first
// entry into RUNNING and completed_at on entry into a terminal state.
func (s *Saga) TransitionTo(next Status) error {
	if s == nil {
		return fmt.Errorf("saga cannot be nil")
	}
	if err := ValidateTransition(s.Status, next); err != nil {
		return err
	}

	now := time.Now().UTC()
	if s.Status == StatusCreated && next == StatusRunning {
		start := now
		s.StartedAt = &start
	}
	if next.IsTerminal() {
		done := now
		s.CompletedAt = &done
	} else {
		s.CompletedAt = nil
	}
	s.Status = next
	s.UpdatedAt = now
	return nil
}
