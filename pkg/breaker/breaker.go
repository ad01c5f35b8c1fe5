// Package breaker provides a per-service circuit breaker guarding calls to
// external dependencies.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker state for one service.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string form of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds breaker thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

// Status is a point-in-time view of one service breaker.
type Status struct {
	Service       string    `json:"service"`
	State         string    `json:"state"`
	FailureCount  int32     `json:"failure_count"`
	SuccessCount  int32     `json:"success_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
}

// Observer is notified of breaker trips and resets; the metrics collector
// implements it.
type Observer interface {
	BreakerTripped(service string)
	BreakerReset(service string)
}

type serviceBreaker struct {
	state         atomic.Int32
	failureCount  atomic.Int32
	successCount  atomic.Int32
	lastFailureAt atomic.Int64 // unix nanos
}

// Manager holds one breaker per external service identity.
type Manager struct {
	cfg      Config
	observer Observer
	breakers sync.Map // service -> *serviceBreaker
	now      func() time.Time
}

// NewManager creates a breaker manager.
func NewManager(cfg Config, observer Observer) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Manager{cfg: cfg, observer: observer, now: time.Now}
}

// Allow reports whether a call to the service may proceed. An open breaker
// past its cooldown transitions to half-open and admits the call.
func (m *Manager) Allow(service string) error {
	b := m.get(service)
	state := State(b.state.Load())
	if state != StateOpen {
		return nil
	}

	lastFailure := time.Unix(0, b.lastFailureAt.Load())
	if m.now().Sub(lastFailure) < m.cfg.Cooldown {
		return ErrOpen
	}
	if b.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
		b.successCount.Store(0)
		return nil
	}
	// Lost the race; re-read whichever state won.
	if State(b.state.Load()) == StateOpen {
		return ErrOpen
	}
	return nil
}

// RecordSuccess records a successful call to the service.
func (m *Manager) RecordSuccess(service string) {
	b := m.get(service)
	switch State(b.state.Load()) {
	case StateClosed:
		b.failureCount.Store(0)
	case StateHalfOpen:
		if b.successCount.Add(1) >= int32(m.cfg.SuccessThreshold) {
			if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
				b.failureCount.Store(0)
				b.successCount.Store(0)
				if m.observer != nil {
					m.observer.BreakerReset(service)
				}
			}
		}
	}
}

// RecordFailure records a failed call to the service.
func (m *Manager) RecordFailure(service string) {
	b := m.get(service)
	b.lastFailureAt.Store(m.now().UnixNano())
	switch State(b.state.Load()) {
	case StateClosed:
		if b.failureCount.Add(1) >= int32(m.cfg.FailureThreshold) {
			if b.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) && m.observer != nil {
				m.observer.BreakerTripped(service)
			}
		}
	case StateHalfOpen:
		if b.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) && m.observer != nil {
			m.observer.BreakerTripped(service)
		}
	}
}

// Do runs fn under breaker protection for the service.
func (m *Manager) Do(service string, fn func() error) error {
	if err := m.Allow(service); err != nil {
		return err
	}
	if err := fn(); err != nil {
		m.RecordFailure(service)
		return err
	}
	m.RecordSuccess(service)
	return nil
}

// Reset administratively forces the service breaker to CLOSED.
func (m *Manager) Reset(service string) {
	b := m.get(service)
	b.state.Store(int32(StateClosed))
	b.failureCount.Store(0)
	b.successCount.Store(0)
	if m.observer != nil {
		m.observer.BreakerReset(service)
	}
}

// Status returns the current state of the service breaker.
func (m *Manager) Status(service string) Status {
	b := m.get(service)
	status := Status{
		Service:      service,
		State:        State(b.state.Load()).String(),
		FailureCount: b.failureCount.Load(),
		SuccessCount: b.successCount.Load(),
	}
	if nanos := b.lastFailureAt.Load(); nanos > 0 {
		status.LastFailureAt = time.Unix(0, nanos).UTC()
	}
	return status
}

// Statuses returns the state of every known service breaker.
func (m *Manager) Statuses() []Status {
	statuses := make([]Status, 0)
	m.breakers.Range(func(key, _ any) bool {
		statuses = append(statuses, m.Status(key.(string)))
		return true
	})
	return statuses
}

func (m *Manager) get(service string) *serviceBreaker {
	if existing, ok := m.breakers.Load(service); ok {
		return existing.(*serviceBreaker)
	}
	created, _ := m.breakers.LoadOrStore(service, &serviceBreaker{})
	return created.(*serviceBreaker)
}
