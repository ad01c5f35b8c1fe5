package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu     sync.Mutex
	trips  []string
	resets []string
}

func (o *recordingObserver) BreakerTripped(service string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trips = append(o.trips, service)
}

func (o *recordingObserver) BreakerReset(service string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets = append(o.resets, service)
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	observer := &recordingObserver{}
	m := NewManager(Config{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: 30 * time.Second}, observer)

	for i := 0; i < 2; i++ {
		m.RecordFailure("payments")
		if err := m.Allow("payments"); err != nil {
			t.Fatalf("rejected before threshold at failure %d: %v", i+1, err)
		}
	}

	m.RecordFailure("payments")
	if err := m.Allow("payments"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() after threshold = %v, want ErrOpen", err)
	}
	if got := m.Status("payments").State; got != "OPEN" {
		t.Errorf("state = %s, want OPEN", got)
	}
	if len(observer.trips) != 1 {
		t.Errorf("trips = %d, want 1", len(observer.trips))
	}
}

func TestBreakerSuccessResetsClosedCount(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute}, nil)

	m.RecordFailure("payments")
	m.RecordFailure("payments")
	m.RecordSuccess("payments")
	m.RecordFailure("payments")
	m.RecordFailure("payments")

	// Two consecutive failures after the reset; still below threshold.
	if err := m.Allow("payments"); err != nil {
		t.Fatalf("Allow() = %v, success must reset the failure run", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	observer := &recordingObserver{}
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 30 * time.Second}, observer)

	base := time.Now()
	m.now = func() time.Time { return base }

	m.RecordFailure("inventory")
	if err := m.Allow("inventory"); !errors.Is(err, ErrOpen) {
		t.Fatal("breaker should be open")
	}

	// Cooldown elapses; the next call probes half-open.
	m.now = func() time.Time { return base.Add(31 * time.Second) }
	if err := m.Allow("inventory"); err != nil {
		t.Fatalf("Allow() after cooldown = %v, want probe admitted", err)
	}
	if got := m.Status("inventory").State; got != "HALF_OPEN" {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}

	m.RecordSuccess("inventory")
	if got := m.Status("inventory").State; got != "HALF_OPEN" {
		t.Fatalf("state = %s, one success below threshold must stay HALF_OPEN", got)
	}
	m.RecordSuccess("inventory")
	if got := m.Status("inventory").State; got != "CLOSED" {
		t.Fatalf("state = %s, want CLOSED after success threshold", got)
	}
	if len(observer.resets) != 1 {
		t.Errorf("resets = %d, want 1", len(observer.resets))
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 3, Cooldown: 10 * time.Second}, nil)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.RecordFailure("shipping")

	m.now = func() time.Time { return base.Add(11 * time.Second) }
	if err := m.Allow("shipping"); err != nil {
		t.Fatal("probe should be admitted")
	}
	m.RecordFailure("shipping")
	if err := m.Allow("shipping"); !errors.Is(err, ErrOpen) {
		t.Fatalf("Allow() = %v, half-open failure must reopen", err)
	}
}

func TestBreakerReset(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour}, nil)

	m.RecordFailure("payments")
	if err := m.Allow("payments"); !errors.Is(err, ErrOpen) {
		t.Fatal("breaker should be open")
	}

	m.Reset("payments")
	if err := m.Allow("payments"); err != nil {
		t.Fatalf("Allow() after reset = %v", err)
	}
	status := m.Status("payments")
	if status.State != "CLOSED" || status.FailureCount != 0 {
		t.Errorf("status after reset = %+v", status)
	}
}

func TestBreakerDo(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour}, nil)

	callErr := errors.New("backend down")
	if err := m.Do("payments", func() error { return callErr }); !errors.Is(err, callErr) {
		t.Fatalf("Do() = %v, want call error", err)
	}
	if err := m.Do("payments", func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() on open breaker = %v, want ErrOpen", err)
	}
}

func TestBreakerIsolatesServices(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour}, nil)

	m.RecordFailure("payments")
	if err := m.Allow("inventory"); err != nil {
		t.Error("breakers must be independent per service")
	}
	if got := len(m.Statuses()); got != 2 {
		t.Errorf("Statuses() = %d entries, want 2", got)
	}
}
