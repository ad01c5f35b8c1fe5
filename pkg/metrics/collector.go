package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Collector accumulates orchestration counters without locks on the hot
// path. Per-type and per-service series live in sync.Maps; everything else
// is a plain atomic. An optional Manager mirrors observations to Prometheus.
type Collector struct {
	manager *Manager

	sagasStarted     atomic.Int64
	sagasSuccessful  atomic.Int64
	sagasFailed      atomic.Int64
	sagasCompensated atomic.Int64
	sagasTimedOut    atomic.Int64

	stepsExecuted   atomic.Int64
	stepsSuccessful atomic.Int64
	stepsFailed     atomic.Int64
	stepsRetried    atomic.Int64

	byStepType sync.Map // step type -> *stepTypeStats
	byService  sync.Map // service -> *serviceStats

	rateLimitExceeded atomic.Int64
}

type stepTypeStats struct {
	executions atomic.Int64
	failures   atomic.Int64
	// avgMS holds the smoothed duration as math.Float64bits.
	avgMS atomic.Uint64
}

type serviceStats struct {
	trips  atomic.Int64
	resets atomic.Int64
}

// StepTypeSnapshot is the per-step-type slice of a Snapshot.
type StepTypeSnapshot struct {
	Executions    int64   `json:"executions"`
	Failures      int64   `json:"failures"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// ServiceSnapshot is the per-service breaker slice of a Snapshot.
type ServiceSnapshot struct {
	Trips  int64 `json:"trips"`
	Resets int64 `json:"resets"`
}

// Snapshot is a consistent-enough point-in-time copy of all counters with
// derived success percentages (0-100). Counters are read individually; a
// snapshot taken during concurrent updates may be off by in-flight
// increments.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	SagasStarted     int64   `json:"sagas_started"`
	SagasSuccessful  int64   `json:"sagas_successful"`
	SagasFailed      int64   `json:"sagas_failed"`
	SagasCompensated int64   `json:"sagas_compensated"`
	SagasTimedOut    int64   `json:"sagas_timed_out"`
	SagaSuccessRate  float64 `json:"saga_success_rate"`

	StepsExecuted   int64   `json:"steps_executed"`
	StepsSuccessful int64   `json:"steps_successful"`
	StepsFailed     int64   `json:"steps_failed"`
	StepsRetried    int64   `json:"steps_retried"`
	StepSuccessRate float64 `json:"step_success_rate"`

	ByStepType map[string]StepTypeSnapshot `json:"by_step_type"`
	ByService  map[string]ServiceSnapshot  `json:"by_service"`

	RateLimitExceeded int64 `json:"rate_limit_exceeded"`
}

// NewCollector creates a collector that mirrors to manager. A nil manager
// keeps only the in-process counters.
func NewCollector(manager *Manager) *Collector {
	return &Collector{manager: manager}
}

// SagaStarted records a saga beginning execution.
func (c *Collector) SagaStarted() {
	c.sagasStarted.Add(1)
}

// SagaFinished records a terminal saga outcome with its end-to-end duration.
func (c *Collector) SagaFinished(outcome string, duration time.Duration) {
	switch outcome {
	case "COMPLETED":
		c.sagasSuccessful.Add(1)
	case "FAILED":
		c.sagasFailed.Add(1)
	case "COMPENSATED":
		c.sagasCompensated.Add(1)
	case "TIMEOUT":
		c.sagasTimedOut.Add(1)
	}
	if c.manager != nil {
		c.manager.RecordSaga(outcome, duration)
	}
}

// StepExecuted records one step attempt of the given type.
func (c *Collector) StepExecuted(stepType string, success bool, duration time.Duration) {
	c.stepsExecuted.Add(1)
	stats := c.stepStats(stepType)
	stats.executions.Add(1)

	outcome := "success"
	if success {
		c.stepsSuccessful.Add(1)
	} else {
		c.stepsFailed.Add(1)
		stats.failures.Add(1)
		outcome = "failure"
	}

	observeAverage(&stats.avgMS, float64(duration.Milliseconds()))

	if c.manager != nil {
		c.manager.RecordStep(stepType, outcome, duration)
	}
}

// StepRetried records one retry attempt of a step.
func (c *Collector) StepRetried(stepType string) {
	c.stepsRetried.Add(1)
	if c.manager != nil {
		c.manager.RecordStepRetry(stepType)
	}
}

// BreakerTripped implements breaker.Observer.
func (c *Collector) BreakerTripped(service string) {
	c.serviceStats(service).trips.Add(1)
	if c.manager != nil {
		c.manager.RecordBreakerTrip(service)
	}
}

// BreakerReset implements breaker.Observer.
func (c *Collector) BreakerReset(service string) {
	c.serviceStats(service).resets.Add(1)
	if c.manager != nil {
		c.manager.RecordBreakerReset(service)
	}
}

// RateLimitExceeded implements ratelimit.Observer.
func (c *Collector) RateLimitExceeded(client string) {
	c.rateLimitExceeded.Add(1)
	if c.manager != nil {
		c.manager.RecordRateLimitReject(client)
	}
}

// Snapshot copies all counters and derives success rates.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Timestamp:         time.Now().UTC(),
		SagasStarted:      c.sagasStarted.Load(),
		SagasSuccessful:   c.sagasSuccessful.Load(),
		SagasFailed:       c.sagasFailed.Load(),
		SagasCompensated:  c.sagasCompensated.Load(),
		SagasTimedOut:     c.sagasTimedOut.Load(),
		StepsExecuted:     c.stepsExecuted.Load(),
		StepsSuccessful:   c.stepsSuccessful.Load(),
		StepsFailed:       c.stepsFailed.Load(),
		StepsRetried:      c.stepsRetried.Load(),
		RateLimitExceeded: c.rateLimitExceeded.Load(),
		ByStepType:        make(map[string]StepTypeSnapshot),
		ByService:         make(map[string]ServiceSnapshot),
	}

	finished := snap.SagasSuccessful + snap.SagasFailed + snap.SagasCompensated + snap.SagasTimedOut
	if finished > 0 {
		snap.SagaSuccessRate = 100 * float64(snap.SagasSuccessful) / float64(finished)
	}
	if snap.StepsExecuted > 0 {
		snap.StepSuccessRate = 100 * float64(snap.StepsSuccessful) / float64(snap.StepsExecuted)
	}

	c.byStepType.Range(func(key, value any) bool {
		stats := value.(*stepTypeStats)
		snap.ByStepType[key.(string)] = StepTypeSnapshot{
			Executions:    stats.executions.Load(),
			Failures:      stats.failures.Load(),
			AvgDurationMS: math.Float64frombits(stats.avgMS.Load()),
		}
		return true
	})
	c.byService.Range(func(key, value any) bool {
		stats := value.(*serviceStats)
		snap.ByService[key.(string)] = ServiceSnapshot{
			Trips:  stats.trips.Load(),
			Resets: stats.resets.Load(),
		}
		return true
	})
	return snap
}

func (c *Collector) stepStats(stepType string) *stepTypeStats {
	if existing, ok := c.byStepType.Load(stepType); ok {
		return existing.(*stepTypeStats)
	}
	created, _ := c.byStepType.LoadOrStore(stepType, &stepTypeStats{})
	return created.(*stepTypeStats)
}

func (c *Collector) serviceStats(service string) *serviceStats {
	if existing, ok := c.byService.Load(service); ok {
		return existing.(*serviceStats)
	}
	created, _ := c.byService.LoadOrStore(service, &serviceStats{})
	return created.(*serviceStats)
}

// observeAverage folds one observation into the smoothed average with CAS:
// avg becomes (avg + observed) / 2, seeding with the first observation.
func observeAverage(avg *atomic.Uint64, observedMS float64) {
	for {
		current := avg.Load()
		var next float64
		if current == 0 {
			next = observedMS
		} else {
			next = (math.Float64frombits(current) + observedMS) / 2
		}
		if avg.CompareAndSwap(current, math.Float64bits(next)) {
			return
		}
	}
}
