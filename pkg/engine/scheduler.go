package engine

import (
	"context"
	"time"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/logger"
	"github.com/sagaforge/sagaforge/pkg/metrics"
	"github.com/sagaforge/sagaforge/pkg/saga"
	"github.com/sagaforge/sagaforge/pkg/store"
)

// SchedulerConfig holds the background sweep intervals.
type SchedulerConfig struct {
	TimeoutInterval  time.Duration
	RetryInterval    time.Duration
	RetryEnabled     bool
	RetentionPeriod  time.Duration
	CleanupInterval  time.Duration
	SnapshotInterval time.Duration
}

// DefaultSchedulerConfig returns the default sweep intervals. The automatic
// retry sweep ships disabled; retry is normally an explicit operation.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		TimeoutInterval:  10 * time.Second,
		RetryInterval:    60 * time.Second,
		RetryEnabled:     false,
		RetentionPeriod:  24 * time.Hour,
		CleanupInterval:  time.Hour,
		SnapshotInterval: 5 * time.Second,
	}
}

// Scheduler runs the periodic maintenance sweeps: timeout detection,
// optional automatic retry of failed sagas, terminal-record retention, and
// metrics snapshot publication.
type Scheduler struct {
	cfg          SchedulerConfig
	store        store.Store
	orchestrator *Orchestrator
	engine       *Engine
	collector    *metrics.Collector
	bus          *eventbus.MemoryBus
	log          logger.Logger
	now          func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig, st store.Store, orch *Orchestrator, eng *Engine, collector *metrics.Collector, bus *eventbus.MemoryBus, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Global()
	}
	return &Scheduler{
		cfg:          cfg,
		store:        st,
		orchestrator: orch,
		engine:       eng,
		collector:    collector,
		bus:          bus,
		log:          log,
		now:          time.Now,
	}
}

// Start runs the sweeps until ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx, s.cfg.TimeoutInterval, s.sweepTimeouts)
	if s.cfg.RetryEnabled {
		go s.loop(ctx, s.cfg.RetryInterval, s.sweepRetryable)
	}
	go s.loop(ctx, s.cfg.CleanupInterval, s.sweepRetention)
	go s.loop(ctx, s.cfg.SnapshotInterval, s.publishSnapshot)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// sweepTimeouts finds active sagas past their deadline and times them out.
func (s *Scheduler) sweepTimeouts(ctx context.Context) {
	expired, err := s.store.FindTimedOut(ctx, s.now())
	if err != nil {
		s.log.Error("timeout sweep failed", "error", err)
		return
	}
	for _, victim := range expired {
		id := victim.SagaID
		if err := s.engine.Timeout(ctx, id); err != nil {
			s.log.Error("timing out saga failed", "saga_id", id, "error", err)
		}
	}
}

// sweepRetryable re-runs FAILED sagas with retry budget left, consuming one
// unit of the saga-level budget per sweep.
func (s *Scheduler) sweepRetryable(ctx context.Context) {
	retryable, err := s.store.FindRetryable(ctx)
	if err != nil {
		s.log.Error("retry sweep failed", "error", err)
		return
	}
	for _, candidate := range retryable {
		candidate.RetryCount++
		if err := candidate.TransitionTo(saga.StatusRunning); err != nil {
			s.log.Warn("retry sweep skipped saga", "saga_id", candidate.SagaID, "error", err)
			continue
		}
		if _, err := s.store.Save(ctx, candidate); err != nil {
			s.log.Warn("retry sweep skipped saga", "saga_id", candidate.SagaID, "error", err)
			continue
		}
		s.orchestrator.ExecuteAsync(candidate.SagaID)
	}
}

// sweepRetention deletes terminal sagas older than the retention period.
func (s *Scheduler) sweepRetention(ctx context.Context) {
	if s.cfg.RetentionPeriod <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.RetentionPeriod)
	deleted, err := s.store.BulkDeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("retention sweep removed sagas", "count", deleted, "cutoff", cutoff)
	}
}

// publishSnapshot pushes the current metrics snapshot onto the event bus
// for dashboard consumers.
func (s *Scheduler) publishSnapshot(ctx context.Context) {
	if s.bus == nil || s.collector == nil {
		return
	}
	envelope, err := eventbus.BuildEnvelope(eventbus.BuildEnvelopeInput{
		EventType: eventbus.EventMetricsSnapshot,
		Payload:   s.collector.Snapshot(),
	})
	if err != nil {
		s.log.Warn("building metrics snapshot event", "error", err)
		return
	}
	payload, err := envelope.Marshal()
	if err != nil {
		s.log.Warn("encoding metrics snapshot event", "error", err)
		return
	}
	if err := s.bus.Publish(ctx, eventbus.MetricsSubject(), payload); err != nil {
		s.log.Warn("publishing metrics snapshot", "error", err)
	}
}
