// Package ratelimit provides per-client fixed-window rate limiting across
// three concurrent windows: a short burst window, a minute window, and an
// hour window.
package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLimited is returned when a request exceeds any window limit.
var ErrLimited = errors.New("rate limit exceeded")

// Config holds per-client limits and the burst window length.
type Config struct {
	BurstLimit  int
	MinuteLimit int
	HourLimit   int
	BurstWindow time.Duration
}

// DefaultConfig returns the default per-client limits.
func DefaultConfig() Config {
	return Config{
		BurstLimit:  50,
		MinuteLimit: 100,
		HourLimit:   1000,
		BurstWindow: 10 * time.Second,
	}
}

// Status is a point-in-time view of one client's windows.
type Status struct {
	Client      string `json:"client"`
	BurstCount  int64  `json:"burst_count"`
	BurstLimit  int    `json:"burst_limit"`
	MinuteCount int64  `json:"minute_count"`
	MinuteLimit int    `json:"minute_limit"`
	HourCount   int64  `json:"hour_count"`
	HourLimit   int    `json:"hour_limit"`
}

// Observer is notified when a client is limited; the metrics collector
// implements it.
type Observer interface {
	RateLimitExceeded(client string)
}

// window is a fixed window keyed by its start epoch. The start is swapped
// with CAS when the window rolls so concurrent callers reset it once.
type window struct {
	start atomic.Int64 // unix nanos of window start
	count atomic.Int64
}

// hit increments the window counter, resetting it first when the window
// rolled over. Returns the post-increment count.
func (w *window) hit(now time.Time, length time.Duration) int64 {
	nanos := now.UnixNano()
	start := w.start.Load()
	if nanos-start >= int64(length) {
		if w.start.CompareAndSwap(start, nanos) {
			w.count.Store(0)
		}
	}
	return w.count.Add(1)
}

type clientWindows struct {
	burst  window
	minute window
	hour   window
}

// Limiter tracks request budgets per client identity.
type Limiter struct {
	cfg      Config
	observer Observer
	clients  sync.Map // client -> *clientWindows
	now      func() time.Time
}

// NewLimiter creates a rate limiter.
func NewLimiter(cfg Config, observer Observer) *Limiter {
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 50
	}
	if cfg.MinuteLimit <= 0 {
		cfg.MinuteLimit = 100
	}
	if cfg.HourLimit <= 0 {
		cfg.HourLimit = 1000
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 10 * time.Second
	}
	return &Limiter{cfg: cfg, observer: observer, now: time.Now}
}

// Allow consumes one request from all three windows of the client. When any
// window is over its limit the increments are rolled back and ErrLimited is
// returned.
func (l *Limiter) Allow(client string) error {
	w := l.get(client)
	now := l.now()

	burst := w.burst.hit(now, l.cfg.BurstWindow)
	minute := w.minute.hit(now, time.Minute)
	hour := w.hour.hit(now, time.Hour)

	if burst > int64(l.cfg.BurstLimit) || minute > int64(l.cfg.MinuteLimit) || hour > int64(l.cfg.HourLimit) {
		w.burst.count.Add(-1)
		w.minute.count.Add(-1)
		w.hour.count.Add(-1)
		if l.observer != nil {
			l.observer.RateLimitExceeded(client)
		}
		return ErrLimited
	}
	return nil
}

// Reset administratively clears all windows of the client.
func (l *Limiter) Reset(client string) {
	if existing, ok := l.clients.Load(client); ok {
		w := existing.(*clientWindows)
		w.burst.count.Store(0)
		w.minute.count.Store(0)
		w.hour.count.Store(0)
	}
}

// Status returns the current window counts for the client.
func (l *Limiter) Status(client string) Status {
	w := l.get(client)
	return Status{
		Client:      client,
		BurstCount:  w.burst.count.Load(),
		BurstLimit:  l.cfg.BurstLimit,
		MinuteCount: w.minute.count.Load(),
		MinuteLimit: l.cfg.MinuteLimit,
		HourCount:   w.hour.count.Load(),
		HourLimit:   l.cfg.HourLimit,
	}
}

// Statuses returns the state of every known client.
func (l *Limiter) Statuses() []Status {
	statuses := make([]Status, 0)
	l.clients.Range(func(key, _ any) bool {
		statuses = append(statuses, l.Status(key.(string)))
		return true
	})
	return statuses
}

func (l *Limiter) get(client string) *clientWindows {
	if existing, ok := l.clients.Load(client); ok {
		return existing.(*clientWindows)
	}
	created := &clientWindows{}
	nanos := l.now().UnixNano()
	created.burst.start.Store(nanos)
	created.minute.start.Store(nanos)
	created.hour.start.Store(nanos)
	actual, _ := l.clients.LoadOrStore(client, created)
	return actual.(*clientWindows)
}
