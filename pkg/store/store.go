// Package store provides durable persistence for sagas with optimistic
// concurrency by version.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

var (
	// ErrNotFound is returned when a saga id cannot be located.
	ErrNotFound = errors.New("saga not found")
	// ErrVersionConflict is returned when a save observes a stale version.
	ErrVersionConflict = errors.New("stale saga version")
)

// Page controls list pagination.
type Page struct {
	Limit  int
	Offset int
}

// Store persists sagas. A single Save is atomic; there is no cross-saga
// transaction. Implementations must be safe for concurrent callers.
type Store interface {
	// Save inserts (Version == 0) or updates (Version must match the stored
	// record) and returns the stored saga with its incremented version.
	Save(ctx context.Context, s *saga.Saga) (*saga.Saga, error)
	Find(ctx context.Context, sagaID string) (*saga.Saga, error)
	// FindByStatus lists sagas in a status, ordered by created_at descending.
	FindByStatus(ctx context.Context, status saga.Status, page Page) ([]*saga.Saga, int, error)
	FindByCorrelation(ctx context.Context, correlationID string) ([]*saga.Saga, error)
	// FindTimedOut returns RUNNING/RETRYING sagas whose wall-clock budget
	// expired before now.
	FindTimedOut(ctx context.Context, now time.Time) ([]*saga.Saga, error)
	// FindRetryable returns FAILED sagas with retry budget remaining.
	FindRetryable(ctx context.Context) ([]*saga.Saga, error)
	// BulkUpdateStatus is a best-effort mass update; it bypasses version
	// checks and returns the number of sagas updated.
	BulkUpdateStatus(ctx context.Context, sagaIDs []string, status saga.Status) (int, error)
	// BulkDeleteOlderThan removes terminal sagas completed before cutoff.
	BulkDeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Delete(ctx context.Context, sagaID string) error
	Close() error
}

// MemoryStore is an in-memory Store implementation used for tests and
// single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*saga.Saga
}

// NewMemoryStore creates an in-memory saga store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sagas: make(map[string]*saga.Saga)}
}

// Save inserts or updates with a version compare-and-set.
func (s *MemoryStore) Save(_ context.Context, in *saga.Saga) (*saga.Saga, error) {
	if in == nil {
		return nil, errors.New("saga cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sagas[in.SagaID]
	if in.Version == 0 {
		if ok {
			return nil, ErrVersionConflict
		}
	} else {
		if !ok {
			return nil, ErrNotFound
		}
		if existing.Version != in.Version {
			return nil, ErrVersionConflict
		}
	}

	stored := in.Clone()
	stored.Version = in.Version + 1
	stored.UpdatedAt = time.Now().UTC()
	s.sagas[stored.SagaID] = stored
	return stored.Clone(), nil
}

// Find returns a saga by id.
func (s *MemoryStore) Find(_ context.Context, sagaID string) (*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.sagas[sagaID]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

// FindByStatus lists sagas by status, created_at descending.
func (s *MemoryStore) FindByStatus(_ context.Context, status saga.Status, page Page) ([]*saga.Saga, int, error) {
	s.mu.RLock()
	matched := make([]*saga.Saga, 0)
	for _, stored := range s.sagas {
		if status == "" || stored.Status == status {
			matched = append(matched, stored.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	offset, end := pageBounds(page, total)
	return matched[offset:end], total, nil
}

// FindByCorrelation lists sagas sharing a correlation id.
func (s *MemoryStore) FindByCorrelation(_ context.Context, correlationID string) ([]*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*saga.Saga, 0)
	for _, stored := range s.sagas {
		if stored.CorrelationID == correlationID {
			matched = append(matched, stored.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

// FindTimedOut returns active sagas past their wall-clock budget.
func (s *MemoryStore) FindTimedOut(_ context.Context, now time.Time) ([]*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*saga.Saga, 0)
	for _, stored := range s.sagas {
		if stored.Status != saga.StatusRunning && stored.Status != saga.StatusRetrying {
			continue
		}
		if stored.TimedOut(now) {
			matched = append(matched, stored.Clone())
		}
	}
	return matched, nil
}

// FindRetryable returns FAILED sagas below their retry budget.
func (s *MemoryStore) FindRetryable(_ context.Context) ([]*saga.Saga, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*saga.Saga, 0)
	for _, stored := range s.sagas {
		if stored.Status == saga.StatusFailed && stored.RetryCount < stored.MaxRetries {
			matched = append(matched, stored.Clone())
		}
	}
	return matched, nil
}

// BulkUpdateStatus force-updates status on the given ids.
func (s *MemoryStore) BulkUpdateStatus(_ context.Context, sagaIDs []string, status saga.Status) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	now := time.Now().UTC()
	for _, id := range sagaIDs {
		stored, ok := s.sagas[id]
		if !ok {
			continue
		}
		stored.Status = status
		stored.Version++
		stored.UpdatedAt = now
		updated++
	}
	return updated, nil
}

// BulkDeleteOlderThan removes terminal sagas completed before cutoff.
func (s *MemoryStore) BulkDeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, stored := range s.sagas {
		if !stored.Status.IsTerminal() || stored.CompletedAt == nil {
			continue
		}
		if stored.CompletedAt.Before(cutoff) {
			delete(s.sagas, id)
			deleted++
		}
	}
	return deleted, nil
}

// Delete removes one saga.
func (s *MemoryStore) Delete(_ context.Context, sagaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sagas[sagaID]; !ok {
		return ErrNotFound
	}
	delete(s.sagas, sagaID)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

func pageBounds(page Page, total int) (int, int) {
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if page.Limit > 0 && offset+page.Limit < end {
		end = offset + page.Limit
	}
	return offset, end
}
