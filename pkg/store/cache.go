package store

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

// CacheConfig sizes the read-through saga cache.
type CacheConfig struct {
	MaxEntries int64
	TTL        time.Duration
}

// CachingStore wraps a Store with a ristretto read-through cache for Find.
// Writes invalidate; list queries always hit the backing store.
type CachingStore struct {
	inner Store
	cache *ristretto.Cache[string, *saga.Saga]
	ttl   time.Duration
}

// NewCachingStore creates a caching wrapper around inner.
func NewCachingStore(inner Store, cfg CacheConfig) (*CachingStore, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, *saga.Saga]{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachingStore{inner: inner, cache: cache, ttl: cfg.TTL}, nil
}

// Save writes through and refreshes the cached entry.
func (s *CachingStore) Save(ctx context.Context, in *saga.Saga) (*saga.Saga, error) {
	stored, err := s.inner.Save(ctx, in)
	if err != nil {
		// A conflicting writer advanced the record; our cached copy is stale.
		if in != nil {
			s.cache.Del(in.SagaID)
		}
		return nil, err
	}
	s.cache.SetWithTTL(stored.SagaID, stored.Clone(), 1, s.ttl)
	return stored, nil
}

// Find serves from cache when possible.
func (s *CachingStore) Find(ctx context.Context, sagaID string) (*saga.Saga, error) {
	if cached, ok := s.cache.Get(sagaID); ok && cached != nil {
		return cached.Clone(), nil
	}
	loaded, err := s.inner.Find(ctx, sagaID)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(sagaID, loaded.Clone(), 1, s.ttl)
	return loaded, nil
}

// FindByStatus always queries the backing store.
func (s *CachingStore) FindByStatus(ctx context.Context, status saga.Status, page Page) ([]*saga.Saga, int, error) {
	return s.inner.FindByStatus(ctx, status, page)
}

// FindByCorrelation always queries the backing store.
func (s *CachingStore) FindByCorrelation(ctx context.Context, correlationID string) ([]*saga.Saga, error) {
	return s.inner.FindByCorrelation(ctx, correlationID)
}

// FindTimedOut always queries the backing store.
func (s *CachingStore) FindTimedOut(ctx context.Context, now time.Time) ([]*saga.Saga, error) {
	return s.inner.FindTimedOut(ctx, now)
}

// FindRetryable always queries the backing store.
func (s *CachingStore) FindRetryable(ctx context.Context) ([]*saga.Saga, error) {
	return s.inner.FindRetryable(ctx)
}

// BulkUpdateStatus invalidates the affected entries.
func (s *CachingStore) BulkUpdateStatus(ctx context.Context, sagaIDs []string, status saga.Status) (int, error) {
	for _, id := range sagaIDs {
		s.cache.Del(id)
	}
	return s.inner.BulkUpdateStatus(ctx, sagaIDs, status)
}

// BulkDeleteOlderThan clears the cache; victims are not enumerated here.
func (s *CachingStore) BulkDeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted, err := s.inner.BulkDeleteOlderThan(ctx, cutoff)
	if deleted > 0 {
		s.cache.Clear()
	}
	return deleted, err
}

// Delete removes the saga and its cached entry.
func (s *CachingStore) Delete(ctx context.Context, sagaID string) error {
	s.cache.Del(sagaID)
	return s.inner.Delete(ctx, sagaID)
}

// Wait blocks until buffered cache admissions are applied.
func (s *CachingStore) Wait() {
	s.cache.Wait()
}

// Close releases the cache and the backing store.
func (s *CachingStore) Close() error {
	s.cache.Close()
	return s.inner.Close()
}
