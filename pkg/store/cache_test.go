package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

func newCachingStore(t *testing.T) (*CachingStore, *MemoryStore) {
	t.Helper()
	inner := NewMemoryStore()
	cached, err := NewCachingStore(inner, CacheConfig{MaxEntries: 100, TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewCachingStore() error = %v", err)
	}
	return cached, inner
}

func TestCachingStoreFindServesFromCache(t *testing.T) {
	cached, inner := newCachingStore(t)
	defer cached.Close()
	ctx := context.Background()

	stored, err := cached.Save(ctx, newTestSaga("cached"))
	if err != nil {
		t.Fatal(err)
	}
	cached.Wait()

	// Remove from the backing store; a cache hit still answers.
	if err := inner.Delete(ctx, stored.SagaID); err != nil {
		t.Fatal(err)
	}
	found, err := cached.Find(ctx, stored.SagaID)
	if err != nil {
		t.Fatalf("Find() error = %v, want cache hit", err)
	}
	if found.SagaID != stored.SagaID {
		t.Errorf("found %s", found.SagaID)
	}
}

func TestCachingStoreFindFallsThrough(t *testing.T) {
	cached, inner := newCachingStore(t)
	defer cached.Close()
	ctx := context.Background()

	// Written directly to the backing store, not through the cache.
	stored, err := inner.Save(ctx, newTestSaga("direct"))
	if err != nil {
		t.Fatal(err)
	}

	found, err := cached.Find(ctx, stored.SagaID)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found.Name != "direct" {
		t.Errorf("name = %s", found.Name)
	}

	if _, err := cached.Find(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCachingStoreDeleteInvalidates(t *testing.T) {
	cached, _ := newCachingStore(t)
	defer cached.Close()
	ctx := context.Background()

	stored, err := cached.Save(ctx, newTestSaga("doomed"))
	if err != nil {
		t.Fatal(err)
	}
	cached.Wait()

	if err := cached.Delete(ctx, stored.SagaID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := cached.Find(ctx, stored.SagaID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find after delete error = %v, want ErrNotFound", err)
	}
}

func TestCachingStoreConflictInvalidates(t *testing.T) {
	cached, inner := newCachingStore(t)
	defer cached.Close()
	ctx := context.Background()

	stored, err := cached.Save(ctx, newTestSaga("racy"))
	if err != nil {
		t.Fatal(err)
	}
	cached.Wait()

	// Another writer advances the record behind the cache.
	fresh, err := inner.Find(ctx, stored.SagaID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := inner.Save(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	// Our stale write conflicts and must drop the cached copy.
	if _, err := cached.Save(ctx, stored); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale Save() error = %v, want ErrVersionConflict", err)
	}
	found, err := cached.Find(ctx, stored.SagaID)
	if err != nil {
		t.Fatal(err)
	}
	if found.Version != 2 {
		t.Errorf("version = %d, want the advanced record", found.Version)
	}
}

func TestCachingStoreBulkUpdateInvalidates(t *testing.T) {
	cached, _ := newCachingStore(t)
	defer cached.Close()
	ctx := context.Background()

	stored, err := cached.Save(ctx, newTestSaga("bulk"))
	if err != nil {
		t.Fatal(err)
	}
	cached.Wait()

	if _, err := cached.BulkUpdateStatus(ctx, []string{stored.SagaID}, saga.StatusRunning); err != nil {
		t.Fatal(err)
	}
	found, err := cached.Find(ctx, stored.SagaID)
	if err != nil {
		t.Fatal(err)
	}
	if found.Status != saga.StatusRunning {
		t.Errorf("status = %s, cached copy must have been invalidated", found.Status)
	}
}
