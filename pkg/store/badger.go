package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

const (
	sagaKeyPrefix     = "saga:data:"
	statusIndexPrefix = "saga:index:status:"
	corrIndexPrefix   = "saga:index:corr:"
)

// BadgerStore persists sagas in Badger. One document per saga plus
// secondary index keys for status and correlation lookups. The version
// compare-and-set runs inside a single Badger transaction, which serializes
// conflicting writers; an out-of-process writer race surfaces as
// ErrVersionConflict.
type BadgerStore struct {
	db *badger.DB
	// Badger transactions conflict-abort rather than block; the write mutex
	// turns same-process races into clean version checks.
	writeMu sync.Mutex
}

// NewBadgerStore creates a Badger-backed saga store.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db cannot be nil")
	}
	return &BadgerStore{db: db}, nil
}

// OpenBadgerStore opens the database at dir and wraps it in a store.
func OpenBadgerStore(dir string, syncWrites bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(syncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// Save inserts or updates with a version compare-and-set and keeps the
// status and correlation indexes consistent with the document.
func (s *BadgerStore) Save(ctx context.Context, in *saga.Saga) (*saga.Saga, error) {
	if in == nil {
		return nil, errors.New("saga cannot be nil")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored := in.Clone()
	key := []byte(sagaDataKey(in.SagaID))

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		var previous *saga.Saga
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing saga.Saga
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &existing) }); err != nil {
				return err
			}
			previous = &existing
		case errors.Is(err, badger.ErrKeyNotFound):
			previous = nil
		default:
			return err
		}

		if in.Version == 0 {
			if previous != nil {
				return ErrVersionConflict
			}
		} else {
			if previous == nil {
				return ErrNotFound
			}
			if previous.Version != in.Version {
				return ErrVersionConflict
			}
		}

		stored.Version = in.Version + 1
		stored.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if err := txn.Set([]byte(statusIndexKey(stored.Status, stored.SagaID)), nil); err != nil {
			return err
		}
		if previous != nil && previous.Status != stored.Status {
			_ = txn.Delete([]byte(statusIndexKey(previous.Status, stored.SagaID)))
		}
		if stored.CorrelationID != "" {
			if err := txn.Set([]byte(corrIndexKey(stored.CorrelationID, stored.SagaID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// Find loads one saga by id.
func (s *BadgerStore) Find(ctx context.Context, sagaID string) (*saga.Saga, error) {
	var loaded saga.Saga
	err := s.db.View(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := txn.Get([]byte(sagaDataKey(sagaID)))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &loaded) })
	})
	if err != nil {
		return nil, err
	}
	return &loaded, nil
}

// FindByStatus lists sagas via the status index, created_at descending.
func (s *BadgerStore) FindByStatus(ctx context.Context, status saga.Status, page Page) ([]*saga.Saga, int, error) {
	matched := make([]*saga.Saga, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if status == "" {
			return s.scanAll(ctx, txn, func(loaded *saga.Saga) {
				matched = append(matched, loaded)
			})
		}
		prefix := []byte(statusIndexPrefix + string(status) + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			sagaID := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			loaded, err := s.getInTxn(txn, sagaID)
			if err != nil {
				continue
			}
			// Indexes are best-effort on crash; re-check the document.
			if loaded.Status != status {
				continue
			}
			matched = append(matched, loaded)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	offset, end := pageBounds(page, total)
	return matched[offset:end], total, nil
}

// FindByCorrelation lists sagas via the correlation index.
func (s *BadgerStore) FindByCorrelation(ctx context.Context, correlationID string) ([]*saga.Saga, error) {
	matched := make([]*saga.Saga, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(corrIndexPrefix + correlationID + ":")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			sagaID := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			loaded, err := s.getInTxn(txn, sagaID)
			if err != nil {
				continue
			}
			matched = append(matched, loaded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

// FindTimedOut scans RUNNING and RETRYING sagas for expired budgets.
func (s *BadgerStore) FindTimedOut(ctx context.Context, now time.Time) ([]*saga.Saga, error) {
	matched := make([]*saga.Saga, 0)
	for _, status := range []saga.Status{saga.StatusRunning, saga.StatusRetrying} {
		batch, _, err := s.FindByStatus(ctx, status, Page{})
		if err != nil {
			return nil, err
		}
		for _, loaded := range batch {
			if loaded.TimedOut(now) {
				matched = append(matched, loaded)
			}
		}
	}
	return matched, nil
}

// FindRetryable lists FAILED sagas below their retry budget.
func (s *BadgerStore) FindRetryable(ctx context.Context) ([]*saga.Saga, error) {
	batch, _, err := s.FindByStatus(ctx, saga.StatusFailed, Page{})
	if err != nil {
		return nil, err
	}
	matched := make([]*saga.Saga, 0, len(batch))
	for _, loaded := range batch {
		if loaded.RetryCount < loaded.MaxRetries {
			matched = append(matched, loaded)
		}
	}
	return matched, nil
}

// BulkUpdateStatus force-updates status on the given ids, bypassing version
// checks. Best effort: missing ids are skipped.
func (s *BadgerStore) BulkUpdateStatus(ctx context.Context, sagaIDs []string, status saga.Status) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updated := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range sagaIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			loaded, err := s.getInTxn(txn, id)
			if err != nil {
				continue
			}
			old := loaded.Status
			loaded.Status = status
			loaded.Version++
			loaded.UpdatedAt = time.Now().UTC()
			data, err := json.Marshal(loaded)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(sagaDataKey(id)), data); err != nil {
				return err
			}
			if err := txn.Set([]byte(statusIndexKey(status, id)), nil); err != nil {
				return err
			}
			if old != status {
				_ = txn.Delete([]byte(statusIndexKey(old, id)))
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// BulkDeleteOlderThan removes terminal sagas completed before cutoff.
func (s *BadgerStore) BulkDeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	victims := make([]*saga.Saga, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanAll(ctx, txn, func(loaded *saga.Saga) {
			if loaded.Status.IsTerminal() && loaded.CompletedAt != nil && loaded.CompletedAt.Before(cutoff) {
				victims = append(victims, loaded)
			}
		})
	})
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	deleted := 0
	for _, victim := range victims {
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete([]byte(sagaDataKey(victim.SagaID))); err != nil {
				return err
			}
			_ = txn.Delete([]byte(statusIndexKey(victim.Status, victim.SagaID)))
			if victim.CorrelationID != "" {
				_ = txn.Delete([]byte(corrIndexKey(victim.CorrelationID, victim.SagaID)))
			}
			return nil
		})
		if err == nil {
			deleted++
		}
	}
	return deleted, nil
}

// Delete removes one saga and its index entries.
func (s *BadgerStore) Delete(ctx context.Context, sagaID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		loaded, err := s.getInTxn(txn, sagaID)
		if err != nil {
			return ErrNotFound
		}
		if err := txn.Delete([]byte(sagaDataKey(sagaID))); err != nil {
			return err
		}
		_ = txn.Delete([]byte(statusIndexKey(loaded.Status, sagaID)))
		if loaded.CorrelationID != "" {
			_ = txn.Delete([]byte(corrIndexKey(loaded.CorrelationID, sagaID)))
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) scanAll(ctx context.Context, txn *badger.Txn, visit func(*saga.Saga)) error {
	prefix := []byte(sagaKeyPrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var loaded saga.Saga
		if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &loaded) }); err != nil {
			continue
		}
		visit(loaded.Clone())
	}
	return nil
}

func (s *BadgerStore) getInTxn(txn *badger.Txn, sagaID string) (*saga.Saga, error) {
	item, err := txn.Get([]byte(sagaDataKey(sagaID)))
	if err != nil {
		return nil, err
	}
	var loaded saga.Saga
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &loaded) }); err != nil {
		return nil, err
	}
	return &loaded, nil
}

func sagaDataKey(sagaID string) string {
	return sagaKeyPrefix + sagaID
}

func statusIndexKey(status saga.Status, sagaID string) string {
	return statusIndexPrefix + string(status) + ":" + sagaID
}

func corrIndexKey(correlationID, sagaID string) string {
	return corrIndexPrefix + correlationID + ":" + sagaID
}
