// Package store keeps scan result records in a badger database. The latest
// record per target drives --resume and the results command; per-run
// records back the run history.
package store

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// ErrNotFound is returned when no record exists.
var ErrNotFound = errors.New("result record not found")

// Store wraps Badger for result records.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store at the given directory. A directory held
// by a live process fails with ErrLocked.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		if pid, held := lockHolder(path); held {
			return nil, fmt.Errorf("%w by pid %d: %s", ErrLocked, pid, path)
		}
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that is discarded on Close.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a record as both the run entry and the target's latest.
func (s *Store) Put(rec Record) error {
	value, err := rec.Encode()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(RunKey(rec.RunID, rec.Target), value); err != nil {
			return err
		}
		return txn.Set(LatestKey(rec.Target), value)
	})
}

// PutBatch stores many records in a single write batch.
func (s *Store) PutBatch(recs []Record) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range recs {
		value, err := recs[i].Encode()
		if err != nil {
			return err
		}
		if err := wb.Set(RunKey(recs[i].RunID, recs[i].Target), value); err != nil {
			return err
		}
		if err := wb.Set(LatestKey(recs[i].Target), value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Latest returns the most recent record for a target.
func (s *Store) Latest(target types.Target) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(LatestKey(target))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(rec.Decode)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestAll returns the latest record of every stored target, sorted by
// target.
func (s *Store) LatestAll() ([]Record, error) {
	recs, err := s.scan([]byte(latestPrefix))
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Target < recs[j].Target })
	return recs, nil
}

// Run returns the records of one run in submission order.
func (s *Store) Run(runID string) ([]Record, error) {
	recs, err := s.scan(RunKeyPrefix(runID))
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Index < recs[j].Index })
	return recs, nil
}

// DeleteRun removes the per-run records of a run. Latest records are kept.
func (s *Store) DeleteRun(runID string) error {
	prefix := RunKeyPrefix(runID)
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Pending splits targets into those still to scan and those whose latest
// record already succeeded.
func (s *Store) Pending(targets []types.Target) (todo, done []types.Target, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		for _, t := range targets {
			item, err := txn.Get(LatestKey(t))
			if errors.Is(err, badger.ErrKeyNotFound) {
				todo = append(todo, t)
				continue
			}
			if err != nil {
				return err
			}
			var rec Record
			if err := item.Value(rec.Decode); err != nil {
				return err
			}
			if rec.State == types.StateSucceeded {
				done = append(done, t)
			} else {
				todo = append(todo, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return todo, done, nil
}

func (s *Store) scan(prefix []byte) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(rec.Decode); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// Recorder returns a progress sink that stores each terminal result as it
// arrives, so an interrupted run keeps what it finished. Write failures are
// passed to onErr when it is non-nil.
func (s *Store) Recorder(runID, tool string, onErr func(types.Target, error)) progress.Sink {
	return progress.SinkFunc(func(u progress.Update) {
		if err := s.Put(NewRecord(runID, tool, u.Result)); err != nil && onErr != nil {
			onErr(u.Result.Target, err)
		}
	})
}
