// Package memstore holds the state behind the in-memory and file metadata
// backends: entry and aggregate records, their category indexes and the
// sequence counters, guarded by one timed read/write lock.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/catindex"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"golang.org/x/sync/semaphore"
)

// writerWeight is taken by writers; readers take 1.
const writerWeight = 1 << 20

type aggregateKey struct {
	join string
	key  string
}

// Store is the shared in-memory state. Access it only inside Read or Write.
type Store struct {
	lock        *semaphore.Weighted
	lockTimeout time.Duration
	snapshot    string

	entries    map[string]*models.EntryRecord
	aggregates map[aggregateKey]*models.AggregateEntry
	sequences  map[string]int64

	entryIndex     *catindex.Index
	aggregateIndex *catindex.Index
}

// New returns an empty Store. lockTimeout bounds lock acquisition; zero
// means wait as long as the caller's context allows.
func New(lockTimeout time.Duration) *Store {
	return &Store{
		lock:           semaphore.NewWeighted(writerWeight),
		lockTimeout:    lockTimeout,
		entries:        make(map[string]*models.EntryRecord),
		aggregates:     make(map[aggregateKey]*models.AggregateEntry),
		sequences:      make(map[string]int64),
		entryIndex:     catindex.New(),
		aggregateIndex: catindex.New(),
	}
}

func (s *Store) acquire(ctx context.Context, weight int64) error {
	lctx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	if err := s.lock.Acquire(lctx, weight); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", common.ErrTimeout, ctx.Err())
		}
		return fmt.Errorf("%w: metadata lock not acquired within %s", common.ErrLockUnavailable, s.lockTimeout)
	}
	return nil
}

// Read runs fn under the shared lock.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)
	return fn(ctx)
}

// Write runs fn under the exclusive lock. Changes made through j are undone
// when fn fails or panics; on success the snapshot, if configured, is
// rewritten before the lock is released.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context, j *Journal) error) (err error) {
	if err := s.acquire(ctx, writerWeight); err != nil {
		return err
	}
	defer s.lock.Release(writerWeight)

	j := &Journal{}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
		if err != nil {
			j.rollback()
		}
	}()

	if err = fn(ctx, j); err != nil {
		return err
	}
	if s.snapshot != "" {
		err = s.save()
	}
	return err
}

// Journal collects undo steps for one Write.
type Journal struct {
	undo []func()
}

func (j *Journal) record(f func()) {
	j.undo = append(j.undo, f)
}

func (j *Journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// ErrReadOnly is returned by mutations attempted without a journal.
var ErrReadOnly = errors.New("read-only transaction")

// Entry returns the stored record for key, or nil.
func (s *Store) Entry(key string) *models.EntryRecord {
	return s.entries[key]
}

// Entries returns all records accepted by keep, ordered by key.
func (s *Store) Entries(keep func(*models.EntryRecord) bool) []*models.EntryRecord {
	var out []*models.EntryRecord
	for _, r := range s.entries {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Identity.Key() < out[k].Identity.Key() })
	return out
}

// EntryIndex is the category index of entries; scopes are collection keys.
func (s *Store) EntryIndex() *catindex.Index {
	return s.entryIndex
}

// PutEntry stores rec under its identity key and reindexes it.
func (s *Store) PutEntry(j *Journal, rec *models.EntryRecord) error {
	if j == nil {
		return ErrReadOnly
	}
	key := rec.Identity.Key()
	old := s.entries[key]
	j.record(func() { s.restoreEntry(key, old) })
	s.setEntry(key, rec)
	return nil
}

// DeleteEntry removes the record at key and its postings.
func (s *Store) DeleteEntry(j *Journal, key string) error {
	if j == nil {
		return ErrReadOnly
	}
	old := s.entries[key]
	j.record(func() { s.restoreEntry(key, old) })
	delete(s.entries, key)
	s.entryIndex.Delete(key)
	return nil
}

func (s *Store) setEntry(key string, rec *models.EntryRecord) {
	s.entries[key] = rec
	s.entryIndex.Put(rec.Identity.Ref().Key(), key, rec.Sequence, rec.Categories)
}

func (s *Store) restoreEntry(key string, old *models.EntryRecord) {
	if old == nil {
		delete(s.entries, key)
		s.entryIndex.Delete(key)
		return
	}
	s.setEntry(key, old)
}

// Aggregate returns the stored aggregate, or nil.
func (s *Store) Aggregate(join, key string) *models.AggregateEntry {
	return s.aggregates[aggregateKey{join, key}]
}

// AggregateIndex is the category index of aggregates; scopes are join names.
func (s *Store) AggregateIndex() *catindex.Index {
	return s.aggregateIndex
}

// Aggregates returns the aggregates of join in no particular order.
func (s *Store) Aggregates(join string) []*models.AggregateEntry {
	var out []*models.AggregateEntry
	for k, agg := range s.aggregates {
		if k.join == join {
			out = append(out, agg)
		}
	}
	return out
}

func (s *Store) PutAggregate(j *Journal, agg *models.AggregateEntry) error {
	if j == nil {
		return ErrReadOnly
	}
	k := aggregateKey{agg.Join, agg.JoinKey}
	old := s.aggregates[k]
	j.record(func() { s.restoreAggregate(k, old) })
	s.setAggregate(k, agg)
	return nil
}

func (s *Store) DeleteAggregate(j *Journal, join, key string) error {
	if j == nil {
		return ErrReadOnly
	}
	k := aggregateKey{join, key}
	old := s.aggregates[k]
	j.record(func() { s.restoreAggregate(k, old) })
	delete(s.aggregates, k)
	s.aggregateIndex.Delete(indexID(k))
	return nil
}

func (s *Store) setAggregate(k aggregateKey, agg *models.AggregateEntry) {
	s.aggregates[k] = agg
	s.aggregateIndex.Put(k.join, indexID(k), agg.Sequence, agg.Categories)
}

func (s *Store) restoreAggregate(k aggregateKey, old *models.AggregateEntry) {
	if old == nil {
		delete(s.aggregates, k)
		s.aggregateIndex.Delete(indexID(k))
		return
	}
	s.setAggregate(k, old)
}

// AggregateByIndexID resolves an id yielded by AggregateIndex.
func (s *Store) AggregateByIndexID(id string) *models.AggregateEntry {
	join, key, ok := strings.Cut(id, "\x00")
	if !ok {
		return nil
	}
	return s.aggregates[aggregateKey{join, key}]
}

// indexID keys aggregates in the shared index; the join name is repeated
// so ids stay unique across scopes.
func indexID(k aggregateKey) string {
	return k.join + "\x00" + k.key
}

// NextSequence increments and returns the counter of scope.
func (s *Store) NextSequence(j *Journal, scope string) (int64, error) {
	if j == nil {
		return 0, ErrReadOnly
	}
	old, had := s.sequences[scope]
	j.record(func() {
		if had {
			s.sequences[scope] = old
		} else {
			delete(s.sequences, scope)
		}
	})
	s.sequences[scope] = old + 1
	return old + 1, nil
}

// Sequence returns the last value issued for scope.
func (s *Store) Sequence(scope string) int64 {
	return s.sequences[scope]
}
