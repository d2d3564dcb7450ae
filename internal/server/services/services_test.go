package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/content"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

// spyStore counts content transaction outcomes.
type spyStore struct {
	*content.MemoryStore
	mu      sync.Mutex
	puts    int
	commits int
	aborts  int
}

func newSpyStore() *spyStore {
	return &spyStore{MemoryStore: content.NewMemoryStore()}
}

type spyTx struct {
	content.Transaction
	s *spyStore
}

func (s *spyStore) Put(ctx context.Context, key, contentType string, data []byte) (content.Transaction, error) {
	tx, err := s.MemoryStore.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return &spyTx{Transaction: tx, s: s}, nil
}

func (t *spyTx) Commit(ctx context.Context) error {
	t.s.mu.Lock()
	t.s.commits++
	t.s.mu.Unlock()
	return t.Transaction.Commit(ctx)
}

func (t *spyTx) Abort(ctx context.Context) error {
	t.s.mu.Lock()
	t.s.aborts++
	t.s.mu.Unlock()
	return t.Transaction.Abort(ctx)
}

type fixture struct {
	manager repomanager.RepositoryManager
	content *spyStore
	engine  *AggregateEngine
	entries *EntryService
	feeds   *FeedService
	batch   *BatchService
}

func testLogger() logging.Logger {
	return logging.New("json", "error", io.Discard)
}

func newFixture(t *testing.T, scope SequenceScope, joins ...models.JoinDefinition) *fixture {
	t.Helper()
	m := repomanager.NewMemoryRepositoryManager(repomanager.Options{LockTimeout: time.Second, TxTimeout: 5 * time.Second})
	return newFixtureWith(t, m, scope, joins...)
}

func newFixtureWith(t *testing.T, m repomanager.RepositoryManager, scope SequenceScope, joins ...models.JoinDefinition) *fixture {
	t.Helper()
	logger := testLogger()
	engine, err := NewAggregateEngine(m, joins, scope, logger)
	require.NoError(t, err)

	cs := newSpyStore()
	entries := NewEntryService(m, cs, engine, scope, logger)
	return &fixture{
		manager: m,
		content: cs,
		engine:  engine,
		entries: entries,
		feeds:   NewFeedService(m, engine, 10, 16),
		batch:   NewBatchService(entries, 5, 2, time.Second, logger),
	}
}

func ident(ws, coll, id string) models.EntryIdentity {
	return models.EntryIdentity{Workspace: ws, Collection: coll, EntryID: id, Locale: "en"}
}

func cats(terms ...string) []models.Category {
	out := make([]models.Category, len(terms))
	for i, term := range terms {
		out[i] = models.Category{Term: term}
	}
	return out
}

func terms(cs []models.Category) []string {
	out := []string{}
	for _, c := range cs {
		out = append(out, c.Term)
	}
	return out
}

func (f *fixture) insert(t *testing.T, id models.EntryIdentity, terms ...string) *models.EntryRecord {
	t.Helper()
	rec, err := f.entries.Insert(context.Background(), models.Mutation{Identity: id, Categories: cats(terms...)})
	require.NoError(t, err)
	return rec
}

func (f *fixture) update(t *testing.T, id models.EntryIdentity, terms ...string) *models.EntryRecord {
	t.Helper()
	rec, err := f.entries.Mutate(context.Background(), models.Mutation{Identity: id, Categories: cats(terms...)})
	require.NoError(t, err)
	return rec
}

func (f *fixture) delete(t *testing.T, id models.EntryIdentity) *models.EntryRecord {
	t.Helper()
	rec, err := f.entries.Mutate(context.Background(), models.Mutation{Identity: id, Delete: true})
	require.NoError(t, err)
	return rec
}
