package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/content"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsert_ThenSelect(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	rec, err := f.entries.Insert(ctx, models.Mutation{
		Identity:   id,
		Categories: []models.Category{{Scheme: "urn:size", Term: "xl"}, {Scheme: "urn:color", Term: "red"}},
		Author:     "alice",
	})
	require.NoError(t, err)

	got, err := f.entries.Select(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Revision)
	assert.False(t, got.Deleted)
	assert.Equal(t, "alice", got.Author)
	assert.Equal(t, rec.Sequence, got.Sequence)
	assert.True(t, models.SameCategories(got.Categories, []models.Category{
		{Scheme: "urn:color", Term: "red"}, {Scheme: "urn:size", Term: "xl"},
	}))
}

func TestInsert_Duplicate(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	id := ident("acme", "widgets", "100")
	f.insert(t, id)

	_, err := f.entries.Insert(context.Background(), models.Mutation{Identity: id})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	f.delete(t, id)
	_, err = f.entries.Insert(context.Background(), models.Mutation{Identity: id})
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestMutate_RevisionAndSequenceAdvance(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	id := ident("acme", "widgets", "100")

	prev := f.insert(t, id, "red")
	for i := 1; i <= 4; i++ {
		rec, err := f.entries.Mutate(context.Background(), models.Mutation{
			Identity:     id,
			Precondition: models.Precondition{Revision: models.Revision(prev.Revision)},
			Categories:   cats("red"),
		})
		require.NoError(t, err)
		assert.Equal(t, prev.Revision+1, rec.Revision)
		assert.Greater(t, rec.Sequence, prev.Sequence)
		assert.Equal(t, prev.InternalID, rec.InternalID)
		assert.Equal(t, prev.CreatedAt, rec.CreatedAt)
		prev = rec
	}
	assert.Equal(t, int64(4), prev.Revision)
}

func TestMutate_CreatesWhenAbsent(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	rec := f.update(t, ident("acme", "widgets", "100"), "red")
	assert.Equal(t, int64(0), rec.Revision)
}

func TestMutate_ConflictLeavesRecordUnchanged(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	before, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Categories: cats("red"), Content: []byte("<entry/>")})
	require.NoError(t, err)

	tests := []struct {
		name string
		pre  models.Precondition
	}{
		{name: "stale revision", pre: models.Precondition{Revision: models.Revision(7)}},
		{name: "wrong etag", pre: models.Precondition{ETag: "0-beef"}},
		{name: "revision matches, etag does not", pre: models.Precondition{Revision: models.Revision(0), ETag: "0-beef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.entries.Mutate(ctx, models.Mutation{
				Identity:     id,
				Precondition: tt.pre,
				Categories:   cats("blue"),
				Content:      []byte("<entry>changed</entry>"),
			})
			require.ErrorIs(t, err, common.ErrConflict)

			var conflict *common.ConflictError
			require.True(t, errors.As(err, &conflict))
			assert.Equal(t, int64(0), conflict.ActualRevision)
			assert.Equal(t, before.ETag(), conflict.ActualETag)

			after, err := f.entries.Select(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
	assert.Equal(t, 1, f.content.puts)
}

func TestMutate_PreconditionOnAbsentEntry(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	_, err := f.entries.Mutate(context.Background(), models.Mutation{
		Identity:     ident("acme", "widgets", "100"),
		Precondition: models.Precondition{Revision: models.Revision(0)},
	})

	var conflict *common.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(-1), conflict.ActualRevision)
}

func TestMutate_ETagPrecondition(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	rec, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("v1")})
	require.NoError(t, err)

	rec, err = f.entries.Mutate(ctx, models.Mutation{
		Identity:     id,
		Precondition: models.Precondition{ETag: rec.ETag()},
		Content:      []byte("v2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Revision)
}

func TestMutate_Delete(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")
	f.insert(t, id, "red")

	_, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Delete: true, Content: []byte("x")})
	assert.ErrorIs(t, err, common.ErrBadRequest)

	rec := f.delete(t, id)
	assert.True(t, rec.Deleted)
	assert.Equal(t, int64(1), rec.Revision)
	assert.Equal(t, []string{"red"}, terms(rec.Categories))

	_, err = f.entries.Mutate(ctx, models.Mutation{Identity: id, Delete: true})
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.entries.Mutate(ctx, models.Mutation{Identity: ident("acme", "widgets", "404"), Delete: true})
	assert.ErrorIs(t, err, common.ErrNotFound)

	rec = f.update(t, id, "blue")
	assert.False(t, rec.Deleted)
	assert.Equal(t, int64(2), rec.Revision)
}

func TestMutate_LocaleSpellingsShareRecord(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	f.insert(t, models.EntryIdentity{Workspace: "acme", Collection: "widgets", EntryID: "100", Locale: "EN_us"})

	rec := f.update(t, models.EntryIdentity{Workspace: "acme", Collection: "widgets", EntryID: "100", Locale: " en_US "})
	assert.Equal(t, int64(1), rec.Revision)
	assert.Equal(t, "en_us", rec.Identity.Locale)

	f.insert(t, models.EntryIdentity{Workspace: "acme", Collection: "widgets", EntryID: "200", Locale: models.AnyLocale})
	got, err := f.entries.Select(context.Background(), models.EntryIdentity{Workspace: "acme", Collection: "widgets", EntryID: "200"})
	require.NoError(t, err)
	assert.Equal(t, "", got.Identity.Locale)
}

func TestMutate_RejectsBadIdentity(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	for _, id := range []models.EntryIdentity{
		{Collection: "widgets", EntryID: "100"},
		{Workspace: "acme", Collection: "wid gets", EntryID: "100"},
		{Workspace: "$acme", Collection: "widgets", EntryID: "100"},
	} {
		_, err := f.entries.Mutate(context.Background(), models.Mutation{Identity: id})
		assert.ErrorIs(t, err, common.ErrBadRequest, id.Key())
	}
}

func TestContent_RoundTripAndStaleCleanup(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	v1, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("<entry>one</entry>")})
	require.NoError(t, err)
	assert.Equal(t, DefaultContentType, v1.ContentType)
	assert.Equal(t, content.Digest([]byte("<entry>one</entry>")), v1.ContentDigest)

	got, err := f.entries.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("<entry>one</entry>"), got.Data)
	assert.Equal(t, v1.ETag(), got.Record.ETag())

	v2, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("two"), ContentType: "text/plain"})
	require.NoError(t, err)
	assert.NotEqual(t, v1.ETag(), v2.ETag())

	got, err = f.entries.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Data)
	assert.Equal(t, "text/plain", got.Record.ContentType)

	_, err = f.content.Get(ctx, content.Key(id, v1.ContentDigest))
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Metadata-only updates keep the body.
	v3 := f.update(t, id, "red")
	assert.Equal(t, v2.ContentDigest, v3.ContentDigest)
	got, err = f.entries.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got.Data)
}

func TestContent_EntryWithoutBody(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	id := ident("acme", "widgets", "100")
	f.insert(t, id)

	got, err := f.entries.Content(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got.Data)
}

type failingTxManager struct {
	repomanager.RepositoryManager
	err error
}

func (m *failingTxManager) WithTx(ctx context.Context, fn func(ctx context.Context, r *repomanager.Repositories) error) error {
	return m.err
}

func TestMutate_AbortsContentWhenTransactionFails(t *testing.T) {
	inner := repomanager.NewMemoryRepositoryManager(repomanager.Options{})
	f := newFixtureWith(t, &failingTxManager{RepositoryManager: inner, err: common.ErrLockUnavailable}, ScopeGlobal)
	id := ident("acme", "widgets", "100")

	_, err := f.entries.Mutate(context.Background(), models.Mutation{Identity: id, Content: []byte("body")})
	require.ErrorIs(t, err, common.ErrLockUnavailable)
	assert.Equal(t, 1, f.content.puts)
	assert.Equal(t, 1, f.content.aborts)
	assert.Equal(t, 0, f.content.commits)

	_, err = f.content.Get(context.Background(), content.Key(id, content.Digest([]byte("body"))))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

// racingManager lets another writer commit between the pre-check and the
// transaction of the caller.
type racingManager struct {
	repomanager.RepositoryManager
	race func()
}

func (m *racingManager) WithTx(ctx context.Context, fn func(ctx context.Context, r *repomanager.Repositories) error) error {
	if m.race != nil {
		race := m.race
		m.race = nil
		race()
	}
	return m.RepositoryManager.WithTx(ctx, fn)
}

func TestMutate_ConflictDetectedInsideTransaction(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	id := ident("acme", "widgets", "100")
	f.insert(t, id, "red")

	racing := &racingManager{RepositoryManager: f.manager, race: func() { f.update(t, id, "green") }}
	svc := NewEntryService(racing, f.content, f.engine, ScopeGlobal, testLogger())

	_, err := svc.Mutate(context.Background(), models.Mutation{
		Identity:     id,
		Precondition: models.Precondition{Revision: models.Revision(0)},
		Categories:   cats("blue"),
		Content:      []byte("late"),
	})
	var conflict *common.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.ActualRevision)
	assert.Equal(t, 1, f.content.aborts)

	got, err := f.entries.Select(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"green"}, terms(got.Categories))
}

func TestObliterate(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	rec, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("body")})
	require.NoError(t, err)

	require.NoError(t, f.entries.Obliterate(ctx, id))

	_, err = f.entries.Select(ctx, id)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = f.content.Get(ctx, content.Key(id, rec.ContentDigest))
	assert.ErrorIs(t, err, common.ErrNotFound)

	assert.ErrorIs(t, f.entries.Obliterate(ctx, id), common.ErrNotFound)

	// The identity is free again.
	again := f.insert(t, id)
	assert.Equal(t, int64(0), again.Revision)
	assert.Greater(t, again.Sequence, rec.Sequence)
}

// gatedStore holds the commit of one body until release is closed.
type gatedStore struct {
	*content.MemoryStore
	hold    []byte
	reached chan struct{}
	release chan struct{}
}

type gatedTx struct {
	content.Transaction
	s *gatedStore
}

func (s *gatedStore) Put(ctx context.Context, key, contentType string, data []byte) (content.Transaction, error) {
	tx, err := s.MemoryStore.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, err
	}
	return &gatedTx{Transaction: tx, s: s}, nil
}

func (t *gatedTx) Commit(ctx context.Context) error {
	if bytes.Equal(t.Digest(), t.s.hold) {
		close(t.s.reached)
		<-t.s.release
	}
	return t.Transaction.Commit(ctx)
}

func TestContent_LateBodyCommitDoesNotRemoveCurrentBody(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	gate := &gatedStore{
		MemoryStore: content.NewMemoryStore(),
		hold:        content.Digest([]byte("Y")),
		reached:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewEntryService(f.manager, gate, f.engine, ScopeGlobal, testLogger())

	_, err := svc.Insert(ctx, models.Mutation{Identity: id, Content: []byte("X")})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("Y")})
		done <- err
	}()

	// The Y revision is committed; its body is not yet.
	<-gate.reached
	latest, err := svc.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("X")})
	require.NoError(t, err)

	close(gate.release)
	require.NoError(t, <-done)

	got, err := svc.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("X"), got.Data)
	assert.Equal(t, latest.ETag(), got.Record.ETag())

	// The late Y body is unreferenced and gone.
	_, err = gate.Get(ctx, content.Key(id, content.Digest([]byte("Y"))))
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestObliterate_ReinsertSameBody(t *testing.T) {
	f := newFixture(t, ScopeGlobal)
	ctx := context.Background()
	id := ident("acme", "widgets", "100")

	_, err := f.entries.Mutate(ctx, models.Mutation{Identity: id, Content: []byte("body")})
	require.NoError(t, err)
	require.NoError(t, f.entries.Obliterate(ctx, id))

	_, err = f.entries.Insert(ctx, models.Mutation{Identity: id, Content: []byte("body")})
	require.NoError(t, err)

	got, err := f.entries.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("body"), got.Data)
}
