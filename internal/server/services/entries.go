package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/content"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// DefaultContentType is recorded for content submitted without a type.
const DefaultContentType = "application/atom+xml"

// EntryService applies single-entry reads and mutations.
type EntryService struct {
	repomanager repomanager.RepositoryManager
	content     content.Store
	engine      *AggregateEngine
	scope       SequenceScope
	logger      logging.Logger
	now         func() time.Time
}

func NewEntryService(m repomanager.RepositoryManager, cs content.Store, engine *AggregateEngine, scope SequenceScope, logger logging.Logger) *EntryService {
	return &EntryService{
		repomanager: m,
		content:     cs,
		engine:      engine,
		scope:       scope,
		logger:      logger.With("module", "entry_service"),
		now:         time.Now,
	}
}

func normalize(id models.EntryIdentity) (models.EntryIdentity, error) {
	id = id.Normalize()
	return id, id.Validate()
}

// Select returns the current record of id, deleted or not.
func (s *EntryService) Select(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error) {
	id, err := normalize(id)
	if err != nil {
		return nil, err
	}
	var rec *models.EntryRecord
	err = s.repomanager.Read(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		rec, err = r.Entries.Select(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", id, err)
	}
	return rec, nil
}

// EntryContent is a record together with its body. Data is nil when the
// entry was never given content.
type EntryContent struct {
	Record *models.EntryRecord
	Data   []byte
}

func (s *EntryService) Content(ctx context.Context, id models.EntryIdentity) (*EntryContent, error) {
	rec, err := s.Select(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &EntryContent{Record: rec}
	if len(rec.ContentDigest) == 0 {
		return out, nil
	}
	out.Data, err = s.content.Get(ctx, content.Key(rec.Identity, rec.ContentDigest))
	if err != nil {
		return nil, fmt.Errorf("content of %s: %w", rec.Identity, err)
	}
	return out, nil
}

// Insert creates a new entry. It fails with common.ErrDuplicateEntry when a
// record exists for the identity, even a deleted one.
func (s *EntryService) Insert(ctx context.Context, m models.Mutation) (*models.EntryRecord, error) {
	m.Delete = false
	return s.apply(ctx, m, true)
}

// Mutate creates, updates, deletes or undeletes an entry under optimistic
// concurrency control. Deleting requires a live record.
func (s *EntryService) Mutate(ctx context.Context, m models.Mutation) (*models.EntryRecord, error) {
	return s.apply(ctx, m, false)
}

// check applies the rules that depend on the current record; cur is nil
// when none exists.
func check(m models.Mutation, insertOnly bool, cur *models.EntryRecord) error {
	if insertOnly && cur != nil {
		return fmt.Errorf("%s: %w", m.Identity, common.ErrDuplicateEntry)
	}
	if m.Delete && (cur == nil || cur.Deleted) {
		return fmt.Errorf("%s: %w", m.Identity, common.ErrNotFound)
	}
	return m.Precondition.Check(m.Identity, cur)
}

func (s *EntryService) apply(ctx context.Context, m models.Mutation, insertOnly bool) (*models.EntryRecord, error) {
	id, err := normalize(m.Identity)
	if err != nil {
		return nil, err
	}
	m.Identity = id
	m.Categories = models.NormalizeCategories(m.Categories)
	if m.Delete && m.Content != nil {
		return nil, common.NewBadRequest("content", "a delete carries no content")
	}

	// Fail before staging content when the outcome is already known.
	var cur *models.EntryRecord
	err = s.repomanager.Read(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		cur, err = r.Entries.Select(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			cur, err = nil, nil
		}
		return err
	})
	if err == nil {
		err = check(m, insertOnly, cur)
	}
	if err != nil {
		s.logRejected(ctx, id, err)
		return nil, err
	}

	var tx content.Transaction
	if m.Content != nil {
		if m.ContentType == "" {
			m.ContentType = DefaultContentType
		}
		tx, err = s.content.Put(ctx, content.Key(id, content.Digest(m.Content)), m.ContentType, m.Content)
		if err != nil {
			s.logger.Error(ctx, "content staging failed", "identity", id.String(), "error", err)
			return nil, err
		}
	}

	var prev, rec *models.EntryRecord
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		prev, rec = nil, nil
		cur, err := r.Entries.SelectForUpdate(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		if err := check(m, insertOnly, cur); err != nil {
			return err
		}

		seq, err := r.Sequences.Next(ctx, s.scope.entries(id.Workspace))
		if err != nil {
			return err
		}
		rec = s.next(m, cur, seq, tx)
		if cur == nil {
			err = r.Entries.Insert(ctx, rec)
		} else {
			err = r.Entries.Update(ctx, rec, cur.Revision)
		}
		if err != nil {
			return err
		}
		prev = cur
		return s.engine.Recompute(ctx, r, id)
	})
	if err != nil {
		s.logRejected(ctx, id, err)
		if tx != nil {
			if aerr := tx.Abort(context.WithoutCancel(ctx)); aerr != nil {
				s.logger.Warn(ctx, "content abort failed", "identity", id.String(), "error", aerr)
			}
		}
		return nil, err
	}

	if tx != nil {
		if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error(ctx, "content commit failed after metadata commit",
				"identity", id.String(), "revision", rec.Revision, "error", err)
			return nil, fmt.Errorf("commit content of %s: %w", id, err)
		}
		var stale []byte
		if prev != nil {
			stale = prev.ContentDigest
		}
		s.dropContent(ctx, id, stale, rec.ContentDigest)
	}

	s.logger.Debug(ctx, "entry mutated", "identity", id.String(), "revision", rec.Revision,
		"sequence", rec.Sequence, "deleted", rec.Deleted)
	return rec, nil
}

// next derives the record written by m on top of cur.
func (s *EntryService) next(m models.Mutation, cur *models.EntryRecord, seq int64, tx content.Transaction) *models.EntryRecord {
	now := s.now().UTC()
	var rec *models.EntryRecord
	if cur == nil {
		rec = &models.EntryRecord{
			InternalID: uuid.New(),
			Identity:   m.Identity,
			CreatedAt:  now,
		}
	} else {
		rec = cur.Clone()
		rec.Revision++
	}

	rec.Deleted = m.Delete
	// A delete without categories keeps the old ones so filtered feeds
	// still report the removal.
	if !m.Delete || len(m.Categories) > 0 {
		rec.Categories = m.Categories
	}
	if tx != nil {
		rec.ContentDigest = tx.Digest()
		rec.ContentType = m.ContentType
	}
	if m.Author != "" {
		rec.Author = m.Author
	}
	rec.Sequence = seq
	rec.UpdatedAt = now
	return rec
}

// dropContent deletes the bodies of id named by digests that the current
// record does not reference. The check and the deletes run under the
// record's write lock: a writer whose metadata committed first is seen as
// current, and one that commits later rewrites its body on content commit.
func (s *EntryService) dropContent(ctx context.Context, id models.EntryIdentity, digests ...[]byte) {
	ctx = context.WithoutCancel(ctx)
	err := s.repomanager.WithTx(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		cur, err := r.Entries.SelectForUpdate(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		for i, d := range digests {
			if len(d) == 0 || (cur != nil && bytes.Equal(d, cur.ContentDigest)) {
				continue
			}
			if slices.ContainsFunc(digests[:i], func(o []byte) bool { return bytes.Equal(o, d) }) {
				continue
			}
			key := content.Key(id, d)
			if err := s.content.Delete(ctx, key); err != nil {
				s.logger.Warn(ctx, "stale content not removed", "key", key, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "stale content check failed", "identity", id.String(), "error", err)
	}
}

func (s *EntryService) logRejected(ctx context.Context, id models.EntryIdentity, err error) {
	switch {
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrNotFound),
		errors.Is(err, common.ErrDuplicateEntry), errors.Is(err, common.ErrBadRequest):
		s.logger.Info(ctx, "mutation rejected", "identity", id.String(), "error", err)
	case errors.Is(err, common.ErrLockUnavailable), errors.Is(err, common.ErrTimeout):
		s.logger.Warn(ctx, "mutation aborted", "identity", id.String(), "error", err)
	default:
		s.logger.Error(ctx, "mutation failed", "identity", id.String(), "error", err)
	}
}

// Obliterate removes the record of id for good, with its content, and
// refreshes the aggregates it belonged to.
func (s *EntryService) Obliterate(ctx context.Context, id models.EntryIdentity) error {
	id, err := normalize(id)
	if err != nil {
		return err
	}

	err = s.repomanager.WithTx(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		rec, err := r.Entries.SelectForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := r.Entries.Obliterate(ctx, id); err != nil {
			return err
		}
		if err := s.engine.Recompute(ctx, r, id); err != nil {
			return err
		}
		// Deleted while the record is locked so a re-insert of the same
		// body commits it after this delete.
		if len(rec.ContentDigest) > 0 {
			key := content.Key(id, rec.ContentDigest)
			if err := s.content.Delete(context.WithoutCancel(ctx), key); err != nil {
				s.logger.Warn(ctx, "content of obliterated entry not removed", "key", key, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logRejected(ctx, id, err)
		return fmt.Errorf("obliterate %s: %w", id, err)
	}

	s.logger.Info(ctx, "entry obliterated", "identity", id.String())
	return nil
}
