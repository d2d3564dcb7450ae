package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
)

// AggregateEngine keeps the aggregates of configured joins in step with
// their member entries.
type AggregateEngine struct {
	repomanager repomanager.RepositoryManager
	joins       []models.JoinDefinition
	scope       SequenceScope
	logger      logging.Logger
	now         func() time.Time
}

func NewAggregateEngine(m repomanager.RepositoryManager, joins []models.JoinDefinition, scope SequenceScope, logger logging.Logger) (*AggregateEngine, error) {
	seen := make(map[string]bool, len(joins))
	for _, j := range joins {
		if err := j.Validate(); err != nil {
			return nil, err
		}
		if seen[j.Name] {
			return nil, common.NewBadRequest("join", "%s defined twice", j.Name)
		}
		seen[j.Name] = true
	}
	return &AggregateEngine{
		repomanager: m,
		joins:       joins,
		scope:       scope,
		logger:      logger.With("module", "aggregate_engine"),
		now:         time.Now,
	}, nil
}

// Join returns the definition named name.
func (e *AggregateEngine) Join(name string) (models.JoinDefinition, error) {
	for _, j := range e.joins {
		if j.Name == name {
			return j, nil
		}
	}
	return models.JoinDefinition{}, fmt.Errorf("join %q: %w", name, common.ErrNotFound)
}

// buildAggregate joins the member records of one key. Categories are the
// union over live members only; with no live member the aggregate is
// marked deleted. It returns nil when there are no records at all.
func buildAggregate(join, key string, records []*models.EntryRecord) *models.AggregateEntry {
	if len(records) == 0 {
		return nil
	}
	agg := &models.AggregateEntry{Join: join, JoinKey: key}
	var sets [][]models.Category
	for _, rec := range records {
		if rec.Deleted {
			continue
		}
		agg.Members = append(agg.Members, rec.Identity)
		sets = append(sets, rec.Categories)
	}
	agg.Categories = models.UnionCategories(sets...)
	agg.Deleted = len(agg.Members) == 0
	return agg
}

// stamp allocates at most one aggregate sequence per call site.
type stamp struct {
	seq int64
	at  time.Time
}

func (e *AggregateEngine) next(ctx context.Context, r *repomanager.Repositories, st *stamp) error {
	if st.seq != 0 {
		return nil
	}
	seq, err := r.Sequences.Next(ctx, e.scope.aggregates())
	if err != nil {
		return err
	}
	st.seq = seq
	st.at = e.now().UTC()
	return nil
}

// refresh takes the aggregate sequence before reading members. The counter
// row lock orders recomputes of the same key across workspaces, so the
// members read are those committed by every earlier recompute.
func (e *AggregateEngine) refresh(ctx context.Context, r *repomanager.Repositories, j models.JoinDefinition, key string, st *stamp) error {
	if err := e.next(ctx, r, st); err != nil {
		return err
	}

	records, err := r.Entries.SelectByEntryID(ctx, key, j.Members)
	if err != nil {
		return err
	}

	agg := buildAggregate(j.Name, key, records)
	if agg == nil {
		e.logger.Debug(ctx, "aggregate removed", "join", j.Name, "key", key)
		return r.Aggregates.Delete(ctx, j.Name, key)
	}

	agg.Sequence = st.seq
	agg.UpdatedAt = st.at
	e.logger.Debug(ctx, "aggregate updated", "join", j.Name, "key", key, "sequence", agg.Sequence, "members", len(agg.Members))
	return r.Aggregates.Upsert(ctx, agg)
}

// Recompute refreshes, inside the caller's transaction, every aggregate
// that has id as a member. All aggregates touched share one new sequence.
func (e *AggregateEngine) Recompute(ctx context.Context, r *repomanager.Repositories, id models.EntryIdentity) error {
	var st stamp
	for _, j := range e.joins {
		if !j.Includes(id.Workspace, id.Collection) {
			continue
		}
		if err := e.refresh(ctx, r, j, id.EntryID, &st); err != nil {
			return fmt.Errorf("recompute %s/%s: %w", j.Name, id.EntryID, err)
		}
	}
	return nil
}

// Rebuild recomputes every aggregate of join in one transaction and stamps
// them all with a single sequence. It returns the number of aggregates
// written.
func (e *AggregateEngine) Rebuild(ctx context.Context, join string) (int, error) {
	j, err := e.Join(join)
	if err != nil {
		return 0, err
	}

	var n int
	err = e.repomanager.WithTx(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		n = 0
		ids, err := r.Entries.SelectEntryIDs(ctx, j.Members)
		if err != nil {
			return err
		}
		stored, err := r.Aggregates.Keys(ctx, j.Name)
		if err != nil {
			return err
		}
		keys := mergeKeys(ids, stored)

		var st stamp
		for _, key := range keys {
			if err := e.refresh(ctx, r, j, key, &st); err != nil {
				return fmt.Errorf("rebuild %s/%s: %w", j.Name, key, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info(ctx, "join rebuilt", "join", join, "keys", n)
	return n, nil
}

func mergeKeys(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// restrict resolves the member collections of a subset read.
func restrict(j models.JoinDefinition, workspaces []string) ([]models.CollectionRef, error) {
	refs := j.Restrict(workspaces)
	if len(refs) == 0 {
		return nil, common.NewBadRequest("workspaces", "join %s has no member in %v", j.Name, workspaces)
	}
	return refs, nil
}

// subset recomputes stored over the members in refs, keeping the stored
// sequence and timestamp. It returns nil when no member lies in refs.
func subset(ctx context.Context, r *repomanager.Repositories, stored *models.AggregateEntry, refs []models.CollectionRef) (*models.AggregateEntry, error) {
	records, err := r.Entries.SelectByEntryID(ctx, stored.JoinKey, refs)
	if err != nil {
		return nil, err
	}
	agg := buildAggregate(stored.Join, stored.JoinKey, records)
	if agg == nil {
		return nil, nil
	}
	agg.Sequence = stored.Sequence
	agg.UpdatedAt = stored.UpdatedAt
	return agg, nil
}

// Select returns the aggregate of key. With workspaces set, members outside
// them are left out of both the member list and the category union.
func (e *AggregateEngine) Select(ctx context.Context, join, key string, workspaces []string) (*models.AggregateEntry, error) {
	j, err := e.Join(join)
	if err != nil {
		return nil, err
	}
	var refs []models.CollectionRef
	if len(workspaces) > 0 {
		if refs, err = restrict(j, workspaces); err != nil {
			return nil, err
		}
	}

	var agg *models.AggregateEntry
	err = e.repomanager.Read(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		stored, err := r.Aggregates.Select(ctx, j.Name, key)
		if err != nil {
			return err
		}
		if refs == nil {
			agg = stored
			return nil
		}
		agg, err = subset(ctx, r, stored, refs)
		if err == nil && agg == nil {
			err = common.ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s/%s: %w", join, key, err)
	}
	return agg, nil
}
