package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/paging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/query"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
)

// FeedService pages collection and aggregate feeds.
type FeedService struct {
	repomanager     repomanager.RepositoryManager
	engine          *AggregateEngine
	defaultPageSize int
	maxPageSize     int
}

func NewFeedService(m repomanager.RepositoryManager, engine *AggregateEngine, defaultPageSize, maxPageSize int) *FeedService {
	return &FeedService{
		repomanager:     m,
		engine:          engine,
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
	}
}

// prepare validates the request bounds and turns it into the first scan
// and the page size.
func (s *FeedService) prepare(req models.FeedRequest) (models.FeedScan, int, error) {
	scan := models.FeedScan{
		Workspace:      req.Workspace,
		Collection:     req.Collection,
		After:          req.StartIndex,
		UpdatedMin:     req.UpdatedMin,
		UpdatedMax:     req.UpdatedMax,
		ExcludeDeleted: req.ExcludeDeleted,
	}
	if req.StartIndex < 0 {
		return scan, 0, common.NewBadRequest("start_index", "must not be negative")
	}
	if req.EndIndex != nil {
		switch end := *req.EndIndex; {
		case end == req.StartIndex:
			return scan, 0, common.NewBadRequest("end_index", "equals start_index %d", end)
		case end < req.StartIndex:
			return scan, 0, common.NewBadRequest("end_index", "%d is before start_index %d", end, req.StartIndex)
		}
		scan.Until = *req.EndIndex
	}
	if !req.UpdatedMin.IsZero() && !req.UpdatedMax.IsZero() && !req.UpdatedMin.Before(req.UpdatedMax) {
		return scan, 0, common.NewBadRequest("updated_max", "must be after updated_min")
	}

	size := req.MaxResults
	switch {
	case size < 0:
		return scan, 0, common.NewBadRequest("max_results", "must not be negative")
	case size == 0:
		size = s.defaultPageSize
	case size > s.maxPageSize:
		size = s.maxPageSize
	}

	q, err := query.Parse(req.Query)
	if err != nil {
		return scan, 0, err
	}
	scan.Query = q
	return scan, size, nil
}

// Entries returns the next page of a collection feed. An empty page is
// common.ErrNotModified.
func (s *FeedService) Entries(ctx context.Context, req models.FeedRequest) (*models.EntryPage, error) {
	ref := models.CollectionRef{Workspace: req.Workspace, Collection: req.Collection}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	scan, size, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	pager := paging.Pager[*models.EntryRecord]{
		Seq:     func(r *models.EntryRecord) int64 { return r.Sequence },
		MaxSize: s.maxPageSize,
	}
	page := &models.EntryPage{}
	err = s.repomanager.Read(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		var err error
		page.Entries, page.EndIndex, err = pager.Page(ctx, req.StartIndex, size,
			func(ctx context.Context, after int64, limit int) ([]*models.EntryRecord, error) {
				sc := scan
				sc.After, sc.Limit = after, limit
				return r.Entries.Scan(ctx, sc)
			})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", ref.Key(), err)
	}
	return page, nil
}

// Aggregates returns the next page of a join feed. With JoinWorkspaces set
// each aggregate is recomputed over the members in those workspaces, and
// the category query and deleted filter apply to the recomputed values.
func (s *FeedService) Aggregates(ctx context.Context, req models.FeedRequest) (*models.AggregatePage, error) {
	j, err := s.engine.Join(req.Join)
	if err != nil {
		return nil, err
	}
	scan, size, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	var refs []models.CollectionRef
	if len(req.JoinWorkspaces) > 0 {
		if refs, err = restrict(j, req.JoinWorkspaces); err != nil {
			return nil, err
		}
	}

	pager := paging.Pager[*models.AggregateEntry]{
		Seq:     func(a *models.AggregateEntry) int64 { return a.Sequence },
		MaxSize: s.maxPageSize,
	}
	page := &models.AggregatePage{}
	err = s.repomanager.Read(ctx, func(ctx context.Context, r *repomanager.Repositories) error {
		fetch := func(ctx context.Context, after int64, limit int) ([]*models.AggregateEntry, error) {
			sc := scan
			sc.After, sc.Limit = after, limit
			return r.Aggregates.Scan(ctx, j.Name, sc)
		}
		if refs != nil {
			fetch = subsetFetch(r, j.Name, refs, scan)
		}
		var err error
		page.Aggregates, page.EndIndex, err = pager.Page(ctx, req.StartIndex, size, fetch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate feed %s: %w", j.Name, err)
	}
	return page, nil
}

// subsetFetch scans stored aggregates in order and recomputes each over
// refs, dropping those that fall outside the subset or the filters. It
// keeps scanning until limit rows pass, and always finishes the sequence
// group it stopped in, so the pager sees whole groups.
func subsetFetch(r *repomanager.Repositories, join string, refs []models.CollectionRef, scan models.FeedScan) paging.Fetch[*models.AggregateEntry] {
	keep := func(a *models.AggregateEntry) bool {
		if scan.ExcludeDeleted && a.Deleted {
			return false
		}
		return query.Matches(scan.Query, func(scheme, term string) bool {
			return models.HasCategory(a.Categories, scheme, term)
		})
	}

	return func(ctx context.Context, after int64, limit int) ([]*models.AggregateEntry, error) {
		base := scan
		base.Query, base.ExcludeDeleted = nil, false

		var out []*models.AggregateEntry
		add := func(stored []*models.AggregateEntry) error {
			for _, st := range stored {
				a, err := subset(ctx, r, st, refs)
				if err != nil {
					return err
				}
				if a != nil && keep(a) {
					out = append(out, a)
				}
			}
			return nil
		}

		for len(out) < limit {
			sc := base
			sc.After, sc.Limit = after, limit
			batch, err := r.Aggregates.Scan(ctx, join, sc)
			if err != nil {
				return nil, err
			}
			if err := add(batch); err != nil {
				return nil, err
			}
			if len(batch) < limit {
				break
			}

			last := batch[len(batch)-1]
			group := base
			group.After, group.Until = last.Sequence-1, last.Sequence
			rest, err := r.Aggregates.Scan(ctx, join, group)
			if err != nil {
				return nil, err
			}
			var tail []*models.AggregateEntry
			for _, a := range rest {
				if a.JoinKey > last.JoinKey {
					tail = append(tail, a)
				}
			}
			if err := add(tail); err != nil {
				return nil, err
			}
			after = last.Sequence
		}
		return out, nil
	}
}
