package aggregates

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/memstore"
)

type MemoryRepository struct {
	st *memstore.Store
	j  *memstore.Journal
}

func NewMemoryRepository(st *memstore.Store, j *memstore.Journal) *MemoryRepository {
	return &MemoryRepository{st: st, j: j}
}

func (r *MemoryRepository) Select(ctx context.Context, join, key string) (*models.AggregateEntry, error) {
	agg := r.st.Aggregate(join, key)
	if agg == nil {
		return nil, common.ErrNotFound
	}
	return agg.Clone(), nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, agg *models.AggregateEntry) error {
	c := agg.Clone()
	c.Categories = models.NormalizeCategories(c.Categories)
	return r.st.PutAggregate(r.j, c)
}

func (r *MemoryRepository) Delete(ctx context.Context, join, key string) error {
	return r.st.DeleteAggregate(r.j, join, key)
}

func (r *MemoryRepository) Keys(ctx context.Context, join string) ([]string, error) {
	var keys []string
	for _, agg := range r.st.Aggregates(join) {
		keys = append(keys, agg.JoinKey)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *MemoryRepository) Scan(ctx context.Context, join string, scan models.FeedScan) ([]*models.AggregateEntry, error) {
	it := r.st.AggregateIndex().Eval(join, scan.Query, scan.After)

	var out []*models.AggregateEntry
	for scan.Limit <= 0 || len(out) < scan.Limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := it.Next()
		if !ok || !scan.InRange(item.Seq) {
			break
		}
		agg := r.st.AggregateByIndexID(item.ID)
		if agg == nil || !scan.Window(agg.UpdatedAt, agg.Deleted) {
			continue
		}
		out = append(out, agg.Clone())
	}
	return out, nil
}
