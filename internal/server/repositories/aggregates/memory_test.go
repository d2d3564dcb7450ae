package aggregates

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/query"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_UpsertScanDelete(t *testing.T) {
	st := memstore.New(time.Second)
	ctx := context.Background()

	put := func(join, key string, seq int64, deleted bool, terms ...string) {
		agg := &models.AggregateEntry{Join: join, JoinKey: key, Sequence: seq, Deleted: deleted, UpdatedAt: time.Unix(seq, 0)}
		for _, term := range terms {
			agg.Categories = append(agg.Categories, models.Category{Term: term})
		}
		require.NoError(t, st.Write(ctx, func(ctx context.Context, j *memstore.Journal) error {
			return NewMemoryRepository(st, j).Upsert(ctx, agg)
		}))
	}
	put("catalog", "100", 1, false, "red")
	put("catalog", "200", 1, false, "blue")
	put("catalog", "300", 2, true, "red")
	put("other", "100", 3, false, "red")
	put("catalog", "100", 4, false, "red", "blue")

	r := NewMemoryRepository(st, nil)
	keys := func(aggs []*models.AggregateEntry) []string {
		var out []string
		for _, a := range aggs {
			out = append(out, a.JoinKey)
		}
		return out
	}

	all, err := r.Scan(ctx, "catalog", models.FeedScan{})
	require.NoError(t, err)
	assert.Equal(t, []string{"200", "300", "100"}, keys(all))

	red, err := r.Scan(ctx, "catalog", models.FeedScan{Query: query.Term{Term: "red"}, ExcludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"100"}, keys(red))

	page, err := r.Scan(ctx, "catalog", models.FeedScan{After: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"300"}, keys(page))

	ks, err := r.Keys(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, []string{"100", "200", "300"}, ks)

	require.NoError(t, st.Write(ctx, func(ctx context.Context, j *memstore.Journal) error {
		return NewMemoryRepository(st, j).Delete(ctx, "catalog", "300")
	}))
	_, err = r.Select(ctx, "catalog", "300")
	assert.ErrorIs(t, err, common.ErrNotFound)

	got, err := r.Select(ctx, "other", "100")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Sequence)

	assert.ErrorIs(t, r.Delete(ctx, "catalog", "100"), memstore.ErrReadOnly)
}
