package sequences

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/memstore"
)

type MemoryRepository struct {
	st *memstore.Store
	j  *memstore.Journal
}

func NewMemoryRepository(st *memstore.Store, j *memstore.Journal) *MemoryRepository {
	return &MemoryRepository{st: st, j: j}
}

func (r *MemoryRepository) Next(ctx context.Context, scope string) (int64, error) {
	return r.st.NextSequence(r.j, scope)
}

func (r *MemoryRepository) Current(ctx context.Context, scope string) (int64, error) {
	return r.st.Sequence(scope), nil
}
