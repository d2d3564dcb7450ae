package entries

import (
	"context"
	"slices"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/memstore"
)

// MemoryRepository implements Repository over a memstore.Store. It is only
// valid inside the Store.Read or Store.Write call that created it; j is nil
// for reads.
type MemoryRepository struct {
	st *memstore.Store
	j  *memstore.Journal
}

func NewMemoryRepository(st *memstore.Store, j *memstore.Journal) *MemoryRepository {
	return &MemoryRepository{st: st, j: j}
}

func (r *MemoryRepository) Select(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error) {
	rec := r.st.Entry(id.Key())
	if rec == nil {
		return nil, common.ErrNotFound
	}
	return rec.Clone(), nil
}

// SelectForUpdate needs no row lock: writers are serialized by the store.
func (r *MemoryRepository) SelectForUpdate(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error) {
	if r.j == nil {
		return nil, memstore.ErrReadOnly
	}
	return r.Select(ctx, id)
}

func (r *MemoryRepository) Insert(ctx context.Context, rec *models.EntryRecord) error {
	if r.st.Entry(rec.Identity.Key()) != nil {
		return common.ErrDuplicateEntry
	}
	return r.put(rec)
}

func (r *MemoryRepository) Update(ctx context.Context, rec *models.EntryRecord, prevRevision int64) error {
	cur := r.st.Entry(rec.Identity.Key())
	if cur == nil {
		return common.ErrNotFound
	}
	if cur.Revision != prevRevision {
		return &common.ConflictError{
			Identity:         rec.Identity.Key(),
			ExpectedRevision: prevRevision,
			ActualRevision:   cur.Revision,
			ActualETag:       cur.ETag(),
		}
	}
	return r.put(rec)
}

func (r *MemoryRepository) put(rec *models.EntryRecord) error {
	c := rec.Clone()
	c.Categories = models.NormalizeCategories(c.Categories)
	return r.st.PutEntry(r.j, c)
}

func (r *MemoryRepository) Obliterate(ctx context.Context, id models.EntryIdentity) error {
	key := id.Key()
	if r.st.Entry(key) == nil {
		return common.ErrNotFound
	}
	return r.st.DeleteEntry(r.j, key)
}

func inRefs(refs []models.CollectionRef, id models.EntryIdentity) bool {
	return slices.ContainsFunc(refs, func(ref models.CollectionRef) bool {
		return ref.Matches(id.Workspace, id.Collection)
	})
}

func (r *MemoryRepository) SelectByEntryID(ctx context.Context, entryID string, refs []models.CollectionRef) ([]*models.EntryRecord, error) {
	found := r.st.Entries(func(rec *models.EntryRecord) bool {
		return rec.Identity.EntryID == entryID && inRefs(refs, rec.Identity)
	})
	out := make([]*models.EntryRecord, len(found))
	for i, rec := range found {
		out[i] = rec.Clone()
	}
	return out, nil
}

func (r *MemoryRepository) SelectEntryIDs(ctx context.Context, refs []models.CollectionRef) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range r.st.Entries(func(rec *models.EntryRecord) bool { return inRefs(refs, rec.Identity) }) {
		if _, ok := seen[rec.Identity.EntryID]; ok {
			continue
		}
		seen[rec.Identity.EntryID] = struct{}{}
		out = append(out, rec.Identity.EntryID)
	}
	slices.Sort(out)
	return out, nil
}

func (r *MemoryRepository) Scan(ctx context.Context, scan models.FeedScan) ([]*models.EntryRecord, error) {
	scope := models.CollectionRef{Workspace: scan.Workspace, Collection: scan.Collection}.Key()
	it := r.st.EntryIndex().Eval(scope, scan.Query, scan.After)

	var out []*models.EntryRecord
	for scan.Limit <= 0 || len(out) < scan.Limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, ok := it.Next()
		if !ok || !scan.InRange(item.Seq) {
			break
		}
		rec := r.st.Entry(item.ID)
		if rec == nil || !scan.Window(rec.UpdatedAt, rec.Deleted) {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}
