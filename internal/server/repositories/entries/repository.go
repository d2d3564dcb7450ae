// Package entries stores entry metadata records and answers the category
// filtered, sequence ordered scans behind collection feeds.
package entries

import (
	"context"

	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
)

// Repository is bound to one transaction (or read snapshot) by the
// repository manager. Identities passed in are normalized.
type Repository interface {
	// Select returns common.ErrNotFound when no record exists.
	Select(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error)
	// SelectForUpdate is Select that also locks the record until the
	// transaction ends.
	SelectForUpdate(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error)
	// Insert fails with common.ErrDuplicateEntry when the identity exists.
	Insert(ctx context.Context, rec *models.EntryRecord) error
	// Update replaces the record if its stored revision is still
	// prevRevision, otherwise it fails with *common.ConflictError.
	Update(ctx context.Context, rec *models.EntryRecord, prevRevision int64) error
	// Obliterate removes the record and its category rows.
	Obliterate(ctx context.Context, id models.EntryIdentity) error
	// SelectByEntryID returns every record with the given entry id located
	// in one of refs, in identity order.
	SelectByEntryID(ctx context.Context, entryID string, refs []models.CollectionRef) ([]*models.EntryRecord, error)
	// SelectEntryIDs lists the distinct entry ids found in refs.
	SelectEntryIDs(ctx context.Context, refs []models.CollectionRef) ([]string, error)
	Scan(ctx context.Context, scan models.FeedScan) ([]*models.EntryRecord, error)
}
