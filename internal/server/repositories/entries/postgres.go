package entries

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
	"github.com/dmitrijs2005/feedkeeper/internal/server/models"
	"github.com/dmitrijs2005/feedkeeper/internal/server/query"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var entryColumns = []string{
	"e.id", "e.workspace", "e.collection", "e.entry_id", "e.locale",
	"e.revision", "e.deleted", "e.content_digest", "e.content_type",
	"e.sequence", "e.author", "e.categories", "e.created_at", "e.updated_at",
}

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.EntryRecord, error) {
	var (
		rec  models.EntryRecord
		cats []byte
	)
	err := row.Scan(
		&rec.InternalID, &rec.Identity.Workspace, &rec.Identity.Collection, &rec.Identity.EntryID, &rec.Identity.Locale,
		&rec.Revision, &rec.Deleted, &rec.ContentDigest, &rec.ContentType,
		&rec.Sequence, &rec.Author, &cats, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(cats) > 0 {
		if err := json.Unmarshal(cats, &rec.Categories); err != nil {
			return nil, fmt.Errorf("decode categories: %w", err)
		}
	}
	return &rec, nil
}

func identityWhere(b sq.SelectBuilder, id models.EntryIdentity) sq.SelectBuilder {
	return b.Where("e.workspace = ? AND e.collection = ? AND e.entry_id = ? AND e.locale = ?",
		id.Workspace, id.Collection, id.EntryID, id.Locale)
}

func (r *PostgresRepository) selectOne(ctx context.Context, b sq.SelectBuilder) (*models.EntryRecord, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rec, err := scanEntry(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, dbx.MapError("select entry", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Select(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error) {
	return r.selectOne(ctx, identityWhere(psql.Select(entryColumns...).From("entries e"), id))
}

func (r *PostgresRepository) SelectForUpdate(ctx context.Context, id models.EntryIdentity) (*models.EntryRecord, error) {
	return r.selectOne(ctx, identityWhere(psql.Select(entryColumns...).From("entries e"), id).Suffix("FOR UPDATE"))
}

func encodeCategories(cats []models.Category) (string, error) {
	b, err := json.Marshal(models.NormalizeCategories(cats))
	if err != nil {
		return "", fmt.Errorf("encode categories: %w", err)
	}
	return string(b), nil
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.EntryRecord) error {
	cats, err := encodeCategories(rec.Categories)
	if err != nil {
		return err
	}
	id := rec.Identity
	q, args, err := psql.Insert("entries").
		Columns("id", "workspace", "collection", "entry_id", "locale", "revision", "deleted",
			"content_digest", "content_type", "sequence", "author", "categories", "created_at", "updated_at").
		Values(rec.InternalID, id.Workspace, id.Collection, id.EntryID, id.Locale, rec.Revision, rec.Deleted,
			rec.ContentDigest, rec.ContentType, rec.Sequence, rec.Author, cats, rec.CreatedAt, rec.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return dbx.MapError("insert entry "+id.Key(), err)
	}
	return r.insertCategories(ctx, rec)
}

func (r *PostgresRepository) insertCategories(ctx context.Context, rec *models.EntryRecord) error {
	cats := models.NormalizeCategories(rec.Categories)
	if len(cats) == 0 {
		return nil
	}
	b := psql.Insert("entry_categories").Columns("entry_uuid", "scheme", "term")
	for _, c := range cats {
		b = b.Values(rec.InternalID, c.Scheme, c.Term)
	}
	q, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build category insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return dbx.MapError("insert categories", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *models.EntryRecord, prevRevision int64) error {
	cats, err := encodeCategories(rec.Categories)
	if err != nil {
		return err
	}
	q, args, err := psql.Update("entries").
		Set("revision", rec.Revision).
		Set("deleted", rec.Deleted).
		Set("content_digest", rec.ContentDigest).
		Set("content_type", rec.ContentType).
		Set("sequence", rec.Sequence).
		Set("author", rec.Author).
		Set("categories", cats).
		Set("updated_at", rec.UpdatedAt).
		Where(sq.Eq{"id": rec.InternalID, "revision": prevRevision}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return dbx.MapError("update entry "+rec.Identity.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
	case 0:
		return r.conflict(ctx, rec, prevRevision)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM entry_categories WHERE entry_uuid = $1`, rec.InternalID); err != nil {
		return dbx.MapError("delete categories", err)
	}
	return r.insertCategories(ctx, rec)
}

// conflict explains a zero-row update: the record is gone or moved on.
func (r *PostgresRepository) conflict(ctx context.Context, rec *models.EntryRecord, prevRevision int64) error {
	actual := models.EntryRecord{}
	err := r.db.QueryRowContext(ctx, `SELECT revision, content_digest FROM entries WHERE id = $1`, rec.InternalID).
		Scan(&actual.Revision, &actual.ContentDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return dbx.MapError("select revision", err)
	}
	return &common.ConflictError{
		Identity:         rec.Identity.Key(),
		ExpectedRevision: prevRevision,
		ActualRevision:   actual.Revision,
		ActualETag:       actual.ETag(),
	}
}

func (r *PostgresRepository) Obliterate(ctx context.Context, id models.EntryIdentity) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entries WHERE workspace = $1 AND collection = $2 AND entry_id = $3 AND locale = $4`,
		id.Workspace, id.Collection, id.EntryID, id.Locale)
	if err != nil {
		return dbx.MapError("obliterate "+id.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func refsPredicate(refs []models.CollectionRef) sq.Or {
	or := make(sq.Or, 0, len(refs))
	for _, ref := range refs {
		if ref.Collection == "" {
			or = append(or, sq.Eq{"e.workspace": ref.Workspace})
			continue
		}
		or = append(or, sq.Eq{"e.workspace": ref.Workspace, "e.collection": ref.Collection})
	}
	return or
}

func (r *PostgresRepository) SelectByEntryID(ctx context.Context, entryID string, refs []models.CollectionRef) ([]*models.EntryRecord, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	q, args, err := psql.Select(entryColumns...).From("entries e").
		Where(sq.Eq{"e.entry_id": entryID}).
		Where(refsPredicate(refs)).
		OrderBy("e.workspace", "e.collection", "e.locale").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return r.query(ctx, q, args)
}

func (r *PostgresRepository) SelectEntryIDs(ctx context.Context, refs []models.CollectionRef) ([]string, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	q, args, err := psql.Select("DISTINCT e.entry_id").From("entries e").
		Where(refsPredicate(refs)).
		OrderBy("e.entry_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbx.MapError("select entry ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func categoryExists(t query.Term) sq.Sqlizer {
	return sq.Expr("EXISTS (SELECT 1 FROM entry_categories c WHERE c.entry_uuid = e.id AND c.scheme = ? AND c.term = ?)",
		t.Scheme, t.Term)
}

func (r *PostgresRepository) Scan(ctx context.Context, scan models.FeedScan) ([]*models.EntryRecord, error) {
	b := psql.Select(entryColumns...).From("entries e").
		Where("e.workspace = ? AND e.collection = ?", scan.Workspace, scan.Collection).
		Where(sq.Gt{"e.sequence": scan.After})
	if scan.Until > 0 {
		b = b.Where(sq.LtOrEq{"e.sequence": scan.Until})
	}
	if scan.Query != nil {
		b = b.Where(query.ToSQL(scan.Query, categoryExists))
	}
	if !scan.UpdatedMin.IsZero() {
		b = b.Where(sq.GtOrEq{"e.updated_at": scan.UpdatedMin})
	}
	if !scan.UpdatedMax.IsZero() {
		b = b.Where(sq.Lt{"e.updated_at": scan.UpdatedMax})
	}
	if scan.ExcludeDeleted {
		b = b.Where("NOT e.deleted")
	}
	b = b.OrderBy("e.sequence", "e.id")
	if scan.Limit > 0 {
		b = b.Limit(uint64(scan.Limit))
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}
	return r.query(ctx, q, args)
}

func (r *PostgresRepository) query(ctx context.Context, q string, args []any) ([]*models.EntryRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbx.MapError("failed to select entries", err)
	}
	defer rows.Close()

	var result []*models.EntryRecord
	for rows.Next() {
		rec, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
