package aggregates

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

var aggregateColumns = []string{
	"a.join_name", "a.join_key", "a.members", "a.categories", "a.sequence", "a.deleted", "a.updated_at",
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAggregate(row rowScanner) (*models.AggregateEntry, error) {
	var (
		agg           models.AggregateEntry
		members, cats []byte
	)
	if err := row.Scan(&agg.Join, &agg.JoinKey, &members, &cats, &agg.Sequence, &agg.Deleted, &agg.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(members, &agg.Members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if err := json.Unmarshal(cats, &agg.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	return &agg, nil
}

func (r *PostgresRepository) Select(ctx context.Context, join, key string) (*models.AggregateEntry, error) {
	q, args, err := psql.Select(aggregateColumns...).From("aggregates a").
		Where("a.join_name = ? AND a.join_key = ?", join, key).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	agg, err := scanAggregate(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, dbx.MapError("select aggregate", err)
	}
	return agg, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, agg *models.AggregateEntry) error {
	members, err := json.Marshal(agg.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	cats := models.NormalizeCategories(agg.Categories)
	catsJSON, err := json.Marshal(cats)
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}

	q, args, err := psql.Insert("aggregates").
		Columns("join_name", "join_key", "members", "categories", "sequence", "deleted", "updated_at").
		Values(agg.Join, agg.JoinKey, string(members), string(catsJSON), agg.Sequence, agg.Deleted, agg.UpdatedAt).
		Suffix(`ON CONFLICT (join_name, join_key) DO UPDATE SET
			members = EXCLUDED.members,
			categories = EXCLUDED.categories,
			sequence = EXCLUDED.sequence,
			deleted = EXCLUDED.deleted,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return dbx.MapError("upsert aggregate", err)
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM aggregate_categories WHERE join_name = $1 AND join_key = $2`, agg.Join, agg.JoinKey); err != nil {
		return dbx.MapError("delete aggregate categories", err)
	}
	if len(cats) == 0 {
		return nil
	}
	b := psql.Insert("aggregate_categories").Columns("join_name", "join_key", "scheme", "term")
	for _, c := range cats {
		b = b.Values(agg.Join, agg.JoinKey, c.Scheme, c.Term)
	}
	q, args, err = b.ToSql()
	if err != nil {
		return fmt.Errorf("build category insert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return dbx.MapError("insert aggregate categories", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, join, key string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM aggregates WHERE join_name = $1 AND join_key = $2`, join, key); err != nil {
		return dbx.MapError("delete aggregate", err)
	}
	return nil
}

func (r *PostgresRepository) Keys(ctx context.Context, join string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT join_key FROM aggregates WHERE join_name = $1 ORDER BY join_key`, join)
	if err != nil {
		return nil, dbx.MapError("select aggregate keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func categoryExists(t query.Term) sq.Sqlizer {
	return sq.Expr("EXISTS (SELECT 1 FROM aggregate_categories c WHERE c.join_name = a.join_name AND c.join_key = a.join_key AND c.scheme = ? AND c.term = ?)",
		t.Scheme, t.Term)
}

func (r *PostgresRepository) Scan(ctx context.Context, join string, scan models.FeedScan) ([]*models.AggregateEntry, error) {
	b := psql.Select(aggregateColumns...).From("aggregates a").
		Where(sq.Eq{"a.join_name": join}).
		Where(sq.Gt{"a.sequence": scan.After})
	if scan.Until > 0 {
		b = b.Where(sq.LtOrEq{"a.sequence": scan.Until})
	}
	if scan.Query != nil {
		b = b.Where(query.ToSQL(scan.Query, categoryExists))
	}
	if !scan.UpdatedMin.IsZero() {
		b = b.Where(sq.GtOrEq{"a.updated_at": scan.UpdatedMin})
	}
	if !scan.UpdatedMax.IsZero() {
		b = b.Where(sq.Lt{"a.updated_at": scan.UpdatedMax})
	}
	if scan.ExcludeDeleted {
		b = b.Where("NOT a.deleted")
	}
	b = b.OrderBy("a.sequence", "a.join_key")
	if scan.Limit > 0 {
		b = b.Limit(uint64(scan.Limit))
	}

	q, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build scan: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbx.MapError("scan aggregates", err)
	}
	defer rows.Close()

	var out []*models.AggregateEntry
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}
