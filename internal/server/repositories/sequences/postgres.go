package sequences

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/dbx"
)

// PostgresRepository keeps one row per scope. The row lock taken by Next is
// held until the surrounding transaction ends, so concurrent writers of a
// scope commit in sequence order.
type PostgresRepository struct {
	db          dbx.DBTX
	lockTimeout time.Duration
}

// NewPostgresRepository binds the repository to db, which should be a
// transaction. A positive lockTimeout bounds the wait for the scope row.
func NewPostgresRepository(db dbx.DBTX, lockTimeout time.Duration) *PostgresRepository {
	return &PostgresRepository{db: db, lockTimeout: lockTimeout}
}

func (r *PostgresRepository) Next(ctx context.Context, scope string) (int64, error) {
	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return 0, dbx.MapError("set lock timeout", err)
		}
	}

	var v int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sequences (scope, value) VALUES ($1, 1)
		ON CONFLICT (scope) DO UPDATE SET value = sequences.value + 1
		RETURNING value`, scope).Scan(&v)
	if err != nil {
		return 0, dbx.MapError("next sequence "+scope, err)
	}
	return v, nil
}

func (r *PostgresRepository) Current(ctx context.Context, scope string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE scope = $1`, scope).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, dbx.MapError("current sequence "+scope, err)
	}
	return v, nil
}
