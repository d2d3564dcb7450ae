// Package dbx provides small DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// and helpers to run functions inside a transaction.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// TxOptions controls Run.
//
// Timeout bounds the whole call including retries. Retries is the number of
// extra attempts made after a serialization failure or deadlock; other
// errors are returned at once.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
	Retries   uint64
	Backoff   time.Duration
}

const defaultBackoff = 10 * time.Millisecond

// Run executes fn in a transaction via WithTx, retrying retryable failures
// with exponential backoff. A timeout surfaces as common.ErrTimeout.
//
//	err := dbx.Run(ctx, db, dbx.TxOptions{Timeout: 5 * time.Second, Retries: 3},
//	    func(ctx context.Context, tx dbx.DBTX) error {
//	        _, err := tx.ExecContext(ctx, "UPDATE ...")
//	        return err
//	    })
func Run(ctx context.Context, db *sql.DB, o TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	base := o.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	backoff := retry.WithMaxRetries(o.Retries, retry.NewExponential(base))
	sqlOpts := &sql.TxOptions{Isolation: o.Isolation, ReadOnly: o.ReadOnly}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := WithTx(ctx, db, sqlOpts, fn)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, common.ErrTimeout) {
		return fmt.Errorf("%w: %w", common.ErrTimeout, err)
	}
	return err
}
