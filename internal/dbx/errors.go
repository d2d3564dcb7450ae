package dbx

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes we react to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// IsRetryable reports whether err is a transient conflict that a fresh
// transaction attempt may resolve.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// MapError converts driver errors to common errors, keeping the original
// in the chain. op names the failed operation.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, common.ErrTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, common.ErrDuplicateEntry, err)
		case codeLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, common.ErrLockUnavailable, err)
		case codeQueryCanceled:
			return fmt.Errorf("%s: %w: %w", op, common.ErrTimeout, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
