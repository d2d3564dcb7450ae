// Package common defines shared constants and error values used across
// feedkeeper layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Mutation errors.
	ErrConflict         = errors.New("optimistic concurrency conflict")
	ErrDuplicateInBatch = errors.New("duplicate in batch")

	// Request errors.
	ErrBadRequest        = errors.New("bad request")
	ErrNotModified       = errors.New("not modified")
	ErrPageLimitExceeded = errors.New("transaction exceeds maximum page size")

	// Resource errors; the surrounding transaction is rolled back.
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrTimeout         = errors.New("timeout")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// ConflictError reports a precondition mismatch. Actual values describe the
// stored state; ActualRevision is -1 when no record exists.
type ConflictError struct {
	Identity         string
	ExpectedRevision int64
	ExpectedETag     string
	ActualRevision   int64
	ActualETag       string
}

func (e *ConflictError) Error() string {
	expected := e.ExpectedETag
	if expected == "" {
		expected = fmt.Sprintf("revision %d", e.ExpectedRevision)
	}
	actual := e.ActualETag
	if e.ActualRevision < 0 {
		actual = "absent"
	}
	return fmt.Sprintf("%s: %s: expected %s, actual %s", ErrConflict, e.Identity, expected, actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// BadRequestError describes which request field was rejected.
type BadRequestError struct {
	Field  string
	Reason string
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrBadRequest, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrBadRequest, e.Field, e.Reason)
}

func (e *BadRequestError) Is(target error) bool {
	return target == ErrBadRequest
}

// NewBadRequest is a shorthand for &BadRequestError{...}.
func NewBadRequest(field, format string, args ...any) error {
	return &BadRequestError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DuplicateInBatchError marks a batch item whose identity was already
// claimed by the item at FirstIndex.
type DuplicateInBatchError struct {
	Identity   string
	FirstIndex int
}

func (e *DuplicateInBatchError) Error() string {
	return fmt.Sprintf("%s: %s already submitted at item %d", ErrDuplicateInBatch, e.Identity, e.FirstIndex)
}

func (e *DuplicateInBatchError) Is(target error) bool {
	return target == ErrDuplicateInBatch
}
