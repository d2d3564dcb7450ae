package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConflictError_IsAndMessage(t *testing.T) {
	err := fmt.Errorf("mutate: %w", &ConflictError{
		Identity:         "acme/widgets/100",
		ExpectedRevision: 2,
		ActualRevision:   3,
		ActualETag:       "3-ab",
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "expected revision 2")
	assert.Contains(t, err.Error(), "actual 3-ab")

	var ce *ConflictError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(3), ce.ActualRevision)
}

func TestConflictError_Absent(t *testing.T) {
	err := &ConflictError{Identity: "x", ExpectedETag: "0-aa", ActualRevision: -1}
	assert.Contains(t, err.Error(), "expected 0-aa, actual absent")
}

func TestBadRequestError(t *testing.T) {
	err := NewBadRequest("end_index", "must be greater than start_index %d", 5)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.Equal(t, "bad request: end_index: must be greater than start_index 5", err.Error())

	err = &BadRequestError{Reason: "empty batch"}
	assert.Equal(t, "bad request: empty batch", err.Error())
}

func TestDuplicateInBatchError(t *testing.T) {
	err := &DuplicateInBatchError{Identity: "acme/widgets/100", FirstIndex: 0}
	assert.ErrorIs(t, err, ErrDuplicateInBatch)
	assert.Contains(t, err.Error(), "item 0")
}
