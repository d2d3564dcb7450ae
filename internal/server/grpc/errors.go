package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/feedkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// statusCode maps domain errors onto gRPC codes.
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, common.ErrDuplicateEntry), errors.Is(err, common.ErrDuplicateInBatch):
		return codes.AlreadyExists
	case errors.Is(err, common.ErrConflict):
		return codes.Aborted
	case errors.Is(err, common.ErrBadRequest):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrLockUnavailable):
		return codes.Unavailable
	case errors.Is(err, common.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, common.ErrNotModified):
		return codes.FailedPrecondition
	case errors.Is(err, common.ErrPageLimitExceeded):
		return codes.ResourceExhausted
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrUnauthorized):
		return codes.Unauthenticated
	}
	return codes.Internal
}

func toStatus(err error) error {
	code := statusCode(err)
	switch code {
	case codes.Internal:
		return status.Error(code, "internal error")
	case codes.FailedPrecondition:
		return status.Error(code, "not modified")
	}
	return status.Error(code, err.Error())
}

// fail logs unexpected errors and converts err for the wire.
func (s *GRPCServer) fail(ctx context.Context, op string, err error) error {
	if statusCode(err) == codes.Internal {
		s.logger.Error(ctx, op+" failed", "error", err)
	}
	return toStatus(err)
}
