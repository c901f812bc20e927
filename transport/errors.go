package transport

import (
	"errors"

	"github.com/signalsfoundry/cosim-runtime/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps core sentinel errors onto gRPC status codes for the
// runtime's externally-exposed RPCs.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrInvalidHandle):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, core.ErrNameCollision),
		errors.Is(err, core.ErrLocalNameCollision),
		errors.Is(err, core.ErrSingleConnectionOnly),
		errors.Is(err, core.ErrRequired):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, core.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrInitTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, core.ErrTransportFailure):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
