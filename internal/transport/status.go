package transport

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cairijun/pork/internal/pork"
)

// wrapError translates a pork sentinel error into a gRPC status error
// carrying the equivalent code, falling back to Internal for anything
// unrecognized (including nil, which this never receives — callers only
// invoke it when err != nil).
func wrapError(err error) error {
	switch {
	case errors.Is(err, pork.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, pork.ErrUnknownID):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, pork.ErrInvariantViolation):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, pork.ErrCoordinationFailure):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, pork.ErrTransportFailure):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// unwrapError recovers the pork sentinel best matching a gRPC status code
// received from a peer, for client-side callers that want to errors.Is
// against the same sentinels a local call would return.
func unwrapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return errors.Join(pork.ErrTimeout, err)
	case codes.NotFound:
		return errors.Join(pork.ErrUnknownID, err)
	case codes.Unavailable:
		return errors.Join(pork.ErrTransportFailure, err)
	default:
		return err
	}
}
