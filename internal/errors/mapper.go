// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

// Map converts core/infra errors into gRPC-friendly status errors.
// Storage faults are reported without detail so infrastructure state never
// reaches a client.
func Map(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrThrottled):
		return status.Error(codes.ResourceExhausted, "slow down")

	case errors.Is(err, ErrNoPartner):
		return status.Error(codes.FailedPrecondition, "no active partner")

	case errors.Is(err, ErrConflict):
		return status.Error(codes.Aborted, "pairing conflict, retry")

	case errors.Is(err, ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return status.Error(codes.NotFound, "record not found")

	case errors.Is(err, ErrNotReady):
		return status.Error(codes.Unavailable, "service starting")

	case errors.Is(err, ErrDeliveryFailed):
		return status.Error(codes.Unavailable, "delivery failed")

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request was canceled")

	default:
		return status.Error(codes.Unavailable, "try again later")
	}
}

// Code returns the gRPC code Map would assign to err.
func Code(err error) codes.Code {
	return status.Code(Map(err))
}

// InvalidArgument creates a gRPC InvalidArgument error.
// Use this for bad input validation.
func InvalidArgument(msg string) error {
	return status.Error(codes.InvalidArgument, msg)
}
