package errors_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	svcErr "github.com/oggyb/anon-relay/internal/errors"
)

func TestStorageWrapsDriverErrors(t *testing.T) {
	err := svcErr.Storage(errors.New("disk I/O error"))
	assert.ErrorIs(t, err, svcErr.ErrStorage)
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.Nil(t, svcErr.Storage(nil))
	assert.Equal(t, svcErr.ErrConflict, svcErr.Storage(svcErr.ErrConflict))
	assert.Equal(t, svcErr.ErrNotFound, svcErr.Storage(svcErr.ErrNotFound))
	assert.Equal(t, context.Canceled, svcErr.Storage(context.Canceled))
}

func TestMap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"throttled", svcErr.ErrThrottled, codes.ResourceExhausted},
		{"no partner", fmt.Errorf("relay: %w", svcErr.ErrNoPartner), codes.FailedPrecondition},
		{"conflict", svcErr.ErrConflict, codes.Aborted},
		{"not found", svcErr.ErrNotFound, codes.NotFound},
		{"not ready", svcErr.ErrNotReady, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"storage", svcErr.Storage(errors.New("secret dsn leaked")), codes.Unavailable},
		{"already a status", svcErr.InvalidArgument("bad token"), codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, svcErr.Code(tt.err))
		})
	}

	assert.Nil(t, svcErr.Map(nil))
}

func TestMapHidesStorageDetail(t *testing.T) {
	st, _ := status.FromError(svcErr.Map(svcErr.Storage(errors.New("host=db-primary:3306"))))
	assert.NotContains(t, st.Message(), "db-primary")
}
