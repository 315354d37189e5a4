package bridge

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeNetError struct {
	timeout bool
}

func (e *fakeNetError) Error() string   { return "fake net error" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

func TestCodeTransient(t *testing.T) {
	tests := []struct {
		code      Code
		transient bool
	}{
		{CodeNetwork, true},
		{CodeTimeout, true},
		{CodeUnauthorized, false},
		{CodeForbidden, false},
		{CodeServer, false},
		{CodeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.transient, tt.code.Transient())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "TIMEOUT", NewError(CodeTimeout, "").Error())
	assert.Equal(t, "SERVER_ERROR: boom", NewError(CodeServer, "boom").Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"deadline exceeded", context.DeadlineExceeded, CodeTimeout},
		{"canceled", context.Canceled, CodeTimeout},
		{"wrapped deadline", errors.Join(errors.New("call foo"), context.DeadlineExceeded), CodeTimeout},
		{"net timeout", &fakeNetError{timeout: true}, CodeTimeout},
		{"net error", &fakeNetError{}, CodeNetwork},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("refused")}, CodeNetwork},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), CodeNetwork},
		{"grpc aborted", status.Error(codes.Aborted, "aborted"), CodeNetwork},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "slow"), CodeTimeout},
		{"grpc unauthenticated", status.Error(codes.Unauthenticated, "who"), CodeUnauthorized},
		{"grpc permission denied", status.Error(codes.PermissionDenied, "no"), CodeForbidden},
		{"grpc internal", status.Error(codes.Internal, "broken"), CodeServer},
		{"grpc not found", status.Error(codes.NotFound, "missing"), CodeServer},
		{"plain error", errors.New("something odd"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := Classify(tt.err)
			require.NotNil(t, be)
			assert.Equal(t, tt.want, be.Code)
		})
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestClassifyPassThrough(t *testing.T) {
	be := NewError(CodeForbidden, "no access")
	assert.Same(t, be, Classify(be))
}

// The same underlying condition must map to the same code on every call, so
// UI logic can pattern-match across retries.
func TestClassifyStable(t *testing.T) {
	err := status.Error(codes.Unauthenticated, "expired")
	first := Classify(err)
	for range 10 {
		assert.Equal(t, first.Code, Classify(err).Code)
	}
}

func TestAsError(t *testing.T) {
	be, ok := AsError(NewError(CodeServer, "x"))
	require.True(t, ok)
	assert.Equal(t, CodeServer, be.Code)

	_, ok = AsError(errors.New("plain"))
	assert.False(t, ok)
}
