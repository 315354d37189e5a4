package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies a bridge failure. The set is closed for this layer; the
// dispatcher maps every transport failure to exactly one Code, and the same
// underlying condition always maps to the same Code across calls so UI logic
// can pattern-match reliably (e.g. re-login prompt on CodeUnauthorized).
type Code string

const (
	CodeNetwork      Code = "NETWORK_ERROR" // transport unreachable
	CodeTimeout      Code = "TIMEOUT"       // attempt deadline exceeded
	CodeUnauthorized Code = "UNAUTHORIZED"  // identity missing or rejected
	CodeForbidden    Code = "FORBIDDEN"     // identity valid, access denied
	CodeServer       Code = "SERVER_ERROR"  // host-side handler failure
	CodeUnknown      Code = "UNKNOWN_ERROR" // unclassified, never retried
)

// Transient reports whether a failure with this code is eligible for
// automatic retry. Everything outside network/timeout is terminal for the
// call: retrying an UNAUTHORIZED can only burn the retry budget.
func (c Code) Transient() bool {
	return c == CodeNetwork || c == CodeTimeout
}

// Error is the single failure shape surfaced by the dispatcher and the
// subscription registry. It never carries a raw transport error; callers
// branch on Code and treat Details as opaque diagnostics.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a classified bridge error.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf builds a classified bridge error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a *Error from err, if err is (or wraps) one.
func AsError(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// Classify converts an arbitrary transport failure into a *Error. The mapping
// is total: whatever the transport produced, the caller observes a tagged
// bridge error. Already-classified errors pass through verbatim.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	if be, ok := AsError(err); ok {
		return be
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeTimeout, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return NewError(CodeTimeout, "call abandoned")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(CodeTimeout, "transport deadline exceeded")
		}
		return NewError(CodeNetwork, err.Error())
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewError(CodeNetwork, err.Error())
	}

	// Hosts fronted by gRPC surface status errors; fold them through the
	// same table so downstream handling does not depend on the transport.
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return fromGRPCStatus(st)
	}

	return NewError(CodeUnknown, err.Error())
}

func fromGRPCStatus(st *status.Status) *Error {
	var code Code
	switch st.Code() {
	case codes.Unavailable, codes.Aborted:
		code = CodeNetwork
	case codes.DeadlineExceeded:
		code = CodeTimeout
	case codes.Unauthenticated:
		code = CodeUnauthorized
	case codes.PermissionDenied:
		code = CodeForbidden
	case codes.Internal, codes.DataLoss, codes.ResourceExhausted, codes.FailedPrecondition,
		codes.NotFound, codes.InvalidArgument, codes.Unimplemented:
		code = CodeServer
	default:
		code = CodeUnknown
	}
	return NewError(code, st.Message())
}
