package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Kind classifies a completion failure.
type Kind string

const (
	AuthenticationFailed Kind = "authentication_failed"
	RateLimited          Kind = "rate_limited"
	NetworkFailure       Kind = "network_failure"
	MalformedResponse    Kind = "malformed_response"
	Unknown              Kind = "unknown"
)

// CompletionError is returned by every Client in this package.
type CompletionError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CompletionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return "completion " + string(e.Kind) + ": " + msg
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline expiry.
func (e *CompletionError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// KindOf returns the Kind carried by err, or Unknown when err is not a
// CompletionError.
func KindOf(err error) Kind {
	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}

// kindForStatus maps an upstream HTTP status to a Kind.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthenticationFailed
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return NetworkFailure
	default:
		return Unknown
	}
}

// transportError classifies errors that never produced an HTTP status.
func transportError(err error) *CompletionError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &CompletionError{Kind: NetworkFailure, Message: "completion request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &CompletionError{Kind: NetworkFailure, Message: "completion request cancelled", Err: err}
	case errors.As(err, &netErr):
		return &CompletionError{Kind: NetworkFailure, Message: netErr.Error(), Err: err}
	default:
		return &CompletionError{Kind: Unknown, Message: err.Error(), Err: err}
	}
}
