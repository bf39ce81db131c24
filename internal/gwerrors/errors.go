// Package gwerrors defines the gateway's structured error taxonomy and the
// HTTP status mapping the controller and handler layers rely on: a small,
// fixed set of capacity/transport/upstream/input/not-found/internal codes.
package gwerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the class of a GatewayError.
type Code string

const (
	// Capacity errors: the selection cascade found nothing usable.
	CodeAllFull         Code = "ALL_FULL"
	CodeAllUnavailable  Code = "ALL_UNAVAILABLE"
	CodeNoActiveServers Code = "NO_ACTIVE_SERVERS"

	// Transport errors: the outbound HTTP call itself failed.
	CodeTransportRefused Code = "TRANSPORT_REFUSED"
	CodeTransportTimeout Code = "TRANSPORT_TIMEOUT"
	CodeTransportAborted Code = "TRANSPORT_ABORTED"
	CodeTransportOther   Code = "TRANSPORT_OTHER"

	// Upstream semantic error: a parsed non-2xx body from a backend.
	CodeUpstream Code = "UPSTREAM_ERROR"

	// Edge errors.
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeTimeout      Code = "REQUEST_TIMEOUT"
)

// GatewayError is a structured error carrying the taxonomy code, a
// human-readable message, and — for upstream semantic errors — the
// backend's own status code and body so it can be passed through verbatim.
type GatewayError struct {
	Code           Code
	Message        string
	UpstreamStatus int    // only meaningful when Code == CodeUpstream
	UpstreamBody   []byte // only meaningful when Code == CodeUpstream
	Cause          error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *GatewayError) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error class might be resolved by retrying
// with a different backend. Only the three transport kinds qualify; capacity
// errors and upstream semantic errors are never retried.
func (e *GatewayError) IsRetryable() bool {
	switch e.Code {
	case CodeTransportRefused, CodeTransportTimeout, CodeTransportAborted:
		return true
	default:
		return false
	}
}

// HTTPStatusCode maps the error's code to the response status the handler
// layer should send, per the gateway's error taxonomy table.
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Code {
	case CodeAllFull, CodeAllUnavailable, CodeNoActiveServers:
		return http.StatusServiceUnavailable
	case CodeTransportRefused, CodeTransportTimeout, CodeTransportAborted, CodeTransportOther:
		return http.StatusServiceUnavailable
	case CodeUpstream:
		if e.UpstreamStatus != 0 {
			return e.UpstreamStatus
		}
		return http.StatusBadGateway
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a GatewayError with no cause.
func New(code Code, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// Wrap creates a GatewayError carrying cause as context. Returns nil if err
// is nil, so it composes with `if err := ...; err != nil { return
// gwerrors.Wrap(...) }` call sites without an extra nil check.
func Wrap(code Code, message string, cause error) *GatewayError {
	if cause == nil {
		return nil
	}
	return &GatewayError{Code: code, Message: message, Cause: cause}
}

// Upstream builds a GatewayError that carries a backend's own status and
// body through to the caller verbatim.
func Upstream(status int, body []byte) *GatewayError {
	return &GatewayError{
		Code:           CodeUpstream,
		Message:        fmt.Sprintf("upstream responded with status %d", status),
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// As extracts a *GatewayError from err, if any wraps one.
func As(err error) (*GatewayError, bool) {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// HTTPStatusCode returns the status code for any error: a GatewayError's own
// mapping, or 500 for anything else.
func HTTPStatusCode(err error) int {
	if ge, ok := As(err); ok {
		return ge.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// CapacityMessage renders the human-readable message the gateway requires
// for a capacity error; count and max are only rendered for CodeAllFull.
func CapacityMessage(code Code, count, max int) string {
	switch code {
	case CodeAllFull:
		return fmt.Sprintf("All API servers are full (%d/%d)", count, max)
	case CodeAllUnavailable:
		return "All API servers are unavailable"
	case CodeNoActiveServers:
		return "No active API servers available"
	default:
		return string(code)
	}
}
