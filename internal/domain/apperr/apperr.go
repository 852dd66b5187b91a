// Package apperr defines the error taxonomy surfaced at the transport boundary.
//
// Every error answered to a client maps to one Kind, which fixes the HTTP
// status, the machine-readable code, and the production-safe message. Wrapped
// causes stay available through errors.Is/errors.As for logging, but never
// leak to clients when production mode is on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the transport boundary.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota
	// KindConfiguration marks invalid startup configuration. Fatal at startup only.
	KindConfiguration
	// KindAuthentication marks a failed bearer-token check.
	KindAuthentication
	// KindRateLimit marks a request rejected by a rate limiter.
	KindRateLimit
	// KindSessionNotFound marks an unknown or expired session id.
	KindSessionNotFound
	// KindUpstream marks a failure talking to the fitness API.
	KindUpstream
	// KindBadRequest marks a malformed client request.
	KindBadRequest
)

// Code returns the stable machine-readable code for the kind. This is the
// "error" field of JSON error bodies.
func (k Kind) Code() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindAuthentication:
		return "unauthorized"
	case KindRateLimit:
		return "rate_limited"
	case KindSessionNotFound:
		return "session_not_found"
	case KindUpstream:
		return "upstream_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the HTTP status code for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// safeMessage is the fixed vocabulary used in production mode so that
// internal detail never reaches clients.
func (k Kind) safeMessage() string {
	switch k {
	case KindConfiguration:
		return "invalid configuration"
	case KindAuthentication:
		return "authentication failed"
	case KindRateLimit:
		return "rate limit exceeded"
	case KindSessionNotFound:
		return "session not found or expired"
	case KindUpstream:
		return "upstream request failed"
	case KindBadRequest:
		return "invalid request"
	default:
		return "internal server error"
	}
}

// Error is a classified error. Message is the development-mode client text;
// Err is the wrapped cause (log-only).
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the full message including the wrapped cause.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClientMessage returns the message to put in the JSON body. In production
// mode the kind's fixed vocabulary is used instead of the detailed message.
func (e *Error) ClientMessage(production bool) string {
	if production || e.Message == "" {
		return e.Kind.safeMessage()
	}
	return e.Message
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, keeping it available via Unwrap.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError converts any error to a classified *Error, wrapping unclassified
// ones as KindInternal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "unexpected error", Err: err}
}
