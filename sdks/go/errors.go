package fitbridge

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrSessionNotFound is returned when the server has no live session
	// under the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when the server rejects the bearer token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned when the server answers 429. The APIError
	// carries the Retry-After duration.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is returned for every non-success response from the server. Code
// is the stable machine-readable value from the response body; Message is
// the human-readable explanation.
type APIError struct {
	// Status is the HTTP status code of the response.
	Status int

	// Code is the machine-readable error code, e.g. "session_not_found".
	Code string

	// Message explains the error.
	Message string

	// RetryAfter is the server-suggested wait before retrying. Only set on
	// rate-limited responses.
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fitbridge [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("fitbridge: server returned HTTP %d", e.Status)
}

// Is reports whether this error matches the target sentinel. It supports
// errors.Is(err, ErrSessionNotFound), ErrUnauthorized, and ErrRateLimited.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrSessionNotFound:
		return e.Code == "session_not_found"
	case ErrUnauthorized:
		return e.Status == 401
	case ErrRateLimited:
		return e.Status == 429
	}
	return false
}
