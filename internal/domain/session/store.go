package session

import (
	"context"
	"errors"
	"time"
)

// Store provides session bookkeeping. The only implementation is in-memory;
// the interface is defined in the domain to keep adapters swappable in tests.
type Store interface {
	// Put stores a session, replacing any existing entry under the same id.
	Put(ctx context.Context, session *Session) error

	// Get retrieves a session by id, expired or not.
	// Returns ErrSessionNotFound when no entry exists.
	Get(ctx context.Context, id string) (*Session, error)

	// Update saves changes to an existing session.
	// Returns ErrSessionNotFound when no entry exists.
	Update(ctx context.Context, session *Session) error

	// Delete removes a session. Removing an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes all sessions whose LastActivity is before cutoff
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)

	// Count returns the number of stored sessions, expired included.
	Count(ctx context.Context) (int, error)
}

// ErrSessionNotFound is returned when a session doesn't exist or has expired.
var ErrSessionNotFound = errors.New("session not found")
