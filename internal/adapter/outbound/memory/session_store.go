package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fitbridge/fitbridge/internal/domain/session"
)

// SessionStore implements session.Store with an in-memory map.
// Thread-safe for concurrent access. Expiry policy lives in the registry;
// the store only removes entries when told to (Delete/DeleteExpired).
type SessionStore struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session.Session),
	}
}

// Put stores a session, replacing any existing entry under the same id.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation.
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Get retrieves a session by id, expired or not.
// Returns session.ErrSessionNotFound when no entry exists.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, session.ErrSessionNotFound
	}

	// Return a copy to prevent mutation.
	return copySession(sess), nil
}

// Update saves changes to an existing session.
func (s *SessionStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return session.ErrSessionNotFound
	}

	s.sessions[sess.ID] = copySession(sess)
	return nil
}

// Delete removes a session. Removing an absent id is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// DeleteExpired removes all sessions whose LastActivity is before cutoff.
func (s *SessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of sessions currently stored.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// copySession creates a copy of a session.
func copySession(sess *session.Session) *session.Session {
	cp := *sess
	return &cp
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
