// Package session manages transport sessions that survive stream reconnects.
package session

import "time"

// Session tracks one logical client across stream reconnects. Expiry is
// derived from LastActivity at lookup time; there is no stored deadline.
type Session struct {
	// ID combines a time component with random bytes, hex-encoded.
	ID string
	// Origin is the remote address that created the session.
	Origin string
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time
	// LastActivity is the last time the session was used (UTC).
	LastActivity time.Time
}

// Expired reports whether the session has been idle longer than timeout.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Now().UTC().Sub(s.LastActivity) > timeout
}

// Touch sets LastActivity to now.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}
