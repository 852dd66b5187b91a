package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is the default session inactivity timeout.
const DefaultTimeout = 30 * 24 * time.Hour

// DefaultSweepInterval is the default background sweep cadence. It is
// deliberately much coarser than the timeout; expiry is also enforced on
// every lookup, so the sweeper only reclaims memory.
const DefaultSweepInterval = time.Hour

// Config holds registry configuration.
type Config struct {
	// Timeout is the inactivity duration after which a session expires.
	// Default: 30 days.
	Timeout time.Duration
	// SweepInterval is how often the background sweeper runs. Default: 1 hour.
	SweepInterval time.Duration
}

// Registry manages session lifecycle. It owns the single timeout constant:
// both the lookup path and the sweeper derive expiry from it.
type Registry struct {
	store         Store
	timeout       time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex // serializes compound get-then-put operations
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRegistry creates a Registry with the given store and config.
func NewRegistry(store Store, cfg Config) *Registry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Registry{
		store:         store,
		timeout:       timeout,
		sweepInterval: sweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Timeout returns the configured inactivity timeout.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// GetOrCreate resolves id to a session. A live session is returned as-is,
// with LastActivity unchanged, so resumption does not silently refresh the
// clock. An absent or expired id yields a fresh session under that id; an
// empty id yields a fresh session under a generated id. The bool reports
// whether a session was created.
func (r *Registry) GetOrCreate(ctx context.Context, id, origin string) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		existing, err := r.store.Get(ctx, id)
		switch {
		case err == nil && !existing.Expired(r.timeout):
			return existing, false, nil
		case err == nil:
			// Expired under this id: replace with a fresh session below.
			_ = r.store.Delete(ctx, id)
		case !errors.Is(err, ErrSessionNotFound):
			return nil, false, err
		}
	} else {
		generated, err := GenerateID()
		if err != nil {
			return nil, false, err
		}
		id = generated
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:           id,
		Origin:       origin,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := r.store.Put(ctx, sess); err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, true, nil
}

// Get returns the live session named by id. An expired entry is removed and
// reported as ErrSessionNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Expired(r.timeout) {
		_ = r.store.Delete(ctx, id)
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Touch sets the session's LastActivity to now. Absent ids are a silent no-op.
func (r *Registry) Touch(ctx context.Context, id string) {
	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return
	}
	sess.Touch()
	_ = r.store.Update(ctx, sess)
}

// Standing describes what the registry knows about an id.
type Standing int

const (
	// StandingUnknown: the id names no stored session.
	StandingUnknown Standing = iota
	// StandingLive: the session exists and has not expired.
	StandingLive
	// StandingExpired: the session existed but sat idle past the timeout.
	StandingExpired
)

// TouchLive refreshes LastActivity when id names a live session and reports
// the id's standing. An expired entry is removed as a side effect, so a
// subsequent GetOrCreate under the same id starts fresh.
func (r *Registry) TouchLive(ctx context.Context, id string) Standing {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return StandingUnknown
	}
	if sess.Expired(r.timeout) {
		_ = r.store.Delete(ctx, id)
		return StandingExpired
	}
	sess.Touch()
	_ = r.store.Update(ctx, sess)
	return StandingLive
}

// IsLive reports whether id names a session that exists and has not expired.
func (r *Registry) IsLive(ctx context.Context, id string) bool {
	sess, err := r.store.Get(ctx, id)
	return err == nil && !sess.Expired(r.timeout)
}

// Remove deletes the session. Removing an absent id is not an error.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.store.Delete(ctx, id)
}

// Count returns the number of stored sessions, expired included.
func (r *Registry) Count(ctx context.Context) int {
	n, err := r.store.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}

// SweepExpired removes every session idle longer than the timeout and
// returns how many were removed.
func (r *Registry) SweepExpired(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.timeout)
	n, err := r.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		slog.Warn("session sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		slog.Debug("swept expired sessions", "count", n)
	}
	return n
}

// StartSweep launches the background sweeper. It stops when ctx is cancelled
// or Stop is called.
func (r *Registry) StartSweep(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.SweepExpired(ctx)
			}
		}
	}()
}

// Stop halts the background sweeper and waits for it to exit. Safe to call
// multiple times.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// GenerateID creates a session id that is not guessable from a timestamp
// alone: 8 bytes of big-endian unix-nano time followed by 16 bytes from
// crypto/rand, hex-encoded to 48 characters.
func GenerateID() (string, error) {
	var b [24]byte
	binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
	if _, err := rand.Read(b[8:]); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
