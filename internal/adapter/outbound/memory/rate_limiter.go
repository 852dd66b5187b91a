// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fitbridge/fitbridge/internal/domain/ratelimit"
)

// windowEntry tracks request counts for a single key within one fixed window.
type windowEntry struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter implements ratelimit.Limiter with per-key fixed windows.
// Thread-safe for concurrent access. Counters reset on window rollover and
// are lost on restart. Expired entries are dropped lazily inside the lock and
// by an optional background cleanup for idle periods.
type FixedWindowLimiter struct {
	mu              sync.Mutex
	entries         map[string]*windowEntry
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewFixedWindowLimiter creates a limiter with the default cleanup interval
// of 5 minutes.
func NewFixedWindowLimiter() *FixedWindowLimiter {
	return NewFixedWindowLimiterWithConfig(5 * time.Minute)
}

// NewFixedWindowLimiterWithConfig creates a limiter with a custom background
// cleanup interval.
func NewFixedWindowLimiterWithConfig(cleanupInterval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		entries:         make(map[string]*windowEntry),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// Allow counts a request against key's window and reports whether it fit.
func (l *FixedWindowLimiter) Allow(key string, cfg ratelimit.Config) ratelimit.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.dropExpiredLocked(now)

	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = &windowEntry{count: 1, resetAt: now.Add(cfg.Window)}
		return ratelimit.Result{Allowed: true, Remaining: limit - 1}
	}

	if entry.count >= limit {
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: entry.resetAt.Sub(now),
		}
	}

	entry.count++
	return ratelimit.Result{Allowed: true, Remaining: limit - entry.count}
}

// Check reports the state of key's window without counting anything.
func (l *FixedWindowLimiter) Check(key string, cfg ratelimit.Config) ratelimit.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	limit := cfg.Limit
	if limit <= 0 {
		limit = 1
	}

	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		return ratelimit.Result{Allowed: true, Remaining: limit}
	}

	if entry.count >= limit {
		return ratelimit.Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: entry.resetAt.Sub(now),
		}
	}

	return ratelimit.Result{Allowed: true, Remaining: limit - entry.count}
}

// Record counts a request against key's window without gating.
func (l *FixedWindowLimiter) Record(key string, cfg ratelimit.Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		l.entries[key] = &windowEntry{count: 1, resetAt: now.Add(cfg.Window)}
		return
	}
	entry.count++
}

// dropExpiredLocked removes entries whose window has rolled over.
// Must be called with the lock held.
func (l *FixedWindowLimiter) dropExpiredLocked(now time.Time) {
	for k, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, k)
		}
	}
}

// StartCleanup starts the background cleanup goroutine. It covers idle
// periods where no Allow call triggers the lazy cleanup. It stops when ctx
// is cancelled or Stop() is called.
func (l *FixedWindowLimiter) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

// cleanup removes expired windows under the lock.
func (l *FixedWindowLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.entries)
	l.dropExpiredLocked(time.Now())
	if cleaned := before - len(l.entries); cleaned > 0 {
		slog.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(l.entries))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (l *FixedWindowLimiter) Stop() {
	l.once.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Size returns the current number of tracked keys.
// Useful for testing and the rate-limit-keys gauge.
func (l *FixedWindowLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*FixedWindowLimiter)(nil)
