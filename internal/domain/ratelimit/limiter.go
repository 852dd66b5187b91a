package ratelimit

// Limiter is the interface for fixed-window rate limiting.
//
// Counters are ephemeral in-process state: a window's count resets on
// rollover and is lost on restart. The split between Allow, Check, and
// Record exists for the auth stage, where the limiter is consulted before
// verification but only FAILED attempts are counted.
type Limiter interface {
	// Allow counts a request against key's window and reports whether it fit.
	Allow(key string, config Config) Result

	// Check reports the state of key's window without counting anything.
	Check(key string, config Config) Result

	// Record counts a request against key's window without gating.
	Record(key string, config Config)
}
