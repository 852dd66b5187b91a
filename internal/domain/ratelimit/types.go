// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the parameters of one fixed window.
type Config struct {
	// Limit is the number of allowed events per window.
	Limit int

	// Window is the fixed time window. Counters reset on rollover.
	Window time.Duration
}

// Result contains the outcome of a limiter check.
type Result struct {
	// Allowed indicates whether the request fits in the current window.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is the duration until the window resets.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// KeyType identifies the type of rate limit key.
type KeyType string

const (
	// KeyTypeIP is for the general per-origin-IP limiter.
	KeyTypeIP KeyType = "ip"

	// KeyTypeAuth is for the stricter limiter wrapping the bearer check.
	KeyTypeAuth KeyType = "auth"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeIP, "192.168.1.1") -> "ratelimit:ip:192.168.1.1"
//   - FormatKey(KeyTypeAuth, "192.168.1.1") -> "ratelimit:auth:192.168.1.1"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
