// Package auth verifies bearer tokens for the transport security gate.
//
// The configured secret is either a plain token or a stored hash (Argon2id
// PHC or prefixed SHA-256). All comparisons are constant-time: plain tokens
// are reduced to SHA-256 digests before comparing, so candidate length never
// changes which code path runs.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash type identifiers returned by DetectHashType.
const (
	HashTypeArgon2id = "argon2id"
	HashTypeSHA256   = "sha256"
	HashTypeUnknown  = "unknown"
)

// SecureCompare reports whether candidate equals reference without leaking
// timing information. Both inputs are hashed to fixed-size digests first, so
// a length mismatch runs the exact same comparison as a match. Empty
// candidate or reference is a no-match, never a panic.
func SecureCompare(candidate, reference string) bool {
	if candidate == "" || reference == "" {
		return false
	}
	candidateDigest := sha256.Sum256([]byte(candidate))
	referenceDigest := sha256.Sum256([]byte(reference))
	return subtle.ConstantTimeCompare(candidateDigest[:], referenceDigest[:]) == 1
}

// HashToken returns the SHA-256 hex digest of the raw token.
func HashToken(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:])
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 46 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashTokenArgon2id returns an Argon2id hash of the raw token in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashTokenArgon2id(raw string) (string, error) {
	return argon2id.CreateHash(raw, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for prefixed or bare hex,
// "unknown" for unrecognized formats.
func DetectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return HashTypeArgon2id
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return HashTypeSHA256
	}
	// Bare SHA-256 hex is exactly 64 hex characters.
	if len(storedHash) == 64 && isHexString(storedHash) {
		return HashTypeSHA256
	}
	return HashTypeUnknown
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifyTokenHash verifies a raw token against a stored hash.
// Supports Argon2id (PHC format), SHA-256 prefixed, and bare SHA-256 hex.
// Returns (true, nil) on match, (false, nil) on mismatch,
// (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyTokenHash(raw, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case HashTypeArgon2id:
		return safeArgon2idCompare(raw, storedHash)

	case HashTypeSHA256:
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashToken(raw)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil

	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying argon2 library panics on malformed hashes with
// invalid parameters (e.g., t=0 rounds), so those become errors instead.
func safeArgon2idCompare(raw, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, storedHash)
}

// Verifier checks presented bearer tokens against the configured secret.
// Exactly one of token (plain) or tokenHash (stored hash) is set; when both
// are empty the gate's auth stage is disabled.
type Verifier struct {
	token     string
	tokenHash string
}

// NewVerifier creates a Verifier from the configured secret material.
func NewVerifier(token, tokenHash string) *Verifier {
	return &Verifier{token: token, tokenHash: tokenHash}
}

// Enabled reports whether any secret is configured.
func (v *Verifier) Enabled() bool {
	return v.token != "" || v.tokenHash != ""
}

// Verify reports whether the candidate token matches the configured secret.
// Hash verification errors count as a mismatch.
func (v *Verifier) Verify(candidate string) bool {
	if !v.Enabled() || candidate == "" {
		return false
	}
	if v.tokenHash != "" {
		match, err := VerifyTokenHash(candidate, v.tokenHash)
		return err == nil && match
	}
	return SecureCompare(candidate, v.token)
}
