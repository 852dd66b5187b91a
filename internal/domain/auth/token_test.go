package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reference string
		want      bool
	}{
		{
			name:      "exact match",
			candidate: "secret-token-12345",
			reference: "secret-token-12345",
			want:      true,
		},
		{
			name:      "mismatch same length",
			candidate: "secret-token-12345",
			reference: "secret-token-54321",
			want:      false,
		},
		{
			name:      "mismatch different length",
			candidate: "short",
			reference: "a-much-longer-reference-token-value",
			want:      false,
		},
		{
			name:      "empty candidate",
			candidate: "",
			reference: "secret-token-12345",
			want:      false,
		},
		{
			name:      "empty reference",
			candidate: "secret-token-12345",
			reference: "",
			want:      false,
		},
		{
			name:      "both empty",
			candidate: "",
			reference: "",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SecureCompare(tt.candidate, tt.reference)
			if got != tt.want {
				t.Errorf("SecureCompare(%q, %q) = %v, want %v", tt.candidate, tt.reference, got, tt.want)
			}
		})
	}
}

func TestSecureCompareLengthMismatchStillCompares(t *testing.T) {
	// The digest normalization means a length mismatch runs the same
	// fixed-size comparison as a match; it must return false without
	// panicking for any length combination.
	reference := "reference-token"
	for _, candidate := range []string{"x", "xx", strings.Repeat("x", 1000), reference + "x"} {
		if SecureCompare(candidate, reference) {
			t.Errorf("SecureCompare(%q, reference) = true, want false", candidate)
		}
	}
	if !SecureCompare(reference, reference) {
		t.Error("SecureCompare(reference, reference) = false, want true")
	}
}

func TestHashToken(t *testing.T) {
	// SHA-256 of empty string is a well-known value.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := HashToken(""); got != want {
		t.Errorf("HashToken(\"\") = %q, want %q", got, want)
	}

	if HashToken("a") == HashToken("b") {
		t.Error("different inputs produced the same digest")
	}
	if len(HashToken("anything")) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(HashToken("anything")))
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name     string
		hash     string
		wantType string
	}{
		{
			name:     "argon2id PHC format",
			hash:     "$argon2id$v=19$m=47104,t=1,p=1$abc123$xyz789",
			wantType: "argon2id",
		},
		{
			name:     "sha256 prefixed",
			hash:     "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			wantType: "sha256",
		},
		{
			name:     "bare SHA-256 hex (64 chars)",
			hash:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			wantType: "sha256",
		},
		{
			name:     "unknown format - too short",
			hash:     "abc123",
			wantType: "unknown",
		},
		{
			name:     "unknown format - wrong prefix",
			hash:     "$bcrypt$abc123",
			wantType: "unknown",
		},
		{
			name:     "empty string",
			hash:     "",
			wantType: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectHashType(tt.hash)
			if got != tt.wantType {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.wantType)
			}
		})
	}
}

func TestVerifyTokenHash(t *testing.T) {
	raw := "bridge-token-verify-12345"

	argon2Hash, err := HashTokenArgon2id(raw)
	if err != nil {
		t.Fatalf("HashTokenArgon2id() setup error = %v", err)
	}

	tests := []struct {
		name       string
		raw        string
		storedHash string
		wantMatch  bool
		wantErr    error
	}{
		{
			name:       "argon2id - correct token",
			raw:        raw,
			storedHash: argon2Hash,
			wantMatch:  true,
		},
		{
			name:       "argon2id - wrong token",
			raw:        "wrong-token",
			storedHash: argon2Hash,
			wantMatch:  false,
		},
		{
			name:       "sha256 prefixed - correct token",
			raw:        raw,
			storedHash: "sha256:" + HashToken(raw),
			wantMatch:  true,
		},
		{
			name:       "sha256 bare - correct token",
			raw:        raw,
			storedHash: HashToken(raw),
			wantMatch:  true,
		},
		{
			name:       "sha256 - wrong token",
			raw:        "wrong-token",
			storedHash: HashToken(raw),
			wantMatch:  false,
		},
		{
			name:       "unknown hash format",
			raw:        raw,
			storedHash: "not-a-hash",
			wantMatch:  false,
			wantErr:    ErrUnknownHashType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match, err := VerifyTokenHash(tt.raw, tt.storedHash)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyTokenHash() error = %v, want %v", err, tt.wantErr)
			}
			if match != tt.wantMatch {
				t.Errorf("VerifyTokenHash() match = %v, want %v", match, tt.wantMatch)
			}
		})
	}
}

func TestVerifyTokenHashMalformedArgon2idDoesNotPanic(t *testing.T) {
	// The argon2 library panics on t=0; the safe wrapper must turn that
	// into an error.
	malformed := "$argon2id$v=19$m=47104,t=0,p=1$c29tZXNhbHQ$c29tZWhhc2g"
	match, err := VerifyTokenHash("any-token", malformed)
	if match {
		t.Error("VerifyTokenHash() match = true for malformed hash")
	}
	if err == nil {
		t.Error("VerifyTokenHash() error = nil, want parameter error")
	}
}

func TestVerifier(t *testing.T) {
	t.Run("disabled when no secret configured", func(t *testing.T) {
		v := NewVerifier("", "")
		if v.Enabled() {
			t.Error("Enabled() = true, want false")
		}
		if v.Verify("anything") {
			t.Error("Verify() = true with no secret configured")
		}
	})

	t.Run("plain token", func(t *testing.T) {
		v := NewVerifier("secret", "")
		if !v.Enabled() {
			t.Error("Enabled() = false, want true")
		}
		if !v.Verify("secret") {
			t.Error("Verify(correct) = false, want true")
		}
		if v.Verify("wrong") {
			t.Error("Verify(wrong) = true, want false")
		}
		if v.Verify("") {
			t.Error("Verify(empty) = true, want false")
		}
	})

	t.Run("hashed token", func(t *testing.T) {
		hash, err := HashTokenArgon2id("secret")
		if err != nil {
			t.Fatalf("HashTokenArgon2id() error = %v", err)
		}
		v := NewVerifier("", hash)
		if !v.Verify("secret") {
			t.Error("Verify(correct) = false, want true")
		}
		if v.Verify("wrong") {
			t.Error("Verify(wrong) = true, want false")
		}
	})
}
