package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fitbridge/fitbridge/internal/domain/auth"
)

// RegisterCustomValidators registers FitBridge-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// token_hash: validates Argon2id PHC format or "sha256:<hex>"
	if err := v.RegisterValidation("token_hash", validateTokenHash); err != nil {
		return fmt.Errorf("failed to register token_hash validator: %w", err)
	}
	return nil
}

// validateTokenHash validates the auth.token_hash field.
// Valid formats: "$argon2id$..." (PHC) or "sha256:<64-hex>"
func validateTokenHash(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	return auth.DetectHashType(value) != auth.HashTypeUnknown
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: auth secret mutual exclusion
	if err := c.validateAuthMutualExclusion(); err != nil {
		return err
	}

	// Cross-field validation: TLS cert/key pairing
	if err := c.validateTLSPairing(); err != nil {
		return err
	}

	// Cross-field validation: duration strings must parse
	if err := c.validateDurations(); err != nil {
		return err
	}

	return nil
}

// validateAuthMutualExclusion ensures at most one of Token or TokenHash is
// set. Both empty is fine: the gate's auth stage stays disabled.
func (c *Config) validateAuthMutualExclusion() error {
	if c.Auth.Token != "" && c.Auth.TokenHash != "" {
		return errors.New("auth: specify token OR token_hash, not both")
	}
	return nil
}

// validateTLSPairing ensures the TLS cert and key files are set together.
func (c *Config) validateTLSPairing() error {
	hasCert := c.Server.TLSCertFile != ""
	hasKey := c.Server.TLSKeyFile != ""

	if hasCert != hasKey {
		return errors.New("server: tls_cert_file and tls_key_file must be set together")
	}
	return nil
}

// validateDurations parses every duration-string field so a typo like "15min"
// fails at startup instead of at first use.
func (c *Config) validateDurations() error {
	fields := []struct {
		key   string
		value string
	}{
		{"session.sweep_interval", c.Session.SweepInterval},
		{"ratelimit.general_window", c.RateLimit.GeneralWindow},
		{"ratelimit.auth_window", c.RateLimit.AuthWindow},
		{"upstream.timeout", c.Upstream.Timeout},
		{"upstream.cache_ttl", c.Upstream.CacheTTL},
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q (use Go format, e.g. \"15m\")", f.key, f.value)
		}
		if d <= 0 {
			return fmt.Errorf("%s: duration must be positive, got %q", f.key, f.value)
		}
	}
	return nil
}

// SweepIntervalDuration returns the parsed sweep interval.
// Call Validate first; an unparseable value falls back to one hour.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.Session.SweepInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GeneralWindowDuration returns the parsed general rate limit window.
func (c *Config) GeneralWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.RateLimit.GeneralWindow)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// AuthWindowDuration returns the parsed auth rate limit window.
func (c *Config) AuthWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.RateLimit.AuthWindow)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// UpstreamTimeoutDuration returns the parsed upstream request timeout.
func (c *Config) UpstreamTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Upstream.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// CacheTTLDuration returns the parsed upstream cache TTL.
func (c *Config) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.Upstream.CacheTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "token_hash":
		return fmt.Sprintf("%s must be an Argon2id PHC string or 'sha256:<hex>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
