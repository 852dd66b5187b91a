// Package config provides configuration types for FitBridge.
//
// The schema is deliberately small and file/env based. Session bookkeeping is
// in-memory only; there is no database, no retry tuning, and no UI surface to
// configure. Durations that clients care about (heartbeat, session timeout)
// are integer milliseconds; operator-facing cadences (sweeps, windows) are
// Go duration strings.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the FitBridge server.
type Config struct {
	// Server configures the HTTP listener and streaming endpoint.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Auth configures the optional bearer token. When both fields are empty
	// the security gate's auth stage is disabled.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Session configures the in-memory session registry.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// RateLimit configures the two fixed-window limiters in the gate.
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`

	// Upstream configures the fitness REST API the tools call.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Policy defines optional CEL rules filtering tool calls.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Telemetry configures optional OpenTelemetry stdout exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server listener.
type ServerConfig struct {
	// Host is the listen address. Default: "127.0.0.1" (localhost only).
	// Users who need network access must explicitly set "0.0.0.0".
	Host string `yaml:"host" mapstructure:"host"`

	// Port is the listen port. Default: 8080.
	Port int `yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// Path is the streaming endpoint path. Default: "/mcp".
	Path string `yaml:"path" mapstructure:"path" validate:"omitempty,startswith=/"`

	// HeartbeatIntervalMS is the per-connection heartbeat cadence in
	// milliseconds. Default: 30000.
	HeartbeatIntervalMS int64 `yaml:"heartbeat_interval_ms" mapstructure:"heartbeat_interval_ms" validate:"omitempty,min=100"`

	// LogLevel sets the slog level. Default: "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Production enables sanitized client error messages and warns when the
	// server runs without TLS. Default: false.
	Production bool `yaml:"production" mapstructure:"production"`

	// TLSCertFile and TLSKeyFile enable TLS directly on the listener.
	// Both must be set together; leaving them empty serves plain HTTP
	// (typically behind a reverse proxy).
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// HeartbeatInterval returns the heartbeat cadence as a duration.
func (s ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalMS) * time.Millisecond
}

// TLSEnabled reports whether a certificate pair is configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// AuthConfig configures the bearer token for the security gate.
type AuthConfig struct {
	// Token is the plain shared secret. Prefer TokenHash in checked-in
	// config; Token is meant for env injection (FITBRIDGE_AUTH_TOKEN).
	Token string `yaml:"token" mapstructure:"token"`

	// TokenHash is a stored hash of the secret: Argon2id PHC
	// ($argon2id$...) or "sha256:<hex>". Generate with "fitbridge hash-token".
	TokenHash string `yaml:"token_hash" mapstructure:"token_hash" validate:"omitempty,token_hash"`
}

// Enabled reports whether any secret is configured.
func (a AuthConfig) Enabled() bool {
	return a.Token != "" || a.TokenHash != ""
}

// SessionConfig configures the in-memory session registry.
type SessionConfig struct {
	// TimeoutMS is the inactivity timeout in milliseconds.
	// Default: 2592000000 (30 days).
	TimeoutMS int64 `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1000"`

	// SweepInterval is how often the background sweeper runs (e.g., "1h").
	// Kept much coarser than the timeout; lookups enforce expiry anyway.
	// Default: "1h".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// Timeout returns the session inactivity timeout as a duration.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// RateLimitConfig configures the gate's two fixed-window limiters.
type RateLimitConfig struct {
	// GeneralLimit is the per-origin-IP request budget per window.
	// Default: 1000.
	GeneralLimit int `yaml:"general_limit" mapstructure:"general_limit" validate:"omitempty,min=1"`

	// GeneralWindow is the general limiter's window (e.g., "15m").
	// Default: "15m".
	GeneralWindow string `yaml:"general_window" mapstructure:"general_window"`

	// AuthLimit is the per-IP budget for failed bearer checks per window.
	// Default: 50.
	AuthLimit int `yaml:"auth_limit" mapstructure:"auth_limit" validate:"omitempty,min=1"`

	// AuthWindow is the auth limiter's window (e.g., "15m"). Default: "15m".
	AuthWindow string `yaml:"auth_window" mapstructure:"auth_window"`
}

// UpstreamConfig configures the fitness REST API client.
type UpstreamConfig struct {
	// BaseURL is the API root, e.g. "https://wger.de". The client appends
	// /api/v2/... paths. Default: "https://wger.de".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is the optional upstream token. Read endpoints on public
	// instances work without it; weight and workout endpoints require it.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// Timeout bounds each upstream request (e.g., "30s"). Default: "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout"`

	// CacheTTL is how long idempotent GET responses are cached (e.g., "5m").
	// Default: "5m".
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// CacheSize is the maximum number of cached responses. Default: 256.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// PolicyConfig defines optional tool-call filtering.
type PolicyConfig struct {
	// RulesFile is an optional YAML file with a "rules:" list, merged after
	// the inline rules below.
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`

	// Rules are evaluated in order; the first matching rule decides.
	// An empty rule set allows every tool call.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// RuleConfig is one CEL filter rule.
type RuleConfig struct {
	// Name identifies the rule in logs and deny messages.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Expression is a CEL expression over tool_name, tool_args, session_id,
	// and request_time. Compiled once at startup; a compile error is fatal.
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`

	// Action is what happens when the expression evaluates true.
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny"`
}

// TelemetryConfig configures the optional OpenTelemetry providers. Both
// exporters write to stdout and are intended for development diagnostics.
type TelemetryConfig struct {
	// Traces enables span export for tool dispatch and upstream calls.
	Traces bool `yaml:"traces" mapstructure:"traces"`

	// Metrics enables the periodic upstream-instrument export.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
}

// SetDevDefaults applies development conveniences when DevMode is on.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Server.LogLevel == "" || c.Server.LogLevel == "info" {
		c.Server.LogLevel = "debug"
	}
}

// SetDefaults fills zero values with production-safe defaults.
func (c *Config) SetDefaults() {
	// Server defaults: bind to localhost only. Users who need network
	// access must explicitly set host "0.0.0.0".
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Path == "" {
		c.Server.Path = "/mcp"
	}
	if c.Server.HeartbeatIntervalMS == 0 {
		c.Server.HeartbeatIntervalMS = 30_000
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Session defaults: 30 day timeout, hourly sweep.
	if c.Session.TimeoutMS == 0 {
		c.Session.TimeoutMS = 30 * 24 * 60 * 60 * 1000
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = "1h"
	}

	if c.RateLimit.GeneralLimit == 0 {
		c.RateLimit.GeneralLimit = 1000
	}
	if c.RateLimit.GeneralWindow == "" {
		c.RateLimit.GeneralWindow = "15m"
	}
	if c.RateLimit.AuthLimit == 0 {
		c.RateLimit.AuthLimit = 50
	}
	if c.RateLimit.AuthWindow == "" {
		c.RateLimit.AuthWindow = "15m"
	}

	// Upstream defaults point at the public wger instance.
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://wger.de"
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "30s"
	}
	if c.Upstream.CacheTTL == "" {
		c.Upstream.CacheTTL = "5m"
	}
	if c.Upstream.CacheSize == 0 {
		c.Upstream.CacheSize = 256
	}
}

// IsSet reports whether a key was explicitly provided via file or env.
// viper distinguishes "not set" (zero value) from "explicitly false".
func IsSet(key string) bool {
	return viper.IsSet(key)
}
