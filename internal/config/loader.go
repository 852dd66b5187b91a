package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for fitbridge.yaml/.yml in
// standard locations. The search requires an explicit YAML extension so the
// binary itself ("fitbridge", no extension in the current directory) is never
// mistaken for a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError, which callers handle gracefully.
		viper.SetConfigName("fitbridge")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: FITBRIDGE_SERVER_PORT, FITBRIDGE_AUTH_TOKEN
	viper.SetEnvPrefix("FITBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a fitbridge config file
// with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".fitbridge"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\fitbridge (typically C:\ProgramData\fitbridge)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "fitbridge"))
		}
	} else {
		paths = append(paths, "/etc/fitbridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for fitbridge.yaml or
// .yml and returns the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "fitbridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: FITBRIDGE_SERVER_PORT overrides server.port.
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.host")
	_ = viper.BindEnv("server.port")
	_ = viper.BindEnv("server.path")
	_ = viper.BindEnv("server.heartbeat_interval_ms")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.production")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")

	// Auth config
	_ = viper.BindEnv("auth.token")
	_ = viper.BindEnv("auth.token_hash")

	// Session config
	_ = viper.BindEnv("session.timeout_ms")
	_ = viper.BindEnv("session.sweep_interval")

	// Rate limit config
	_ = viper.BindEnv("ratelimit.general_limit")
	_ = viper.BindEnv("ratelimit.general_window")
	_ = viper.BindEnv("ratelimit.auth_limit")
	_ = viper.BindEnv("ratelimit.auth_window")

	// Upstream config
	_ = viper.BindEnv("upstream.base_url")
	_ = viper.BindEnv("upstream.api_key")
	_ = viper.BindEnv("upstream.timeout")
	_ = viper.BindEnv("upstream.cache_ttl")
	_ = viper.BindEnv("upstream.cache_size")

	// Policy config
	// Note: policy.rules is an array, complex to override via env.
	// Users should use a config file or policy.rules_file for rules.
	_ = viper.BindEnv("policy.rules_file")

	// Telemetry config
	_ = viper.BindEnv("telemetry.traces")
	_ = viper.BindEnv("telemetry.metrics")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded,
// or empty string if none was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
