package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitbridge/fitbridge/internal/adapter/inbound/http"
	"github.com/fitbridge/fitbridge/internal/adapter/inbound/stdio"
	"github.com/fitbridge/fitbridge/internal/adapter/outbound/memory"
	"github.com/fitbridge/fitbridge/internal/adapter/outbound/wger"
	"github.com/fitbridge/fitbridge/internal/config"
	"github.com/fitbridge/fitbridge/internal/domain/policy"
	"github.com/fitbridge/fitbridge/internal/domain/ratelimit"
	"github.com/fitbridge/fitbridge/internal/domain/session"
	"github.com/fitbridge/fitbridge/internal/service"
	"github.com/fitbridge/fitbridge/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the FitBridge server",
	Long: `Start the FitBridge MCP server.

The server can operate in two modes:

1. HTTP mode (default): Serve the streaming endpoint over HTTP.
   Clients open a stream with GET /mcp and post messages to POST /mcp.

2. Stdio mode: Serve a single session over stdin/stdout.
   Use this when a client spawns fitbridge as a subprocess.

Examples:
  # Start with config file settings
  fitbridge start

  # Start in development mode with verbose logging
  fitbridge start --dev

  # Serve over stdin/stdout for a spawning client
  fitbridge start --stdio

  # Start with a specific config file
  fitbridge --config /path/to/fitbridge.yaml start`,
	RunE: runStart,
}

var (
	devMode   bool
	stdioMode bool
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, public upstream defaults)")
	startCmd.Flags().BoolVar(&stdioMode, "stdio", false, "Serve one session over stdin/stdout instead of HTTP")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills upstream/log level if empty in dev mode)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout reserved for the MCP stream in stdio mode)
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "fitbridge stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	// Run the server
	if err := run(ctx, cfg, stdioMode, logger); err != nil {
		return err
	}

	logger.Info("fitbridge stopped")
	return nil
}

// run is the main orchestration function that wires all components together:
// telemetry, the upstream client, the tool-call filter, the engine, the
// session registry, and finally the selected transport.
func run(ctx context.Context, cfg *config.Config, stdioMode bool, logger *slog.Logger) error {
	// Telemetry comes first. The engine and the filter fall back to the
	// global meter provider, which latches on first use.
	shutdownTelemetry, err := telemetry.InitProvider(ctx, telemetry.ProviderConfig{
		ServiceVersion: Version,
		Traces:         cfg.Telemetry.Traces,
		Metrics:        cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Upstream fitness API client.
	upstreamTimeout := cfg.UpstreamTimeoutDuration()
	clientOpts := []wger.Option{
		wger.WithTimeout(upstreamTimeout),
		wger.WithCache(cfg.Upstream.CacheSize, cfg.CacheTTLDuration()),
	}
	if cfg.Upstream.APIKey != "" {
		clientOpts = append(clientOpts, wger.WithAPIKey(cfg.Upstream.APIKey))
	}
	client, err := wger.NewClient(cfg.Upstream.BaseURL, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}
	logger.Info("upstream client ready",
		"base_url", cfg.Upstream.BaseURL,
		"timeout", upstreamTimeout,
		"cache_size", cfg.Upstream.CacheSize,
	)

	// Tool-call filter. No configured rules means every call is allowed and
	// the middleware is skipped entirely.
	rules, err := service.RulesFromConfig(cfg.Policy)
	if err != nil {
		return fmt.Errorf("failed to load filter rules: %w", err)
	}
	var filter policy.Engine
	if len(rules) > 0 {
		ps, err := service.NewPolicyService(rules, logger)
		if err != nil {
			return fmt.Errorf("failed to compile filter rules: %w", err)
		}
		filter = ps
		logger.Info("tool-call filter active", "rules", len(rules))
	}

	engine := service.NewEngine(client, filter, logger,
		service.WithEngineVersion(Version),
		service.WithProductionMode(cfg.Server.Production),
	)

	// Session registry with a background sweep for expired sessions.
	sessions := session.NewRegistry(memory.NewSessionStore(), session.Config{
		Timeout:       cfg.Session.Timeout(),
		SweepInterval: cfg.SweepIntervalDuration(),
	})
	sessions.StartSweep(ctx)
	defer sessions.Stop()

	if stdioMode {
		transport := stdio.NewStdioTransport(engine, stdio.WithLogger(logger))
		logger.Info("transport mode: stdio")
		return transport.Start(ctx)
	}

	opts := []http.Option{
		http.WithAddr(cfg.Server.Addr()),
		http.WithPath(cfg.Server.Path),
		http.WithHeartbeatInterval(cfg.Server.HeartbeatInterval()),
		http.WithProduction(cfg.Server.Production),
		http.WithGeneralRateLimit(ratelimit.Config{
			Limit:  cfg.RateLimit.GeneralLimit,
			Window: cfg.GeneralWindowDuration(),
		}),
		http.WithAuthRateLimit(ratelimit.Config{
			Limit:  cfg.RateLimit.AuthLimit,
			Window: cfg.AuthWindowDuration(),
		}),
		http.WithLogger(logger),
	}
	if cfg.Auth.Token != "" {
		opts = append(opts, http.WithToken(cfg.Auth.Token))
	}
	if cfg.Auth.TokenHash != "" {
		opts = append(opts, http.WithTokenHash(cfg.Auth.TokenHash))
	}
	if cfg.Server.TLSEnabled() {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}

	transport := http.NewHTTPTransport(engine, sessions, opts...)

	printBanner(Version, cfg.Server.Addr(), cfg.Server.Path, cfg.DevMode,
		cfg.Server.TLSEnabled(), cfg.Auth.Enabled(),
		cfg.Upstream.BaseURL, len(service.ToolNames()), len(rules))

	logger.Info("transport mode: HTTP",
		"addr", cfg.Server.Addr(),
		"path", cfg.Server.Path,
		"tls", cfg.Server.TLSEnabled(),
		"auth", cfg.Auth.Enabled(),
	)
	return transport.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// endpoint URLs, mode, and resource counts. Only called in HTTP mode to
// avoid interfering with the MCP stream on stdout.
func printBanner(version, addr, path string, devMode, tlsEnabled, authEnabled bool, upstreamURL string, toolCount, ruleCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	scheme := "http"
	if tlsEnabled {
		scheme = "https"
	}

	host := addr
	if strings.HasPrefix(addr, ":") {
		host = "localhost" + addr
	}
	streamURL := fmt.Sprintf("%s://%s%s", scheme, host, path)
	healthURL := fmt.Sprintf("%s://%s/health", scheme, host)

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	authStr := green + "bearer token" + reset
	if !authEnabled {
		authStr = yellow + "disabled" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s FitBridge %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Stream:", streamURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Health:", healthURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Auth:", authStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Upstream:", upstreamURL)
	fmt.Fprintf(os.Stderr, "  %-14s %d registered\n", "Tools:", toolCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the FitBridge PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".fitbridge", "server.pid")
	}
	return filepath.Join(os.TempDir(), "fitbridge-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
