package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitbridge/fitbridge/internal/adapter/outbound/memory"
	"github.com/fitbridge/fitbridge/internal/domain/auth"
	"github.com/fitbridge/fitbridge/internal/domain/ratelimit"
	"github.com/fitbridge/fitbridge/internal/domain/session"
	"github.com/fitbridge/fitbridge/internal/port/inbound"
	"github.com/fitbridge/fitbridge/internal/service"
)

// HTTPTransport is the inbound adapter serving the streamable endpoint. It
// owns the security gate, the connection routing table, and the limiter
// state; the protocol engine and session registry are shared with other
// transports.
type HTTPTransport struct {
	engine   *service.Engine
	sessions *session.Registry

	addr              string
	path              string
	heartbeatInterval time.Duration
	token             string
	tokenHash         string
	verifier          *auth.Verifier
	production        bool
	certFile          string
	keyFile           string

	generalLimiter *memory.FixedWindowLimiter
	authLimiter    *memory.FixedWindowLimiter
	generalCfg     ratelimit.Config
	authCfg        ratelimit.Config

	conns    *connTable
	registry *prometheus.Registry
	metrics  *Metrics
	server   *http.Server
	logger   *slog.Logger
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithPath sets the streaming endpoint path. Default is "/mcp".
func WithPath(path string) Option {
	return func(t *HTTPTransport) {
		t.path = path
	}
}

// WithHeartbeatInterval sets the per-connection heartbeat cadence.
// Default is 30 seconds.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.heartbeatInterval = d
		}
	}
}

// WithToken configures the plain bearer token. Setting a token enables the
// auth stage of the gate.
func WithToken(token string) Option {
	return func(t *HTTPTransport) {
		t.token = token
	}
}

// WithTokenHash configures a stored hash of the bearer token (Argon2id PHC
// or sha256:<hex>). Setting it enables the auth stage of the gate.
func WithTokenHash(hash string) Option {
	return func(t *HTTPTransport) {
		t.tokenHash = hash
	}
}

// WithProduction enables production mode: client error messages come from
// the fixed safe vocabulary, and serving without TLS logs a warning.
func WithProduction(production bool) Option {
	return func(t *HTTPTransport) {
		t.production = production
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs plain HTTP (typically behind a proxy).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithGeneralRateLimit overrides the general limiter window.
// Default is 1000 requests per 15 minutes per origin IP.
func WithGeneralRateLimit(cfg ratelimit.Config) Option {
	return func(t *HTTPTransport) {
		t.generalCfg = cfg
	}
}

// WithAuthRateLimit overrides the auth-failure limiter window.
// Default is 50 failed attempts per 15 minutes per origin IP.
func WithAuthRateLimit(cfg ratelimit.Config) Option {
	return func(t *HTTPTransport) {
		t.authCfg = cfg
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// NewHTTPTransport creates the HTTP transport serving the given engine and
// session registry.
func NewHTTPTransport(engine *service.Engine, sessions *session.Registry, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		engine:            engine,
		sessions:          sessions,
		addr:              "127.0.0.1:8080",
		path:              "/mcp",
		heartbeatInterval: 30 * time.Second,
		generalCfg:        ratelimit.Config{Limit: 1000, Window: 15 * time.Minute},
		authCfg:           ratelimit.Config{Limit: 50, Window: 15 * time.Minute},
		generalLimiter:    memory.NewFixedWindowLimiter(),
		authLimiter:       memory.NewFixedWindowLimiter(),
		conns:             newConnTable(),
		logger:            slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.verifier = auth.NewVerifier(t.token, t.tokenHash)

	t.registry = prometheus.NewRegistry()
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(t.registry, func() float64 {
		return float64(sessions.Count(context.Background()))
	})

	return t
}

// Handler assembles the gate around the endpoint mux. Stage order is fixed:
// security headers, body cap, CORS preflight, general rate limit, bearer
// auth, session touch. Metrics, request id, and real IP wrap the gate.
// Exposed so the transport can be mounted under a caller-owned server.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(healthPath, healthHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	// Favicon handler to keep browser probes out of the error path.
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle(t.path, t.streamHandler())
	if t.path != "/" {
		mux.Handle(t.path+"/", t.streamHandler())
	}

	var h http.Handler = mux
	h = t.sessionTouch(h)
	if t.verifier.Enabled() {
		h = t.bearerAuth(h)
	}
	h = t.generalRateLimit(h)
	h = CORS(h)
	h = BodyLimit(h)
	h = SecurityHeaders(h)
	h = RealIPMiddleware(h)
	h = RequestIDMiddleware(t.logger)(h)
	h = MetricsMiddleware(t.metrics)(h)
	return h
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the listener fails, and shuts down gracefully on
// cancellation.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.generalLimiter.StartCleanup(ctx)
	t.authLimiter.StartCleanup(ctx)

	t.server = &http.Server{
		Addr:    t.addr,
		Handler: t.Handler(),
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr, "path", t.path)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			if t.production {
				t.logger.Warn("production mode without TLS; terminate TLS at a proxy or set tls_cert_file/tls_key_file")
			}
			t.logger.Info("starting HTTP server", "addr", t.addr, "path", t.path)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown closes every stream, then drains the server with a 10 second
// budget.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.conns.closeAll()
	t.generalLimiter.Stop()
	t.authLimiter.Stop()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

// Compile-time check that HTTPTransport implements the inbound port.
var _ inbound.Transport = (*HTTPTransport)(nil)
