package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fitbridge/fitbridge/internal/ctxkey"
	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	"github.com/fitbridge/fitbridge/internal/domain/ratelimit"
	"github.com/fitbridge/fitbridge/internal/domain/session"
)

// healthPath is exempt from rate limiting and auth, by exact match.
const healthPath = "/health"

// requestIDContextKey is the type for the request ID context key.
type requestIDContextKey struct{}

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey{}

// LoggerKey is the context key for the enriched logger.
// Uses the shared key type from ctxkey to allow cross-package access
// without import cycles.
var LoggerKey = ctxkey.LoggerKey{}

// ClientIPKey is the context key for the extracted origin address.
var ClientIPKey = ctxkey.ClientIPKey{}

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger. The ID is stored under RequestIDKey and echoed in X-Request-ID;
// the enriched logger is stored under LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			ctx = context.WithValue(ctx, LoggerKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RealIPMiddleware extracts the client's origin address for rate limiting
// and session bookkeeping. It checks X-Forwarded-For and X-Real-IP (reverse
// proxy support), falling back to RemoteAddr. Only the first entry in
// X-Forwarded-For is trusted.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), ClientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP extracts the client's real IP address from the request.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "host:port"; extract the host.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIP returns the IP stored by RealIPMiddleware, or extracts it when
// the middleware did not run (direct handler tests).
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok && ip != "" {
		return ip
	}
	return extractRealIP(r)
}

// SecurityHeaders sets the fixed response headers on every request. This is
// the first gate stage, so even rejections carry them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// BodyLimit caps request bodies at maxRequestBodySize. A declared
// Content-Length over the cap fails fast; chunked or lying clients fail at
// read time through MaxBytesReader.
func BodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxRequestBodySize {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds 1 MiB limit")
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// CORS echoes permissive cross-origin headers and short-circuits OPTIONS
// preflights with 204 before the rate limiters, so preflights never consume
// quota.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, Last-Event-ID")
		h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// generalRateLimit gates every request through the general fixed-window
// limiter, keyed by origin IP. The health endpoint is exempt by exact path
// match, checked before anything is counted.
func (t *HTTPTransport) generalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}

		key := ratelimit.FormatKey(ratelimit.KeyTypeIP, clientIP(r))
		res := t.generalLimiter.Allow(key, t.generalCfg)
		if !res.Allowed {
			t.metrics.RateLimitedTotal.WithLabelValues("general").Inc()
			writeRateLimited(w, res)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerAuth verifies the Authorization bearer token. A stricter fixed
// window wraps only this stage: the limiter is consulted first, failed
// attempts are recorded, successful ones never count against the window.
// The health endpoint bypasses auth entirely. The stage is only installed
// when a token or token hash is configured.
func (t *HTTPTransport) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == healthPath {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		key := ratelimit.FormatKey(ratelimit.KeyTypeAuth, ip)
		if res := t.authLimiter.Check(key, t.authCfg); !res.Allowed {
			t.metrics.RateLimitedTotal.WithLabelValues("auth").Inc()
			writeRateLimited(w, res)
			return
		}

		if !t.verifier.Verify(bearerToken(r)) {
			t.authLimiter.Record(key, t.authCfg)
			t.metrics.AuthFailuresTotal.Inc()
			LoggerFromContext(r.Context()).Warn("bearer auth failed", "ip", ip)
			t.writeError(w, apperr.New(apperr.KindAuthentication, "invalid or missing bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

// sessionTouch refreshes activity for requests that carry a session id.
// A known-but-expired id is removed here; the stream-open GET then falls
// through so the endpoint can mint a fresh session under the same id, while
// message POSTs are rejected as expired. Ids the registry has never seen
// fall through for the endpoint to answer (400/404).
func (t *HTTPTransport) sessionTouch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionIDFromRequest(r)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		standing := t.sessions.TouchLive(r.Context(), id)
		if standing == session.StandingExpired && r.Method == http.MethodPost {
			t.writeError(w, apperr.New(apperr.KindAuthentication, "session %s expired", id))
			return
		}
		next.ServeHTTP(w, r)
	})
}
