package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	wire "github.com/fitbridge/fitbridge/pkg/mcp"
)

// MCPProtocolVersion is the MCP protocol version this transport reports.
const MCPProtocolVersion = "2025-06-18"

// maxRequestBodySize is the maximum allowed request body size (1 MiB).
const maxRequestBodySize = 1 << 20

// MCPSessionIDHeader is the header carrying the session id.
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the header carrying the protocol version.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// sessionIDQueryParam is the legacy query-parameter fallback for the
// session id, kept for clients that predate the header.
const sessionIDQueryParam = "sessionId"

// sessionIDFromRequest extracts the session id from the Mcp-Session-Id
// header, falling back to the sessionId query parameter. The header wins
// when both are present.
func sessionIDFromRequest(r *http.Request) string {
	if id := r.Header.Get(MCPSessionIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get(sessionIDQueryParam)
}

// streamHandler routes the streaming endpoint by HTTP method. OPTIONS never
// reaches here; the CORS stage answers preflights.
func (t *HTTPTransport) streamHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			t.handlePost(w, r)
		case http.MethodGet:
			t.handleGet(w, r)
		case http.MethodDelete:
			t.handleDelete(w, r)
		default:
			writeErrorStatus(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		}
	})
}

// handlePost accepts one JSON-RPC message for an established session. Calls
// block until the engine's response for that id comes back and return it as
// the 200 body; notifications and client responses are acknowledged with
// 202. Posting to a session without an open stream is a 404.
func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		t.writeError(w, apperr.New(apperr.KindBadRequest, "content type must be application/json"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body exceeds 1 MiB limit")
			return
		}
		t.writeError(w, apperr.New(apperr.KindBadRequest, "failed to read request body"))
		return
	}

	env, err := wire.ParseEnvelope(body)
	if err != nil {
		t.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "malformed message"))
		return
	}

	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		t.writeError(w, apperr.New(apperr.KindBadRequest, "session id required: open a stream first and send its Mcp-Session-Id"))
		return
	}

	conn := t.conns.lookup(sessionID)
	if conn == nil {
		t.writeError(w, apperr.New(apperr.KindSessionNotFound, "no active stream for session %s", sessionID))
		return
	}

	msg, err := wire.DecodeMessage(body)
	if err != nil {
		t.writeError(w, apperr.Wrap(apperr.KindBadRequest, err, "malformed message"))
		return
	}

	w.Header().Set(MCPSessionIDHeader, sessionID)
	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	ctx := r.Context()

	// Notifications and client-to-server responses get no reply body.
	if !env.IsCall() {
		if err := conn.deliver(ctx, msg); err != nil {
			t.writeError(w, apperr.Wrap(apperr.KindInternal, err, "stream closed"))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	key, ok := wire.CanonicalID(env.ID)
	if !ok {
		t.writeError(w, apperr.New(apperr.KindBadRequest, "invalid request id"))
		return
	}

	waiter := conn.expect(key)
	if err := conn.deliver(ctx, msg); err != nil {
		conn.forget(key)
		t.writeError(w, apperr.Wrap(apperr.KindInternal, err, "stream closed"))
		return
	}

	select {
	case data := <-waiter:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case <-conn.done:
		conn.forget(key)
		t.writeError(w, apperr.New(apperr.KindInternal, "stream closed before the engine answered"))
	case <-ctx.Done():
		// Client gone; nothing left to answer.
		conn.forget(key)
	}
}

// handleGet opens the long-lived SSE stream: it resolves the session,
// registers the connection (superseding any previous stream under the same
// id), binds a fresh engine session, starts the heartbeat, and blocks until
// the client disconnects or the connection is closed.
func (t *HTTPTransport) handleGet(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		t.writeError(w, apperr.New(apperr.KindInternal, "streaming unsupported: response writer cannot flush"))
		return
	}

	ctx := r.Context()
	sess, created, err := t.sessions.GetOrCreate(ctx, sessionIDFromRequest(r), clientIP(r))
	if err != nil {
		t.writeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	h.Set(MCPSessionIDHeader, sess.ID)

	c := newStreamConn(sess.ID, w, flusher.Flush, t.conns, logger)

	// The comment frame commits proxies and clients to the stream before
	// any engine traffic.
	if err := c.writeComment("connected"); err != nil {
		return
	}

	if old := t.conns.register(sess.ID, c); old != nil {
		logger.Info("stream superseded", "session_id", sess.ID)
	}

	ss, err := t.engine.Connect(ctx, sess.ID, c)
	if err != nil {
		t.conns.release(sess.ID, c)
		logger.Error("engine bind failed", "session_id", sess.ID, "error", err)
		return
	}

	hb := newHeartbeat(t.heartbeatInterval)
	c.bind(ss, hb)
	hb.start(c, func() {
		t.sessions.Touch(context.Background(), sess.ID)
	})

	c.markOpen()
	if c.currentState() != stateOpen {
		// Torn down while we were still binding (a DELETE racing the open).
		hb.stop()
		_ = ss.Close()
		return
	}

	t.metrics.ActiveStreams.Inc()
	defer t.metrics.ActiveStreams.Dec()

	logger.Info("stream opened", "session_id", sess.ID, "created", created)

	select {
	case <-ctx.Done():
	case <-c.done:
	}
	c.shutdown()

	logger.Info("stream closed", "session_id", sess.ID)
}

// handleDelete terminates the session named by the request: its routed
// stream is closed and the session entry removed. 204 on success, 404 when
// the id is unknown.
func (t *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFromRequest(r)
	if sessionID == "" {
		t.writeError(w, apperr.New(apperr.KindBadRequest, "session id required"))
		return
	}

	ctx := r.Context()
	if !t.sessions.IsLive(ctx, sessionID) {
		t.writeError(w, apperr.New(apperr.KindSessionNotFound, "unknown session %s", sessionID))
		return
	}

	if c := t.conns.lookup(sessionID); c != nil {
		c.shutdown()
	}
	_ = t.sessions.Remove(ctx, sessionID)

	LoggerFromContext(ctx).Info("session terminated", "session_id", sessionID)
	w.Header().Set(MCPSessionIDHeader, sessionID)
	w.WriteHeader(http.StatusNoContent)
}
