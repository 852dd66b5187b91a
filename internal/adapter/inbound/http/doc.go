// Package http provides the Streamable HTTP transport for FitBridge.
//
// This package implements the inbound HTTP transport following the MCP
// Streamable HTTP specification (2025-06-18). It enables remote clients
// to connect to the tool engine via HTTP/HTTPS instead of stdio.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewHTTPTransport(engine, sessions,
//	    http.WithAddr(":8080"),
//	    http.WithPath("/mcp"),
//	    http.WithToken("secret"),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
// The transport exposes the streaming endpoint plus two auxiliary paths:
//
//	POST <path>    - Send a JSON-RPC message; calls get the engine's response
//	GET <path>     - Open the session's SSE stream
//	DELETE <path>  - Terminate the session and close its streams
//	OPTIONS <path> - CORS preflight handling
//	GET /health    - Liveness probe, exempt from rate limiting and auth
//	GET /metrics   - Prometheus metrics
//
// # Request Headers
//
//	Authorization: Bearer <token>       - Required when a token is configured
//	Mcp-Session-Id: <session-id>        - Session identifier; wins over ?sessionId=
//	Content-Type: application/json      - Required for POST requests
//
// # Response Headers
//
//	MCP-Protocol-Version: 2025-06-18    - MCP protocol version
//	Mcp-Session-Id: <session-id>        - Effective session identifier echoed back
//
// # Security Gate
//
// Requests pass through the gate in this order:
//
//  1. SecurityHeaders - nosniff, frame deny, no-referrer, no-store
//  2. BodyLimit - rejects bodies over 1 MiB with 413
//  3. CORS - permissive headers; OPTIONS answered 204 before the limiters
//  4. General rate limit - 1000 requests per 15 minutes per origin IP
//  5. Bearer auth - only when a token is configured; failed attempts are
//     tracked by a separate 50 per 15 minutes limiter
//  6. Session touch - refreshes session activity, rejects expired sessions
//
// GET /health bypasses stages 4 and 5 so load balancer probes never count
// against the limits. The token check accepts either a plain token or a
// stored hash (Argon2id or SHA-256), always compared in constant time.
//
// # Server-Sent Events
//
// GET requests open an SSE stream bound to the session. The stream:
//   - Emits "data: <json>\n\n" framed JSON-RPC messages
//   - Emits ": ping" comments on the heartbeat interval to defeat proxy
//     idle timeouts, touching the session each time
//   - Routes one connection per session; a second GET for the same session
//     supersedes the first in the routing table without closing it
//   - Closes cleanly when the client disconnects, the session is deleted,
//     or the server shuts down
//
// Responses to POSTed calls are intercepted on their way to the stream and
// delivered on the POST response body instead, matched by request id.
package http
