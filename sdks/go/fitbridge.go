// Package fitbridge provides a Go client for the FitBridge streamable HTTP
// surface.
//
// FitBridge serves Model Context Protocol tools for workout and exercise
// tracking over a long-lived server-sent-events stream plus per-message
// POSTs. This SDK wraps that surface with plain Go calls and uses only the
// standard library (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set FITBRIDGE_SERVER_ADDR and FITBRIDGE_TOKEN env vars, then:
//	client := fitbridge.NewClient()
//
//	stream, err := client.OpenStream(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Close()
//
//	resp, err := client.Post(ctx, stream.SessionID(), initializeMessage)
//	if err != nil {
//	    var apiErr *fitbridge.APIError
//	    if errors.As(err, &apiErr) {
//	        fmt.Printf("server said %s: %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
package fitbridge

// Header names used by the streamable surface.
const (
	// SessionIDHeader carries the session id on stream, post, and delete
	// requests and on their responses.
	SessionIDHeader = "Mcp-Session-Id"

	// ProtocolVersionHeader carries the MCP protocol version the server
	// speaks.
	ProtocolVersionHeader = "MCP-Protocol-Version"
)

// HealthStatus is the body of the server's health endpoint.
type HealthStatus struct {
	// Status is "ok" while the server is accepting requests.
	Status string `json:"status"`

	// Timestamp is the server-side RFC 3339 time of the probe.
	Timestamp string `json:"timestamp"`

	// Transport names the serving transport, e.g. "streamable-http".
	Transport string `json:"transport"`
}
