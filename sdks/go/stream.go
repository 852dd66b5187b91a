package fitbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream is one open server-sent-events stream. Server-to-client messages
// arrive as data frames read with Next; heartbeat comments are consumed
// silently.
type Stream struct {
	sessionID       string
	protocolVersion string
	body            io.ReadCloser
	reader          *bufio.Reader
}

// OpenStream opens the long-lived stream for a session. Pass an empty
// sessionID to let the server mint a fresh session; pass a previous id to
// resume it. The context governs the stream's lifetime: cancelling it
// closes the stream and unblocks any Next call.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.path, sessionID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("expected text/event-stream, got %q", ct)
	}

	id := resp.Header.Get(SessionIDHeader)
	if id == "" {
		resp.Body.Close()
		return nil, fmt.Errorf("server did not return a session id")
	}

	return &Stream{
		sessionID:       id,
		protocolVersion: resp.Header.Get(ProtocolVersionHeader),
		body:            resp.Body,
		reader:          bufio.NewReader(resp.Body),
	}, nil
}

// SessionID returns the session id the server assigned to this stream. Use
// it for Post and Delete calls and to resume the session after a disconnect.
func (s *Stream) SessionID() string {
	return s.sessionID
}

// ProtocolVersion returns the MCP protocol version announced by the server.
func (s *Stream) ProtocolVersion() string {
	return s.protocolVersion
}

// Next blocks until the next message frame arrives and returns its payload.
// Comment frames (the initial connect marker and heartbeats) are skipped.
// It returns io.EOF when the server ends the stream, and the context error
// when the OpenStream context is cancelled.
func (s *Stream) Next() ([]byte, error) {
	var data []string

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		switch {
		case line == "":
			// Frame boundary. Dispatch if we accumulated data, otherwise
			// the frame was a comment or unknown fields only.
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}

		case strings.HasPrefix(line, ":"):
			// Comment frame (connect marker, heartbeat ping).

		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))

		default:
			// Other SSE fields (event, id, retry) are not used by the
			// server; skip them.
		}
	}
}

// Close closes the stream's response body. The server notices the
// disconnect and tears down its side; the session itself stays live for
// resumption until deleted or expired.
func (s *Stream) Close() error {
	return s.body.Close()
}
