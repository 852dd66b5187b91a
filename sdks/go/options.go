package fitbridge

import (
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the FitBridge server address, e.g. "http://localhost:8080".
// If not set, defaults to the FITBRIDGE_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithToken sets the bearer token for authenticating with the server.
// If not set, defaults to the FITBRIDGE_TOKEN environment variable.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithPath sets the streaming endpoint path.
// If not set, defaults to "/mcp".
func WithPath(path string) Option {
	return func(c *Client) {
		c.path = path
	}
}

// WithTimeout sets the HTTP request timeout for Health, Post, and Delete.
// Streams opened with OpenStream are never subject to this timeout; their
// lifetime is governed by the context passed to OpenStream.
// If not set, defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
// Its Timeout, if any, also applies to streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		c.streamClient = hc
	}
}
