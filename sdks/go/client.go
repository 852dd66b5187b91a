package fitbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to the FitBridge streamable surface: one long-lived stream
// per session carries server-to-client traffic, individual POSTs carry
// client-to-server messages, and DELETE ends the session.
type Client struct {
	serverAddr string
	token      string
	path       string
	timeout    time.Duration

	// httpClient serves Health, Post, and Delete with the configured
	// timeout. streamClient serves OpenStream without one, since streams
	// are expected to outlive any per-request deadline.
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new FitBridge SDK client.
// It reads configuration from FITBRIDGE_* environment variables by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("FITBRIDGE_SERVER_ADDR"),
		token:      os.Getenv("FITBRIDGE_TOKEN"),
		path:       "/mcp",
		timeout:    parseDurationEnv("FITBRIDGE_TIMEOUT", 30*time.Second),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.streamClient == nil {
		c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	}

	return c
}

// Health probes the server's health endpoint. It requires no session and no
// token.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}

// Post sends one JSON-RPC message to an established session. For calls it
// returns the server's response message; for notifications it returns
// (nil, nil) once the server has accepted the message. The session must
// have an open stream or the server answers ErrSessionNotFound.
func (c *Client) Post(ctx context.Context, sessionID string, message []byte) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.path, sessionID, bytes.NewReader(message))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return body, nil
	case http.StatusAccepted:
		return nil, nil
	default:
		return nil, decodeAPIError(resp)
	}
}

// Delete terminates the session: the server closes its stream and removes
// its registry entry. Deleting an unknown session returns ErrSessionNotFound.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.path, sessionID, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return decodeAPIError(resp)
	}
	return nil
}

// newRequest builds a request against the server with the bearer token and
// session id headers applied.
func (c *Client) newRequest(ctx context.Context, method, path, sessionID string, body io.Reader) (*http.Request, error) {
	url := strings.TrimRight(c.serverAddr, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	return req, nil
}

// decodeAPIError turns a non-success response into an *APIError, reading the
// code and message from the standard error body when present.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if data, err := io.ReadAll(resp.Body); err == nil {
		if err := json.Unmarshal(data, &body); err == nil {
			apiErr.Code = body.Error
			apiErr.Message = body.Message
		}
	}

	if retry := resp.Header.Get("Retry-After"); retry != "" {
		if secs, err := strconv.Atoi(retry); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return apiErr
}

// parseDurationEnv reads a duration from the environment, accepting either
// an integer number of seconds or a Go duration string.
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
