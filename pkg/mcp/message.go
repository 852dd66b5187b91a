// Package mcp provides JSON-RPC wire helpers shared by the streaming and
// stdio transports: envelope validation for inbound message bodies and id
// canonicalization for routing engine responses back to waiting requests.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Envelope validation errors. The transport maps all of them to 400 bodies.
var (
	ErrEmptyBody     = errors.New("empty request body")
	ErrInvalidJSON   = errors.New("invalid JSON")
	ErrNotObject     = errors.New("message must be a JSON object")
	ErrBadVersion    = errors.New(`jsonrpc version must be "2.0"`)
	ErrMissingMethod = errors.New("missing method field")
)

// Envelope is the peeked JSON-RPC shape of an inbound message. Only the
// fields needed for routing are decoded; the raw bytes carry the payload.
type Envelope struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// ParseEnvelope validates the JSON-RPC envelope of body and returns the
// peeked fields. It enforces the version and the request/response shape but
// leaves params untouched for the protocol engine.
func ParseEnvelope(body []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Valid JSON that is not an object: array, string, number, bool.
		return nil, ErrNotObject
	}
	if env.Version != "2.0" {
		return nil, ErrBadVersion
	}
	// A message without a method must be a response carrying result or error.
	if env.Method == "" && env.Result == nil && env.Error == nil {
		return nil, ErrMissingMethod
	}
	return &env, nil
}

// HasID reports whether the message carries a non-null id.
func (e *Envelope) HasID() bool {
	trimmed := bytes.TrimSpace(e.ID)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// IsCall reports whether the message is a request that expects a response.
func (e *Envelope) IsCall() bool {
	return e.Method != "" && e.HasID()
}

// IsNotification reports whether the message is a request without an id.
// Notifications never receive a response.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && !e.HasID()
}

// IsResponse reports whether the message is a client-to-server response.
func (e *Envelope) IsResponse() bool {
	return e.Method == ""
}
