package mcp

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire data. It returns either a
// *jsonrpc.Request or a *jsonrpc.Response based on the message content.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// RawID extracts the "id" field from encoded message bytes, preserving the
// original literal (number, string, or null). Returns nil when the field is
// absent or data is not a JSON object.
func RawID(data []byte) json.RawMessage {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return raw["id"]
}

// CanonicalID reduces a JSON-RPC id literal to a stable map key, so that a
// response id matches its request id even when the two sides serialize
// numbers differently (1 versus 1.0). The bool is false for absent, null,
// or non-scalar ids.
func CanonicalID(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	switch id := v.(type) {
	case string:
		return "s:" + id, true
	case json.Number:
		if f, err := id.Float64(); err == nil {
			return "n:" + strconv.FormatFloat(f, 'g', -1, 64), true
		}
		return "n:" + id.String(), true
	default:
		// Arrays and objects are not valid JSON-RPC ids.
		return "", false
	}
}
