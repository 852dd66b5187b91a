// Package inbound defines the inbound port interfaces for the server core.
// Inbound adapters (stdio, HTTP) implement these so the command layer can
// run either transport behind one contract.
package inbound

import (
	"context"
)

// Transport is a server front end that accepts client connections and binds
// each one to the tool engine.
type Transport interface {
	// Start begins serving. Blocks until the context is cancelled or a
	// fatal error occurs. Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close shuts the transport down and releases its connections.
	Close() error
}
