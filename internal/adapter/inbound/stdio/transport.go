// Package stdio serves the tool engine over a local byte pipe, stdin and
// stdout by default. Frames are newline-delimited JSON-RPC messages bound
// to the engine through the same connection contract as the streaming
// endpoint. Logging must stay off the output stream; the command layer
// routes it to stderr.
package stdio

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fitbridge/fitbridge/internal/port/inbound"
	"github.com/fitbridge/fitbridge/internal/service"
)

// pipeSessionID labels the single implicit session of a pipe transport.
const pipeSessionID = "stdio"

// StdioTransport serves the engine over a reader/writer pair.
type StdioTransport struct {
	engine *service.Engine
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	mu   sync.Mutex
	conn *pipeConn
}

// Option configures the transport.
type Option func(*StdioTransport)

// WithStreams replaces stdin/stdout, for tests and embedding.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(t *StdioTransport) {
		t.in = in
		t.out = out
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *StdioTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewStdioTransport creates a pipe transport bound to the engine.
func NewStdioTransport(engine *service.Engine, opts ...Option) *StdioTransport {
	t := &StdioTransport{
		engine: engine,
		in:     os.Stdin,
		out:    os.Stdout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start binds an engine session to the pipe and blocks until the input
// stream ends, the context is cancelled, or the connection is closed. EOF
// on input is a clean shutdown.
func (t *StdioTransport) Start(ctx context.Context) error {
	c := newPipeConn(t.in, t.out, t.logger)
	t.mu.Lock()
	t.conn = c
	t.mu.Unlock()

	ss, err := t.engine.Connect(ctx, pipeSessionID, c)
	if err != nil {
		_ = c.Close()
		return err
	}

	t.logger.Info("stdio transport started")

	select {
	case <-ctx.Done():
	case <-c.eof:
	case <-c.done:
	}

	_ = ss.Close()
	_ = c.Close()

	t.logger.Info("stdio transport stopped")
	return nil
}

// Close tears down the active connection, unblocking Start.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

var _ inbound.Transport = (*StdioTransport)(nil)
