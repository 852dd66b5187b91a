package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	wire "github.com/fitbridge/fitbridge/pkg/mcp"
)

// maxFrameSize caps one newline-delimited frame, matching the streaming
// endpoint's request body limit.
const maxFrameSize = 1 << 20

var errPipeClosed = errors.New("stdio pipe closed")

// readResult carries one decoded frame or the terminal read error.
type readResult struct {
	msg jsonrpc.Message
	err error
}

// pipeConn adapts a reader/writer pair to the engine's connection
// contract. A background goroutine decodes newline-delimited frames from
// the reader; it exits when the reader ends or the connection closes. A
// reader that never ends keeps the goroutine blocked in its read call, so
// tests must close their pipe.
type pipeConn struct {
	out     io.Writer
	writeMu sync.Mutex
	logger  *slog.Logger

	incoming chan readResult
	// eof closes once the read loop has finished, terminal error included.
	eof       chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newPipeConn(in io.Reader, out io.Writer, logger *slog.Logger) *pipeConn {
	c := &pipeConn{
		out:      out,
		logger:   logger,
		incoming: make(chan readResult),
		eof:      make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop(in)
	return c
}

// Connect implements the transport side of the engine contract: the pipe
// is already connected, so the connection is the transport itself.
func (c *pipeConn) Connect(ctx context.Context) (mcp.Connection, error) {
	return c, nil
}

func (c *pipeConn) readLoop(in io.Reader) {
	defer close(c.eof)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		msg, err := wire.DecodeMessage(line)
		if err != nil {
			// One bad frame must not kill the pipe.
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		select {
		case c.incoming <- readResult{msg: msg}:
		case <-c.done:
			return
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case c.incoming <- readResult{err: err}:
	case <-c.done:
	}
}

// Read returns the next decoded frame from the input stream. The terminal
// read error is returned once; io.EOF marks a clean end of input.
func (c *pipeConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case res := <-c.incoming:
		return res.msg, res.err
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write frames one message with a trailing newline onto the output stream.
func (c *pipeConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case <-c.done:
		return errPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// SessionID implements the connection contract. Pipe connections carry no
// transport-level session id.
func (c *pipeConn) SessionID() string { return "" }

var (
	_ mcp.Transport  = (*pipeConn)(nil)
	_ mcp.Connection = (*pipeConn)(nil)
)
