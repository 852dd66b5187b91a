package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	wire "github.com/fitbridge/fitbridge/pkg/mcp"
)

// errConnClosed is returned for operations on a connection past its lifetime.
var errConnClosed = errors.New("connection closed")

// inboundQueueSize bounds how many POSTed messages can sit ahead of the
// engine's read loop for one connection.
const inboundQueueSize = 32

// connState tracks a stream connection through its lifecycle.
type connState int32

const (
	// stateOpening: registration and engine binding are in progress.
	stateOpening connState = iota
	// stateOpen: the stream is serving and heartbeating.
	stateOpen
	// stateClosing: the closing sequence is running.
	stateClosing
	// stateClosed: fully torn down.
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamConn is one client stream. It implements both mcp.Transport and
// mcp.Connection: the engine binds to it via Connect and then drives Read
// and Write, while the POST handler feeds messages in and collects call
// responses through the pending table. Everything the engine initiates goes
// out as an SSE data frame.
type streamConn struct {
	sessionID string
	w         io.Writer
	flush     func()
	table     *connTable
	logger    *slog.Logger

	// writeMu serializes frames onto the stream.
	writeMu sync.Mutex

	// inbound is the single per-connection queue that keeps POSTed messages
	// in arrival order for the engine's read loop.
	inbound chan jsonrpc.Message

	pendingMu sync.Mutex
	pending   map[string]chan []byte

	state atomic.Int32

	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once

	hb   *heartbeat
	sess *mcp.ServerSession
}

func newStreamConn(sessionID string, w io.Writer, flush func(), table *connTable, logger *slog.Logger) *streamConn {
	return &streamConn{
		sessionID: sessionID,
		w:         w,
		flush:     flush,
		table:     table,
		logger:    logger,
		inbound:   make(chan jsonrpc.Message, inboundQueueSize),
		pending:   make(map[string]chan []byte),
		done:      make(chan struct{}),
	}
}

// Connect implements mcp.Transport. The engine session reads and writes on
// the connection itself.
func (c *streamConn) Connect(ctx context.Context) (mcp.Connection, error) {
	return c, nil
}

// SessionID implements mcp.Connection.
func (c *streamConn) SessionID() string {
	return c.sessionID
}

// Read implements mcp.Connection. It blocks until the next POSTed message
// arrives. Queued messages are drained before a close is reported, so
// nothing accepted with a 202 is silently dropped.
func (c *streamConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write implements mcp.Connection. Responses to POSTed calls are handed to
// the waiting POST handler; everything else becomes an SSE data frame.
func (c *streamConn) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := wire.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}

	if _, ok := msg.(*jsonrpc.Response); ok {
		if key, ok := wire.CanonicalID(wire.RawID(data)); ok {
			if ch := c.takePending(key); ch != nil {
				ch <- data
				return nil
			}
		}
	}

	return c.writeData(data)
}

// Close implements mcp.Connection. The engine session calls it when it shuts
// down; it only signals. The full closing sequence runs in shutdown.
func (c *streamConn) Close() error {
	c.signalDone()
	return nil
}

// deliver queues an inbound message for the engine's read loop.
func (c *streamConn) deliver(ctx context.Context, msg jsonrpc.Message) error {
	select {
	case c.inbound <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// expect registers a waiter for the response with the given canonical id
// key. The returned channel receives the encoded response exactly once.
func (c *streamConn) expect(key string) chan []byte {
	ch := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()
	return ch
}

// forget drops the waiter for key if it is still registered.
func (c *streamConn) forget(key string) {
	c.pendingMu.Lock()
	delete(c.pending, key)
	c.pendingMu.Unlock()
}

// takePending claims and removes the waiter for key. Only one of the writer
// and the abandoning waiter can win the entry.
func (c *streamConn) takePending(key string) chan []byte {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[key]
	if !ok {
		return nil
	}
	delete(c.pending, key)
	return ch
}

// writeData writes one SSE data frame and flushes it.
func (c *streamConn) writeData(data []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return err
	}
	c.flush()
	return nil
}

// writeComment writes an SSE comment frame (": <text>"). Comments keep the
// stream alive without delivering an event to the client.
func (c *streamConn) writeComment(text string) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.w, ": %s\n\n", text); err != nil {
		return err
	}
	c.flush()
	return nil
}

// bind attaches the engine session and heartbeat created during stream setup.
func (c *streamConn) bind(sess *mcp.ServerSession, hb *heartbeat) {
	c.sess = sess
	c.hb = hb
}

// markOpen transitions Opening to Open. It is a no-op when the connection
// was torn down during setup.
func (c *streamConn) markOpen() {
	c.state.CompareAndSwap(int32(stateOpening), int32(stateOpen))
}

func (c *streamConn) currentState() connState {
	return connState(c.state.Load())
}

func (c *streamConn) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// shutdown runs the closing sequence exactly once: stop the heartbeat,
// release the routing entry if it still points here, then close the engine
// binding. The session entry stays; sessions survive disconnects until the
// inactivity timeout. Concurrent callers block until the first completes.
func (c *streamConn) shutdown() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))
		if c.hb != nil {
			c.hb.stop()
		}
		c.table.release(c.sessionID, c)
		c.signalDone()
		if c.sess != nil {
			_ = c.sess.Close()
		}
		c.state.Store(int32(stateClosed))
	})
}

// heartbeat keeps one stream alive: every interval it writes an SSE comment
// frame and touches the session so activity tracking sees the live client.
type heartbeat struct {
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func newHeartbeat(interval time.Duration) *heartbeat {
	return &heartbeat{
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// start launches the ticker goroutine. A write failure means the peer is
// gone: the connection is signalled closed and the task exits without
// reporting an error.
func (h *heartbeat) start(c *streamConn, touch func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopChan:
				return
			case <-c.done:
				return
			case <-ticker.C:
				if err := c.writeComment("ping"); err != nil {
					c.signalDone()
					return
				}
				touch()
			}
		}
	}()
}

// stop cancels the task and waits for it to exit. Safe to call repeatedly,
// including after the task stopped itself.
func (h *heartbeat) stop() {
	h.once.Do(func() { close(h.stopChan) })
	h.wg.Wait()
}

// connTable routes session ids to their live stream connection. At most one
// connection is routed per id; a new registration under an existing id
// supersedes the old entry while the old connection stays open, unrouted.
// The open set tracks every connection, routed or not, for shutdown.
type connTable struct {
	mu     sync.Mutex
	routed map[string]*streamConn
	open   map[*streamConn]struct{}
}

func newConnTable() *connTable {
	return &connTable{
		routed: make(map[string]*streamConn),
		open:   make(map[*streamConn]struct{}),
	}
}

// register routes id to c and returns the connection it displaced, if any.
// The displaced connection is left open; it just stops receiving routed
// messages.
func (t *connTable) register(id string, c *streamConn) *streamConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.routed[id]
	t.routed[id] = c
	t.open[c] = struct{}{}
	return old
}

// release removes the routing entry for id only if it still points at c, so
// closing a superseded connection cannot unroute its replacement. The
// connection is always dropped from the open set.
func (t *connTable) release(id string, c *streamConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, c)
	if t.routed[id] != c {
		return false
	}
	delete(t.routed, id)
	return true
}

// lookup returns the connection routed for id, or nil.
func (t *connTable) lookup(id string) *streamConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.routed[id]
}

// routedCount returns the number of session ids with a routed connection.
func (t *connTable) routedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routed)
}

// closeAll shuts down every open connection, superseded ones included.
func (t *connTable) closeAll() {
	t.mu.Lock()
	conns := make([]*streamConn, 0, len(t.open))
	for c := range t.open {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}
