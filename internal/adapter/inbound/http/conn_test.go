package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"go.uber.org/goleak"

	wire "github.com/fitbridge/fitbridge/pkg/mcp"
)

// streamBuffer is a threadsafe writer standing in for the SSE response body.
type streamBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *streamBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
}

func (b *streamBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *streamBuffer) FlushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// failWriter fails every write, simulating a peer that went away.
type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func newTestConn(id string, w io.Writer, flush func()) (*streamConn, *connTable) {
	table := newConnTable()
	if flush == nil {
		flush = func() {}
	}
	return newStreamConn(id, w, flush, table, slog.Default()), table
}

func makeID(t *testing.T, v float64) jsonrpc.ID {
	t.Helper()
	id, err := jsonrpc.MakeID(v)
	if err != nil {
		t.Fatalf("MakeID(%v) failed: %v", v, err)
	}
	return id
}

// TestStreamConn_StateLifecycle verifies the Opening -> Open -> Closed
// transitions, and that markOpen cannot resurrect a torn-down connection.
func TestStreamConn_StateLifecycle(t *testing.T) {
	c, _ := newTestConn("s1", &streamBuffer{}, nil)

	if got := c.currentState(); got != stateOpening {
		t.Errorf("initial state = %v, want %v", got, stateOpening)
	}

	c.markOpen()
	if got := c.currentState(); got != stateOpen {
		t.Errorf("state after markOpen = %v, want %v", got, stateOpen)
	}

	c.shutdown()
	if got := c.currentState(); got != stateClosed {
		t.Errorf("state after shutdown = %v, want %v", got, stateClosed)
	}

	// A late markOpen (the GET handler losing a race with a DELETE) must not
	// reopen the connection.
	c.markOpen()
	if got := c.currentState(); got != stateClosed {
		t.Errorf("state after markOpen on closed conn = %v, want %v", got, stateClosed)
	}
}

func TestConnState_String(t *testing.T) {
	tests := []struct {
		state connState
		want  string
	}{
		{stateOpening, "opening"},
		{stateOpen, "open"},
		{stateClosing, "closing"},
		{stateClosed, "closed"},
		{connState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("connState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestStreamConn_DeliverReadOrder verifies that POSTed messages reach the
// engine's read loop in arrival order.
func TestStreamConn_DeliverReadOrder(t *testing.T) {
	c, _ := newTestConn("s1", &streamBuffer{}, nil)
	ctx := context.Background()

	first := &jsonrpc.Request{Method: "notifications/first"}
	second := &jsonrpc.Request{Method: "notifications/second"}
	if err := c.deliver(ctx, first); err != nil {
		t.Fatalf("deliver(first) failed: %v", err)
	}
	if err := c.deliver(ctx, second); err != nil {
		t.Fatalf("deliver(second) failed: %v", err)
	}

	for i, want := range []string{"notifications/first", "notifications/second"} {
		msg, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("Read #%d failed: %v", i, err)
		}
		req, ok := msg.(*jsonrpc.Request)
		if !ok {
			t.Fatalf("Read #%d returned %T, want *jsonrpc.Request", i, msg)
		}
		if req.Method != want {
			t.Errorf("Read #%d method = %q, want %q", i, req.Method, want)
		}
	}
}

// TestStreamConn_ReadDrainsQueueBeforeEOF verifies that messages already
// accepted with a 202 are still handed to the engine after the connection is
// signalled closed; only then does Read report EOF.
func TestStreamConn_ReadDrainsQueueBeforeEOF(t *testing.T) {
	c, _ := newTestConn("s1", &streamBuffer{}, nil)
	ctx := context.Background()

	queued := &jsonrpc.Request{Method: "notifications/queued"}
	if err := c.deliver(ctx, queued); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msg, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read after close should drain the queue, got error: %v", err)
	}
	if req := msg.(*jsonrpc.Request); req.Method != "notifications/queued" {
		t.Errorf("drained method = %q, want %q", req.Method, "notifications/queued")
	}

	if _, err := c.Read(ctx); err != io.EOF {
		t.Errorf("Read on drained closed conn = %v, want io.EOF", err)
	}
}

func TestStreamConn_ReadContextCancelled(t *testing.T) {
	c, _ := newTestConn("s1", &streamBuffer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read with cancelled context = %v, want context.Canceled", err)
	}
}

func TestStreamConn_DeliverAfterClose(t *testing.T) {
	c, _ := newTestConn("s1", &streamBuffer{}, nil)
	c.signalDone()

	// Fill the queue first so the send cannot win the select.
	for i := 0; i < inboundQueueSize; i++ {
		select {
		case c.inbound <- &jsonrpc.Request{Method: "fill"}:
		default:
		}
	}
	err := c.deliver(context.Background(), &jsonrpc.Request{Method: "late"})
	if !errors.Is(err, errConnClosed) {
		t.Errorf("deliver after close = %v, want errConnClosed", err)
	}
}

// TestStreamConn_WriteFramesNotification verifies that an engine-initiated
// message goes out as a flushed SSE data frame.
func TestStreamConn_WriteFramesNotification(t *testing.T) {
	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)

	note := &jsonrpc.Request{Method: "notifications/tools/list_changed"}
	if err := c.Write(context.Background(), note); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "data: ") {
		t.Errorf("frame = %q, want data: prefix", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("frame = %q, want blank-line terminator", out)
	}
	if !strings.Contains(out, `"notifications/tools/list_changed"`) {
		t.Errorf("frame = %q, want encoded method name", out)
	}
	if buf.FlushCount() == 0 {
		t.Error("Write did not flush the frame")
	}
}

// TestStreamConn_WriteRoutesResponseToWaiter verifies that a response whose
// id has a registered waiter is handed to the waiter and never written to
// the stream.
func TestStreamConn_WriteRoutesResponseToWaiter(t *testing.T) {
	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)

	// The POST side derives the key from the client's raw bytes.
	env, err := wire.ParseEnvelope([]byte(`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	key, ok := wire.CanonicalID(env.ID)
	if !ok {
		t.Fatal("CanonicalID failed for numeric id")
	}
	waiter := c.expect(key)

	resp := &jsonrpc.Response{ID: makeID(t, 7), Result: json.RawMessage(`{"tools":[]}`)}
	if err := c.Write(context.Background(), resp); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case data := <-waiter:
		if !strings.Contains(string(data), `"tools"`) {
			t.Errorf("waiter got %q, want the encoded result", data)
		}
	default:
		t.Fatal("waiter did not receive the response")
	}

	if got := buf.String(); got != "" {
		t.Errorf("stream got %q, want nothing (response belongs to the waiter)", got)
	}
}

// TestStreamConn_WriteResponseWithoutWaiter verifies that a response nobody
// waits for falls through to the stream.
func TestStreamConn_WriteResponseWithoutWaiter(t *testing.T) {
	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)

	resp := &jsonrpc.Response{ID: makeID(t, 9), Result: json.RawMessage(`{}`)}
	if err := c.Write(context.Background(), resp); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if out := buf.String(); !strings.HasPrefix(out, "data: ") {
		t.Errorf("stream got %q, want a data frame", out)
	}
}

func TestStreamConn_WriteAfterClose(t *testing.T) {
	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)
	c.signalDone()

	note := &jsonrpc.Request{Method: "notifications/late"}
	if err := c.Write(context.Background(), note); !errors.Is(err, errConnClosed) {
		t.Errorf("Write after close = %v, want errConnClosed", err)
	}
	if got := buf.String(); got != "" {
		t.Errorf("stream got %q after close, want nothing", got)
	}
}

// TestStreamConn_CloseOnlySignals verifies that the engine closing its
// binding does not run the closing sequence itself: the routing entry stays
// until the stream handler runs shutdown.
func TestStreamConn_CloseOnlySignals(t *testing.T) {
	c, table := newTestConn("s1", &streamBuffer{}, nil)
	table.register("s1", c)

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-c.done:
	default:
		t.Error("Close did not signal done")
	}
	if table.lookup("s1") != c {
		t.Error("Close removed the routing entry; only shutdown may do that")
	}

	c.shutdown()
	if table.lookup("s1") != nil {
		t.Error("shutdown left the routing entry in place")
	}
}

func TestStreamConn_ShutdownIdempotent(t *testing.T) {
	c, table := newTestConn("s1", &streamBuffer{}, nil)
	table.register("s1", c)

	c.shutdown()
	c.shutdown()

	if got := c.currentState(); got != stateClosed {
		t.Errorf("state = %v, want %v", got, stateClosed)
	}
	if table.routedCount() != 0 {
		t.Errorf("routedCount = %d, want 0", table.routedCount())
	}
}

// TestConnTable_RegisterSupersedes verifies that a second registration under
// the same id takes over routing while the first connection stays open.
func TestConnTable_RegisterSupersedes(t *testing.T) {
	table := newConnTable()
	c1 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())
	c2 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())

	if old := table.register("s1", c1); old != nil {
		t.Errorf("first register displaced %v, want nil", old)
	}
	old := table.register("s1", c2)
	if old != c1 {
		t.Errorf("second register displaced %v, want the first connection", old)
	}

	if got := table.lookup("s1"); got != c2 {
		t.Error("lookup does not point at the newer connection")
	}

	// The superseded connection is unrouted, not closed.
	select {
	case <-c1.done:
		t.Error("supersession closed the older connection")
	default:
	}
	if got := c1.currentState(); got != stateOpening {
		t.Errorf("superseded conn state = %v, want untouched %v", got, stateOpening)
	}
}

// TestConnTable_ReleaseIdentityChecked verifies that releasing a superseded
// connection cannot unroute its replacement.
func TestConnTable_ReleaseIdentityChecked(t *testing.T) {
	table := newConnTable()
	c1 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())
	c2 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())
	table.register("s1", c1)
	table.register("s1", c2)

	if released := table.release("s1", c1); released {
		t.Error("release of superseded conn reported true, want false")
	}
	if got := table.lookup("s1"); got != c2 {
		t.Error("release of superseded conn unrouted the replacement")
	}

	if released := table.release("s1", c2); !released {
		t.Error("release of the routed conn reported false, want true")
	}
	if got := table.lookup("s1"); got != nil {
		t.Error("routing entry survived release of the routed conn")
	}
}

// TestConnTable_CloseAllReachesSuperseded verifies that shutdown tears down
// superseded connections too, not just the routed ones. A superseded stream
// left open would block server drain forever.
func TestConnTable_CloseAllReachesSuperseded(t *testing.T) {
	table := newConnTable()
	c1 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())
	c2 := newStreamConn("s1", &streamBuffer{}, func() {}, table, slog.Default())
	table.register("s1", c1)
	table.register("s1", c2)

	table.closeAll()

	for i, c := range []*streamConn{c1, c2} {
		if got := c.currentState(); got != stateClosed {
			t.Errorf("conn #%d state = %v, want %v", i+1, got, stateClosed)
		}
		select {
		case <-c.done:
		default:
			t.Errorf("conn #%d not signalled done", i+1)
		}
	}
	if table.routedCount() != 0 {
		t.Errorf("routedCount = %d, want 0", table.routedCount())
	}
}

// TestHeartbeat_EmitsPingAndTouches verifies the periodic comment frame and
// session touch.
func TestHeartbeat_EmitsPingAndTouches(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)

	var touches atomic.Int32
	hb := newHeartbeat(10 * time.Millisecond)
	hb.start(c, func() { touches.Add(1) })

	deadline := time.After(2 * time.Second)
	for touches.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("heartbeat never ticked twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	hb.stop()

	if out := buf.String(); !strings.Contains(out, ": ping\n\n") {
		t.Errorf("stream = %q, want ping comment frames", out)
	}
}

// TestHeartbeat_WriteFailureClosesConn verifies that a failed ping marks the
// connection done and the task exits without needing stop.
func TestHeartbeat_WriteFailureClosesConn(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _ := newTestConn("s1", failWriter{}, nil)

	hb := newHeartbeat(5 * time.Millisecond)
	hb.start(c, func() { t.Error("touch ran after a failed ping") })

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat write failure did not signal done")
	}
	// stop after self-exit must not hang.
	hb.stop()
}

func TestHeartbeat_StopIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	buf := &streamBuffer{}
	c, _ := newTestConn("s1", buf, buf.Flush)

	hb := newHeartbeat(time.Hour)
	hb.start(c, func() {})
	hb.stop()
	hb.stop()
}
