package net

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcx/tachyon/log"
)

// quietLogger silences everything below fatal so test output stays readable.
func quietLogger() log.Logger {
	return log.NewLogger(&log.LogCfg{LogLevel: log.FatalLevel})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestClient(t *testing.T, cfg *ClientCfg) *Client {
	t.Helper()
	if cfg == nil {
		cfg = DefaultClientCfg()
	}
	c, err := NewClientWithConfig(cfg)
	require.NoError(t, err)
	c.SetLogger(quietLogger())
	return c
}

// testListener accepts connections on loopback and keeps them open until the
// test ends.
type testListener struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func newTestListener(t *testing.T) *testListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tl := &testListener{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			tl.mu.Lock()
			tl.conns = append(tl.conns, conn)
			tl.mu.Unlock()
		}
	}()

	t.Cleanup(tl.close)
	return tl
}

func (tl *testListener) close() {
	_ = tl.ln.Close()
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, conn := range tl.conns {
		_ = conn.Close()
	}
}

func (tl *testListener) port() int {
	return tl.ln.Addr().(*net.TCPAddr).Port
}

// mockConn implements net.Conn for tests that need direct control over the
// attempt without background goroutines.
type mockConn struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{done: make(chan struct{})}
}

func (m *mockConn) Read(b []byte) (int, error) {
	<-m.done
	return 0, net.ErrClosed
}

func (m *mockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	return len(b), nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (m *mockConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// attachMockAttempt wires a hand-built attempt into the client, bypassing the
// background goroutines, so Send semantics can be tested deterministically.
func attachMockAttempt(c *Client) (*attempt, *mockConn) {
	conn := newMockConn()
	att := newAttempt(newConnectState(), NewSendPipe(), NewReceivePipe(), NewWakeSignal())
	att.setConn(conn)

	c.mu.Lock()
	c.state = att.state
	c.sendPipe = att.sendPipe
	c.recvPipe = att.recvPipe
	c.signal = att.signal
	c.att = att
	c.mu.Unlock()
	return att, conn
}

func TestClientConnectSuccess(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(t, nil)

	var connected bool
	c.OnConnected = func() { connected = true }

	c.Connect("127.0.0.1", tl.port())
	waitFor(t, 2*time.Second, func() bool {
		c.Dispatch(10, nil)
		return connected
	}, "client never connected")

	assert.True(t, c.Connected())
	assert.False(t, c.Connecting())
}

func TestClientConnectUnreachable(t *testing.T) {
	// Grab a loopback port and release it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := newTestClient(t, nil)

	var connectedEvents, disconnectedEvents int
	c.OnConnected = func() { connectedEvents++ }
	c.OnDisconnected = func() { disconnectedEvents++ }

	c.Connect("127.0.0.1", port)
	waitFor(t, 2*time.Second, func() bool {
		return !c.Connecting() && c.Dispatch(10, nil) == 0 && disconnectedEvents > 0
	}, "no disconnected event after failed connect")

	assert.Equal(t, 0, connectedEvents)
	assert.Equal(t, 1, disconnectedEvents)
	assert.False(t, c.Connected())
}

func TestClientConnectWhileLiveIsNoOp(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(t, nil)

	c.Connect("127.0.0.1", tl.port())
	waitFor(t, 2*time.Second, c.Connected, "client never connected")

	c.mu.Lock()
	att := c.att
	c.mu.Unlock()

	// A second connect while live must leave the existing attempt untouched.
	c.Connect("127.0.0.1", tl.port())

	c.mu.Lock()
	assert.Same(t, att, c.att)
	c.mu.Unlock()
}

func TestClientSendNotConnected(t *testing.T) {
	c := newTestClient(t, nil)
	assert.False(t, c.Send([]byte("hello")))
}

func TestClientSendOversize(t *testing.T) {
	cfg := DefaultClientCfg()
	cfg.MaxMessageSize = 8
	c := newTestClient(t, cfg)
	_, conn := attachMockAttempt(c)

	assert.False(t, c.Send(make([]byte, 9)))
	assert.False(t, conn.isClosed())

	assert.True(t, c.Send(make([]byte, 8)))
	assert.True(t, c.Send(nil)) // empty message is legal
}

func TestClientSendBackpressureDisconnects(t *testing.T) {
	cfg := DefaultClientCfg()
	cfg.QueueLimit = 2
	c := newTestClient(t, cfg)
	att, conn := attachMockAttempt(c)

	assert.True(t, c.Send([]byte("a")))
	assert.True(t, c.Send([]byte("b")))

	// Third send trips the limit: rejected, connection force-closed.
	assert.False(t, c.Send([]byte("c")))
	assert.True(t, conn.isClosed())
	assert.False(t, c.Connected())
	assert.True(t, att.dead.Load())

	// And every send afterwards fails without mutation.
	assert.False(t, c.Send([]byte("d")))
	assert.Equal(t, 2, att.sendPipe.Count())
}

func TestClientDisconnectImmediate(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(t, nil)

	c.Connect("127.0.0.1", tl.port())
	waitFor(t, 2*time.Second, c.Connected, "client never connected")

	c.Disconnect()
	// Connected must read false before the background goroutines exit.
	assert.False(t, c.Connected())
	assert.False(t, c.Connecting())

	// Teardown delivers exactly one disconnected event.
	var disconnectedEvents int
	c.OnDisconnected = func() { disconnectedEvents++ }
	waitFor(t, 2*time.Second, func() bool {
		c.Dispatch(10, nil)
		return disconnectedEvents == 1
	}, "no disconnected event after Disconnect")
}

func TestClientDisconnectDuringDial(t *testing.T) {
	c := newTestClient(t, nil)

	var connectedEvents, disconnectedEvents int
	c.OnConnected = func() { connectedEvents++ }
	c.OnDisconnected = func() { disconnectedEvents++ }

	// A blackholed address keeps the dial parked; closing a socket cannot
	// unblock it, so teardown has to cancel the attempt context.
	c.Connect("10.255.255.1", 65000)
	require.True(t, c.Connecting())

	c.Disconnect()
	assert.False(t, c.Connecting())
	assert.False(t, c.Connected())

	waitFor(t, 2*time.Second, func() bool {
		c.Dispatch(10, nil)
		return disconnectedEvents == 1
	}, "aborted dial produced no disconnected event")

	// Exactly one, and never a connected event.
	c.Dispatch(10, nil)
	assert.Equal(t, 1, disconnectedEvents)
	assert.Equal(t, 0, connectedEvents)
}

func TestClientDisconnectWhenIdleIsNoOp(t *testing.T) {
	c := newTestClient(t, nil)
	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.Connected())
}

func TestClientReconnectAfterDisconnect(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(t, nil)

	c.Connect("127.0.0.1", tl.port())
	waitFor(t, 2*time.Second, c.Connected, "first connect failed")

	c.Disconnect()

	// A following connect is safe immediately: all per-attempt state has
	// been replaced.
	c.Connect("127.0.0.1", tl.port())
	waitFor(t, 2*time.Second, c.Connected, "second connect failed")
}

func TestClientDispatchOrdering(t *testing.T) {
	c := newTestClient(t, nil)
	_, _ = attachMockAttempt(c)

	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()

	pipe.SetConnected(clientConnID)
	pipe.Enqueue(clientConnID, []byte("m1"))
	pipe.Enqueue(clientConnID, []byte("m2"))
	pipe.Enqueue(clientConnID, []byte("m3"))
	pipe.SetDisconnected(clientConnID)

	var got []string
	c.OnConnected = func() { got = append(got, "connected") }
	c.OnData = func(msg []byte) { got = append(got, string(msg)) }
	c.OnDisconnected = func() { got = append(got, "disconnected") }

	// Budget of M+2 drains everything in one call.
	remaining := c.Dispatch(5, nil)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, []string{"connected", "m1", "m2", "m3", "disconnected"}, got)
}

func TestClientDispatchBudgetDefersDisconnected(t *testing.T) {
	c := newTestClient(t, nil)
	_, _ = attachMockAttempt(c)

	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()

	pipe.SetConnected(clientConnID)
	pipe.Enqueue(clientConnID, []byte("m1"))
	pipe.Enqueue(clientConnID, []byte("m2"))
	pipe.SetDisconnected(clientConnID)

	var got []string
	c.OnConnected = func() { got = append(got, "connected") }
	c.OnData = func(msg []byte) { got = append(got, string(msg)) }
	c.OnDisconnected = func() { got = append(got, "disconnected") }

	// Budget m+1: data drained but disconnected deferred, never reordered.
	remaining := c.Dispatch(3, nil)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, []string{"connected", "m1", "m2"}, got)

	remaining = c.Dispatch(1, nil)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, []string{"connected", "m1", "m2", "disconnected"}, got)
}

func TestClientDispatchBudgetSplitsFIFO(t *testing.T) {
	c := newTestClient(t, nil)
	_, _ = attachMockAttempt(c)

	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()

	for i := byte(0); i < 10; i++ {
		pipe.Enqueue(clientConnID, []byte{i})
	}

	var got []byte
	c.OnData = func(msg []byte) { got = append(got, msg[0]) }

	// Uneven budget splits must preserve order and deliver exactly once.
	for _, budget := range []int{1, 3, 2, 4} {
		c.Dispatch(budget, nil)
	}

	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestClientDispatchContinuePredicate(t *testing.T) {
	c := newTestClient(t, nil)
	_, _ = attachMockAttempt(c)

	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()

	pipe.Enqueue(clientConnID, []byte("m1"))
	pipe.Enqueue(clientConnID, []byte("m2"))
	pipe.Enqueue(clientConnID, []byte("m3"))

	var got []string
	c.OnData = func(msg []byte) { got = append(got, string(msg)) }

	// The predicate pauses processing after the first message.
	delivered := 0
	remaining := c.Dispatch(10, func() bool {
		delivered++
		return delivered <= 1
	})

	assert.Equal(t, []string{"m1"}, got)
	assert.Equal(t, 2, remaining)

	// Resuming later picks up exactly where it stopped.
	c.Dispatch(10, nil)
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestClientDispatchZeroBudget(t *testing.T) {
	c := newTestClient(t, nil)
	_, _ = attachMockAttempt(c)

	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()
	pipe.SetConnected(clientConnID)

	fired := false
	c.OnConnected = func() { fired = true }

	remaining := c.Dispatch(0, nil)
	assert.False(t, fired)
	assert.Equal(t, 1, remaining)
}

func TestClientDispatchBeforeConnect(t *testing.T) {
	c := newTestClient(t, nil)
	assert.Equal(t, 0, c.Dispatch(10, nil))
}

func TestClientConnectingLifecycle(t *testing.T) {
	tl := newTestListener(t)
	c := newTestClient(t, nil)

	assert.False(t, c.Connecting())
	c.Connect("127.0.0.1", tl.port())

	// Connecting drops once the connect resolves.
	waitFor(t, 2*time.Second, func() bool {
		return c.Connected() && !c.Connecting()
	}, "client never connected")

	c.Disconnect()
	assert.False(t, c.Connecting())
}
