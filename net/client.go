package net

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/lcx/tachyon/config"
	"github.com/lcx/tachyon/log"
	"github.com/lcx/tachyon/metrics"
)

// clientConnID is the connection id the client uses on its receive pipe; a
// client only ever has one live connection.
const clientConnID uint64 = 0

// Client is a non-blocking TCP client holding at most one live connection
// attempt. Connect, Send, Disconnect and Dispatch never block the calling
// goroutine: connecting and socket I/O run on background goroutines, and all
// callbacks fire exclusively from within Dispatch, on the caller's goroutine.
//
// The state flag, pipes and wake signal are replaced as a unit on every
// connect request; background goroutines capture the bundle at spawn time and
// never read the handle's mutable fields afterwards, so a later Connect or
// Disconnect cannot corrupt an in-flight attempt.
type Client struct {
	// OnConnected is invoked from Dispatch once per attempt after the
	// connection is established.
	OnConnected func()

	// OnData is invoked from Dispatch for each received message. The slice
	// is a view over pipe-owned memory, valid only for the duration of the
	// callback.
	OnData func(msg []byte)

	// OnDisconnected is invoked from Dispatch once per attempt after the
	// connection ended, whether it ever established or not.
	OnDisconnected func()

	cfg *ClientCfg
	log log.Logger

	mu       sync.Mutex
	state    *connectState
	sendPipe *SendPipe
	recvPipe *ReceivePipe
	signal   *WakeSignal
	att      *attempt
}

// NewClient creates a client with default configuration.
func NewClient() *Client {
	c, _ := NewClientWithConfig(DefaultClientCfg())
	return c
}

// NewClientWithConfig creates a client with the provided configuration.
func NewClientWithConfig(cfg *ClientCfg) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("ClientCfg cannot be nil, use NewClientWithConfigManager for loaded configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client configuration: %w", err)
	}
	return &Client{cfg: cfg, log: log.Default()}, nil
}

// NewClientWithConfigManager creates a client with configuration loaded from
// the config manager. The values are snapshotted once: client configuration
// is immutable for the handle's lifetime.
func NewClientWithConfigManager(configManager config.ConfigManager) (*Client, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := &ClientCfg{}
	if err := configManager.LoadConfig("client", cfg); err != nil {
		return nil, fmt.Errorf("failed to load client config: %w", err)
	}
	return NewClientWithConfig(cfg)
}

// SetLogger replaces the client's logger. Must be called before Connect.
func (c *Client) SetLogger(logger log.Logger) {
	if logger != nil {
		c.log = logger
	}
}

// Connecting reports whether a connection attempt is in flight: true from the
// instant a connect request is accepted until the blocking connect resolves
// or the attempt is aborted.
func (c *Client) Connecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != nil && c.state.Connecting()
}

// Connected reports whether a live connection exists. It is computed on every
// call, never cached: socket present and the attempt not torn down.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.att != nil && c.att.alive()
}

// Connect starts a connection attempt to host:port and returns immediately.
// A request issued while connecting or connected is a no-op leaving the
// existing attempt untouched. The outcome is reported asynchronously through
// the OnConnected / OnDisconnected callbacks during Dispatch.
func (c *Client) Connect(host string, port int) {
	c.mu.Lock()
	if (c.state != nil && c.state.Connecting()) || (c.att != nil && c.att.alive()) {
		c.mu.Unlock()
		c.log.Warn().Str("host", host).Int("port", port).Msg("connect ignored: already connecting or connected")
		return
	}

	// Fresh bundle per attempt. Nothing of a previous attempt is reused.
	state := newConnectState()
	state.SetConnecting(true)
	att := newAttempt(state, NewSendPipe(), NewReceivePipe(), NewWakeSignal())

	c.state = att.state
	c.sendPipe = att.sendPipe
	c.recvPipe = att.recvPipe
	c.signal = att.signal
	c.att = att
	c.mu.Unlock()

	metrics.IncrCounterWithGroup("net", "client_connect_total", 1)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go c.runAttempt(att, addr)
}

// Send enqueues a message for delivery and returns true once queued, not once
// delivered. Returns false without mutation when not connected or when the
// message exceeds MaxMessageSize. A full outbound queue is fatal backpressure:
// the socket is force-closed and false returned, on the premise that a peer
// which cannot keep pace is effectively gone.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	att := c.att
	sendPipe := c.sendPipe
	signal := c.signal
	c.mu.Unlock()

	if att == nil || !att.alive() {
		c.log.Warn().Msg("send failed: not connected")
		metrics.IncrCounterWithDimGroup("net", "client_send_drop_total", 1, metrics.Dimension{"reason": "not_connected"})
		return false
	}

	if len(msg) > c.cfg.MaxMessageSize {
		c.log.Error().Int("size", len(msg)).Int("limit", c.cfg.MaxMessageSize).Msg("send failed: message too large")
		metrics.IncrCounterWithDimGroup("net", "client_send_drop_total", 1, metrics.Dimension{"reason": "oversize"})
		return false
	}

	if sendPipe.Count() >= c.cfg.QueueLimit {
		c.log.Error().Int("limit", c.cfg.QueueLimit).Msg("send queue full: closing connection")
		metrics.IncrCounterWithDimGroup("net", "client_send_drop_total", 1, metrics.Dimension{"reason": "backpressure"})
		att.forceClose()
		return false
	}

	sendPipe.Enqueue(msg)
	signal.Set()
	return true
}

// Disconnect requests teardown of the current attempt and returns without
// waiting for the background goroutines to exit. A no-op unless connecting or
// connected. Connected reports false as soon as Disconnect returns; a
// following Connect is safe immediately because every mutable object the old
// goroutines touch has been replaced, never reused.
func (c *Client) Disconnect() {
	c.mu.Lock()
	att := c.att
	state := c.state
	sendPipe := c.sendPipe
	connecting := state != nil && state.Connecting()
	if att == nil || (!connecting && !att.alive()) {
		c.mu.Unlock()
		return
	}
	// Drop the socket reference so Connected reads false immediately.
	c.att = nil
	c.mu.Unlock()

	// Closing the socket is the primary unblock mechanism for goroutines
	// parked in blocking calls; cancelling the attempt context is the
	// backstop for states a close alone does not unblock, e.g. mid name
	// resolution.
	att.forceClose()
	att.cancel()

	// The supervisor's own reset is bypassed when it never ran; force it.
	state.SetConnecting(false)

	// Unsent data is meaningless after a disconnect.
	sendPipe.Clear()
}

// Dispatch drains pending network events, firing callbacks on the calling
// goroutine, up to the given processing budget. Events are delivered strictly
// ordered within one attempt: connected first, then data in FIFO order, then
// disconnected. continueFn, when non-nil, is consulted before each data item;
// returning false stops the call early, supporting cooperative pausing.
//
// Dispatch must be driven from a single goroutine. It never blocks. The
// returned count is the number of events still pending, so the caller can
// decide whether to call again.
func (c *Client) Dispatch(budget int, continueFn func() bool) int {
	c.mu.Lock()
	pipe := c.recvPipe
	c.mu.Unlock()

	if pipe == nil {
		return 0
	}

	if budget > 0 && pipe.CheckConnected(clientConnID) {
		if c.OnConnected != nil {
			c.OnConnected()
		}
		budget--
	}

	for budget > 0 {
		if continueFn != nil && !continueFn() {
			return pipe.TotalCount()
		}
		_, msg, ok := pipe.TryPeek()
		if !ok {
			break
		}
		if c.OnData != nil {
			c.OnData(msg)
		}
		pipe.TryDequeue()
		budget--
	}

	if budget > 0 && pipe.CheckDisconnected(clientConnID) {
		if c.OnDisconnected != nil {
			c.OnDisconnected()
		}
	}

	return pipe.TotalCount()
}
