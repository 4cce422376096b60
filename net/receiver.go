package net

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/lcx/tachyon/metrics"
)

// attempt bundles everything one connect-to-teardown lifecycle touches. The
// bundle is created by Connect, captured by the receive goroutine, and never
// shared with a later attempt, so concurrent Connect/Disconnect calls on the
// handle cannot corrupt an in-flight attempt.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	state    *connectState
	sendPipe *SendPipe
	recvPipe *ReceivePipe
	signal   *WakeSignal

	mu   sync.Mutex
	conn net.Conn
	dead atomic.Bool
}

func newAttempt(state *connectState, sendPipe *SendPipe, recvPipe *ReceivePipe, signal *WakeSignal) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	return &attempt{
		ctx:      ctx,
		cancel:   cancel,
		state:    state,
		sendPipe: sendPipe,
		recvPipe: recvPipe,
		signal:   signal,
	}
}

func (a *attempt) setConn(conn net.Conn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *attempt) getConn() net.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

// alive reports whether the attempt carries an established, not yet torn down
// connection.
func (a *attempt) alive() bool {
	return !a.dead.Load() && a.getConn() != nil
}

// forceClose marks the attempt dead and closes its socket. Safe to call from
// any goroutine, concurrently with goroutines blocked on the socket: the
// close aborts their blocking call with an error instead of corrupting state.
// Safe to call after the goroutines have already exited.
func (a *attempt) forceClose() {
	a.dead.Store(true)
	if conn := a.getConn(); conn != nil {
		_ = conn.Close()
	}
}

// runAttempt is the receive goroutine supervising the whole attempt lifetime:
// blocking connect, option application, send goroutine spawn, receive loop,
// and unconditional cleanup. No fault escapes this boundary; the caller
// observes outcomes only as events on the receive pipe.
func (c *Client) runAttempt(att *attempt, addr string) {
	defer c.finishAttempt(att)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("addr", addr).Str("panic", fmt.Sprint(r)).Msg("receive goroutine fault")
		}
	}()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(att.ctx, "tcp", addr)
	if err != nil {
		// Unreachable, refused, resolution failure, or an abort through
		// Disconnect. Recoverable: surfaced solely as a disconnect event.
		c.log.Info().Str("addr", addr).Err(err).Msg("connect failed")
		metrics.IncrCounterWithGroup("net", "client_connect_fail_total", 1)
		return
	}

	att.setConn(conn)
	if att.dead.Load() {
		// A concurrent Disconnect raced the dial; it closed nothing because
		// the socket did not exist yet.
		_ = conn.Close()
		return
	}

	att.state.SetConnecting(false)

	// Deferred socket options: only settable once the real socket exists.
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(c.cfg.NoDelay)
	}

	att.recvPipe.SetConnected(clientConnID)
	metrics.IncrCounterWithGroup("net", "client_connect_success_total", 1)

	go func() {
		if err := sendLoop(att.ctx, conn, att.sendPipe, att.signal, c.cfg.SendTimeout); err != nil {
			if !att.dead.Load() {
				c.log.Info().Err(err).Msg("send loop stopped")
			}
			// A write fault leaves the receive loop blocked on a healthy
			// read; closing the socket ends the attempt.
			att.forceClose()
		}
	}()

	err = receiveLoop(att.ctx, conn, clientConnID, att.recvPipe, c.cfg.MaxMessageSize, c.cfg.QueueLimit, nil)
	if err != nil && !att.dead.Load() {
		// Peer closed or read fault. Teardown races during a concurrent
		// disconnect land in the dead branch and stay silent.
		c.log.Info().Err(err).Msg("receive loop stopped")
	}
}

// finishAttempt is the cleanup that runs on every exit path of runAttempt.
func (c *Client) finishAttempt(att *attempt) {
	att.dead.Store(true)

	// The send goroutine may be parked on the wake signal with nothing
	// pending; a socket close alone will not wake it.
	att.cancel()
	att.signal.Set()

	// Interruption paths bypass the success-path reset.
	att.state.SetConnecting(false)

	if conn := att.getConn(); conn != nil {
		_ = conn.Close()
	}

	// Every attempt ends with exactly one disconnected event, whether the
	// connect ever succeeded or not.
	att.recvPipe.SetDisconnected(clientConnID)
	metrics.IncrCounterWithGroup("net", "client_disconnect_total", 1)
}
