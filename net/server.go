package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/lcx/tachyon/config"
	"github.com/lcx/tachyon/log"
	"github.com/lcx/tachyon/metrics"
)

// Server is the server-side multiplexer: it runs the same per-connection
// protocol as Client many times concurrently. Every accepted connection gets
// its own goroutine pair, send pipe and wake signal; all connections feed one
// shared receive pipe drained by Dispatch on the caller's goroutine.
type Server struct {
	// OnConnected is invoked from Dispatch when a connection is accepted.
	OnConnected func(connID uint64)

	// OnData is invoked from Dispatch for each received message. The slice
	// is valid only for the duration of the callback.
	OnData func(connID uint64, msg []byte)

	// OnDisconnected is invoked from Dispatch when a connection ended.
	OnDisconnected func(connID uint64)

	cfg     *ServerCfg
	log     log.Logger
	limiter RecvLimiter

	recvPipe *ReceivePipe
	nextID   atomic.Uint64

	lock     sync.RWMutex
	conns    map[uint64]*serverConn
	listener *net.TCPListener
	cancel   context.CancelFunc
}

// NewServerWithConfig creates a server with the provided configuration.
func NewServerWithConfig(cfg *ServerCfg) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("ServerCfg cannot be nil, use NewServerWithConfigManager for loaded configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	return &Server{
		cfg:      cfg,
		log:      log.Default(),
		limiter:  newServerLimiter(cfg),
		recvPipe: NewReceivePipe(),
		conns:    make(map[uint64]*serverConn),
	}, nil
}

// NewServerWithConfigManager creates a server with configuration loaded from
// the config manager, registered for hot-reload of the receive rate limit.
func NewServerWithConfigManager(configManager config.ConfigManager) (*Server, error) {
	if configManager == nil {
		return nil, errors.New("configManager cannot be nil")
	}

	cfg := &ServerCfg{}
	if err := configManager.LoadConfig("server", cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	s, err := NewServerWithConfig(cfg)
	if err != nil {
		return nil, err
	}

	configManager.AddChangeListener(s)
	return s, nil
}

func newServerLimiter(cfg *ServerCfg) RecvLimiter {
	if cfg.RecvRateLimit <= 0 {
		return nil
	}
	if cfg.LimiterKind == LimiterFunnel {
		return NewFunnelRecvLimiter(cfg.RecvRateLimit)
	}
	return NewTokenRecvLimiter(cfg.RecvRateLimit, cfg.TokenBurst)
}

// OnConfigChanged implements config.ConfigChangeListener. Only the receive
// rate limit is applied to live connections; the remaining parameters affect
// connections accepted after the change.
func (s *Server) OnConfigChanged(configName string, newConfig, oldConfig config.Config) error {
	if configName != "server" {
		return nil
	}

	newCfg, ok := newConfig.(*ServerCfg)
	if !ok {
		return fmt.Errorf("invalid configuration type for Server")
	}
	if err := newCfg.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	switch l := s.limiter.(type) {
	case *TokenRecvLimiter:
		if newCfg.RecvRateLimit > 0 && newCfg.LimiterKind != LimiterFunnel {
			l.Reload(newCfg.RecvRateLimit, newCfg.TokenBurst)
		}
	case *FunnelRecvLimiter:
		if newCfg.RecvRateLimit > 0 && newCfg.LimiterKind == LimiterFunnel {
			l.Reload(newCfg.RecvRateLimit)
		}
	}
	s.cfg = newCfg

	s.log.Info().Str("configName", configName).Msg("server configuration updated")
	return nil
}

// GetConfigName implements config.ConfigChangeListener.
func (s *Server) GetConfigName() string {
	return "server"
}

// SetLogger replaces the server's logger. Must be called before Start.
func (s *Server) SetLogger(logger log.Logger) {
	if logger != nil {
		s.log = logger
	}
}

// Start begins listening on the configured address and returns immediately;
// accepted connections are served on background goroutines.
func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", s.cfg.Addr)
	if err != nil {
		return errors.New("resolve: " + err.Error())
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errors.New("listen fail: " + err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = listener
	s.cancel = cancel

	metrics.IncrCounterWithGroup("net", "server_start_total", 1)
	go s.serve(ctx, listener)
	return nil
}

// Addr returns the actual listen address, useful when the configured port
// was 0.
func (s *Server) Addr() net.Addr {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every live connection. Pending events remain
// dispatchable.
func (s *Server) Stop() error {
	s.lock.Lock()
	listener := s.listener
	cancel := s.cancel
	s.listener = nil
	s.cancel = nil
	conns := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		conns = append(conns, sc)
	}
	s.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		_ = listener.Close()
	}
	for _, sc := range conns {
		sc.close()
	}
	return nil
}

func (s *Server) serve(ctx context.Context, listener *net.TCPListener) {
	defer func() { _ = listener.Close() }()

	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			var e net.Error
			if errors.As(err, &e) && e.Timeout() {
				continue
			}
			// A dead listener must be distinguishable from an idle one;
			// only an ordinary Stop stays silent.
			if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("accept loop stopped")
			}
			return
		}

		s.lock.RLock()
		cfg := s.cfg
		s.lock.RUnlock()

		_ = conn.SetNoDelay(cfg.NoDelay)

		id := s.nextID.Add(1)
		connCtx, connCancel := context.WithCancel(ctx)
		sc := &serverConn{
			id:         id,
			conn:       conn,
			remoteAddr: conn.RemoteAddr(),
			sendPipe:   NewSendPipe(),
			signal:     NewWakeSignal(),
			ctx:        connCtx,
			cancel:     connCancel,
			srv:        s,
		}

		s.addConn(id, sc)
		s.recvPipe.SetConnected(id)

		metrics.IncrCounterWithGroup("net", "connection_success_total", 1)
		metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(s.connCount()))

		sc.serve()
	}
}

// Send enqueues a message for one connection. Semantics match Client.Send:
// false for unknown connection or oversized message, force-disconnect on a
// full outbound queue.
func (s *Server) Send(connID uint64, msg []byte) bool {
	s.lock.RLock()
	sc, ok := s.conns[connID]
	cfg := s.cfg
	s.lock.RUnlock()

	if !ok {
		s.log.Warn().Uint64("connID", connID).Msg("send failed: unknown connection")
		return false
	}

	if len(msg) > cfg.MaxMessageSize {
		s.log.Error().Uint64("connID", connID).Int("size", len(msg)).Int("limit", cfg.MaxMessageSize).Msg("send failed: message too large")
		return false
	}

	if sc.sendPipe.Count() >= cfg.QueueLimit {
		s.log.Error().Uint64("connID", connID).Int("limit", cfg.QueueLimit).Msg("send queue full: closing connection")
		metrics.IncrCounterWithGroup("net", "backpressure_close_total", 1)
		sc.close()
		return false
	}

	sc.sendPipe.Enqueue(msg)
	sc.signal.Set()
	return true
}

// Disconnect closes one connection. The disconnected event is delivered
// through Dispatch.
func (s *Server) Disconnect(connID uint64) error {
	s.lock.RLock()
	sc, ok := s.conns[connID]
	s.lock.RUnlock()
	if !ok {
		return errors.New("disconnect: connection not found: " + strconv.FormatUint(connID, 10))
	}
	sc.close()
	return nil
}

// ClientAddress returns the remote address of one connection.
func (s *Server) ClientAddress(connID uint64) (net.Addr, error) {
	s.lock.RLock()
	sc, ok := s.conns[connID]
	s.lock.RUnlock()
	if !ok {
		return nil, errors.New("client address: connection not found: " + strconv.FormatUint(connID, 10))
	}
	return sc.remoteAddr, nil
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.connCount()
}

// Dispatch drains pending events from all connections in arrival order,
// firing callbacks on the calling goroutine, up to the given budget. Per
// connection the order is connected, data in FIFO order, disconnected.
// Returns the number of events still pending.
func (s *Server) Dispatch(budget int, continueFn func() bool) int {
	pipe := s.recvPipe

	for budget > 0 {
		if continueFn != nil && !continueFn() {
			break
		}
		ev, ok := pipe.peekEvent()
		if !ok {
			break
		}

		switch ev.kind {
		case eventConnected:
			if s.OnConnected != nil {
				s.OnConnected(ev.connID)
			}
		case eventData:
			if s.OnData != nil {
				s.OnData(ev.connID, ev.data)
			}
		case eventDisconnected:
			if s.OnDisconnected != nil {
				s.OnDisconnected(ev.connID)
			}
		}

		pipe.dequeueEvent()
		if ev.kind == eventDisconnected {
			pipe.forget(ev.connID)
		}
		budget--
	}

	return pipe.TotalCount()
}

func (s *Server) addConn(id uint64, sc *serverConn) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.conns[id] = sc
}

func (s *Server) removeConn(id uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.conns, id)
}

func (s *Server) connCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.conns)
}

// serverConn is one accepted connection with its goroutine pair.
type serverConn struct {
	id         uint64
	conn       net.Conn
	remoteAddr net.Addr
	sendPipe   *SendPipe
	signal     *WakeSignal
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	srv        *Server
}

func (sc *serverConn) serve() {
	go sc.serveSend()
	go sc.serveRecv()
}

// close tears the connection down exactly once. Safe from any goroutine,
// including concurrently with goroutines blocked on the socket.
func (sc *serverConn) close() {
	sc.closeOnce.Do(func() {
		sc.srv.removeConn(sc.id)

		sc.cancel()
		sc.signal.Set()
		_ = sc.conn.Close()
		sc.sendPipe.Clear()
		sc.srv.recvPipe.SetDisconnected(sc.id)

		metrics.IncrCounterWithGroup("net", "connection_close_total", 1)
		metrics.UpdateGaugeWithGroup("net", "current_connections", metrics.Value(sc.srv.connCount()))
	})
}

func (sc *serverConn) serveSend() {
	s := sc.srv
	s.lock.RLock()
	sendTimeout := s.cfg.SendTimeout
	s.lock.RUnlock()

	if err := sendLoop(sc.ctx, sc.conn, sc.sendPipe, sc.signal, sendTimeout); err != nil {
		if sc.ctx.Err() == nil {
			s.log.Info().Uint64("connID", sc.id).Err(err).Msg("send loop stopped")
		}
		sc.close()
	}
}

func (sc *serverConn) serveRecv() {
	defer sc.close()

	s := sc.srv
	s.lock.RLock()
	maxMessageSize := s.cfg.MaxMessageSize
	queueLimit := s.cfg.QueueLimit
	s.lock.RUnlock()

	err := receiveLoop(sc.ctx, sc.conn, sc.id, s.recvPipe, maxMessageSize, queueLimit, s.limiter)
	if err != nil && sc.ctx.Err() == nil {
		s.log.Info().Uint64("connID", sc.id).Err(err).Msg("receive loop stopped")
	}
}
