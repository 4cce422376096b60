package net

import (
	"fmt"
	"time"
)

const (
	// LimiterToken selects the token bucket receive limiter.
	LimiterToken = "token"
	// LimiterFunnel selects the leaky bucket receive limiter.
	LimiterFunnel = "funnel"
)

// ClientCfg holds the immutable configuration of a Client. The values are
// fixed for the lifetime of the handle; every connection attempt reads the
// same copy.
type ClientCfg struct {
	// MaxMessageSize bounds a single message payload in bytes, enforced on
	// both the send path and the receive framing.
	MaxMessageSize int `mapstructure:"maxMessageSize"`

	// NoDelay disables Nagle's algorithm on established connections.
	NoDelay bool `mapstructure:"noDelay"`

	// SendTimeout is the write deadline applied to each batched socket write.
	// Zero disables the deadline.
	SendTimeout time.Duration `mapstructure:"sendTimeout"`

	// QueueLimit bounds both pipes. Reaching it on the outbound pipe
	// force-disconnects instead of growing memory; reaching it on unconsumed
	// inbound messages tears the connection down from the receive loop.
	QueueLimit int `mapstructure:"queueLimit"`
}

// GetName returns the configuration name for ClientCfg
func (c *ClientCfg) GetName() string {
	return "client"
}

// Validate validates the ClientCfg parameters
func (c *ClientCfg) Validate() error {
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive")
	}
	if c.QueueLimit <= 0 {
		return fmt.Errorf("QueueLimit must be positive")
	}
	if c.SendTimeout < 0 {
		return fmt.Errorf("SendTimeout must be non-negative")
	}
	return nil
}

// DefaultClientCfg returns the defaults used when no configuration source is
// supplied.
func DefaultClientCfg() *ClientCfg {
	return &ClientCfg{
		MaxMessageSize: 16 * 1024,
		NoDelay:        true,
		SendTimeout:    5 * time.Second,
		QueueLimit:     10000,
	}
}

// ServerCfg holds the configuration of a Server. Connection parameters apply
// to connections accepted after a change; the receive rate limit supports
// hot-reload.
type ServerCfg struct {
	// Addr is the listen address, host:port.
	Addr string `mapstructure:"addr"`

	// MaxMessageSize bounds a single message payload in bytes.
	MaxMessageSize int `mapstructure:"maxMessageSize"`

	// NoDelay disables Nagle's algorithm on accepted connections.
	NoDelay bool `mapstructure:"noDelay"`

	// SendTimeout is the write deadline applied to each batched socket write.
	SendTimeout time.Duration `mapstructure:"sendTimeout"`

	// QueueLimit bounds the per-connection pipes, outbound and unconsumed
	// inbound alike.
	QueueLimit int `mapstructure:"queueLimit"`

	// RecvRateLimit caps inbound messages per second per connection. Zero
	// disables rate limiting.
	RecvRateLimit int `mapstructure:"recvRateLimit"`

	// TokenBurst is the bucket size of the token limiter.
	TokenBurst int `mapstructure:"tokenBurst"`

	// LimiterKind selects the limiter algorithm, "token" or "funnel".
	LimiterKind string `mapstructure:"limiterKind"`
}

// GetName returns the configuration name for ServerCfg
func (c *ServerCfg) GetName() string {
	return "server"
}

// Validate validates the ServerCfg parameters
func (c *ServerCfg) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("Addr cannot be empty")
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive")
	}
	if c.QueueLimit <= 0 {
		return fmt.Errorf("QueueLimit must be positive")
	}
	if c.RecvRateLimit < 0 {
		return fmt.Errorf("RecvRateLimit must be non-negative")
	}
	if c.RecvRateLimit > 0 {
		switch c.LimiterKind {
		case LimiterToken:
			if c.TokenBurst <= 0 {
				return fmt.Errorf("TokenBurst must be positive")
			}
		case LimiterFunnel:
		default:
			return fmt.Errorf("LimiterKind must be %q or %q", LimiterToken, LimiterFunnel)
		}
	}
	return nil
}

// DefaultServerCfg returns the defaults used when no configuration source is
// supplied.
func DefaultServerCfg(addr string) *ServerCfg {
	return &ServerCfg{
		Addr:           addr,
		MaxMessageSize: 16 * 1024,
		NoDelay:        true,
		SendTimeout:    5 * time.Second,
		QueueLimit:     10000,
	}
}
