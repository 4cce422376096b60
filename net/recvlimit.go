package net

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// RecvLimiter throttles inbound message processing. The server applies one
// inside each connection's receive loop to protect the dispatcher from a
// client flooding messages faster than the application drains them.
type RecvLimiter interface {
	// Take blocks until the next message may be processed, or returns the
	// context error on cancellation.
	Take(ctx context.Context) error
}

// TokenRecvLimiter implements RecvLimiter with a token bucket
// (golang.org/x/time/rate). The limiter is held behind an atomic pointer so
// configuration hot-reload never races the receive loops.
type TokenRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

// NewTokenRecvLimiter creates a token bucket limiter allowing limit messages
// per second with the given burst.
func NewTokenRecvLimiter(limit int, burst int) *TokenRecvLimiter {
	l := &TokenRecvLimiter{}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
	return l
}

// Take blocks until a token is available.
func (l *TokenRecvLimiter) Take(ctx context.Context) error {
	return l.limiter.Load().Wait(ctx)
}

// Reload replaces the limiter configuration at runtime.
func (l *TokenRecvLimiter) Reload(limit int, burst int) {
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), burst))
}

// FunnelRecvLimiter implements RecvLimiter with a leaky bucket
// (go.uber.org/ratelimit), which spaces messages evenly instead of allowing
// bursts.
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

// NewFunnelRecvLimiter creates a leaky bucket limiter allowing limit messages
// per second.
func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	l := &FunnelRecvLimiter{}
	limiter := ratelimit.New(limit)
	l.limiter.Store(&limiter)
	return l
}

// Take blocks until the next slot. The leaky bucket has no cancellable wait;
// cancellation is observed on the next loop iteration instead.
func (l *FunnelRecvLimiter) Take(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	(*l.limiter.Load()).Take()
	return nil
}

// Reload replaces the limiter configuration at runtime.
func (l *FunnelRecvLimiter) Reload(limit int) {
	limiter := ratelimit.New(limit)
	l.limiter.Store(&limiter)
}
