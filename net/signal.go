// Package net implements the connection core of tachyon: a non-blocking,
// poll-driven TCP client and server for latency-sensitive applications.
// Connecting, sending and receiving run on dedicated background goroutines;
// all cross-goroutine communication flows through bounded pipes drained by
// the caller through a single Dispatch call.
package net

import (
	"context"
	"sync"
)

// WakeSignal is a manual-reset gate used by the send loop to park efficiently
// until outbound work exists or teardown occurs. Set leaves the signal set
// until Reset is called; Wait returns immediately while the signal is set.
type WakeSignal struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewWakeSignal creates a signal in the reset state.
func NewWakeSignal() *WakeSignal {
	return &WakeSignal{ch: make(chan struct{})}
}

// Set marks the signal. It stays set until Reset. Safe to call repeatedly and
// from any goroutine.
func (s *WakeSignal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Reset clears the signal so the next Wait blocks.
func (s *WakeSignal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// Wait blocks until the signal is set or ctx is cancelled. Returns the
// context error on cancellation, nil otherwise.
func (s *WakeSignal) Wait(ctx context.Context) error {
	s.mu.Lock()
	set, ch := s.set, s.ch
	s.mu.Unlock()

	if set {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
