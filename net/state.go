package net

import "sync"

// connectState is the thread-safe connecting flag of one attempt. It is
// freshly allocated on every connect request so no attempt can observe
// another's writes. Connected is never stored here: it is computed on every
// read from the live socket.
type connectState struct {
	mu         sync.Mutex
	connecting bool
}

func newConnectState() *connectState {
	return &connectState{}
}

func (s *connectState) SetConnecting(v bool) {
	s.mu.Lock()
	s.connecting = v
	s.mu.Unlock()
}

func (s *connectState) Connecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connecting
}
