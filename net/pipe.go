package net

import "sync"

// bufPool recycles payload buffers between enqueue and dequeue so steady-state
// traffic does not allocate per message.
type bufPool struct {
	pool sync.Pool
}

func (p *bufPool) get(n int) []byte {
	if v := p.pool.Get(); v != nil {
		b := v.([]byte)
		if cap(b) >= n {
			return b[:n]
		}
	}
	return make([]byte, n)
}

func (p *bufPool) put(b []byte) {
	if b == nil {
		return
	}
	p.pool.Put(b[:0]) //nolint:staticcheck
}

// SendPipe is the bounded outbound queue between the caller's goroutine and
// the send loop. Enqueue copies the message into a pooled buffer, so caller
// memory is never aliased past the call. The limit itself is enforced by the
// producer (Client.Send / Server.Send), which force-disconnects on overflow.
type SendPipe struct {
	mu    sync.Mutex
	queue [][]byte
	pool  bufPool
}

// NewSendPipe creates an empty send pipe.
func NewSendPipe() *SendPipe {
	return &SendPipe{}
}

// Enqueue copies msg into the pipe. Non-blocking, O(1) amortized.
func (p *SendPipe) Enqueue(msg []byte) {
	buf := p.pool.get(len(msg))
	copy(buf, msg)

	p.mu.Lock()
	p.queue = append(p.queue, buf)
	p.mu.Unlock()
}

// Count returns the number of queued messages.
func (p *SendPipe) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Clear drops all queued messages, recycling their buffers.
func (p *SendPipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, buf := range p.queue {
		p.pool.put(buf)
	}
	p.queue = p.queue[:0]
}

// DequeueAll frames every queued message (length header plus payload) into
// payload and returns it together with the number of messages drained. The
// whole batch is written with one syscall by the send loop. Entry buffers are
// recycled before returning.
func (p *SendPipe) DequeueAll(payload []byte) ([]byte, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.queue)
	for _, msg := range p.queue {
		payload = appendFrame(payload, msg)
		p.pool.put(msg)
	}
	p.queue = p.queue[:0]
	return payload, n
}

type eventKind uint8

const (
	eventData eventKind = iota
	eventConnected
	eventDisconnected
)

type pipeEvent struct {
	kind   eventKind
	connID uint64
	data   []byte
}

// ReceivePipe is the inbound queue between the background goroutines and the
// Dispatch call. Entries carry a connection id so one pipe can serve the
// server multiplexer; the client uses a single id. Connected and disconnected
// markers are one-shot per connection and consumable only from the head of
// the queue, which preserves the connected, data, disconnected order by
// construction.
type ReceivePipe struct {
	mu           sync.Mutex
	events       []pipeEvent
	head         int
	dataCounts   map[uint64]int
	connected    map[uint64]bool
	disconnected map[uint64]bool
	pool         bufPool
}

// NewReceivePipe creates an empty receive pipe.
func NewReceivePipe() *ReceivePipe {
	return &ReceivePipe{
		dataCounts:   make(map[uint64]int),
		connected:    make(map[uint64]bool),
		disconnected: make(map[uint64]bool),
	}
}

// push appends an event. Caller must hold the mutex.
func (p *ReceivePipe) push(ev pipeEvent) {
	// Compact the backing slice once the consumed prefix dominates it.
	if p.head > 64 && p.head*2 >= len(p.events) {
		n := copy(p.events, p.events[p.head:])
		p.events = p.events[:n]
		p.head = 0
	}
	p.events = append(p.events, ev)
}

// SetConnected enqueues the one-shot connected marker for a connection.
// Subsequent calls for the same connection are ignored.
func (p *ReceivePipe) SetConnected(connID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected[connID] {
		return
	}
	p.connected[connID] = true
	p.push(pipeEvent{kind: eventConnected, connID: connID})
}

// SetDisconnected enqueues the one-shot disconnected marker for a connection.
// Subsequent calls for the same connection are ignored.
func (p *ReceivePipe) SetDisconnected(connID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disconnected[connID] {
		return
	}
	p.disconnected[connID] = true
	p.push(pipeEvent{kind: eventDisconnected, connID: connID})
}

// Enqueue copies msg into the pipe for the given connection.
func (p *ReceivePipe) Enqueue(connID uint64, msg []byte) {
	buf := p.pool.get(len(msg))
	copy(buf, msg)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.push(pipeEvent{kind: eventData, connID: connID, data: buf})
	p.dataCounts[connID]++
}

// Count returns the number of unconsumed data messages for a connection.
func (p *ReceivePipe) Count(connID uint64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataCounts[connID]
}

// TotalCount returns the number of pending events of any kind.
func (p *ReceivePipe) TotalCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events) - p.head
}

// TryPeek returns a view over the oldest inbound message without removing it.
// The view is valid until the matching TryDequeue. Returns false when the
// head of the queue is not a data event.
func (p *ReceivePipe) TryPeek() (connID uint64, msg []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head >= len(p.events) {
		return 0, nil, false
	}
	ev := p.events[p.head]
	if ev.kind != eventData {
		return 0, nil, false
	}
	return ev.connID, ev.data, true
}

// TryDequeue removes the previously peeked head message and recycles its
// buffer. No-op when the head is not a data event.
func (p *ReceivePipe) TryDequeue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head >= len(p.events) || p.events[p.head].kind != eventData {
		return false
	}
	ev := p.events[p.head]
	p.events[p.head] = pipeEvent{}
	p.head++
	p.dataCounts[ev.connID]--
	p.pool.put(ev.data)
	return true
}

// CheckConnected consumes the connected marker for a connection if it is at
// the head of the queue.
func (p *ReceivePipe) CheckConnected(connID uint64) bool {
	return p.checkMarker(eventConnected, connID)
}

// CheckDisconnected consumes the disconnected marker for a connection if it
// is at the head of the queue. Because producers enqueue it last, it can only
// reach the head once all preceding data has been dequeued.
func (p *ReceivePipe) CheckDisconnected(connID uint64) bool {
	return p.checkMarker(eventDisconnected, connID)
}

func (p *ReceivePipe) checkMarker(kind eventKind, connID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head >= len(p.events) {
		return false
	}
	ev := p.events[p.head]
	if ev.kind != kind || ev.connID != connID {
		return false
	}
	p.events[p.head] = pipeEvent{}
	p.head++
	return true
}

// peekEvent returns the head event of any kind. Used by the server
// dispatcher, which interleaves events from many connections.
func (p *ReceivePipe) peekEvent() (pipeEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head >= len(p.events) {
		return pipeEvent{}, false
	}
	return p.events[p.head], true
}

// dequeueEvent removes the head event and recycles its buffer.
func (p *ReceivePipe) dequeueEvent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head >= len(p.events) {
		return
	}
	ev := p.events[p.head]
	p.events[p.head] = pipeEvent{}
	p.head++
	if ev.kind == eventData {
		p.dataCounts[ev.connID]--
		p.pool.put(ev.data)
	}
}

// forget drops the per-connection bookkeeping once the disconnected marker
// has been dispatched. Connection ids are never reused, so without this the
// marker maps would grow for the lifetime of a server.
func (p *ReceivePipe) forget(connID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dataCounts, connID)
	delete(p.connected, connID)
	delete(p.disconnected, connID)
}

// Clear drops every pending event, recycling data buffers. Marker one-shot
// state is kept: an attempt whose events were cleared must not re-announce.
func (p *ReceivePipe) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := p.head; i < len(p.events); i++ {
		ev := p.events[i]
		if ev.kind == eventData {
			p.dataCounts[ev.connID]--
			p.pool.put(ev.data)
		}
	}
	p.events = p.events[:0]
	p.head = 0
}
