package net

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lcx/tachyon/metrics"
)

// sendLoop drains the send pipe to the socket. It parks on the wake signal
// when the pipe is empty; Set is called on every enqueue and Reset here once
// awake, so the loop never busy-polls. Returns nil on cancellation and the
// write error on a socket fault. The caller owns closing the socket.
func sendLoop(ctx context.Context, conn net.Conn, pipe *SendPipe, signal *WakeSignal, sendTimeout time.Duration) error {
	payload := make([]byte, 0, 4096)

	for {
		if err := signal.Wait(ctx); err != nil {
			return nil
		}
		// Reset before draining: a Set racing the drain re-wakes the loop,
		// it never strands a message.
		signal.Reset()

		if ctx.Err() != nil {
			return nil
		}

		var n int
		payload, n = pipe.DequeueAll(payload[:0])
		if n == 0 {
			continue
		}

		if sendTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(sendTimeout))
		}
		if _, err := conn.Write(payload); err != nil {
			return err
		}
	}
}

// receiveLoop reads framed messages from the socket into the receive pipe
// until the peer closes, a read fails, the frame is invalid, or the
// unconsumed inbound backlog for this connection exceeds queueLimit. The
// returned error describes why the loop stopped; the caller owns cleanup.
func receiveLoop(ctx context.Context, conn net.Conn, connID uint64, pipe *ReceivePipe,
	maxMessageSize, queueLimit int, limiter RecvLimiter,
) error {
	hdr := make([]byte, FRAME_HEAD_SIZE)
	body := make([]byte, maxMessageSize)

	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return err
		}

		size, err := DecodeFrameHead(hdr)
		if err != nil {
			return err
		}
		if size > maxMessageSize {
			return fmt.Errorf("message of %d bytes exceeds limit of %d", size, maxMessageSize)
		}

		msg := body[:size]
		if _, err := io.ReadFull(conn, msg); err != nil {
			return err
		}

		pipe.Enqueue(connID, msg)
		metrics.ReportWithGroup("net", "recv_message_bytes", metrics.Value(size), metrics.PolicyHistogram)

		// A consumer that cannot keep pace is treated as gone: disconnect
		// instead of growing memory without bound.
		if queueLimit > 0 && pipe.Count(connID) >= queueLimit {
			return fmt.Errorf("inbound queue reached limit of %d unprocessed messages", queueLimit)
		}

		if limiter != nil {
			if err := limiter.Take(ctx); err != nil {
				return nil
			}
		}
	}
}
