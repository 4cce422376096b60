package net

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeSignalSetBeforeWait(t *testing.T) {
	s := NewWakeSignal()
	s.Set()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Wait(ctx))
}

func TestWakeSignalStaysSetUntilReset(t *testing.T) {
	s := NewWakeSignal()
	s.Set()

	ctx := context.Background()
	require.NoError(t, s.Wait(ctx))
	// Still set: a second wait must not block.
	require.NoError(t, s.Wait(ctx))

	s.Reset()
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(waitCtx))
}

func TestWakeSignalWakesBlockedWaiter(t *testing.T) {
	s := NewWakeSignal()

	done := make(chan error, 1)
	go func() {
		done <- s.Wait(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	s.Set()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Set")
	}
}

func TestWakeSignalCancellation(t *testing.T) {
	s := NewWakeSignal()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Wait(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by cancellation")
	}
}

func TestWakeSignalSetIdempotent(t *testing.T) {
	s := NewWakeSignal()
	s.Set()
	s.Set()
	s.Reset()
	s.Reset()
	s.Set()

	assert.NoError(t, s.Wait(context.Background()))
}
