package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestQueue_AdmitWithinCap(t *testing.T) {
	q := NewRequestQueue(2)

	require.NoError(t, q.Admit(context.Background(), "a", PriorityNormal))
	require.NoError(t, q.Admit(context.Background(), "b", PriorityNormal))
	require.Equal(t, 2, q.ActiveCount())
	require.Equal(t, 0, q.WaitingCount())
}

func TestRequestQueue_WaitsAtCap(t *testing.T) {
	q := NewRequestQueue(1)
	require.NoError(t, q.Admit(context.Background(), "first", PriorityNormal))

	admitted := make(chan error, 1)
	go func() {
		admitted <- q.Admit(context.Background(), "second", PriorityNormal)
	}()

	// Second request must wait until the slot frees.
	select {
	case <-admitted:
		require.Fail(t, "second request admitted past the cap")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, q.WaitingCount())

	q.Release()

	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "waiter was not promoted after Release")
	}
	require.Equal(t, 1, q.ActiveCount())
}

func TestRequestQueue_PriorityOrder(t *testing.T) {
	q := NewRequestQueue(1)
	require.NoError(t, q.Admit(context.Background(), "active", PriorityNormal))

	order := make(chan string, 2)
	start := func(id string, priority int) {
		go func() {
			if err := q.Admit(context.Background(), id, priority); err == nil {
				order <- id
			}
		}()
	}

	start("low", PriorityLow)
	time.Sleep(20 * time.Millisecond) // low enqueues first
	start("high", PriorityHigh)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 2, q.WaitingCount())

	q.Release()
	first := <-order
	q.Release()
	second := <-order

	require.Equal(t, []string{"high", "low"}, []string{first, second})
}

func TestRequestQueue_CancelWaiting(t *testing.T) {
	q := NewRequestQueue(1)
	require.NoError(t, q.Admit(context.Background(), "active", PriorityNormal))

	result := make(chan error, 1)
	go func() {
		result <- q.Admit(context.Background(), "victim", PriorityNormal)
	}()
	time.Sleep(20 * time.Millisecond)

	require.True(t, q.Cancel("victim"))

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrRequestCancelled)
	case <-time.After(time.Second):
		require.Fail(t, "cancelled waiter did not return")
	}
	require.Equal(t, 0, q.WaitingCount())

	// Cancelling an unknown or active request is a no-op.
	require.False(t, q.Cancel("victim"))
	require.False(t, q.Cancel("active"))
}

func TestRequestQueue_ContextCancellation(t *testing.T) {
	q := NewRequestQueue(1)
	require.NoError(t, q.Admit(context.Background(), "active", PriorityNormal))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- q.Admit(ctx, "waiter", PriorityNormal)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()

	select {
	case err := <-result:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		require.Fail(t, "waiter did not observe context cancellation")
	}
	require.Equal(t, 0, q.WaitingCount())

	// The active slot is untouched; releasing it leaves a clean queue.
	q.Release()
	require.Equal(t, 0, q.ActiveCount())
}
