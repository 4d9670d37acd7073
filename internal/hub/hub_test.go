package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case v := <-s.C():
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func assertEmpty[T any](t *testing.T, s *Subscription[T]) {
	t.Helper()
	select {
	case v := <-s.C():
		t.Fatalf("unexpected event %v", v)
	default:
	}
}

func TestBroadcaster_DeliversToAll(t *testing.T) {
	b := NewBroadcaster[string](4)
	a := b.Subscribe()
	c := b.Subscribe()

	assert.Equal(t, 2, b.Publish("alert_created"))
	assert.Equal(t, "alert_created", receive(t, a))
	assert.Equal(t, "alert_created", receive(t, c))
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	b := NewBroadcaster[int](1)
	slow := b.Subscribe()
	fast := b.Subscribe()

	assert.Equal(t, 2, b.Publish(1))
	assert.Equal(t, 1, receive(t, fast))

	done := make(chan int)
	go func() { done <- b.Publish(2) }()

	select {
	case delivered := <-done:
		assert.Equal(t, 1, delivered)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	assert.Equal(t, 1, receive(t, slow))
	assertEmpty(t, slow)
	assert.Equal(t, 2, receive(t, fast))
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster[int](1)
	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Unsubscribe(s)

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Publish(1))
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestKeyed_ReplaysLastEvent(t *testing.T) {
	h := NewKeyed[int64, string](4, 4)
	ctx := context.Background()

	require.NoError(t, h.Publish(ctx, 3, "first"))
	require.NoError(t, h.Publish(ctx, 3, "second"))

	s := h.Subscribe(3)
	assert.Equal(t, "second", receive(t, s))
	assertEmpty(t, s)

	require.NoError(t, h.Publish(ctx, 3, "third"))
	assert.Equal(t, "third", receive(t, s))
}

func TestKeyed_NoReplayWithoutPriorEvent(t *testing.T) {
	h := NewKeyed[int64, string](4, 4)

	s := h.Subscribe(3)
	assertEmpty(t, s)

	require.NoError(t, h.Publish(context.Background(), 4, "other wearer"))
	assertEmpty(t, s)

	require.NoError(t, h.Publish(context.Background(), 3, "next"))
	assert.Equal(t, "next", receive(t, s))
}

func TestKeyed_UnsubscribeRemovesEmptyKeys(t *testing.T) {
	h := NewKeyed[int64, int](1, 1)

	for i := 0; i < 100; i++ {
		s := h.Subscribe(int64(i % 5))
		h.Unsubscribe(int64(i%5), s)
	}

	assert.Equal(t, 0, h.Keys())
}

func TestKeyed_PublishBlocksUntilConsumed(t *testing.T) {
	h := NewKeyed[int64, int](1, 1)
	s := h.Subscribe(1)
	ctx := context.Background()

	require.NoError(t, h.Publish(ctx, 1, 1))

	published := make(chan error, 1)
	go func() { published <- h.Publish(ctx, 1, 2) }()

	select {
	case <-published:
		t.Fatal("publish returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 1, receive(t, s))
	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after the queue drained")
	}
	assert.Equal(t, 2, receive(t, s))
}

func TestKeyed_UnsubscribeReleasesBlockedPublish(t *testing.T) {
	h := NewKeyed[int64, int](1, 1)
	s := h.Subscribe(1)
	ctx := context.Background()
	require.NoError(t, h.Publish(ctx, 1, 1))

	published := make(chan error, 1)
	go func() { published <- h.Publish(ctx, 1, 2) }()

	time.Sleep(20 * time.Millisecond)
	h.Unsubscribe(1, s)

	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish not released by unsubscribe")
	}
}

func TestKeyed_ContextCancelsPublish(t *testing.T) {
	h := NewKeyed[int64, int](1, 1)
	h.Subscribe(1)
	require.NoError(t, h.Publish(context.Background(), 1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, h.Publish(ctx, 1, 2), context.DeadlineExceeded)
}

func TestKeyed_SubmitAndRun(t *testing.T) {
	h := NewKeyed[int64, int](8, 8)
	s := h.Subscribe(5)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Submit(ctx, 5, i))
	}

	assert.Equal(t, 1, receive(t, s))
	assert.Equal(t, 2, receive(t, s))
	assert.Equal(t, 3, receive(t, s))

	last, ok := h.Last(5)
	assert.True(t, ok)
	assert.Equal(t, 3, last)

	cancel()
	wg.Wait()
}

func TestKeyed_SubmitHonoursContext(t *testing.T) {
	h := NewKeyed[int64, int](1, 1)
	require.NoError(t, h.Submit(context.Background(), 1, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Submit(ctx, 1, 2), context.Canceled)
}
