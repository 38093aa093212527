// ABOUTME: Tests for the in-process Hub fan-out
// ABOUTME: Covers subscribe, publish, isolation, ordering, slow consumers and teardown

package bus

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(t *testing.T, text string) Event {
	t.Helper()
	ev, err := NewEvent(KindNewMessage, map[string]string{"content": text})
	require.NoError(t, err)
	return ev
}

func contentOf(t *testing.T, ev Event) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, ev.Decode(&payload))
	return payload["content"]
}

func TestHub_SingleSubscriberReceivesEvent(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	sub, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "hello")))

	select {
	case ev := <-sub.Events:
		assert.Equal(t, KindNewMessage, ev.Kind)
		assert.Equal(t, "chat-a_b", ev.Channel)
		assert.Equal(t, "hello", contentOf(t, ev))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHub_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	subs := make([]*Subscription, 3)
	for i := range subs {
		var err error
		subs[i], err = h.Subscribe(t.Context(), "chat-a_b")
		require.NoError(t, err)
	}

	require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "fan-out")))

	for i, sub := range subs {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, "fan-out", contentOf(t, ev), "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestHub_ChannelsAreIsolated(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	sub1, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)
	sub2, err := h.Subscribe(t.Context(), "chat-a_c")
	require.NoError(t, err)

	require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "for b")))

	select {
	case <-sub1.Events:
	case <-time.After(time.Second):
		t.Fatal("subscriber on chat-a_b timed out")
	}

	select {
	case <-sub2.Events:
		t.Fatal("subscriber on chat-a_c should not receive events for chat-a_b")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_PreservesPublishOrder(t *testing.T) {
	h := NewHub(128, nil)
	defer h.Close()

	sub, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	for i := range 100 {
		require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, fmt.Sprint(i))))
	}

	for i := range 100 {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, fmt.Sprint(i), contentOf(t, ev))
		case <-time.After(time.Second):
			t.Fatalf("timed out at event %d", i)
		}
	}
}

func TestHub_PublishWithoutSubscribersIsLost(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "nobody listening")))

	sub, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	select {
	case <-sub.Events:
		t.Fatal("late subscriber must not see earlier events")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	h := NewHub(4, nil)
	defer h.Close()

	// never read from the first subscription
	_, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)
	fast, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			_ = h.Publish(context.Background(), "chat-a_b", makeEvent(t, fmt.Sprint(i)))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	received := 0
	for {
		select {
		case <-fast.Events:
			received++
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}
	assert.Greater(t, received, 0, "fast consumer should receive at least some events")
	assert.GreaterOrEqual(t, h.Dropped(), uint64(100-4), "the stalled subscriber's misses are counted")
}

func TestHub_DroppedCountsFullBuffers(t *testing.T) {
	var logs bytes.Buffer
	h := NewHub(2, slog.New(slog.NewTextHandler(&logs, nil)))
	defer h.Close()

	_, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	for i := range 5 {
		require.NoError(t, h.Publish(context.Background(), "chat-a_b", makeEvent(t, fmt.Sprint(i))))
	}

	assert.Equal(t, uint64(3), h.Dropped())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "dropped_total=3")
}

func TestHub_ContextCancellationCleansUp(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := h.Subscribe(ctx, "chat-a_b")
	require.NoError(t, err)
	assert.Equal(t, 1, h.SubscriberCount("chat-a_b"))

	cancel()

	select {
	case _, ok := <-sub.Events:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	assert.Equal(t, 0, h.SubscriberCount("chat-a_b"))
}

func TestHub_CloseSubscription(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	sub, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)

	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.Events
	assert.False(t, ok, "channel should be closed after Close")

	// Publishing after unsubscribe must not panic
	require.NoError(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "after")))
}

func TestHub_CloseEndsAllSubscriptions(t *testing.T) {
	h := NewHub(0, nil)

	sub1, err := h.Subscribe(t.Context(), "chat-a_b")
	require.NoError(t, err)
	sub2, err := h.Subscribe(t.Context(), "notifications-a")
	require.NoError(t, err)

	h.Close()

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case _, ok := <-sub.Events:
			assert.False(t, ok, "subscription %d should be closed", i)
		case <-time.After(time.Second):
			t.Fatalf("subscription %d not closed", i)
		}
	}

	assert.ErrorIs(t, h.Publish(t.Context(), "chat-a_b", makeEvent(t, "x")), ErrClosed)
	_, err = h.Subscribe(t.Context(), "chat-a_b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHub_ConcurrentPublishSubscribe(t *testing.T) {
	h := NewHub(0, nil)
	defer h.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			sub, err := h.Subscribe(ctx, "chat-concurrent")
			if err != nil {
				return
			}
			defer sub.Close()
			for range 5 {
				select {
				case <-sub.Events:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				_ = h.Publish(ctx, "chat-concurrent", Event{Kind: KindNewMessage, Data: []byte(`{}`)})
			}
		})
	}

	wg.Wait()
}
