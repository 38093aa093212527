// ABOUTME: In-process Bus implementation fanning events out to channel subscribers
// ABOUTME: Slow subscribers drop events instead of blocking the publisher

package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer when none is configured.
const DefaultBufferSize = 64

// Hub is an in-memory Bus. It is the fan-out point of a single process; for
// several replicas, run one relay and point the others at it with RemoteBus.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[string]chan Event // channel -> subID -> ch
	bufferSize  int
	dropped     uint64 // events skipped for full subscriber buffers
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. A bufferSize <= 0 selects DefaultBufferSize; pass nil
// logger for default.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for events on the given channel. The
// subscription is cleaned up when ctx is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, channel string) (*Subscription, error) {
	subID := uuid.New().String()
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := h.subscribers[channel]; !ok {
		h.subscribers[channel] = make(map[string]chan Event)
	}
	h.subscribers[channel][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "channel", channel, "sub_id", subID)

	done := make(chan struct{})
	sub := newSubscription(subID, channel, ch, func() {
		close(done)
		h.unsubscribe(channel, subID)
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-done:
		}
	}()

	return sub, nil
}

// Publish sends an event to all subscribers of the given channel. Delivery is
// non-blocking: a subscriber whose buffer is full misses the event. Fan-out
// happens under the hub lock so every subscriber of a channel observes the
// same publish order.
func (h *Hub) Publish(ctx context.Context, channel string, event Event) error {
	event.Channel = channel

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	for subID, ch := range h.subscribers[channel] {
		select {
		case ch <- event:
		default:
			h.dropped++
			h.logger.Warn("dropped event for slow subscriber",
				"channel", channel,
				"sub_id", subID,
				"kind", event.Kind,
				"dropped_total", h.dropped)
		}
	}
	return nil
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// SubscriberCount returns the number of live subscriptions on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[channel])
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(channel, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[channel]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Channels only exist while someone listens
	if len(subs) == 0 {
		delete(h.subscribers, channel)
	}

	h.logger.Debug("subscriber removed", "channel", channel, "sub_id", subID)
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for channel, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, channel)
	}

	h.logger.Debug("hub closed")
}
