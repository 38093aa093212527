// ABOUTME: Delivery Bus contract: topic-keyed publish/subscribe of chat events
// ABOUTME: Defines Event, Subscription, channel naming and the notification payload

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus closed")

// EventKind identifies the payload carried by an Event.
type EventKind string

const (
	// KindNewMessage carries a full stored message on a conversation channel.
	KindNewMessage EventKind = "new-message"
	// KindNotification carries a Notification on a personal notification channel.
	KindNotification EventKind = "new-message-notification"
)

// Event is one real-time delivery on a channel.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an Event of the given kind.
func NewEvent(kind EventKind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	return Event{Kind: kind, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Kind, err)
	}
	return nil
}

// Notification is the condensed payload pushed to a receiver's notification channel.
type Notification struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Publisher pushes events to every current subscriber of a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event Event) error
}

// Subscriber attaches to a channel. The subscription is live when Subscribe returns.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (*Subscription, error)
}

// Bus is a topic-based fan-out. Implementations must not persist events:
// anything published while nobody is subscribed is gone.
type Bus interface {
	Publisher
	Subscriber
}

// Subscription is one attachment to a channel. Events is closed when the
// subscription ends, either through Close, context cancellation, or the bus
// shutting down.
type Subscription struct {
	ID      string
	Channel string
	Events  <-chan Event

	once   sync.Once
	cancel func()
}

func newSubscription(id, channel string, events <-chan Event, cancel func()) *Subscription {
	return &Subscription{ID: id, Channel: channel, Events: events, cancel: cancel}
}

// Close detaches the subscription. It is safe to call multiple times.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
