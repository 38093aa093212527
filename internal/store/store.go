// ABOUTME: MessageStore interface and the Message record for parley persistence
// ABOUTME: Defines validation rules shared by every store implementation

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation is returned when a message fails the store's invariants.
// Specific causes wrap it, so callers test with errors.Is(err, ErrValidation).
var ErrValidation = errors.New("invalid message")

var (
	ErrEmptyContent       = fmt.Errorf("%w: content is required", ErrValidation)
	ErrMissingSender      = fmt.Errorf("%w: sender id is required", ErrValidation)
	ErrMissingReceiver    = fmt.Errorf("%w: receiver id is required", ErrValidation)
	ErrSameParticipant    = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	ErrMissingParticipant = fmt.Errorf("%w: participant id is required", ErrValidation)
)

// Message is a single chat message between two participants.
// Only IsRead ever changes after creation.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Involves reports whether id is the sender or the receiver.
func (m *Message) Involves(id string) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// MessageStore is the durable, append-only record of messages.
type MessageStore interface {
	// Append validates and persists a new unread message with a server-assigned timestamp.
	Append(ctx context.Context, senderID, receiverID, content string) (*Message, error)

	// QueryBetween returns every message exchanged by a and b in either
	// direction, oldest first.
	QueryBetween(ctx context.Context, a, b string) ([]*Message, error)

	// QueryInvolving returns every message sent or received by id, oldest first.
	QueryInvolving(ctx context.Context, id string) ([]*Message, error)

	// MarkRead flips IsRead for all unread messages from senderID to readerID
	// and returns how many changed.
	MarkRead(ctx context.Context, readerID, senderID string) (int64, error)

	// Count returns the total number of stored messages.
	Count(ctx context.Context) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// validateAppend checks the Append arguments against the message invariants.
func validateAppend(senderID, receiverID, content string) error {
	switch {
	case senderID == "":
		return ErrMissingSender
	case receiverID == "":
		return ErrMissingReceiver
	case senderID == receiverID:
		return ErrSameParticipant
	case strings.TrimSpace(content) == "":
		return ErrEmptyContent
	}
	return nil
}

// monotonicClock hands out strictly increasing timestamps.
// Callers must serialize access.
type monotonicClock struct {
	last time.Time
	now  func() time.Time
}

func (c *monotonicClock) next() time.Time {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	t := now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
