// ABOUTME: Mock MessageStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject store failures

package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MockStore is an in-memory MessageStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages []*Message // insertion order
	clock    monotonicClock
	failWith error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Append stores a new message.
func (m *MockStore) Append(ctx context.Context, senderID, receiverID, content string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return nil, m.failWith
	}
	if err := validateAppend(senderID, receiverID, content); err != nil {
		return nil, err
	}

	msg := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  m.clock.next(),
	}
	m.messages = append(m.messages, msg)

	// Return a copy to avoid external modification
	out := *msg
	return &out, nil
}

// QueryBetween returns messages between a and b, oldest first.
func (m *MockStore) QueryBetween(ctx context.Context, a, b string) ([]*Message, error) {
	if a == "" || b == "" {
		return nil, ErrMissingParticipant
	}
	return m.filter(func(msg *Message) bool {
		return (msg.SenderID == a && msg.ReceiverID == b) ||
			(msg.SenderID == b && msg.ReceiverID == a)
	})
}

// QueryInvolving returns messages sent or received by id, oldest first.
func (m *MockStore) QueryInvolving(ctx context.Context, id string) ([]*Message, error) {
	if id == "" {
		return nil, ErrMissingParticipant
	}
	return m.filter(func(msg *Message) bool { return msg.Involves(id) })
}

// MarkRead marks unread messages from senderID to readerID as read.
func (m *MockStore) MarkRead(ctx context.Context, readerID, senderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return 0, m.failWith
	}

	var n int64
	for _, msg := range m.messages {
		if msg.ReceiverID == readerID && msg.SenderID == senderID && !msg.IsRead {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored messages.
func (m *MockStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failWith != nil {
		return 0, m.failWith
	}
	return int64(len(m.messages)), nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) filter(keep func(*Message) bool) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failWith != nil {
		return nil, m.failWith
	}

	out := []*Message{}
	for _, msg := range m.messages {
		if keep(msg) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}
