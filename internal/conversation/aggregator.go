// ABOUTME: Derives the operator's conversation list from stored messages
// ABOUTME: One entry per counterpart with last message and unread count, newest first

package conversation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/2389/parley/internal/store"
)

// Conversation summarizes one counterpart's exchange with the operator.
type Conversation struct {
	CounterpartID   string    `json:"counterpartId"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}

// ListConversations groups every message involving operatorID by
// counterpart, most recent conversation first. A store failure yields
// ErrUnavailable and no partial result.
func (s *Service) ListConversations(ctx context.Context, operatorID string) ([]Conversation, error) {
	msgs, err := s.store.QueryInvolving(ctx, operatorID)
	if err != nil {
		s.logger.Error("failed to list conversations", "operator_id", operatorID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	counterpart := func(m *store.Message) string {
		if m.SenderID == operatorID {
			return m.ReceiverID
		}
		return m.SenderID
	}

	groups := lo.GroupBy(msgs, counterpart)
	// first-appearance order keeps the stable sort deterministic
	order := lo.Uniq(lo.Map(msgs, func(m *store.Message, _ int) string { return counterpart(m) }))

	convs := lo.Map(order, func(id string, _ int) Conversation {
		group := groups[id]
		// msgs arrive in insertion order, so on equal timestamps the later one wins
		last := lo.Reduce(group, func(latest, m *store.Message, _ int) *store.Message {
			if m.CreatedAt.Before(latest.CreatedAt) {
				return latest
			}
			return m
		}, group[0])

		return Conversation{
			CounterpartID:   id,
			LastMessage:     last.Content,
			LastMessageTime: last.CreatedAt,
			UnreadCount: lo.CountBy(group, func(m *store.Message) bool {
				return m.SenderID != operatorID && !m.IsRead
			}),
		}
	})

	slices.SortStableFunc(convs, func(a, b Conversation) int {
		return b.LastMessageTime.Compare(a.LastMessageTime)
	})
	return convs, nil
}
