// ABOUTME: Conversation service is the send pipeline between callers, the store and the bus
// ABOUTME: Every message is persisted before it is pushed; push failures never fail a send

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/identity"
	"github.com/2389/parley/internal/moderation"
	"github.com/2389/parley/internal/search"
	"github.com/2389/parley/internal/store"
)

// MaxContentLength is the longest accepted message, in characters.
const MaxContentLength = 4000

// DefaultWriteTimeout bounds a single store write.
const DefaultWriteTimeout = 10 * time.Second

// Service is the central conversation layer. It records messages in the
// store first and only then fans them out on the bus.
type Service struct {
	store        store.MessageStore
	bus          bus.Publisher
	operatorID   string
	validate     *validator.Validate
	writeTimeout time.Duration
	logger       *slog.Logger

	moderator *moderation.Moderator // optional, censors visitor content
	index     *search.Index         // optional, operator full-text search
}

// New creates a conversation service. An empty operatorID selects
// identity.DefaultOperatorID; pass nil logger for default.
func New(messages store.MessageStore, publisher bus.Publisher, operatorID string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if operatorID == "" {
		operatorID = identity.DefaultOperatorID
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so errors read like the request body
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		store:        messages,
		bus:          publisher,
		operatorID:   operatorID,
		validate:     v,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.With("component", "conversation"),
	}
}

// SetModerator installs a word filter applied to visitor messages before
// they are stored. Pass nil to disable.
func (s *Service) SetModerator(m *moderation.Moderator) {
	s.moderator = m
}

// SetIndex installs the full-text index that Send keeps current and Search
// queries. Pass nil to disable search.
func (s *Service) SetIndex(ix *search.Index) {
	s.index = ix
}

// OperatorID returns the identity treated as the operator.
func (s *Service) OperatorID() string {
	return s.operatorID
}

// SendRequest is one outgoing message.
type SendRequest struct {
	Content    string `json:"content" validate:"required,max=4000"`
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required,nefield=SenderID"`
}

// Send validates, authorizes and persists a message, then publishes it to
// the conversation channel and a condensed notification to the receiver.
func (s *Service) Send(ctx context.Context, req SendRequest) (*store.Message, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	if identity.IsOperator(req.SenderID, s.operatorID) && !auth.FromContext(ctx).IsOperator() {
		s.logger.Warn("rejected operator send without session", "receiver_id", req.ReceiverID)
		return nil, ErrUnauthorized
	}

	content := req.Content
	if !identity.IsOperator(req.SenderID, s.operatorID) {
		content = s.moderator.Censor(content)
	}

	// Once started, the write completes even if the caller goes away
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	msg, err := s.store.Append(writeCtx, req.SenderID, req.ReceiverID, content)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		s.logger.Error("failed to save message",
			"sender_id", req.SenderID,
			"receiver_id", req.ReceiverID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: saving message: %v", ErrInternal, err)
	}

	s.logger.Debug("message saved",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"receiver_id", msg.ReceiverID,
	)

	if s.index != nil {
		if err := s.index.Add(msg); err != nil {
			s.logger.Warn("failed to index message", "message_id", msg.ID, "error", err)
		}
	}

	s.publish(writeCtx, bus.ConversationChannel(msg.SenderID, msg.ReceiverID), bus.KindNewMessage, msg)
	s.publish(writeCtx, bus.NotificationChannel(msg.ReceiverID), bus.KindNotification, bus.Notification{
		From:    msg.SenderID,
		Message: bus.NotificationPreview(msg.Content),
	})

	return msg, nil
}

// publish pushes one event; failures are logged and swallowed since the
// message is already durable and reachable through history.
func (s *Service) publish(ctx context.Context, channel string, kind bus.EventKind, payload any) {
	ev, err := bus.NewEvent(kind, payload)
	if err == nil {
		err = s.bus.Publish(ctx, channel, ev)
	}
	if err != nil {
		s.logger.Warn("failed to publish event",
			"channel", channel,
			"kind", kind,
			"error", err,
		)
	}
}

// History returns every message exchanged by a and b, oldest first.
func (s *Service) History(ctx context.Context, a, b string) ([]*store.Message, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("%w: senderId and receiverId are required", ErrValidation)
	}

	msgs, err := s.store.QueryBetween(ctx, a, b)
	if err != nil {
		s.logger.Error("failed to load history", "a", a, "b", b, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return msgs, nil
}

// MarkRead marks every message counterpartID sent to the operator as read.
// The caller must hold an operator session.
func (s *Service) MarkRead(ctx context.Context, counterpartID string) (int64, error) {
	if !auth.FromContext(ctx).IsOperator() {
		return 0, ErrUnauthorized
	}
	if counterpartID == "" || counterpartID == s.operatorID {
		return 0, fmt.Errorf("%w: invalid counterpart %q", ErrValidation, counterpartID)
	}

	n, err := s.store.MarkRead(ctx, s.operatorID, counterpartID)
	if err != nil {
		s.logger.Error("failed to mark messages read", "counterpart_id", counterpartID, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.logger.Debug("marked messages read", "counterpart_id", counterpartID, "updated", n)
	return n, nil
}

// Search runs a full-text query over indexed messages. The caller must hold
// an operator session.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Hit, error) {
	if !auth.FromContext(ctx).IsOperator() {
		return nil, ErrUnauthorized
	}
	if s.index == nil {
		return nil, fmt.Errorf("%w: search is not enabled", ErrUnavailable)
	}

	hits, err := s.index.Search(ctx, query, limit)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return nil, fmt.Errorf("%w: q is required", ErrValidation)
		}
		s.logger.Error("search failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return hits, nil
}

// RebuildIndex loads every message involving the operator into the index.
// It is a no-op when search is disabled.
func (s *Service) RebuildIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	msgs, err := s.store.QueryInvolving(ctx, s.operatorID)
	if err != nil {
		return fmt.Errorf("loading messages for index: %w", err)
	}
	if err := s.index.AddAll(msgs); err != nil {
		return fmt.Errorf("indexing messages: %w", err)
	}
	s.logger.Info("search index rebuilt", "messages", len(msgs))
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	problems := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "max":
			return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
		case "nefield":
			return "senderId and receiverId must differ"
		default:
			return fe.Field() + " is invalid"
		}
	})
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
}
