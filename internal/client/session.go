// ABOUTME: Client session for one side of a visitor/operator conversation
// ABOUTME: Loads history, follows the conversation channel and reconciles pushes by message ID

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/dedupe"
	"github.com/2389/parley/internal/store"
)

// State is the lifecycle phase of a Session.
type State int

const (
	StateInitializing State = iota
	StateLoadingHistory
	StateReady
	StateUnmounted
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLoadingHistory:
		return "loading-history"
	case StateReady:
		return "ready"
	case StateUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session errors
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotReady       = errors.New("session is not ready")
)

// API is the subset of the server API a Session needs.
type API interface {
	History(ctx context.Context, a, b string) ([]*store.Message, error)
	Send(ctx context.Context, req conversation.SendRequest) (*store.Message, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	API         API
	Bus         bus.Subscriber
	Self        string // own identity: a visitor token or the operator id
	Counterpart string
	Logger      *slog.Logger

	// OnMessage, if set, is called for every message added to local state,
	// in the order they are added. It must not call back into the Session.
	OnMessage func(*store.Message)
}

// Session is one party's live view of a conversation.
type Session struct {
	cfg     SessionConfig
	channel string
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	messages []*store.Message
	seen     *dedupe.Cache

	cancel context.CancelFunc
	sub    *bus.Subscription
	done   chan struct{}
}

// NewSession validates cfg and returns a session in StateInitializing.
func NewSession(cfg SessionConfig) (*Session, error) {
	switch {
	case cfg.API == nil:
		return nil, errors.New("session API is required")
	case cfg.Bus == nil:
		return nil, errors.New("session bus is required")
	case cfg.Self == "" || cfg.Counterpart == "":
		return nil, errors.New("session needs both self and counterpart identities")
	case cfg.Self == cfg.Counterpart:
		return nil, errors.New("session self and counterpart must differ")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		cfg:     cfg,
		channel: bus.ConversationChannel(cfg.Self, cfg.Counterpart),
		logger:  cfg.Logger.With("component", "session", "self", cfg.Self, "counterpart", cfg.Counterpart),
		state:   StateInitializing,
		seen:    dedupe.New(0, 0),
		done:    make(chan struct{}),
	}, nil
}

// Start loads history and begins following the conversation channel. The
// subscription is opened before history is fetched, so nothing published
// in between is missed; anything seen twice is dropped by message ID.
// A history failure is logged and leaves local state empty.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInitializing {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateLoadingHistory
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	sub, err := s.cfg.Bus.Subscribe(streamCtx, s.channel)
	if err != nil {
		cancel()
		s.setState(StateUnmounted)
		s.seen.Close()
		close(s.done)
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	history, err := s.cfg.API.History(ctx, s.cfg.Self, s.cfg.Counterpart)
	if err != nil {
		s.logger.Warn("failed to load history", "error", err)
		history = nil
	}
	for _, msg := range history {
		s.add(msg)
	}

	s.mu.Lock()
	if s.state == StateUnmounted {
		// Closed while loading
		s.mu.Unlock()
		cancel()
		sub.Close()
		close(s.done)
		return nil
	}
	s.state = StateReady
	s.cancel = cancel
	s.sub = sub
	s.mu.Unlock()

	s.logger.Debug("session ready", "history", len(history))
	go s.receive(sub)
	return nil
}

// receive appends pushed messages in receipt order until the subscription ends.
func (s *Session) receive(sub *bus.Subscription) {
	defer close(s.done)

	for ev := range sub.Events {
		if ev.Kind != bus.KindNewMessage {
			continue
		}
		var msg store.Message
		if err := ev.Decode(&msg); err != nil {
			s.logger.Warn("dropping undecodable event", "error", err)
			continue
		}
		s.add(&msg)
	}
	s.logger.Debug("subscription ended")
}

// add appends msg unless it is already present or the session is unmounted.
func (s *Session) add(msg *store.Message) {
	s.mu.Lock()
	if s.state == StateUnmounted || !s.seen.Add(msg.ID) {
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

// Send posts content to the counterpart. It runs independently of the
// receive loop; the stored message is added to local state right away and
// its push, when it arrives, is recognized as a duplicate.
func (s *Session) Send(ctx context.Context, content string) (*store.Message, error) {
	if s.State() != StateReady {
		return nil, ErrNotReady
	}

	msg, err := s.cfg.API.Send(ctx, conversation.SendRequest{
		Content:    content,
		SenderID:   s.cfg.Self,
		ReceiverID: s.cfg.Counterpart,
	})
	if err != nil {
		return nil, err
	}
	s.add(msg)
	return msg, nil
}

// Messages returns a snapshot of local state.
func (s *Session) Messages() []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Message, len(s.messages))
	for i, m := range s.messages {
		cp := *m
		out[i] = &cp
	}
	return out
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the conversation channel this session follows.
func (s *Session) Channel() string {
	return s.channel
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close unsubscribes immediately. Local state is frozen afterwards. Sends
// already in flight are not cancelled. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	prev := s.state
	s.state = StateUnmounted
	cancel, sub := s.cancel, s.sub
	s.mu.Unlock()

	if prev == StateUnmounted {
		return
	}
	if prev == StateInitializing {
		close(s.done)
	}
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		sub.Close()
	}
	if prev == StateReady {
		<-s.done
	}
	s.seen.Close()
}

// WatchNotifications follows id's personal notification channel and calls fn
// for each notification until ctx is done or the stream ends.
func WatchNotifications(ctx context.Context, subscriber bus.Subscriber, id string, fn func(bus.Notification)) error {
	sub, err := subscriber.Subscribe(ctx, bus.NotificationChannel(id))
	if err != nil {
		return fmt.Errorf("subscribing to notifications: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if ev.Kind != bus.KindNotification {
				continue
			}
			var n bus.Notification
			if err := ev.Decode(&n); err != nil {
				continue
			}
			fn(n)
		}
	}
}
