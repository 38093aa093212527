// ABOUTME: Tests for the client Session state machine and push reconciliation
// ABOUTME: Drives sessions against the real conversation service, MockStore and in-process Hub

package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/bus"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

// serviceAPI adapts a conversation.Service to the Session API, acting with
// an operator session when the sender is the operator.
type serviceAPI struct {
	svc         *conversation.Service
	historyErr  error
	historyHook func()
}

func (a *serviceAPI) History(ctx context.Context, x, y string) ([]*store.Message, error) {
	if a.historyHook != nil {
		a.historyHook()
	}
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return a.svc.History(ctx, x, y)
}

func (a *serviceAPI) Send(ctx context.Context, req conversation.SendRequest) (*store.Message, error) {
	if req.SenderID == a.svc.OperatorID() {
		ctx = auth.WithSession(ctx, &auth.Session{Identity: req.SenderID, Operator: true})
	}
	return a.svc.Send(ctx, req)
}

type testEnv struct {
	store *store.MockStore
	hub   *bus.Hub
	api   *serviceAPI
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := store.NewMockStore()
	hub := bus.NewHub(16, nil)
	t.Cleanup(hub.Close)
	return &testEnv{
		store: s,
		hub:   hub,
		api:   &serviceAPI{svc: conversation.New(s, hub, "operator", nil)},
	}
}

func (e *testEnv) session(t *testing.T, self, counterpart string, onMessage func(*store.Message)) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		API:         e.api,
		Bus:         e.hub,
		Self:        self,
		Counterpart: counterpart,
		OnMessage:   onMessage,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func contents(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestNewSession_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		cfg  SessionConfig
	}{
		{"missing api", SessionConfig{Bus: env.hub, Self: "v1", Counterpart: "operator"}},
		{"missing bus", SessionConfig{API: env.api, Self: "v1", Counterpart: "operator"}},
		{"missing self", SessionConfig{API: env.api, Bus: env.hub, Counterpart: "operator"}},
		{"same identity", SessionConfig{API: env.api, Bus: env.hub, Self: "v1", Counterpart: "v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSession(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestSession_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, "v1", "operator", nil)

	assert.Equal(t, StateInitializing, s.State())
	_, err := s.Send(context.Background(), "too early")
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, bus.ConversationChannel("operator", "v1"), s.Channel())

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	s.Close()
	assert.Equal(t, StateUnmounted, s.State())
	assert.Zero(t, env.hub.SubscriberCount(s.Channel()), "close must unsubscribe")

	_, err = s.Send(context.Background(), "too late")
	assert.ErrorIs(t, err, ErrNotReady)
	s.Close()
}

func TestSession_LoadsHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.store.Append(ctx, "v1", "operator", "earlier")
	require.NoError(t, err)
	_, err = env.store.Append(ctx, "operator", "v1", "reply")
	require.NoError(t, err)

	s := env.session(t, "v1", "operator", nil)
	require.NoError(t, s.Start(ctx))

	assert.Equal(t, []string{"earlier", "reply"}, contents(s.Messages()))
}

func TestSession_HistoryFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.api.historyErr = errors.New("store down")

	s := env.session(t, "v1", "operator", nil)
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateReady, s.State())
	assert.Empty(t, s.Messages())
}

func TestSession_ReceivesPushes(t *testing.T) {
	env := newTestEnv(t)

	var mu sync.Mutex
	var seen []string
	visitor := env.session(t, "v1", "operator", func(m *store.Message) {
		mu.Lock()
		seen = append(seen, m.Content)
		mu.Unlock()
	})
	operator := env.session(t, "operator", "v1", nil)
	require.NoError(t, visitor.Start(context.Background()))
	require.NoError(t, operator.Start(context.Background()))

	_, err := visitor.Send(context.Background(), "Hello")
	require.NoError(t, err)
	_, err = operator.Send(context.Background(), "Hi, how can I help?")
	require.NoError(t, err)

	want := []string{"Hello", "Hi, how can I help?"}
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, contents(operator.Messages()))
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, contents(visitor.Messages()))
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen, "OnMessage sees each message once, in order")
}

func TestSession_OwnSendNotDuplicatedByPush(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, "v1", "operator", nil)
	require.NoError(t, s.Start(context.Background()))

	msg, err := s.Send(context.Background(), "once")
	require.NoError(t, err)

	// Give the push time to arrive
	time.Sleep(50 * time.Millisecond)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
}

func TestSession_MessageDuringHistoryLoadSeenOnce(t *testing.T) {
	env := newTestEnv(t)

	// Lands after the subscription opens but before history is read,
	// so it arrives both as a push and in the history result
	env.api.historyHook = func() {
		_, err := env.api.svc.Send(context.Background(),
			conversation.SendRequest{Content: "racing", SenderID: "v1", ReceiverID: "operator"})
		require.NoError(t, err)
	}

	s := env.session(t, "operator", "v1", nil)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"racing"}, contents(s.Messages()))
}

func TestSession_IgnoresOtherConversations(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, "operator", "v1", nil)
	require.NoError(t, s.Start(context.Background()))

	_, err := env.api.Send(context.Background(), conversation.SendRequest{Content: "not for you", SenderID: "v2", ReceiverID: "operator"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Messages())
}

func TestSession_NoMutationAfterClose(t *testing.T) {
	env := newTestEnv(t)
	s := env.session(t, "operator", "v1", nil)
	require.NoError(t, s.Start(context.Background()))
	s.Close()

	_, err := env.api.Send(context.Background(), conversation.SendRequest{Content: "late", SenderID: "v1", ReceiverID: "operator"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, s.Messages())
}

func TestSession_SubscribeFailure(t *testing.T) {
	env := newTestEnv(t)
	env.hub.Close()

	s := env.session(t, "v1", "operator", nil)
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)
	assert.Equal(t, StateUnmounted, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "loading-history", StateLoadingHistory.String())
	assert.Equal(t, "state(9)", State(9).String())
}
