// ABOUTME: End-to-end test of a visitor and an operator chatting through the HTTP gateway
// ABOUTME: Both sides use client Sessions over the real API and SSE streams

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/client"
	"github.com/2389/parley/internal/store"
)

func TestScenario_VisitorAndOperator(t *testing.T) {
	gw, srv := newTestServer(t, testConfig(t))
	ctx := context.Background()

	visitorAPI := client.NewAPIClient(srv.URL, "")
	operatorAPI := client.NewAPIClient(srv.URL, operatorToken(t, gw))

	pushed := make(chan *store.Message, 4)
	visitor, err := client.NewSession(client.SessionConfig{
		API:         visitorAPI,
		Bus:         visitorAPI,
		Self:        "v1",
		Counterpart: "operator",
		Logger:      testLogger(),
		OnMessage:   func(m *store.Message) { pushed <- m },
	})
	require.NoError(t, err)
	require.NoError(t, visitor.Start(ctx))
	defer visitor.Close()

	// Visitor v1 says hello
	_, err = visitor.Send(ctx, "Hello")
	require.NoError(t, err)
	<-pushed

	// Operator sees one conversation with one unread message
	convs, err := operatorAPI.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "v1", convs[0].CounterpartID)
	assert.Equal(t, "Hello", convs[0].LastMessage)
	assert.Equal(t, 1, convs[0].UnreadCount)

	operator, err := client.NewSession(client.SessionConfig{
		API:         operatorAPI,
		Bus:         operatorAPI,
		Self:        "operator",
		Counterpart: "v1",
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, operator.Start(ctx))
	defer operator.Close()
	assert.Equal(t, []string{"Hello"}, contentsOf(operator.Messages()))

	_, err = operator.Send(ctx, "Hi there")
	require.NoError(t, err)

	// The visitor's session gets the reply as a push, without refetching
	select {
	case m := <-pushed:
		assert.Equal(t, "Hi there", m.Content)
		assert.Equal(t, "operator", m.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("visitor did not receive the operator reply")
	}
	assert.Equal(t, []string{"Hello", "Hi there"}, contentsOf(visitor.Messages()))

	// Reading the conversation clears the unread count
	n, err := operatorAPI.MarkRead(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	convs, err = operatorAPI.Conversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, convs[0].UnreadCount)
}

func TestScenario_VisitorCannotImpersonateOperator(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t))

	spoof, err := client.NewSession(client.SessionConfig{
		API:         client.NewAPIClient(srv.URL, ""),
		Bus:         client.NewAPIClient(srv.URL, ""),
		Self:        "operator",
		Counterpart: "v1",
		Logger:      testLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, spoof.Start(context.Background()))
	defer spoof.Close()

	_, err = spoof.Send(context.Background(), "give me your password")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Empty(t, spoof.Messages())
}

func contentsOf(msgs []*store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
