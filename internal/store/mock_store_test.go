// ABOUTME: Tests for MockStore behaviour shared with the SQLite store
// ABOUTME: Verifies ordering, validation, copy semantics and failure injection

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ImplementsMessageStore(t *testing.T) {
	var _ MessageStore = NewMockStore()
	var _ MessageStore = (*SQLiteStore)(nil)
	var _ MessageStore = (*PostgresStore)(nil)
	var _ Pinger = (*SQLiteStore)(nil)
	var _ Pinger = (*PostgresStore)(nil)
}

func TestMockStore_AppendAndQuery(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	_, err := m.Append(ctx, "v1", "operator", "hi")
	require.NoError(t, err)
	_, err = m.Append(ctx, "operator", "v1", "hello")
	require.NoError(t, err)
	_, err = m.Append(ctx, "v2", "operator", "yo")
	require.NoError(t, err)

	between, err := m.QueryBetween(ctx, "operator", "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello"}, contents(between))

	involving, err := m.QueryInvolving(ctx, "operator")
	require.NoError(t, err)
	assert.Len(t, involving, 3)
	for i := 1; i < len(involving); i++ {
		assert.True(t, involving[i].CreatedAt.After(involving[i-1].CreatedAt))
	}
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	msg, err := m.Append(ctx, "v1", "operator", "hi")
	require.NoError(t, err)
	msg.Content = "tampered"

	got, err := m.QueryBetween(ctx, "v1", "operator")
	require.NoError(t, err)
	got[0].IsRead = true

	again, err := m.QueryBetween(ctx, "v1", "operator")
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
	assert.False(t, again[0].IsRead)
}

func TestMockStore_Validation(t *testing.T) {
	m := NewMockStore()

	_, err := m.Append(context.Background(), "v1", "operator", "")
	assert.ErrorIs(t, err, ErrEmptyContent)

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMockStore_FailWith(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	boom := errors.New("database unreachable")

	m.FailWith(boom)

	_, err := m.Append(ctx, "v1", "operator", "hi")
	assert.ErrorIs(t, err, boom)
	_, err = m.QueryInvolving(ctx, "operator")
	assert.ErrorIs(t, err, boom)
	_, err = m.MarkRead(ctx, "operator", "v1")
	assert.ErrorIs(t, err, boom)

	m.FailWith(nil)
	_, err = m.Append(ctx, "v1", "operator", "hi")
	assert.NoError(t, err)
}
