package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	u := newTestUser(t, "gina", "gina@x.com")
	require.NoError(t, s.Insert(ctx, u))
	require.NoError(t, s.SwapRefreshTokens(ctx, u.ID, nil, []string{"a"}))

	got, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	got.RefreshTokens[0] = "mutated"

	again, err := s.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.RefreshTokens)
}

func TestMemoryStore_InsertValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	assert.True(t, IsInvalidInput(s.Insert(ctx, User{Username: "x", Email: "x@x"})))
	assert.True(t, IsInvalidInput(s.Insert(ctx, User{ID: "1", Username: " ", Email: "x@x"})))
	assert.True(t, IsInvalidInput(s.Insert(ctx, User{ID: "1", Username: "x"})))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.FindByID(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.SwapRefreshTokens(ctx, "x", nil, nil), context.Canceled)
}
