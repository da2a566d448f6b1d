package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instant/cmd/identity/ids"
)

func newTestUser(t *testing.T, username, email string) User {
	t.Helper()
	id, err := ids.NewULID(time.Time{})
	require.NoError(t, err)
	return User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
	}
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("insert and find case-insensitively", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := newTestUser(t, "Bob", "Bob@Example.com")
		require.NoError(t, s.Insert(ctx, u))

		byName, err := s.FindByUsername(ctx, "  bOB ")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byName.ID)
		assert.Equal(t, "Bob", byName.Username)
		assert.Equal(t, "Bob@Example.com", byName.Email)
		assert.Empty(t, byName.RefreshTokens)
		assert.NotNil(t, byName.RefreshTokens)

		byEmail, err := s.FindByEmail(ctx, "bob@example.COM")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		byID, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.PasswordHash, byID.PasswordHash)
	})

	t.Run("missing user is not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.FindByUsername(ctx, "nobody")
		assert.True(t, IsNotFound(err), "got %v", err)
		_, err = s.FindByEmail(ctx, "")
		assert.True(t, IsNotFound(err), "got %v", err)
		_, err = s.FindByID(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("duplicate username and email conflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, newTestUser(t, "alice", "alice@x.com")))

		err := s.Insert(ctx, newTestUser(t, "ALICE", "other@x.com"))
		field, ok := ConflictField(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, "username", field)

		err = s.Insert(ctx, newTestUser(t, "other", "Alice@X.com"))
		field, ok = ConflictField(err)
		require.True(t, ok, "got %v", err)
		assert.Equal(t, "email", field)
	})

	t.Run("swap applies only against the current set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := newTestUser(t, "carol", "carol@x.com")
		require.NoError(t, s.Insert(ctx, u))

		require.NoError(t, s.SwapRefreshTokens(ctx, u.ID, nil, []string{"a"}))
		require.NoError(t, s.SwapRefreshTokens(ctx, u.ID, []string{"a"}, []string{"a", "b"}))

		err := s.SwapRefreshTokens(ctx, u.ID, []string{"a"}, []string{"c"})
		assert.True(t, IsStale(err), "got %v", err)

		err = s.SwapRefreshTokens(ctx, u.ID, []string{"b", "a"}, []string{"c"})
		assert.True(t, IsStale(err), "order matters, got %v", err)

		got, err := s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got.RefreshTokens)

		require.NoError(t, s.SwapRefreshTokens(ctx, u.ID, []string{"a", "b"}, []string{}))
		got, err = s.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Empty(t, got.RefreshTokens)

		err = s.SwapRefreshTokens(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, []string{"x"})
		assert.True(t, IsNotFound(err), "got %v", err)
	})

	t.Run("concurrent swaps from one snapshot: exactly one wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := newTestUser(t, "dave", "dave@x.com")
		require.NoError(t, s.Insert(ctx, u))
		require.NoError(t, s.SwapRefreshTokens(ctx, u.ID, nil, []string{"t0"}))

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.SwapRefreshTokens(ctx, u.ID, []string{"t0"}, []string{string(rune('a' + i))})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, IsStale(err), "got %v", err)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("updates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := newTestUser(t, "erin", "erin@x.com")
		b := newTestUser(t, "frank", "frank@x.com")
		require.NoError(t, s.Insert(ctx, a))
		require.NoError(t, s.Insert(ctx, b))

		require.NoError(t, s.UpdatePasswordHash(ctx, a.ID, "new-hash"))
		require.NoError(t, s.UpdateEmail(ctx, a.ID, "Erin@New.com"))
		require.NoError(t, s.UpdateUsername(ctx, a.ID, "Erin2"))

		got, err := s.FindByUsername(ctx, "erin2")
		require.NoError(t, err)
		assert.Equal(t, "new-hash", got.PasswordHash)
		assert.Equal(t, "Erin@New.com", got.Email)
		assert.Equal(t, "Erin2", got.Username)

		_, err = s.FindByUsername(ctx, "erin")
		assert.True(t, IsNotFound(err))
		_, err = s.FindByEmail(ctx, "erin@x.com")
		assert.True(t, IsNotFound(err))

		field, ok := ConflictField(s.UpdateEmail(ctx, b.ID, "ERIN@new.com"))
		assert.True(t, ok)
		assert.Equal(t, "email", field)
		field, ok = ConflictField(s.UpdateUsername(ctx, b.ID, "erin2"))
		assert.True(t, ok)
		assert.Equal(t, "username", field)

		// Re-asserting your own value is not a conflict.
		require.NoError(t, s.UpdateUsername(ctx, a.ID, "ERIN2"))

		assert.True(t, IsNotFound(s.UpdateEmail(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "z@x.com")))
		assert.True(t, IsInvalidInput(s.UpdateUsername(ctx, a.ID, "  ")))
	})
}
