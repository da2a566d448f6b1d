package identity

import (
	"context"
	"slices"
	"strings"
	"time"
)

// User is the canonical security principal.
//
// RefreshTokens holds digests of the live refresh tokens, in issue order. The
// plaintext tokens are never stored.
type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	RefreshTokens []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a copy of u that shares no slices with it.
func (u User) Clone() User {
	u.RefreshTokens = slices.Clone(u.RefreshTokens)
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	return u
}

// Store is the credential persistence boundary.
//
// Lookups by username and email are case-insensitive (see NormalizeUsername,
// NormalizeEmail). Missing rows yield NotFoundError; uniqueness violations
// yield ConflictError.
type Store interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)

	// Insert stores a new user. u.ID must already be assigned.
	Insert(ctx context.Context, u User) error

	// SwapRefreshTokens replaces the user's token set with next, but only if
	// the stored set still equals prev (same members, same order). Otherwise
	// it returns ErrStale and changes nothing.
	SwapRefreshTokens(ctx context.Context, id string, prev, next []string) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateEmail(ctx context.Context, id, email string) error
	UpdateUsername(ctx context.Context, id, username string) error
}

// NormalizeUsername is the key usernames are unique and looked up by.
func NormalizeUsername(s string) string { return fold(s) }

// NormalizeEmail is the key emails are unique and looked up by.
func NormalizeEmail(s string) string { return fold(s) }

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
