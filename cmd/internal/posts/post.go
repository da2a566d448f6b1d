// Package posts is the protected resource behind the auth gate: short text
// posts owned by a user. Anyone may read; only the owner may change or
// delete a post.
package posts

import (
	"errors"
	"time"
)

// Post is a stored post.
type Post struct {
	ID        string
	OwnerID   string
	Text      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxTextChars bounds the length of a post in runes.
const MaxTextChars = 5000

var (
	ErrMissingText  = errors.New("post missing")
	ErrTextTooLong  = errors.New("post too long")
	ErrNotFound     = errors.New("post not found")
	ErrNotOwner     = errors.New("post belongs to another user")
	ErrUnknownOwner = errors.New("user not found")
)
