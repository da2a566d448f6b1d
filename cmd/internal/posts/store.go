package posts

import (
	"context"
	"time"
)

// Store persists posts. Missing rows yield ErrNotFound.
type Store interface {
	// List returns posts oldest first. An empty ownerID lists every post.
	List(ctx context.Context, ownerID string) ([]Post, error)
	Get(ctx context.Context, id string) (Post, error)
	Create(ctx context.Context, p Post) error
	UpdateText(ctx context.Context, id, text string, now time.Time) (Post, error)
	Delete(ctx context.Context, id string) error
}
