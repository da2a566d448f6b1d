package posts

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]Post
	users func(id string) bool
}

// NewMemoryStore returns an empty MemoryStore. When userExists is non-nil,
// Create rejects unknown owners the way the users foreign key does.
func NewMemoryStore(userExists func(id string) bool) *MemoryStore {
	return &MemoryStore{byID: make(map[string]Post), users: userExists}
}

func (s *MemoryStore) List(ctx context.Context, ownerID string) ([]Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Post, 0, len(s.byID))
	for _, p := range s.byID {
		if ownerID == "" || p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Post) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Create(ctx context.Context, p Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.users != nil && !s.users(p.OwnerID) {
		return ErrUnknownOwner
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	return nil
}

func (s *MemoryStore) UpdateText(ctx context.Context, id, text string, now time.Time) (Post, error) {
	if err := ctx.Err(); err != nil {
		return Post{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	p.Text = text
	p.UpdatedAt = now
	s.byID[id] = p
	return p, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
