package identity

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. All methods are safe for concurrent use;
// a single mutex makes every read-decide-write inside a method atomic.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]User
	byUsername map[string]string
	byEmail    map[string]string
	now        func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (User, error) {
	return s.findBy(ctx, "identity.FindByUsername", s.byUsername, NormalizeUsername(username))
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.findBy(ctx, "identity.FindByEmail", s.byEmail, NormalizeEmail(email))
}

func (s *MemoryStore) findBy(ctx context.Context, op string, index map[string]string, key string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := index[key]
	if !ok || key == "" {
		return User{}, userNotFound(op)
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, userNotFound(op)
	}
	return u.Clone(), nil
}

func (s *MemoryStore) Insert(ctx context.Context, u User) error {
	const op = "identity.Insert"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return invalid(op, "missing id")
	}
	uname := NormalizeUsername(u.Username)
	email := NormalizeEmail(u.Email)
	if uname == "" || email == "" {
		return invalid(op, "username and email are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID]; ok {
		return ConflictError{Op: op, Field: "id"}
	}
	if _, ok := s.byUsername[uname]; ok {
		return ConflictError{Op: op, Field: "username"}
	}
	if _, ok := s.byEmail[email]; ok {
		return ConflictError{Op: op, Field: "email"}
	}

	now := s.now()
	u = u.Clone()
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.TrimSpace(u.Email)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt

	s.byID[u.ID] = u
	s.byUsername[uname] = u.ID
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryStore) SwapRefreshTokens(ctx context.Context, id string, prev, next []string) error {
	const op = "identity.SwapRefreshTokens"
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return userNotFound(op)
	}
	if !slices.Equal(u.RefreshTokens, prev) {
		return stale(op)
	}
	u.RefreshTokens = slices.Clone(next)
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	u.UpdatedAt = s.now()
	s.byID[id] = u
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	const op = "identity.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "missing password hash")
	}
	return s.update(ctx, op, id, func(u *User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (s *MemoryStore) UpdateEmail(ctx context.Context, id, email string) error {
	const op = "identity.UpdateEmail"
	norm := NormalizeEmail(email)
	if norm == "" {
		return invalid(op, "missing email")
	}
	return s.update(ctx, op, id, func(u *User) error {
		if owner, ok := s.byEmail[norm]; ok && owner != id {
			return ConflictError{Op: op, Field: "email"}
		}
		delete(s.byEmail, NormalizeEmail(u.Email))
		s.byEmail[norm] = id
		u.Email = strings.TrimSpace(email)
		return nil
	})
}

func (s *MemoryStore) UpdateUsername(ctx context.Context, id, username string) error {
	const op = "identity.UpdateUsername"
	norm := NormalizeUsername(username)
	if norm == "" {
		return invalid(op, "missing username")
	}
	return s.update(ctx, op, id, func(u *User) error {
		if owner, ok := s.byUsername[norm]; ok && owner != id {
			return ConflictError{Op: op, Field: "username"}
		}
		delete(s.byUsername, NormalizeUsername(u.Username))
		s.byUsername[norm] = id
		u.Username = strings.TrimSpace(username)
		return nil
	})
}

// update runs fn on the stored user under the lock and persists the result
// when fn succeeds.
func (s *MemoryStore) update(ctx context.Context, op, id string, fn func(*User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return userNotFound(op)
	}
	if err := fn(&u); err != nil {
		return err
	}
	u.UpdatedAt = s.now()
	s.byID[id] = u
	return nil
}
