package posts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"instant/cmd/identity"
	"instant/cmd/identity/ids"
)

// Users resolves owner ids to users. identity.Store implements it.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
}

// View is a post with its owner's current username.
type View struct {
	Post
	Username string
}

// Service applies the ownership rules on top of a Store.
type Service struct {
	store Store
	users Users
	now   func() time.Time
}

// NewService builds a Service.
func NewService(store Store, users Users) (*Service, error) {
	if store == nil || users == nil {
		return nil, errors.New("posts: nil dependency")
	}
	return &Service{store: store, users: users, now: func() time.Time { return time.Now().UTC() }}, nil
}

// List returns every post, or only ownerID's when set.
func (s *Service) List(ctx context.Context, ownerID string) ([]View, error) {
	list, err := s.store.List(ctx, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	out := make([]View, 0, len(list))
	for _, p := range list {
		name, ok := names[p.OwnerID]
		if !ok {
			if name, err = s.username(ctx, p.OwnerID); err != nil {
				return nil, err
			}
			names[p.OwnerID] = name
		}
		out = append(out, View{Post: p, Username: name})
	}
	return out, nil
}

// Get returns one post.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, p)
}

// Create stores a new post owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, text string) (View, error) {
	text, err := checkText(text)
	if err != nil {
		return View{}, err
	}
	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return View{}, err
	}
	p := Post{ID: id, OwnerID: ownerID, Text: text, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Create(ctx, p); err != nil {
		return View{}, err
	}
	return s.view(ctx, p)
}

// Update replaces the text of a post owned by ownerID.
func (s *Service) Update(ctx context.Context, ownerID, id, text string) (View, error) {
	text, err := checkText(text)
	if err != nil {
		return View{}, err
	}
	if err := s.ensureOwner(ctx, ownerID, id); err != nil {
		return View{}, err
	}
	p, err := s.store.UpdateText(ctx, id, text, s.now())
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, p)
}

// Delete removes a post owned by ownerID.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.ensureOwner(ctx, ownerID, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// lookup answers ErrNotFound for ids that could never have been issued
// without touching the store.
func (s *Service) lookup(ctx context.Context, id string) (Post, error) {
	if !ids.Valid(id) {
		return Post{}, ErrNotFound
	}
	return s.store.Get(ctx, id)
}

func (s *Service) ensureOwner(ctx context.Context, ownerID, id string) error {
	p, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	if p.OwnerID != ownerID {
		return ErrNotOwner
	}
	return nil
}

func (s *Service) view(ctx context.Context, p Post) (View, error) {
	name, err := s.username(ctx, p.OwnerID)
	if err != nil {
		return View{}, err
	}
	return View{Post: p, Username: name}, nil
}

// username returns "" for owners that no longer resolve.
func (s *Service) username(ctx context.Context, ownerID string) (string, error) {
	u, err := s.users.FindByID(ctx, ownerID)
	switch {
	case err == nil:
		return u.Username, nil
	case identity.IsNotFound(err):
		return "", nil
	default:
		return "", err
	}
}

func checkText(text string) (string, error) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", ErrMissingText
	case utf8.RuneCountInString(text) > MaxTextChars:
		return "", ErrTextTooLong
	}
	return text, nil
}
