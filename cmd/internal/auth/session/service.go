package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"instant/cmd/identity"
	"instant/cmd/identity/ids"
	"instant/cmd/security/password"
	"instant/cmd/security/token"
)

// TokenCodec issues and verifies signed tokens. *token.Codec implements it.
type TokenCodec interface {
	Issue(subject string, p token.Purpose, now time.Time) (string, time.Time, error)
	Verify(raw string, p token.Purpose, now time.Time) token.Verification
}

// PasswordHasher hashes and verifies passwords. *password.Hasher implements it.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) (bool, error)
}

// dummyVerifier is implemented by hashers that can burn a verification on a
// lookup miss.
type dummyVerifier interface {
	VerifyDummy(plain string)
}

// Service implements the session operations.
type Service struct {
	cfg    Config
	users  identity.Store
	codec  TokenCodec
	hasher PasswordHasher
	digest token.Digester
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCodec replaces the codec built from Config.
func WithCodec(c TokenCodec) Option {
	return func(s *Service) {
		if c != nil {
			s.codec = c
		}
	}
}

// NewService builds a Service. The token codec is derived from cfg unless
// WithCodec is given.
func NewService(cfg Config, users identity.Store, hasher PasswordHasher, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, fmt.Errorf("%w: nil user store", ErrConfig)
	}
	if hasher == nil {
		return nil, fmt.Errorf("%w: nil password hasher", ErrConfig)
	}
	if cfg.SwapAttempts == 0 {
		cfg.SwapAttempts = DefaultConfig().SwapAttempts
	}
	if cfg.SwapBackoff <= 0 {
		cfg.SwapBackoff = DefaultConfig().SwapBackoff
	}

	s := &Service{
		cfg:    cfg,
		users:  users,
		hasher: hasher,
		digest: token.NewDigester(cfg.DigestKey),
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.codec == nil {
		codec, err := token.NewCodec(cfg.TokenConfig())
		if err != nil {
			return nil, errors.Join(ErrConfig, err)
		}
		s.codec = codec
	}
	return s, nil
}

// Issued is the result of a login or refresh.
type Issued struct {
	UserID   string
	Username string
	Email    string

	AccessToken string
	AccessExp   time.Time

	RefreshToken string
	RefreshExp   time.Time
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates a user with an empty refresh-token set.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ identity.User, err error) {
	const op = "session.Register"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("register", span, err) }()

	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	switch {
	case username == "":
		return identity.User{}, validation(op, MsgUsernameMissing)
	case email == "":
		return identity.User{}, validation(op, MsgEmailMissing)
	case in.Password == "":
		return identity.User{}, validation(op, MsgPasswordMissing)
	}

	if err := s.ensureFree(ctx, op, "username", username, MsgRegisterFailed); err != nil {
		return identity.User{}, err
	}
	if err := s.ensureFree(ctx, op, "email", email, MsgRegisterFailed); err != nil {
		return identity.User{}, err
	}

	hash, err := s.hashPassword(op, in.Password, MsgRegisterFailed)
	if err != nil {
		return identity.User{}, err
	}

	now := s.now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return identity.User{}, storeFailure(op, MsgRegisterFailed, err)
	}

	u := identity.User{
		ID:            id,
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		RefreshTokens: []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.users.Insert(ctx, u); err != nil {
		if identity.IsConflict(err) {
			field, _ := identity.ConflictField(err)
			return identity.User{}, conflictFor(op, field)
		}
		return identity.User{}, storeFailure(op, MsgRegisterFailed, err)
	}

	span.SetAttributes(attribute.String("user.id", id))
	return u, nil
}

// Login verifies credentials and issues a new token pair. identifier matches
// a username first, then an email.
func (s *Service) Login(ctx context.Context, identifier, pw string) (_ Issued, err error) {
	const op = "session.Login"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("login", span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Issued{}, validation(op, MsgIdentifierMissing)
	}
	if pw == "" {
		return Issued{}, validation(op, MsgPasswordMissing)
	}

	u, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		if identity.IsNotFound(err) {
			if dv, ok := s.hasher.(dummyVerifier); ok {
				dv.VerifyDummy(pw)
			}
			return Issued{}, badCredentials(op)
		}
		return Issued{}, storeFailure(op, MsgTryAgain, err)
	}

	ok, err := s.hasher.Verify(pw, u.PasswordHash)
	if err != nil {
		s.log.Warn("auth.login.hash_unverifiable", "user_id", u.ID, "err", err)
	}
	if !ok {
		return Issued{}, badCredentials(op)
	}

	issued, err := s.mint(op, u.ID, s.now())
	if err != nil {
		return Issued{}, err
	}
	digest := s.digest.Digest(issued.RefreshToken)

	err = s.mutateTokens(ctx, u.ID, func(cur identity.User) (tokenDecision, error) {
		u = cur
		return tokenDecision{next: append(slices.Clone(cur.RefreshTokens), digest)}, nil
	})
	if err != nil {
		return Issued{}, s.mapTokenSetErr(op, err, MsgTryAgain)
	}

	span.SetAttributes(attribute.String("user.id", u.ID))
	issued.Username, issued.Email = u.Username, u.Email
	return issued, nil
}

// Authenticate verifies an access token and returns its subject. It never
// touches the store.
func (s *Service) Authenticate(ctx context.Context, raw string) (_ string, err error) {
	const op = "session.Authenticate"
	_, span := startSpan(ctx, op)
	defer func() { s.finish("authenticate", span, err) }()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", unauthorized(op)
	}

	v := s.codec.Verify(raw, token.PurposeAccess, s.now())
	switch v.Outcome {
	case token.OutcomeValid:
		span.SetAttributes(attribute.String("user.id", v.Claims.Subject))
		return v.Claims.Subject, nil
	case token.OutcomeExpired:
		return "", forbidden(op, MsgJWTExpired)
	default:
		return "", forbidden(op, MsgAuthFailed)
	}
}

func (s *Service) findByIdentifier(ctx context.Context, identifier string) (identity.User, error) {
	u, err := s.users.FindByUsername(ctx, identifier)
	if err == nil || !identity.IsNotFound(err) {
		return u, err
	}
	return s.users.FindByEmail(ctx, identifier)
}

// ensureFree fails with a field-specific Conflict when value is already taken
// by a user other than self.
func (s *Service) ensureFree(ctx context.Context, op, field, value, storeMsg string, self ...string) error {
	var (
		u   identity.User
		err error
	)
	switch field {
	case "username":
		u, err = s.users.FindByUsername(ctx, value)
	default:
		u, err = s.users.FindByEmail(ctx, value)
	}
	switch {
	case identity.IsNotFound(err):
		return nil
	case err != nil:
		return storeFailure(op, storeMsg, err)
	case len(self) > 0 && u.ID == self[0]:
		return nil
	default:
		return conflictFor(op, field)
	}
}

func (s *Service) hashPassword(op, plain, storeMsg string) (string, error) {
	hash, err := s.hasher.Hash(plain)
	switch {
	case err == nil:
		return hash, nil
	case errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, password.ErrWeakPassword):
		return "", validation(op, err.Error())
	default:
		return "", storeFailure(op, storeMsg, err)
	}
}

// mint issues an access/refresh pair for userID.
func (s *Service) mint(op, userID string, now time.Time) (Issued, error) {
	access, accessExp, err := s.codec.Issue(userID, token.PurposeAccess, now)
	if err != nil {
		return Issued{}, storeFailure(op, MsgTryAgain, err)
	}
	refresh, refreshExp, err := s.codec.Issue(userID, token.PurposeRefresh, now)
	if err != nil {
		return Issued{}, storeFailure(op, MsgTryAgain, err)
	}
	return Issued{
		UserID:       userID,
		AccessToken:  access,
		AccessExp:    accessExp,
		RefreshToken: refresh,
		RefreshExp:   refreshExp,
	}, nil
}

func conflictFor(op, field string) error {
	switch field {
	case "username":
		return conflict(op, MsgUsernameTaken)
	case "email":
		return conflict(op, MsgEmailTaken)
	default:
		return conflict(op, MsgAlreadyExists)
	}
}
