package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"instant/cmd/identity/ids"
)

// ErrConfig wraps every Codec construction failure.
var ErrConfig = errors.New("invalid token config")

// Purpose selects the signing context of a token.
type Purpose uint8

const (
	PurposeAccess Purpose = iota + 1
	PurposeRefresh
)

func (p Purpose) String() string {
	switch p {
	case PurposeAccess:
		return "access"
	case PurposeRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

// Outcome is the result of verifying a token.
type Outcome uint8

const (
	// OutcomeInvalid covers bad signatures, malformed input, wrong issuer,
	// wrong algorithm and tokens minted for the other purpose.
	OutcomeInvalid Outcome = iota
	OutcomeValid
	// OutcomeExpired is only reported for tokens whose signature verified.
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Claims are the decoded, typed claims of a token.
type Claims struct {
	Subject   string
	Purpose   Purpose
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Verification is returned by Codec.Verify. Claims are populated for
// OutcomeValid and OutcomeExpired.
type Verification struct {
	Outcome Outcome
	Claims  Claims
	Err     error
}

// Valid reports whether the token verified and has not expired.
func (v Verification) Valid() bool { return v.Outcome == OutcomeValid }

// Config is the immutable signing configuration of a Codec.
type Config struct {
	Issuer        string
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
	// Leeway is the clock skew tolerated on exp/iat checks.
	Leeway time.Duration
}

const (
	DefaultIssuer     = "instant"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	MinSecretBytes    = 32
)

// Validate checks the config for usable secrets and lifetimes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("%w: empty issuer", ErrConfig)
	}
	if len(c.AccessSecret) < MinSecretBytes {
		return fmt.Errorf("%w: access secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if len(c.RefreshSecret) < MinSecretBytes {
		return fmt.Errorf("%w: refresh secret must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	}
	if c.Leeway < 0 {
		return fmt.Errorf("%w: negative leeway", ErrConfig)
	}
	return nil
}

// Codec issues and verifies HS256 JWTs for both purposes.
type Codec struct {
	cfg Config
}

// NewCodec validates cfg and returns a Codec holding a private copy of it.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cp := cfg
	cp.AccessSecret = append([]byte(nil), cfg.AccessSecret...)
	cp.RefreshSecret = append([]byte(nil), cfg.RefreshSecret...)
	return &Codec{cfg: cp}, nil
}

func (c *Codec) context(p Purpose) ([]byte, time.Duration, bool) {
	switch p {
	case PurposeAccess:
		return c.cfg.AccessSecret, c.cfg.AccessTTL, true
	case PurposeRefresh:
		return c.cfg.RefreshSecret, c.cfg.RefreshTTL, true
	default:
		return nil, 0, false
	}
}

// Issue mints a token for subject. Every token carries a fresh ULID jti, so two
// tokens for the same subject and second are still distinct strings.
func (c *Codec) Issue(subject string, p Purpose, now time.Time) (string, time.Time, error) {
	secret, ttl, ok := c.context(p)
	if !ok {
		return "", time.Time{}, fmt.Errorf("token: unknown purpose %d", p)
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("token: empty subject")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	jti, err := ids.NewULID(now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: jti: %w", err)
	}

	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    c.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        jti,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, exp.Truncate(time.Second), nil
}

// Verify checks raw against the secret of purpose p at time now.
func (c *Codec) Verify(raw string, p Purpose, now time.Time) Verification {
	secret, _, ok := c.context(p)
	if !ok {
		return Verification{Outcome: OutcomeInvalid, Err: fmt.Errorf("token: unknown purpose %d", p)}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Verification{Outcome: OutcomeInvalid, Err: jwt.ErrTokenMalformed}
	}
	if now.IsZero() {
		now = time.Now()
	}

	var rc jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(raw, &rc,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	switch {
	case err == nil && parsed != nil && parsed.Valid:
		if strings.TrimSpace(rc.Subject) == "" {
			return Verification{Outcome: OutcomeInvalid, Err: errors.New("token: empty subject")}
		}
		return Verification{Outcome: OutcomeValid, Claims: toClaims(rc, p)}
	case errors.Is(err, jwt.ErrTokenExpired) &&
		!errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
		!errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return Verification{Outcome: OutcomeExpired, Claims: toClaims(rc, p), Err: err}
	default:
		if err == nil {
			err = jwt.ErrTokenUnverifiable
		}
		return Verification{Outcome: OutcomeInvalid, Err: err}
	}
}

func toClaims(rc jwt.RegisteredClaims, p Purpose) Claims {
	out := Claims{
		Subject: rc.Subject,
		Purpose: p,
		ID:      rc.ID,
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	return out
}
