package session

import (
	"os"
	"strconv"
	"strings"
	"time"

	"instant/cmd/security/token"
)

// Config is the runtime configuration of the session manager.
//
// Token secrets and lifetimes are handed to the token codec as an immutable
// token.Config; the remaining fields tune the refresh-token set protocol.
type Config struct {
	// Issuer is the "iss" claim of every token.
	Issuer string

	AccessSecret []byte
	AccessTTL    time.Duration

	RefreshSecret []byte
	RefreshTTL    time.Duration

	// Leeway is the clock skew tolerated during verification.
	Leeway time.Duration

	// SwapAttempts bounds the compare-and-swap retries on a user's token set.
	SwapAttempts uint64
	// SwapBackoff is the base of the exponential backoff between attempts.
	SwapBackoff time.Duration

	// DigestKey switches refresh-token digests to HMAC-SHA256 when set.
	DigestKey []byte
}

// DefaultConfig returns defaults without secrets; secrets always come from the environment.
func DefaultConfig() Config {
	return Config{
		Issuer:       token.DefaultIssuer,
		AccessTTL:    token.DefaultAccessTTL,
		RefreshTTL:   token.DefaultRefreshTTL,
		Leeway:       0,
		SwapAttempts: 8,
		SwapBackoff:  2 * time.Millisecond,
	}
}

// TokenConfig returns the codec configuration derived from c.
func (c Config) TokenConfig() token.Config {
	return token.Config{
		Issuer:        c.Issuer,
		AccessSecret:  c.AccessSecret,
		AccessTTL:     c.AccessTTL,
		RefreshSecret: c.RefreshSecret,
		RefreshTTL:    c.RefreshTTL,
		Leeway:        c.Leeway,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - INSTANT_JWT_ACCESS_SECRET (>= 32 bytes)
//   - INSTANT_JWT_REFRESH_SECRET (>= 32 bytes, different from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - INSTANT_JWT_ISSUER
//   - INSTANT_JWT_ACCESS_TTL
//   - INSTANT_JWT_REFRESH_TTL
//   - INSTANT_JWT_LEEWAY
//   - INSTANT_SESSION_SWAP_ATTEMPTS
//   - INSTANT_TOKEN_HMAC_KEY
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("INSTANT_JWT_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	var err error
	if cfg.AccessTTL, err = envPositiveDuration("INSTANT_JWT_ACCESS_TTL", cfg.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envPositiveDuration("INSTANT_JWT_REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("INSTANT_JWT_LEEWAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.Leeway = d
	}

	if v := os.Getenv("INSTANT_SESSION_SWAP_ATTEMPTS"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n < 1 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.SwapAttempts = n
	}

	cfg.AccessSecret = []byte(os.Getenv("INSTANT_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("INSTANT_JWT_REFRESH_SECRET"))
	if err := cfg.TokenConfig().Validate(); err != nil {
		return Config{}, ErrConfig
	}

	if v := strings.TrimSpace(os.Getenv(token.HMACEnvKey)); v != "" {
		cfg.DigestKey = []byte(v)
	}

	return cfg, nil
}

func envPositiveDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, ErrConfig
	}
	return d, nil
}
