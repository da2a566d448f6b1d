package authapi

import (
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"instant/cmd/internal/httpx"
)

// Config controls request limits and the login throttle.
type Config struct {
	MaxBodyBytes int64

	// TrustProxy makes the login throttle key on X-Forwarded-For / X-Real-IP.
	TrustProxy bool

	LoginThrottle bool
	LoginIPMax    int
	LoginIPWindow time.Duration

	// LoginUserWindow bounds how far back one identifier's failures count
	// toward a lockout tier.
	LoginUserWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           httpx.DefaultMaxBodyBytes,
		LoginThrottle:          true,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LoginUserWindow:        15 * time.Minute,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv applies INSTANT_AUTH_* over DefaultConfig. A value that
// does not parse, or is not positive, leaves the default in place.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	for key, set := range cfg.envBindings() {
		if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
			set(raw)
		}
	}
	return cfg
}

func (c *Config) envBindings() map[string]func(string) {
	const lockout = "INSTANT_AUTH_LOGIN_LOCKOUT_"
	return map[string]func(string){
		"INSTANT_AUTH_MAX_BODY_BYTES":    positiveInt(&c.MaxBodyBytes),
		"INSTANT_AUTH_TRUST_PROXY":       boolVar(&c.TrustProxy),
		"INSTANT_AUTH_LOGIN_THROTTLE":    boolVar(&c.LoginThrottle),
		"INSTANT_AUTH_LOGIN_IP_MAX":      positiveInt(&c.LoginIPMax),
		"INSTANT_AUTH_LOGIN_IP_WINDOW":   positiveDuration(&c.LoginIPWindow),
		"INSTANT_AUTH_LOGIN_USER_WINDOW": positiveDuration(&c.LoginUserWindow),
		lockout + "SHORT_THRESHOLD":      positiveInt(&c.LockoutShortThreshold),
		lockout + "SHORT_DURATION":       positiveDuration(&c.LockoutShortDuration),
		lockout + "LONG_THRESHOLD":       positiveInt(&c.LockoutLongThreshold),
		lockout + "LONG_DURATION":        positiveDuration(&c.LockoutLongDuration),
		lockout + "SEVERE_THRESHOLD":     positiveInt(&c.LockoutSevereThreshold),
		lockout + "SEVERE_DURATION":      positiveDuration(&c.LockoutSevereDuration),
	}
}

// lockoutTiers returns the enabled tiers, highest threshold first.
func (c Config) lockoutTiers() []lockoutTier {
	tiers := []lockoutTier{
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
	}
	tiers = slices.DeleteFunc(tiers, func(t lockoutTier) bool { return t.Threshold <= 0 || t.Duration <= 0 })
	slices.SortFunc(tiers, func(a, b lockoutTier) int { return b.Threshold - a.Threshold })
	return tiers
}

func boolVar(p *bool) func(string) {
	return func(raw string) {
		if b, err := strconv.ParseBool(raw); err == nil {
			*p = b
		}
	}
}

func positiveInt[T int | int64](p *T) func(string) {
	return func(raw string) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			*p = T(n)
		}
	}
}

func positiveDuration(p *time.Duration) func(string) {
	return func(raw string) {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			*p = d
		}
	}
}
