package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB as
// argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak turns on a minimal weak-pattern check.
	RejectVeryWeak bool
}

// Config is the single configuration surface of this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline cost (64 MiB, 3 passes, up to 4 lanes)
// and a permissive length policy.
func DefaultConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(min(max(runtime.NumCPU(), 1), 4)), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 1, MaxLength: 256},
	}
}

// envSetting is one INSTANT_* variable FromEnv understands.
type envSetting struct {
	key string
	set func(c *Config, raw string) error
}

var envSettings = []envSetting{
	{"INSTANT_PASSWORD_MIN_LEN", intSetting(1, 1024, func(c *Config, v int) { c.Policy.MinLength = v })},
	{"INSTANT_PASSWORD_MAX_LEN", intSetting(1, 4096, func(c *Config, v int) { c.Policy.MaxLength = v })},
	{"INSTANT_PASSWORD_REJECT_VERY_WEAK", func(c *Config, raw string) error {
		b, err := parseBool(raw)
		c.Policy.RejectVeryWeak = b
		return err
	}},
	{"INSTANT_ARGON2_MEMORY_KIB", uintSetting(8*1024, 1024*1024, func(c *Config, v uint32) { c.Params.MemoryKiB = v })},
	{"INSTANT_ARGON2_ITERATIONS", uintSetting(1, 20, func(c *Config, v uint32) { c.Params.Iterations = v })},
	{"INSTANT_ARGON2_PARALLELISM", uintSetting(1, math.MaxUint8, func(c *Config, v uint32) { c.Params.Parallelism = uint8(v) })}, // #nosec G115 -- bounded above.
	{"INSTANT_ARGON2_SALT_LEN", uintSetting(8, 64, func(c *Config, v uint32) { c.Params.SaltLength = v })},
	{"INSTANT_ARGON2_KEY_LEN", uintSetting(16, 64, func(c *Config, v uint32) { c.Params.KeyLength = v })},
}

// FromEnv starts from DefaultConfig and applies every INSTANT_PASSWORD_* and
// INSTANT_ARGON2_* variable that is set. A malformed or out-of-range value is
// an error naming the variable.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, s := range envSettings {
		raw, ok := os.LookupEnv(s.key)
		if !ok {
			continue
		}
		if err := s.set(&cfg, strings.TrimSpace(raw)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func intSetting(lo, hi int, apply func(*Config, int)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("not an integer")
		}
		if n < lo || n > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		apply(c, n)
		return nil
	}
}

func uintSetting(lo, hi uint32, apply func(*Config, uint32)) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("not an unsigned integer")
		}
		if u := uint32(n); u < lo || u > hi {
			return fmt.Errorf("out of range [%d..%d]", lo, hi)
		}
		apply(c, uint32(n))
		return nil
	}
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean")
	}
	return b, nil
}
