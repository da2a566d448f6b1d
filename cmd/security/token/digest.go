package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// HMACEnvKey names the variable holding the refresh-digest HMAC secret.
// #nosec G101 -- an environment variable name, not a credential.
const HMACEnvKey = "INSTANT_TOKEN_HMAC_KEY"

var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
// If the env var is missing/blank -> ErrHMACKeyMissing.
// If too short -> ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// Digester maps refresh tokens to the 64-char hex form kept in a user's token set.
// The zero value uses plain SHA-256.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester. An empty key selects SHA-256 mode.
func NewDigester(key []byte) Digester {
	if len(key) == 0 {
		return Digester{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Digester{key: k}
}

// Keyed reports whether the digester runs in HMAC mode.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the storage form of a refresh token.
func (d Digester) Digest(token string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(token)
	}
	return HashHMACSHA256Hex(token, d.key)
}
