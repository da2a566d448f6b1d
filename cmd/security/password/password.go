package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const argon2Version = argon2.Version

var b64 = base64.RawStdEncoding

// phc is the decoded form of
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (p phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		p.params.MemoryKiB,
		p.params.Iterations,
		p.params.Parallelism,
		b64.EncodeToString(p.salt),
		b64.EncodeToString(p.key),
	)
}

func derive(password string, salt []byte, params Argon2idParams, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, params.Iterations, params.MemoryKiB, params.Parallelism, keyLen)
}

// Hash validates password against the policy and returns its encoded Argon2id hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	return phc{
		params: c.Params,
		salt:   salt,
		key:    derive(password, salt, c.Params, c.Params.KeyLength),
	}.String(), nil
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	// Stored hashes are untrusted input: refuse parameters far above ours.
	if !withinReasonableBounds(h.params, c.Params) {
		return false, ErrInvalidHash
	}

	got := derive(password, h.salt, h.params, uint32(len(h.key))) // #nosec G115 -- bounded by parsePHC.
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2,
		got.Iterations > limits.Iterations*2,
		got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2Version) {
		return phc{}, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: uint8(par),
			SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 segment of a bounded string.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- base64 segment of a bounded string.
		},
		salt: salt,
		key:  key,
	}, nil
}

// Hasher adapts a Config to the hash/verify contract used by the session layer.
type Hasher struct {
	cfg Config

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a Hasher using cfg.
func NewHasher(cfg Config) *Hasher {
	return &Hasher{cfg: cfg}
}

// Hash returns the encoded hash of plain, enforcing the policy.
func (h *Hasher) Hash(plain string) (string, error) {
	return h.cfg.Hash(plain)
}

// Verify reports whether plain matches encoded.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	return h.cfg.Verify(encoded, plain)
}

// VerifyDummy burns one verification against a fixed hash with the configured
// cost, so a lookup miss takes about as long as a wrong password.
func (h *Hasher) VerifyDummy(plain string) {
	h.dummyOnce.Do(func() {
		salt := make([]byte, h.cfg.Params.SaltLength)
		h.dummy = phc{
			params: h.cfg.Params,
			salt:   salt,
			key:    derive("instant-dummy-password", salt, h.cfg.Params, h.cfg.Params.KeyLength),
		}.String()
	})
	_, _ = h.cfg.Verify(h.dummy, plain)
}
