// Package ids generates the ULIDs that name users, posts, token ids and
// websocket connections.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a 26-character ULID stamped with now (the current time when
// now is zero). Ids minted in the same millisecond still sort in call order.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now()
	}

	entropyMu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	entropyMu.Unlock()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewULID panics where NewULID would fail, which only happens when the
// system random source is broken.
func MustNewULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic(err)
	}
	return id
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
