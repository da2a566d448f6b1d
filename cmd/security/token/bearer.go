package token

import (
	"strings"
	"unicode"
)

// FromAuthorization extracts the token from a "<scheme> <token>" credential.
// The scheme word is not interpreted; "Bearer", "JWT" and others are accepted.
// Everything after the scheme is returned, so a malformed credential reaches
// verification and fails there. It returns "" only when no token follows the
// scheme.
func FromAuthorization(raw string) string {
	raw = strings.TrimSpace(raw)
	i := strings.IndexFunc(raw, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(raw[i:])
}
