// Package token implements the signed-token contract used by sessions.
//
// Two signing contexts exist, access and refresh, each with its own HS256
// secret and lifetime. A token verified under the wrong context is invalid.
//
// The package also owns refresh-token digests: the server stores only the
// digest of a refresh token, never the token itself. With no HMAC key the
// digest is SHA-256(token); with a key it is HMAC-SHA256(token, key).
//
// Environment:
//   - INSTANT_TOKEN_HMAC_KEY: when set, digests use HMAC mode.
package token
