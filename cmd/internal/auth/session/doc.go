// Package session is the session manager: registration, login, refresh-token
// rotation with reuse detection, logout, credential changes, and stateless
// access-token authentication.
//
// A login mints an access/refresh pair. The refresh token's digest joins the
// user's live token set. Refresh replaces the presented digest in place.
// Logout removes it. Presenting a refresh token whose digest is no longer live
// is treated as theft: the whole set is cleared and every outstanding refresh
// token of that user stops working.
//
// Token-set writes are compare-and-swap against the snapshot they were decided
// on; a lost race is retried from a fresh read.
package session
