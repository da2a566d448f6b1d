package authapi

import (
	"context"
	"net/http"

	"instant/cmd/security/token"
)

// Authenticator verifies an access token and returns its subject.
// *session.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (string, error)
}

type subjectKey struct{}

// WithSubject returns a copy of ctx carrying the authenticated subject id.
func WithSubject(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subjectID)
}

// SubjectFrom returns the subject id placed by RequireAuth.
func SubjectFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(subjectKey{}).(string)
	return id, ok && id != ""
}

// RequireAuth admits requests carrying a valid access token in
// "Authorization: <scheme> <token>". The scheme word is not interpreted.
// Missing token → 401; expired or invalid → 403. The store is never consulted.
func RequireAuth(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := token.FromAuthorization(r.Header.Get("Authorization"))
		subject, err := auth.Authenticate(r.Context(), raw)
		if err != nil {
			writeSessionError(w, nil, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
	})
}
