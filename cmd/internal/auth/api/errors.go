package authapi

import (
	"errors"
	"log/slog"
	"net/http"

	"instant/cmd/internal/auth/session"
	"instant/cmd/internal/errlog"
	"instant/cmd/internal/httpx"
)

// StatusFor maps a session error kind to its HTTP status.
func StatusFor(err error) int {
	switch session.Kind(err) {
	case session.ErrValidation, session.ErrConflict, session.ErrBadCredentials:
		return http.StatusBadRequest
	case session.ErrUnauthorized:
		return http.StatusUnauthorized
	case session.ErrForbidden:
		return http.StatusForbidden
	case session.ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeSessionError writes err as a failure body. Only the session message
// reaches the client; causes of server-side failures are logged when log is set.
func writeSessionError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := StatusFor(err)
	msg := session.Message(err)
	if msg == "" {
		msg = session.MsgTryAgain
	}
	if status >= http.StatusInternalServerError && log != nil {
		var se *session.Error
		cause := err
		if errors.As(err, &se) && se.Err != nil {
			cause = se.Err
		}
		errlog.LogError(log, "auth.request.fail", cause, "kind", session.KindLabel(err))
	}
	httpx.WriteError(w, status, msg)
}
