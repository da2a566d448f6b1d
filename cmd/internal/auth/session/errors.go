package session

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Service wraps exactly one of these.
var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrBadCredentials = errors.New("bad credentials")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrStore          = errors.New("store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// Error is a classified session failure. Msg is safe to show to clients;
// Err is the underlying cause, if any, and is for logs only.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the client-facing message of err, or "" if err is not a session Error.
func Message(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Msg
	}
	return ""
}

// Kind returns the kind sentinel of err, or nil if err is not a session Error.
func Kind(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return nil
}

// KindLabel is a short stable label for metrics and logs.
func KindLabel(err error) string {
	switch Kind(err) {
	case nil:
		if err == nil {
			return "success"
		}
		return "error"
	case ErrValidation:
		return "validation"
	case ErrConflict:
		return "conflict"
	case ErrBadCredentials:
		return "bad_credentials"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrForbidden:
		return "forbidden"
	case ErrNotFound:
		return "not_found"
	case ErrStore:
		return "store"
	default:
		return "error"
	}
}

func validation(op, msg string) error { return &Error{Op: op, Kind: ErrValidation, Msg: msg} }
func conflict(op, msg string) error   { return &Error{Op: op, Kind: ErrConflict, Msg: msg} }
func forbidden(op, msg string) error  { return &Error{Op: op, Kind: ErrForbidden, Msg: msg} }
func notFound(op, msg string) error   { return &Error{Op: op, Kind: ErrNotFound, Msg: msg} }

func unauthorized(op string) error {
	return &Error{Op: op, Kind: ErrUnauthorized, Msg: MsgAuthMissing}
}

func badCredentials(op string) error {
	return &Error{Op: op, Kind: ErrBadCredentials, Msg: MsgBadCredentials}
}

func storeFailure(op, msg string, cause error) error {
	return &Error{Op: op, Kind: ErrStore, Msg: msg, Err: cause}
}

// Client-facing messages.
const (
	MsgUsernameMissing   = "username missing"
	MsgEmailMissing      = "email missing"
	MsgPasswordMissing   = "password missing"
	MsgIdentifierMissing = "username or email missing"
	MsgUsernameTaken     = "username already taken"
	MsgEmailTaken        = "email already used"
	MsgAlreadyExists     = "account already exists"
	MsgRegisterFailed    = "registration failed please try again later"
	MsgBadCredentials    = "incorrect identifier or password"
	MsgAuthMissing       = "authentication missing"
	MsgAuthFailed        = "authentication failed"
	MsgTokenExpired      = "token expired"
	MsgJWTExpired        = "jwt expired"
	MsgInvalidRequest    = "invalid request"
	MsgTryAgain          = "request failed please try again later"
	MsgOldPasswordMiss   = "old password missing"
	MsgNewPasswordMiss   = "new password missing"
	MsgOldPasswordWrong  = "old password is incorrect"
	MsgUserNotFound      = "user not found"
)
