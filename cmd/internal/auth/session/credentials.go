package session

import (
	"context"
	"strings"

	"instant/cmd/identity"
)

// ChangePassword replaces userID's password after checking the old one.
// Outstanding refresh tokens stay live.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) (err error) {
	const op = "session.ChangePassword"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("change_password", span, err) }()

	switch {
	case oldPassword == "":
		return validation(op, MsgOldPasswordMiss)
	case newPassword == "":
		return validation(op, MsgNewPasswordMiss)
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return s.mapUserErr(op, err)
	}

	ok, err := s.hasher.Verify(oldPassword, u.PasswordHash)
	if err != nil {
		s.log.Warn("auth.change_password.hash_unverifiable", "user_id", u.ID, "err", err)
	}
	if !ok {
		return validation(op, MsgOldPasswordWrong)
	}

	hash, err := s.hashPassword(op, newPassword, MsgTryAgain)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		return s.mapUserErr(op, err)
	}
	return nil
}

// ChangeEmail sets a new email for userID.
func (s *Service) ChangeEmail(ctx context.Context, userID, email string) (err error) {
	const op = "session.ChangeEmail"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("change_email", span, err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return validation(op, MsgEmailMissing)
	}
	if err := s.ensureFree(ctx, op, "email", email, MsgTryAgain, userID); err != nil {
		return err
	}
	if err := s.users.UpdateEmail(ctx, userID, email); err != nil {
		return s.mapUserErr(op, err)
	}
	return nil
}

// ChangeUsername sets a new username for userID.
func (s *Service) ChangeUsername(ctx context.Context, userID, username string) (err error) {
	const op = "session.ChangeUsername"
	ctx, span := startSpan(ctx, op)
	defer func() { s.finish("change_username", span, err) }()

	username = strings.TrimSpace(username)
	if username == "" {
		return validation(op, MsgUsernameMissing)
	}
	if err := s.ensureFree(ctx, op, "username", username, MsgTryAgain, userID); err != nil {
		return err
	}
	if err := s.users.UpdateUsername(ctx, userID, username); err != nil {
		return s.mapUserErr(op, err)
	}
	return nil
}

func (s *Service) mapUserErr(op string, err error) error {
	if identity.IsConflict(err) {
		field, _ := identity.ConflictField(err)
		return conflictFor(op, field)
	}
	if identity.IsNotFound(err) {
		return notFound(op, MsgUserNotFound)
	}
	return storeFailure(op, MsgTryAgain, err)
}
