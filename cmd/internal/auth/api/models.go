package authapi

import (
	"time"

	"instant/cmd/identity"
	"instant/cmd/internal/auth/session"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest.Identifier is matched against usernames first, then emails.
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type changeEmailRequest struct {
	Email string `json:"email"`
}

type changeUsernameRequest struct {
	Username string `json:"username"`
}

type userResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type sessionResponse struct {
	UserID           string    `json:"userId"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{UserID: u.ID, Username: u.Username, Email: u.Email}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		UserID:           issued.UserID,
		Username:         issued.Username,
		Email:            issued.Email,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}
