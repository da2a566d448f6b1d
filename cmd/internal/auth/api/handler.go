package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"instant/cmd/identity"
	"instant/cmd/internal/auth/session"
	"instant/cmd/internal/httpx"
	"instant/cmd/security/token"
)

// Sessions is the session surface the HTTP layer needs. *session.Service implements it.
type Sessions interface {
	Authenticator
	Register(ctx context.Context, in session.RegisterInput) (identity.User, error)
	Login(ctx context.Context, identifier, password string) (session.Issued, error)
	Refresh(ctx context.Context, presented string) (session.Issued, error)
	Logout(ctx context.Context, presented string) error
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	ChangeEmail(ctx context.Context, userID, email string) error
	ChangeUsername(ctx context.Context, userID, username string) error
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Sessions
	throttle *loginThrottle
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithClock overrides the time source of the login throttle.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, sessions Sessions, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httpx.DefaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if cfg.LoginThrottle {
		h.throttle = newLoginThrottle(cfg)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("GET /auth/refresh", h.handleRefresh)
	mux.HandleFunc("GET /auth/logout", h.handleLogout)
	mux.Handle("POST /auth/change/password", h.Gate(http.HandlerFunc(h.handleChangePassword)))
	mux.Handle("POST /auth/change/email", h.Gate(http.HandlerFunc(h.handleChangeEmail)))
	mux.Handle("POST /auth/change/username", h.Gate(http.HandlerFunc(h.handleChangeUsername)))
}

// Gate wraps next with RequireAuth bound to this handler's session service.
func (h *Handler) Gate(next http.Handler) http.Handler {
	return RequireAuth(h.sessions, next)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeSessionError(w, h.log, err)
		return
	}

	h.log.Info("auth.register.success", "user_id", u.ID)
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	identifier := strings.TrimSpace(req.Identifier)

	if blocked, retryAfter := h.throttle.check(ip, identifier, now); blocked {
		h.log.Warn("auth.login.rate_limited", "remote", r.RemoteAddr, "retry_after_s", int64(retryAfter.Seconds()))
		writeRateLimited(w, retryAfter)
		return
	}

	issued, err := h.sessions.Login(r.Context(), identifier, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrBadCredentials) {
			h.throttle.recordFailure(ip, identifier, now)
			h.log.Info("auth.login.failed", "remote", r.RemoteAddr)
		}
		writeSessionError(w, h.log, err)
		return
	}

	h.throttle.recordSuccess(identifier)
	h.log.Info("auth.login.success", "user_id", issued.UserID)
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(issued))
}

// handleRefresh exchanges the refresh token carried in the Authorization
// header for a new pair.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	issued, err := h.sessions.Refresh(r.Context(), token.FromAuthorization(r.Header.Get("Authorization")))
	if err != nil {
		writeSessionError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), token.FromAuthorization(r.Header.Get("Authorization"))); err != nil {
		writeSessionError(w, h.log, err)
		return
	}
	httpx.WriteOK(w)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectForChange(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.finishChange(w, userID, "password",
		h.sessions.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword))
}

func (h *Handler) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectForChange(w, r)
	if !ok {
		return
	}
	var req changeEmailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.finishChange(w, userID, "email", h.sessions.ChangeEmail(r.Context(), userID, req.Email))
}

func (h *Handler) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.subjectForChange(w, r)
	if !ok {
		return
	}
	var req changeUsernameRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.finishChange(w, userID, "username", h.sessions.ChangeUsername(r.Context(), userID, req.Username))
}

// ---- helpers ----

func (h *Handler) subjectForChange(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := SubjectFrom(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, session.MsgAuthMissing)
		return "", false
	}
	return userID, true
}

func (h *Handler) finishChange(w http.ResponseWriter, userID, field string, err error) {
	if err != nil {
		writeSessionError(w, h.log, err)
		return
	}
	h.log.Info("auth.change.success", "user_id", userID, "field", field)
	httpx.WriteOK(w)
}

// decode reads the JSON body into dst. An empty body decodes as the zero
// value so the session layer reports which field is missing.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	if err == nil || errors.Is(err, httpx.ErrEmptyBody) {
		return true
	}
	httpx.WriteError(w, http.StatusBadRequest, httpx.MsgInvalidBody)
	return false
}
