package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/config"
	"github.com/cerrano/cms-backend/internal/middleware"
	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/queue"
	"github.com/cerrano/cms-backend/internal/repository"
	notify "github.com/cerrano/cms-backend/internal/service"
	"github.com/cerrano/cms-backend/internal/utils"
)

// AuthHandler bundles dependencies for the session lifecycle endpoints.
// Notify defaults to the RabbitMQ publisher; its failures are reported
// in the response body as a boolean and never fail the flow.
type AuthHandler struct {
	Cfg      config.Config
	Users    repository.UserStore
	Sessions repository.SessionStore
	Notify   func(context.Context, queue.NotificationEvent) error
}

func NewAuthHandler(cfg config.Config, u repository.UserStore, s repository.SessionStore) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Sessions: s, Notify: notify.Publish}
}

// ----- DTOs -----

type registerReq struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *AuthHandler) accessTTL() time.Duration {
	return time.Duration(h.Cfg.AccessTTLMin) * time.Minute
}

func (h *AuthHandler) refreshTTL() time.Duration {
	return time.Duration(h.Cfg.RefreshTTLDays) * 24 * time.Hour
}

// mintSession issues a token pair and persists the session row as the
// final committing step. On the (astronomically unlikely) duplicate
// token collision it re-mints once before giving up.
func (h *AuthHandler) mintSession(ctx context.Context, userID string, meta model.ClientMeta) (model.Session, utils.SignedToken, utils.SignedToken, error) {
	var sess model.Session
	var access, refresh utils.SignedToken
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		access, err = utils.NewAccessToken(h.Cfg.JWTSecret, userID, h.accessTTL())
		if err != nil {
			return model.Session{}, utils.SignedToken{}, utils.SignedToken{}, err
		}
		refresh, err = utils.NewRefreshToken(h.Cfg.JWTRefreshSecret, userID, h.refreshTTL())
		if err != nil {
			return model.Session{}, utils.SignedToken{}, utils.SignedToken{}, err
		}
		sess = model.Session{
			ID:               uuid.NewString(),
			UserID:           userID,
			Token:            access.Token,
			RefreshToken:     refresh.Token,
			ExpiresAt:        access.Exp,
			RefreshExpiresAt: refresh.Exp,
			IPAddress:        strOrNil(meta.IPAddress),
			UserAgent:        strOrNil(meta.UserAgent),
			Device:           strOrNil(meta.Device),
		}
		err = h.Sessions.Create(ctx, &sess)
		if err != repository.ErrDuplicateToken {
			break
		}
	}
	if err != nil {
		return model.Session{}, utils.SignedToken{}, utils.SignedToken{}, err
	}
	return sess, access, refresh, nil
}

// Register creates an unverified user and hands the verification email
// off to the notifier. No tokens are issued; the client logs in next.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)

	details := []string{}
	if !validEmail(req.Email) {
		details = append(details, "Valid email is required")
	}
	if req.Password == "" {
		details = append(details, "Password is required")
	}
	if req.FirstName == "" || len(req.FirstName) > 50 {
		details = append(details, "First name is required")
	}
	if req.LastName == "" || len(req.LastName) > 50 {
		details = append(details, "Last name is required")
	}
	if len(details) > 0 {
		return validationFailed(c, details...)
	}

	token, err := utils.RandomHex(32)
	if err != nil {
		return internalError(c, "Registration failed")
	}
	expires := time.Now().UTC().Add(24 * time.Hour)

	user := model.User{
		ID:                       uuid.NewString(),
		Email:                    req.Email,
		FirstName:                req.FirstName,
		LastName:                 req.LastName,
		Phone:                    strOrNil(strings.TrimSpace(req.Phone)),
		Role:                     model.RoleUser,
		IsActive:                 true,
		EmailVerificationToken:   &token,
		EmailVerificationExpires: &expires,
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Users.Create(ctx, &user, req.Password, h.Cfg.BcryptCost); err != nil {
		if err == repository.ErrEmailExists {
			return errJSON(c, http.StatusConflict, "User already exists with this email", "USER_EXISTS")
		}
		return internalError(c, "Registration failed")
	}

	emailErr := h.Notify(ctx, queue.NotificationEvent{
		Kind:      queue.KindVerificationEmail,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Token:     token,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"message":   "User registered successfully. Please check your email to verify your account.",
		"user":      user.Public(),
		"emailSent": emailErr == nil,
	})
}

// Login verifies credentials and commits a new session. The lock check
// runs before password verification, unknown email and wrong password
// answer identically, and the session insert is the last step so a
// failure can never leave the user "logged in with no session".
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) || req.Password == "" {
		return validationFailed(c, "Valid email and password are required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	now := time.Now().UTC()

	user, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			// Same message as a wrong password; no user enumeration.
			return errJSON(c, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
		}
		return internalError(c, "Login failed")
	}

	if user.IsLocked(now) {
		return c.JSON(http.StatusLocked, echo.Map{
			"error":     "Account temporarily locked due to multiple failed login attempts",
			"code":      "ACCOUNT_LOCKED",
			"lockUntil": user.LockUntil,
		})
	}

	if !user.IsActive {
		return errJSON(c, http.StatusUnauthorized, "Account is deactivated", "ACCOUNT_INACTIVE")
	}

	if !utils.VerifyPassword(user.PasswordHash, req.Password) {
		justLocked := user.RegisterFailedLogin(now)
		if err := h.Users.UpdateLoginState(ctx, &user); err != nil {
			return internalError(c, "Login failed")
		}
		if justLocked {
			lockUntil := ""
			if user.LockUntil != nil {
				lockUntil = user.LockUntil.Format(time.RFC3339)
			}
			_ = h.Notify(ctx, queue.NotificationEvent{
				Kind:      queue.KindAccountLockedEmail,
				UserID:    user.ID,
				Email:     user.Email,
				FirstName: user.FirstName,
				LockUntil: lockUntil,
			})
		}
		return errJSON(c, http.StatusUnauthorized, "Invalid credentials", "INVALID_CREDENTIALS")
	}

	user.RegisterSuccessfulLogin(now)
	if err := h.Users.UpdateLoginState(ctx, &user); err != nil {
		return internalError(c, "Login failed")
	}

	sess, access, refresh, err := h.mintSession(ctx, user.ID, clientMeta(c))
	if err != nil {
		return internalError(c, "Login failed")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message":   "Login successful",
		"user":      user.Public(),
		"tokens":    newTokensPart(access, refresh),
		"sessionId": sess.ID,
	})
}

// Refresh rotates the token pair on the SAME session row. The revoked
// flag is authoritative: a revoked session cannot be resurrected even
// with an unexpired refresh token. The conditional rotate turns a
// concurrent double-refresh into a clean rejection for the loser.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return errJSON(c, http.StatusBadRequest, "Refresh token is required", "REFRESH_TOKEN_MISSING")
	}
	raw := strings.TrimSpace(req.RefreshToken)

	if _, err := utils.ValidateToken(h.Cfg.JWTRefreshSecret, raw, utils.TokenTypeRefresh); err != nil {
		return errJSON(c, http.StatusUnauthorized, "Invalid or expired refresh token", "REFRESH_TOKEN_INVALID")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	now := time.Now().UTC()

	sess, err := h.Sessions.GetActiveByRefreshToken(ctx, raw)
	if err != nil {
		if err == repository.ErrSessionNotFound {
			return errJSON(c, http.StatusUnauthorized, "Invalid or expired refresh token", "REFRESH_TOKEN_INVALID")
		}
		return internalError(c, "Token refresh failed")
	}
	if sess.IsRefreshExpired(now) {
		return errJSON(c, http.StatusUnauthorized, "Invalid or expired refresh token", "REFRESH_TOKEN_INVALID")
	}

	user, err := h.Users.GetByID(ctx, sess.UserID)
	if err != nil || !user.IsActive {
		return errJSON(c, http.StatusUnauthorized, "User not found or inactive", "USER_INACTIVE")
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, user.ID, h.accessTTL())
	if err != nil {
		return internalError(c, "Token refresh failed")
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.JWTRefreshSecret, user.ID, h.refreshTTL())
	if err != nil {
		return internalError(c, "Token refresh failed")
	}

	if err := h.Sessions.Rotate(ctx, sess.ID, raw, access.Token, refresh.Token, access.Exp, refresh.Exp); err != nil {
		if err == repository.ErrSessionNotFound {
			// Lost a concurrent rotation; the token just presented is stale.
			return errJSON(c, http.StatusUnauthorized, "Invalid or expired refresh token", "REFRESH_TOKEN_INVALID")
		}
		return internalError(c, "Token refresh failed")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Tokens refreshed successfully",
		"tokens":  newTokensPart(access, refresh),
	})
}

// Logout revokes exactly the calling session.
func (h *AuthHandler) Logout(c echo.Context) error {
	user := middleware.CurrentUser(c)
	sess := middleware.CurrentSession(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Sessions.Revoke(ctx, sess.ID, user.ID); err != nil {
		return internalError(c, "Logout failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logout successful"})
}

// LogoutAll revokes every non-revoked session of the calling user.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	user := middleware.CurrentUser(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Sessions.RevokeAllForUser(ctx, user.ID, "", user.ID); err != nil {
		return internalError(c, "Logout failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out from all devices successfully"})
}

// VerifyEmail consumes a verification token from the query string.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return errJSON(c, http.StatusBadRequest, "Verification token is required", "TOKEN_MISSING")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.GetByEmailVerificationToken(ctx, token)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusBadRequest, "Invalid or expired verification token", "TOKEN_INVALID")
		}
		return internalError(c, "Email verification failed")
	}

	if err := h.Users.MarkEmailVerified(ctx, user.ID); err != nil {
		return internalError(c, "Email verification failed")
	}

	_ = h.Notify(ctx, queue.NotificationEvent{
		Kind:      queue.KindWelcomeEmail,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
	})

	user.IsEmailVerified = true
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Email verified successfully",
		"user":    user.Public(),
	})
}

// ResendVerification reissues a verification token. The response shape
// does not reveal whether the email exists.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) {
		return validationFailed(c, "Valid email is required")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	const neutral = "If an account with this email exists and is not verified, a verification email has been sent."

	user, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return c.JSON(http.StatusOK, echo.Map{"message": neutral})
		}
		return internalError(c, "Failed to resend verification email")
	}
	if user.IsEmailVerified {
		return errJSON(c, http.StatusBadRequest, "Email is already verified", "EMAIL_ALREADY_VERIFIED")
	}

	token, err := utils.RandomHex(32)
	if err != nil {
		return internalError(c, "Failed to resend verification email")
	}
	expires := time.Now().UTC().Add(24 * time.Hour)
	if err := h.Users.SetEmailVerificationToken(ctx, user.ID, token, expires); err != nil {
		return internalError(c, "Failed to resend verification email")
	}

	emailErr := h.Notify(ctx, queue.NotificationEvent{
		Kind:      queue.KindVerificationEmail,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Token:     token,
	})

	return c.JSON(http.StatusOK, echo.Map{"message": neutral, "emailSent": emailErr == nil})
}
