package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/config"
	"github.com/cerrano/cms-backend/internal/middleware"
	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/queue"
	"github.com/cerrano/cms-backend/internal/repository"
	notify "github.com/cerrano/cms-backend/internal/service"
	"github.com/cerrano/cms-backend/internal/utils"
)

// UserHandler serves the authenticated self-service endpoints: profile,
// password management, verification and the per-device session list.
type UserHandler struct {
	Cfg      config.Config
	Users    repository.UserStore
	Sessions repository.SessionStore
	Notify   func(context.Context, queue.NotificationEvent) error
}

func NewUserHandler(cfg config.Config, u repository.UserStore, s repository.SessionStore) *UserHandler {
	return &UserHandler{Cfg: cfg, Users: u, Sessions: s, Notify: notify.Publish}
}

// Profile returns the calling user's public view.
func (h *UserHandler) Profile(c echo.Context) error {
	user := middleware.CurrentUser(c)
	return c.JSON(http.StatusOK, echo.Map{"user": user.Public()})
}

type updateProfileReq struct {
	FirstName   *string `json:"firstName"`
	LastName    *string `json:"lastName"`
	Phone       *string `json:"phone"`
	Bio         *string `json:"bio"`
	Avatar      *string `json:"avatar"`
	Preferences *string `json:"preferences"`
}

// UpdateProfile applies a partial update to the caller's own profile.
// Email and role are not updatable here.
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	user := middleware.CurrentUser(c)

	var req updateProfileReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}

	details := []string{}
	if req.FirstName != nil {
		*req.FirstName = strings.TrimSpace(*req.FirstName)
		if *req.FirstName == "" || len(*req.FirstName) > 50 {
			details = append(details, "First name must be 1-50 characters")
		}
	}
	if req.LastName != nil {
		*req.LastName = strings.TrimSpace(*req.LastName)
		if *req.LastName == "" || len(*req.LastName) > 50 {
			details = append(details, "Last name must be 1-50 characters")
		}
	}
	if req.Bio != nil && len(*req.Bio) > 500 {
		details = append(details, "Bio must be at most 500 characters")
	}
	if len(details) > 0 {
		return validationFailed(c, details...)
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	upd := repository.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Phone:       req.Phone,
		Bio:         req.Bio,
		Avatar:      req.Avatar,
		Preferences: req.Preferences,
	}
	if err := h.Users.UpdateProfile(ctx, user.ID, upd); err != nil {
		return internalError(c, "Profile update failed")
	}

	fresh, err := h.Users.GetByID(ctx, user.ID)
	if err != nil {
		return internalError(c, "Profile update failed")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "Profile updated successfully",
		"user":    fresh.Public(),
	})
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every other session. The calling session stays alive so the
// client is not logged out by its own password change.
func (h *UserHandler) ChangePassword(c echo.Context) error {
	user := middleware.CurrentUser(c)
	sess := middleware.CurrentSession(c)

	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	if req.CurrentPassword == "" {
		return validationFailed(c, "Current password is required")
	}
	if !validPassword(req.NewPassword) {
		return validationFailed(c, "New password must be at least 8 characters with uppercase, lowercase, number and special character")
	}

	if !utils.VerifyPassword(user.PasswordHash, req.CurrentPassword) {
		return errJSON(c, http.StatusBadRequest, "Current password is incorrect", "INVALID_CURRENT_PASSWORD")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Users.UpdatePassword(ctx, user.ID, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return internalError(c, "Password change failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, user.ID, sess.ID, user.ID); err != nil {
		return internalError(c, "Password change failed")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Password changed successfully. Other sessions have been logged out.",
	})
}

// ForgotPassword issues a reset token. The response is identical whether
// or not the email is registered.
func (h *UserHandler) ForgotPassword(c echo.Context) error {
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

	const neutral = "If an account with this email exists, a password reset link has been sent."

	user, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return c.JSON(http.StatusOK, echo.Map{"message": neutral})
		}
		return internalError(c, "Password reset request failed")
	}

	token, err := utils.RandomHex(32)
	if err != nil {
		return internalError(c, "Password reset request failed")
	}
	expires := time.Now().UTC().Add(time.Hour)
	if err := h.Users.SetPasswordResetToken(ctx, user.ID, token, expires); err != nil {
		return internalError(c, "Password reset request failed")
	}

	_ = h.Notify(ctx, queue.NotificationEvent{
		Kind:      queue.KindPasswordResetEmail,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		Token:     token,
	})

	return c.JSON(http.StatusOK, echo.Map{"message": neutral})
}

type resetPasswordReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// ResetPassword consumes a reset token. A successful reset also clears
// any account lock and revokes every existing session; whoever holds
// the new password starts from a clean slate.
func (h *UserHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	if req.Token == "" {
		return validationFailed(c, "Reset token is required")
	}
	if !validPassword(req.NewPassword) {
		return validationFailed(c, "New password must be at least 8 characters with uppercase, lowercase, number and special character")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.GetByPasswordResetToken(ctx, req.Token)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusBadRequest, "Invalid or expired reset token", "TOKEN_INVALID")
		}
		return internalError(c, "Password reset failed")
	}

	if err := h.Users.UpdatePassword(ctx, user.ID, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return internalError(c, "Password reset failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, user.ID, "", user.ID); err != nil {
		return internalError(c, "Password reset failed")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "Password reset successful. Please log in with your new password.",
	})
}

// SendPhoneVerification generates a 6-digit code for the phone number
// on file and hands it to the SMS notifier.
func (h *UserHandler) SendPhoneVerification(c echo.Context) error {
	user := middleware.CurrentUser(c)

	if user.Phone == nil || *user.Phone == "" {
		return errJSON(c, http.StatusBadRequest, "No phone number on file", "PHONE_MISSING")
	}
	if user.IsPhoneVerified {
		return errJSON(c, http.StatusBadRequest, "Phone number is already verified", "PHONE_ALREADY_VERIFIED")
	}

	code, err := utils.VerificationCode()
	if err != nil {
		return internalError(c, "Failed to send verification code")
	}
	expires := time.Now().UTC().Add(10 * time.Minute)

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Users.SetPhoneVerification(ctx, user.ID, code, expires); err != nil {
		return internalError(c, "Failed to send verification code")
	}

	if err := h.Notify(ctx, queue.NotificationEvent{
		Kind:   queue.KindVerificationSMS,
		UserID: user.ID,
		Phone:  *user.Phone,
		Code:   code,
	}); err != nil {
		return errJSON(c, http.StatusServiceUnavailable, "SMS service unavailable", "SMS_SERVICE_UNAVAILABLE")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Verification code sent"})
}

// VerifyPhone checks the submitted code against the stored one.
func (h *UserHandler) VerifyPhone(c echo.Context) error {
	user := middleware.CurrentUser(c)

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		return validationFailed(c, "Verification code is required")
	}

	now := time.Now().UTC()
	valid := user.PhoneVerificationCode != nil &&
		*user.PhoneVerificationCode == strings.TrimSpace(req.Code) &&
		user.PhoneVerificationExpires != nil &&
		user.PhoneVerificationExpires.After(now)
	if !valid {
		return errJSON(c, http.StatusBadRequest, "Invalid or expired verification code", "CODE_INVALID")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.Users.MarkPhoneVerified(ctx, user.ID); err != nil {
		return internalError(c, "Phone verification failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Phone number verified successfully"})
}

// ListSessions lists the caller's active sessions, newest activity
// first, with the calling session flagged.
func (h *UserHandler) ListSessions(c echo.Context) error {
	user := middleware.CurrentUser(c)
	current := middleware.CurrentSession(c)

	ctx, cancel := reqCtx(c)
	defer cancel()

	sessions, err := h.Sessions.ListActiveForUser(ctx, user.ID)
	if err != nil {
		return internalError(c, "Failed to list sessions")
	}

	out := make([]model.PublicSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Public(current.ID))
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": out})
}

// RevokeSession revokes one of the caller's other sessions by id.
// Revoking the calling session is rejected; that is what logout is for.
func (h *UserHandler) RevokeSession(c echo.Context) error {
	user := middleware.CurrentUser(c)
	current := middleware.CurrentSession(c)
	id := c.Param("id")

	if id == current.ID {
		return errJSON(c, http.StatusBadRequest, "Cannot revoke the current session. Use logout instead.", "CANNOT_REVOKE_CURRENT_SESSION")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Sessions.GetActiveByID(ctx, id, user.ID); err != nil {
		if err == repository.ErrSessionNotFound {
			return errJSON(c, http.StatusNotFound, "Session not found", "SESSION_NOT_FOUND")
		}
		return internalError(c, "Failed to revoke session")
	}
	if err := h.Sessions.Revoke(ctx, id, user.ID); err != nil {
		return internalError(c, "Failed to revoke session")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Session revoked successfully"})
}

type deleteAccountReq struct {
	Password    string `json:"password"`
	ConfirmText string `json:"confirmText"`
}

// DeleteAccount soft-deletes the caller after re-verifying the password
// and an explicit confirmation phrase. The email is tombstoned so it
// can be registered again, and every session is revoked.
func (h *UserHandler) DeleteAccount(c echo.Context) error {
	user := middleware.CurrentUser(c)

	var req deleteAccountReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}
	if req.Password == "" {
		return validationFailed(c, "Password is required")
	}
	if req.ConfirmText != "DELETE MY ACCOUNT" {
		return validationFailed(c, `Confirmation text must be "DELETE MY ACCOUNT"`)
	}

	if !utils.VerifyPassword(user.PasswordHash, req.Password) {
		return errJSON(c, http.StatusBadRequest, "Password is incorrect", "INVALID_PASSWORD")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	tombstone := model.TombstoneEmail(user.Email, time.Now().UTC())
	if err := h.Users.SoftDelete(ctx, user.ID, tombstone); err != nil {
		return internalError(c, "Account deletion failed")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, user.ID, "", user.ID); err != nil {
		return internalError(c, "Account deletion failed")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Account deleted successfully"})
}
