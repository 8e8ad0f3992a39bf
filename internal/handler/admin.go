package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/middleware"
	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/repository"
)

// AdminHandler serves the user administration endpoints. Route-level
// permission checks decide who gets in; the super_admin guards below
// are the finer rules a role check alone cannot express.
type AdminHandler struct {
	Users    repository.UserStore
	Sessions repository.SessionStore
}

func NewAdminHandler(u repository.UserStore, s repository.SessionStore) *AdminHandler {
	return &AdminHandler{Users: u, Sessions: s}
}

// ListUsers returns a filtered, sorted, paged user listing.
func (h *AdminHandler) ListUsers(c echo.Context) error {
	f := repository.UserFilter{
		Search:    strings.TrimSpace(c.QueryParam("search")),
		Role:      c.QueryParam("role"),
		Status:    c.QueryParam("status"),
		SortBy:    c.QueryParam("sortBy"),
		SortOrder: strings.ToUpper(c.QueryParam("sortOrder")),
		Page:      queryInt(c, "page", 1),
		Limit:     queryInt(c, "limit", 20),
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.SortOrder != "ASC" {
		f.SortOrder = "DESC"
	}
	if f.Role != "" && !model.ValidRole(f.Role) {
		return validationFailed(c, "Invalid role filter")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	users, total, err := h.Users.List(ctx, f)
	if err != nil {
		return internalError(c, "Failed to list users")
	}

	out := make([]model.PublicUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].Public())
	}
	totalPages := (total + f.Limit - 1) / f.Limit
	return c.JSON(http.StatusOK, echo.Map{
		"users": out,
		"pagination": echo.Map{
			"page":       f.Page,
			"limit":      f.Limit,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

// GetUser returns one user plus their active sessions.
func (h *AdminHandler) GetUser(c echo.Context) error {
	id := c.Param("id")

	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusNotFound, "User not found", "USER_NOT_FOUND")
		}
		return internalError(c, "Failed to fetch user")
	}

	sessions, err := h.Sessions.ListActiveForUser(ctx, user.ID)
	if err != nil {
		return internalError(c, "Failed to fetch user")
	}
	out := make([]model.PublicSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Public(""))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user":           user.Public(),
		"sessions":       out,
		"activeSessions": len(out),
	})
}

type adminUpdateReq struct {
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email"`
	Role            *string `json:"role"`
	IsActive        *bool   `json:"isActive"`
	IsEmailVerified *bool   `json:"isEmailVerified"`
	IsPhoneVerified *bool   `json:"isPhoneVerified"`
}

// UpdateUser applies an administrative partial update. Only a
// super_admin may touch super_admin accounts or hand out that role,
// nobody may change their own role, and deactivating a user revokes
// all of their sessions in the same request.
func (h *AdminHandler) UpdateUser(c echo.Context) error {
	caller := middleware.CurrentUser(c)
	id := c.Param("id")

	var req adminUpdateReq
	if err := c.Bind(&req); err != nil {
		return validationFailed(c, "invalid body")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusNotFound, "User not found", "USER_NOT_FOUND")
		}
		return internalError(c, "Failed to update user")
	}

	if target.Role == model.RoleSuperAdmin && caller.Role != model.RoleSuperAdmin {
		return errJSON(c, http.StatusForbidden, "Cannot modify super admin accounts", "PERMISSION_DENIED")
	}
	if req.Role != nil {
		if !model.ValidRole(*req.Role) {
			return validationFailed(c, "Invalid role")
		}
		if target.ID == caller.ID {
			return errJSON(c, http.StatusBadRequest, "Cannot change your own role", "CANNOT_CHANGE_OWN_ROLE")
		}
		if *req.Role == model.RoleSuperAdmin && caller.Role != model.RoleSuperAdmin {
			return errJSON(c, http.StatusForbidden, "Only super admins can assign the super admin role", "PERMISSION_DENIED")
		}
	}
	if req.Email != nil {
		*req.Email = normalizeEmail(*req.Email)
		if !validEmail(*req.Email) {
			return validationFailed(c, "Valid email is required")
		}
	}

	upd := repository.AdminUpdate{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Email:           req.Email,
		Role:            req.Role,
		IsActive:        req.IsActive,
		IsEmailVerified: req.IsEmailVerified,
		IsPhoneVerified: req.IsPhoneVerified,
	}
	if err := h.Users.AdminUpdate(ctx, id, upd); err != nil {
		if err == repository.ErrEmailExists {
			return errJSON(c, http.StatusConflict, "Email is already in use", "EMAIL_EXISTS")
		}
		return internalError(c, "Failed to update user")
	}

	// Deactivation cuts off live access immediately.
	if req.IsActive != nil && !*req.IsActive && target.IsActive {
		if err := h.Sessions.RevokeAllForUser(ctx, id, "", caller.ID); err != nil {
			return internalError(c, "Failed to update user")
		}
	}

	fresh, err := h.Users.GetByID(ctx, id)
	if err != nil {
		return internalError(c, "Failed to update user")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "User updated successfully",
		"user":    fresh.Public(),
	})
}

// DeleteUser soft-deletes another account and revokes its sessions.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	caller := middleware.CurrentUser(c)
	id := c.Param("id")

	if id == caller.ID {
		return errJSON(c, http.StatusBadRequest, "Cannot delete your own account here", "CANNOT_DELETE_SELF")
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusNotFound, "User not found", "USER_NOT_FOUND")
		}
		return internalError(c, "Failed to delete user")
	}
	if target.Role == model.RoleSuperAdmin && caller.Role != model.RoleSuperAdmin {
		return errJSON(c, http.StatusForbidden, "Cannot delete super admin accounts", "PERMISSION_DENIED")
	}

	tombstone := model.TombstoneEmail(target.Email, time.Now().UTC())
	if err := h.Users.SoftDelete(ctx, id, tombstone); err != nil {
		return internalError(c, "Failed to delete user")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, id, "", caller.ID); err != nil {
		return internalError(c, "Failed to delete user")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "User deleted successfully"})
}

// RevokeUserSessions force-logs-out every device of one user.
func (h *AdminHandler) RevokeUserSessions(c echo.Context) error {
	caller := middleware.CurrentUser(c)
	id := c.Param("id")

	ctx, cancel := reqCtx(c)
	defer cancel()

	target, err := h.Users.GetByID(ctx, id)
	if err != nil {
		if err == repository.ErrUserNotFound {
			return errJSON(c, http.StatusNotFound, "User not found", "USER_NOT_FOUND")
		}
		return internalError(c, "Failed to revoke sessions")
	}
	if target.Role == model.RoleSuperAdmin && caller.Role != model.RoleSuperAdmin {
		return errJSON(c, http.StatusForbidden, "Cannot revoke super admin sessions", "PERMISSION_DENIED")
	}
	if err := h.Sessions.RevokeAllForUser(ctx, id, "", caller.ID); err != nil {
		return internalError(c, "Failed to revoke sessions")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "All sessions revoked for user"})
}

// Statistics returns the aggregate user counters plus the number of
// currently active sessions.
func (h *AdminHandler) Statistics(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	stats, err := h.Users.Stats(ctx)
	if err != nil {
		return internalError(c, "Failed to compute statistics")
	}
	active, err := h.Sessions.CountActive(ctx)
	if err != nil {
		return internalError(c, "Failed to compute statistics")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"users":          stats,
		"activeSessions": active,
	})
}

func queryInt(c echo.Context, key string, def int) int {
	s := c.QueryParam(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
