package middleware // middleware provides shared request processing for handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/repository"
	"github.com/cerrano/cms-backend/internal/utils"
)

// Context keys under which the gate stores the resolved identity.
// Handlers read them back through CurrentUser / CurrentSession instead
// of poking at the raw keys.
const (
	ctxUserKey    = "auth_user"
	ctxSessionKey = "auth_session"
)

// CurrentUser returns the authenticated user attached by Authenticate,
// or nil when the request is unauthenticated (optional-auth routes).
func CurrentUser(c echo.Context) *model.User {
	if u, ok := c.Get(ctxUserKey).(*model.User); ok {
		return u
	}
	return nil
}

// CurrentSession returns the session attached by Authenticate, or nil.
func CurrentSession(c echo.Context) *model.Session {
	if s, ok := c.Get(ctxSessionKey).(*model.Session); ok {
		return s
	}
	return nil
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// rejection is a gate refusal: the status plus the uniform error body.
type rejection struct {
	status int
	msg    string
	code   string
}

func (r *rejection) send(c echo.Context) error {
	return c.JSON(r.status, echo.Map{"error": r.msg, "code": r.code})
}

func reject(status int, msg, code string) *rejection {
	return &rejection{status: status, msg: msg, code: code}
}

// resolve runs the shared gate steps 1-4 and returns either the
// identity or the rejection to send; exactly one is non-nil.
func resolve(c echo.Context, users repository.UserStore, sessions repository.SessionStore, accessSecret string) (*model.User, *model.Session, *rejection) {
	raw := bearerToken(c)
	if raw == "" {
		return nil, nil, reject(http.StatusUnauthorized, "Access token required", "TOKEN_MISSING")
	}
	claims, err := utils.ValidateToken(accessSecret, raw, utils.TokenTypeAccess)
	if err != nil {
		return nil, nil, reject(http.StatusUnauthorized, "Invalid or expired token", "TOKEN_INVALID")
	}
	ctx := c.Request().Context()
	sess, err := sessions.GetActiveByToken(ctx, raw)
	if err != nil || sess.IsExpired(time.Now().UTC()) {
		return nil, nil, reject(http.StatusUnauthorized, "Session expired or invalid", "SESSION_EXPIRED")
	}
	user, err := users.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, nil, reject(http.StatusUnauthorized, "User not found or inactive", "USER_INACTIVE")
	}
	return &user, &sess, nil
}

// Authenticate is the auth gate: bearer token -> signature/type check ->
// active session lookup -> active user lookup -> identity attached.
// Signature validity alone is never enough; a revoked session rejects a
// still-valid token. The last-activity stamp is best effort.
func Authenticate(users repository.UserStore, sessions repository.SessionStore, accessSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, sess, rej := resolve(c, users, sessions, accessSecret)
			if rej != nil {
				return rej.send(c)
			}
			if err := sessions.Touch(c.Request().Context(), sess.ID); err != nil {
				log.Printf("auth: session touch failed for %s: %v", sess.ID, err)
			}
			c.Set(ctxUserKey, user)
			c.Set(ctxSessionKey, sess)
			return next(c)
		}
	}
}

// OptionalAuthenticate attempts the same resolution but any failure
// yields an unauthenticated context instead of a rejection. Used by
// endpoints that personalize but do not require login.
func OptionalAuthenticate(users repository.UserStore, sessions repository.SessionStore, accessSecret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if user, sess, rej := resolve(c, users, sessions, accessSecret); rej == nil {
				c.Set(ctxUserKey, user)
				c.Set(ctxSessionKey, sess)
			}
			return next(c)
		}
	}
}

// RequireRole enforces that the authenticated user's role is in the
// allowed set. Composed after Authenticate.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required", "code": "AUTH_REQUIRED"})
			}
			if !allowed[u.Role] {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Insufficient permissions", "code": "INSUFFICIENT_PERMISSIONS"})
			}
			return next(c)
		}
	}
}

// RequirePermission enforces a named permission through the single
// model.Can table; it is never re-derived here.
func RequirePermission(action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required", "code": "AUTH_REQUIRED"})
			}
			if !u.Can(action) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Permission denied", "code": "PERMISSION_DENIED"})
			}
			return next(c)
		}
	}
}

// RequireVerifiedEmail gates actions reserved for verified accounts.
func RequireVerifiedEmail() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "Authentication required", "code": "AUTH_REQUIRED"})
			}
			if !u.IsEmailVerified {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "Email verification required", "code": "EMAIL_VERIFICATION_REQUIRED"})
			}
			return next(c)
		}
	}
}

// CheckAccountLock rejects requests from accounts inside a lock window.
// Login performs its own lock check before password verification; this
// gate covers other sensitive endpoints.
func CheckAccountLock() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil {
				return next(c)
			}
			if u.IsLocked(time.Now().UTC()) {
				return c.JSON(http.StatusLocked, echo.Map{
					"error":     "Account temporarily locked due to multiple failed login attempts",
					"code":      "ACCOUNT_LOCKED",
					"lockUntil": u.LockUntil,
				})
			}
			return next(c)
		}
	}
}
