// Package handler implements the HTTP surface. Handlers orchestrate
// the credential and session stores: multi-step flows are ordered so
// the session write is the final committing step, and a failure partway
// never leaves a client "logged in with no session".
package handler

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/utils"
)

// dbTimeout bounds every store call made from a handler.
const dbTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// errJSON writes the uniform error body: a human message plus a stable
// machine code.
func errJSON(c echo.Context, status int, msg, code string) error {
	return c.JSON(status, echo.Map{"error": msg, "code": code})
}

func validationFailed(c echo.Context, details ...string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":   "Validation failed",
		"code":    "VALIDATION_FAILED",
		"details": details,
	})
}

func internalError(c echo.Context, msg string) error {
	// Detail is suppressed outside development; the message here is the
	// generic operation name only.
	return errJSON(c, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	_, err := mail.ParseAddress(s)
	return err == nil
}

// validPassword enforces the password policy: at least 8 characters
// with one lowercase, one uppercase, one digit and one special.
func validPassword(s string) bool {
	if len(s) < 8 {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

// clientMeta extracts the request metadata stored on a new session. The
// device label is a coarse UA prefix, good enough for the device list.
func clientMeta(c echo.Context) model.ClientMeta {
	ua := c.Request().UserAgent()
	device := "Unknown"
	if ua != "" {
		device = strings.SplitN(ua, " ", 2)[0]
	}
	return model.ClientMeta{
		IPAddress: c.RealIP(),
		UserAgent: ua,
		Device:    device,
	}
}

// tokensPart is the token payload shared by login and refresh responses.
type tokensPart struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokensPart(access, refresh utils.SignedToken) tokensPart {
	return tokensPart{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		ExpiresAt:        access.Exp,
		RefreshExpiresAt: refresh.Exp,
	}
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
