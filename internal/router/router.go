// Package router wires the HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/handler"
	"github.com/cerrano/cms-backend/internal/middleware"
	"github.com/cerrano/cms-backend/internal/repository"
)

// Deps carries everything the route registrations need: the handlers,
// the stores the auth middleware resolves against, the access token
// secret and the rate limiter applied to credential endpoints.
type Deps struct {
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Admin        *handler.AdminHandler
	UserStore    repository.UserStore
	SessionStore repository.SessionStore
	AccessSecret string
	RateLimit    echo.MiddlewareFunc
}

// RegisterRoutes registers routes that require no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the session lifecycle endpoints under
// /v1/auth. Credential endpoints carry the rate limiter; logout needs
// a live session.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	g.POST("/register", d.Auth.Register, d.RateLimit)
	g.POST("/login", d.Auth.Login, d.RateLimit)
	g.POST("/refresh", d.Auth.Refresh, d.RateLimit)
	g.GET("/verify-email", d.Auth.VerifyEmail)
	g.POST("/resend-verification", d.Auth.ResendVerification, d.RateLimit)

	authn := middleware.Authenticate(d.UserStore, d.SessionStore, d.AccessSecret)
	g.POST("/logout", d.Auth.Logout, authn)
	g.POST("/logout-all", d.Auth.LogoutAll, authn)
}

// RegisterUsers registers the authenticated self-service endpoints
// under /v1/users. forgot-password and reset-password are the two
// exceptions: they run unauthenticated but rate-limited.
func RegisterUsers(e *echo.Echo, d Deps) {
	e.POST("/v1/users/forgot-password", d.Users.ForgotPassword, d.RateLimit)
	e.POST("/v1/users/reset-password", d.Users.ResetPassword, d.RateLimit)

	g := e.Group("/v1/users")
	g.Use(middleware.Authenticate(d.UserStore, d.SessionStore, d.AccessSecret))
	g.GET("/profile", d.Users.Profile)
	g.PUT("/profile", d.Users.UpdateProfile)
	g.PUT("/change-password", d.Users.ChangePassword)
	g.POST("/send-phone-verification", d.Users.SendPhoneVerification)
	g.POST("/verify-phone", d.Users.VerifyPhone)
	g.GET("/sessions", d.Users.ListSessions)
	g.DELETE("/sessions/:id", d.Users.RevokeSession)
	g.DELETE("/account", d.Users.DeleteAccount, middleware.RequireVerifiedEmail())
}

// RegisterAdmin registers the user administration endpoints under
// /v1/admin. Access is decided by the permission model, not by a
// hard-coded role list, so super_admin passes through its wildcard.
func RegisterAdmin(e *echo.Echo, d Deps) {
	g := e.Group("/v1/admin")
	g.Use(middleware.Authenticate(d.UserStore, d.SessionStore, d.AccessSecret))

	g.GET("/users", d.Admin.ListUsers, middleware.RequirePermission("users.read"))
	g.GET("/users/:id", d.Admin.GetUser, middleware.RequirePermission("users.read"))
	g.PUT("/users/:id", d.Admin.UpdateUser, middleware.RequirePermission("users.update"))
	g.DELETE("/users/:id", d.Admin.DeleteUser, middleware.RequirePermission("users.delete"))
	g.POST("/users/:id/revoke-sessions", d.Admin.RevokeUserSessions, middleware.RequirePermission("users.update"))
	g.GET("/statistics", d.Admin.Statistics, middleware.RequirePermission("users.read"))
}
