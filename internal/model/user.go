package model

import (
	"fmt"
	"time"
)

// Role names as stored in users.role, ordered by privilege:
// super_admin > admin > moderator > user.
const (
	RoleUser       = "user"
	RoleModerator  = "moderator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// Account lock policy. After MaxLoginAttempts consecutive failures the
// account is locked for LockDuration. The counter is NOT reset when the
// lock is set; it restarts at 1 on the first failed attempt after the
// lock has expired.
const (
	MaxLoginAttempts = 5
	LockDuration     = 2 * time.Hour
)

// ValidRole reports whether s is one of the fixed role names.
func ValidRole(s string) bool {
	switch s {
	case RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// rolePermissions is the single source of truth for the permission model.
// Both the permission middleware and any handler-level check go through
// Can(); the table must never be re-derived elsewhere. super_admin holds
// the "*" wildcard, every other role needs an explicit listing, and an
// unknown role yields the empty set (fail closed).
var rolePermissions = map[string][]string{
	RoleSuperAdmin: {"*"},
	RoleAdmin: {
		"users.read", "users.update", "users.delete",
		"episodes.create", "episodes.update", "episodes.delete", "episodes.read",
		"news.create", "news.update", "news.delete", "news.read",
		"products.create", "products.update", "products.delete", "products.read",
		"comments.moderate", "comments.delete", "comments.read",
		"reels.create", "reels.update", "reels.delete", "reels.read",
	},
	RoleModerator: {
		"episodes.read", "news.read", "products.read", "reels.read",
		"comments.moderate", "comments.delete", "comments.read",
	},
	RoleUser: {
		"episodes.read", "news.read", "products.read", "reels.read",
		"comments.create", "comments.read",
	},
}

// Can reports whether the given role grants the named permission.
func Can(role, action string) bool {
	for _, p := range rolePermissions[role] {
		if p == "*" || p == action {
			return true
		}
	}
	return false
}

// User mirrors the `users` table. PasswordHash always holds a bcrypt
// hash, never the plaintext; the verification/reset token fields are
// nullable and cleared once consumed.
type User struct {
	ID                       string     // users.id (UUID)
	Email                    string     // users.email (unique, lower-cased)
	PasswordHash             string     // users.password_hash
	FirstName                string     // users.first_name
	LastName                 string     // users.last_name
	Phone                    *string    // users.phone (nullable)
	Role                     string     // users.role
	IsEmailVerified          bool       // users.is_email_verified
	IsPhoneVerified          bool       // users.is_phone_verified
	EmailVerificationToken   *string    // users.email_verification_token
	EmailVerificationExpires *time.Time // users.email_verification_expires
	PhoneVerificationCode    *string    // users.phone_verification_code
	PhoneVerificationExpires *time.Time // users.phone_verification_expires
	PasswordResetToken       *string    // users.password_reset_token
	PasswordResetExpires     *time.Time // users.password_reset_expires
	LastLogin                *time.Time // users.last_login
	LoginAttempts            int        // users.login_attempts
	LockUntil                *time.Time // users.lock_until
	IsActive                 bool       // users.is_active
	Avatar                   *string    // users.avatar
	Bio                      *string    // users.bio
	Preferences              *string    // users.preferences (free-form JSON)
	CreatedAt                time.Time  // users.created_at
	UpdatedAt                time.Time  // users.updated_at
}

// Can reports whether the user's role grants the named permission.
func (u *User) Can(action string) bool { return Can(u.Role, action) }

// IsLocked reports whether the account is inside an active lock window.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockUntil != nil && u.LockUntil.After(now)
}

// RegisterFailedLogin applies the failed-login policy to the in-memory
// record and returns true when this attempt is the one that crosses the
// threshold and arms the lock. Callers persist LoginAttempts/LockUntil
// afterwards.
//
// The rule is deliberately asymmetric: an expired lock is only cleared
// by the next FAILED attempt, which restarts the counter at 1. Crossing
// MaxLoginAttempts sets LockUntil without resetting the counter, and
// attempts made while locked do not extend the window.
func (u *User) RegisterFailedLogin(now time.Time) bool {
	if u.LockUntil != nil && u.LockUntil.Before(now) {
		u.LoginAttempts = 1
		u.LockUntil = nil
		return false
	}
	u.LoginAttempts++
	if u.LoginAttempts >= MaxLoginAttempts && !u.IsLocked(now) {
		t := now.Add(LockDuration)
		u.LockUntil = &t
		return true
	}
	return false
}

// RegisterSuccessfulLogin clears failure bookkeeping and stamps last login.
func (u *User) RegisterSuccessfulLogin(now time.Time) {
	u.LoginAttempts = 0
	u.LockUntil = nil
	u.LastLogin = &now
}

// TombstoneEmail rewrites an email for soft deletion. The millisecond
// stamp keeps the unique-email constraint intact while freeing the
// original address, and the mangled value cannot collide with a real
// registration.
func TombstoneEmail(email string, now time.Time) string {
	return fmt.Sprintf("deleted_%d_%s", now.UnixMilli(), email)
}

// PublicUser is the serializable view of a user record. Password hashes
// and token secrets never appear in any response body.
type PublicUser struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"firstName"`
	LastName        string     `json:"lastName"`
	Phone           *string    `json:"phone,omitempty"`
	Role            string     `json:"role"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	IsPhoneVerified bool       `json:"isPhoneVerified"`
	IsActive        bool       `json:"isActive"`
	Avatar          *string    `json:"avatar,omitempty"`
	Bio             *string    `json:"bio,omitempty"`
	Preferences     *string    `json:"preferences,omitempty"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Public converts the record to its response form.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Phone:           u.Phone,
		Role:            u.Role,
		IsEmailVerified: u.IsEmailVerified,
		IsPhoneVerified: u.IsPhoneVerified,
		IsActive:        u.IsActive,
		Avatar:          u.Avatar,
		Bio:             u.Bio,
		Preferences:     u.Preferences,
		LastLogin:       u.LastLogin,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}
