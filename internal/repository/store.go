package repository

import (
	"context"
	"time"

	"github.com/cerrano/cms-backend/internal/model"
)

// ProfileUpdate carries the optional self-service profile fields. Nil
// means "leave unchanged". A changed phone clears phone verification in
// the same update.
type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Phone       *string
	Bio         *string
	Avatar      *string
	Preferences *string
}

// AdminUpdate carries the fields an administrator may edit on a user.
type AdminUpdate struct {
	FirstName       *string
	LastName        *string
	Email           *string
	Role            *string
	IsActive        *bool
	IsEmailVerified *bool
	IsPhoneVerified *bool
}

// UserFilter selects and pages the admin user listing.
type UserFilter struct {
	Search    string // matches first name, last name or email
	Role      string // exact role filter
	Status    string // active | inactive | verified | unverified
	SortBy    string // whitelisted column
	SortOrder string // ASC | DESC
	Page      int
	Limit     int
}

// UserStats aggregates the admin statistics counters.
type UserStats struct {
	TotalUsers     int `json:"totalUsers"`
	ActiveUsers    int `json:"activeUsers"`
	VerifiedUsers  int `json:"verifiedUsers"`
	AdminUsers     int `json:"adminUsers"`
	ModeratorUsers int `json:"moderatorUsers"`
	RecentUsers    int `json:"recentUsers"`
}

// UserStore is the credential store: durable user records and their
// login/verification bookkeeping. The MySQL implementation is UserRepo;
// tests substitute in-memory fakes.
type UserStore interface {
	// Create hashes rawPassword with bcrypt at the given cost and
	// inserts the record. Fails with ErrEmailExists on collision.
	Create(ctx context.Context, u *model.User, rawPassword string, cost int) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	// Token lookups only match unexpired, unconsumed tokens.
	GetByEmailVerificationToken(ctx context.Context, token string) (model.User, error)
	GetByPasswordResetToken(ctx context.Context, token string) (model.User, error)
	// UpdateLoginState persists LoginAttempts, LockUntil and LastLogin
	// after the model-level policy has been applied.
	UpdateLoginState(ctx context.Context, u *model.User) error
	SetEmailVerificationToken(ctx context.Context, id, token string, expires time.Time) error
	MarkEmailVerified(ctx context.Context, id string) error
	SetPhoneVerification(ctx context.Context, id, code string, expires time.Time) error
	MarkPhoneVerified(ctx context.Context, id string) error
	SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time) error
	// UpdatePassword rehashes and stores; it also clears any reset
	// token and failed-login state in the same statement.
	UpdatePassword(ctx context.Context, id, rawPassword string, cost int) error
	UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error
	// SoftDelete clears the active flag, rewrites email to the
	// tombstone value and scrubs personal fields. The row survives so
	// session and comment history keep their references.
	SoftDelete(ctx context.Context, id, tombstoneEmail string) error
	List(ctx context.Context, f UserFilter) ([]model.User, int, error)
	AdminUpdate(ctx context.Context, id string, p AdminUpdate) error
	Stats(ctx context.Context) (UserStats, error)
}

// SessionStore is the durable session store. Uniqueness of both token
// columns is enforced by the schema; Rotate is conditional on the
// refresh token still matching what the caller read, which turns a
// concurrent double-refresh race into a typed failure for the loser.
type SessionStore interface {
	// Create fails with ErrDuplicateToken if either token string collides.
	Create(ctx context.Context, s *model.Session) error
	GetActiveByToken(ctx context.Context, token string) (model.Session, error)
	GetActiveByRefreshToken(ctx context.Context, token string) (model.Session, error)
	GetActiveByID(ctx context.Context, id, userID string) (model.Session, error)
	// Rotate overwrites the token columns and expiries in place and
	// stamps last activity. ErrSessionNotFound when the session is
	// gone, revoked, or oldRefresh no longer matches.
	Rotate(ctx context.Context, id, oldRefresh, newToken, newRefresh string, expiresAt, refreshExpiresAt time.Time) error
	// Revoke is idempotent: revoking an already-revoked session is a
	// no-op success.
	Revoke(ctx context.Context, id, revokedBy string) error
	// RevokeAllForUser is a single bulk UPDATE, optionally sparing one
	// session (password change keeps the calling session alive).
	RevokeAllForUser(ctx context.Context, userID, exceptID, revokedBy string) error
	ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error)
	// Touch stamps last activity; callers treat failure as non-fatal.
	Touch(ctx context.Context, id string) error
	CountActive(ctx context.Context) (int, error)
}
