package model

import "time"

// Session models a row in the `user_sessions` table: one authenticated
// device/browser context. The access and refresh token strings are each
// globally unique; on refresh the SAME row keeps its identity and only
// the token columns and expiries rotate forward. A session is never
// hard-deleted by normal flows, only revoked.
//
// Fields:
//  ID               – primary key (UUID).
//  UserID           – owning user; rows cascade on user deletion.
//  Token            – current access token string (unique).
//  RefreshToken     – current refresh token string (unique).
//  ExpiresAt        – access token expiry.
//  RefreshExpiresAt – refresh token expiry.
//  IPAddress/UserAgent/Device/Location – client metadata captured at login.
//  IsRevoked        – revoked sessions must never authenticate a request.
//  RevokedAt        – when revocation happened (nullable).
//  RevokedBy        – actor who revoked (nullable; admin or the user).
//  LastActivity     – stamped on each authenticated request (best effort).
type Session struct {
	ID               string     // user_sessions.id
	UserID           string     // user_sessions.user_id
	Token            string     // user_sessions.token
	RefreshToken     string     // user_sessions.refresh_token
	ExpiresAt        time.Time  // user_sessions.expires_at
	RefreshExpiresAt time.Time  // user_sessions.refresh_expires_at
	IPAddress        *string    // user_sessions.ip_address
	UserAgent        *string    // user_sessions.user_agent
	Device           *string    // user_sessions.device
	Location         *string    // user_sessions.location (free-form JSON)
	IsRevoked        bool       // user_sessions.is_revoked
	RevokedAt        *time.Time // user_sessions.revoked_at
	RevokedBy        *string    // user_sessions.revoked_by
	LastActivity     time.Time  // user_sessions.last_activity
	CreatedAt        time.Time  // user_sessions.created_at
	UpdatedAt        time.Time  // user_sessions.updated_at
}

// IsExpired reports whether the access token expiry has passed.
func (s *Session) IsExpired(now time.Time) bool { return s.ExpiresAt.Before(now) }

// IsRefreshExpired reports whether the refresh token expiry has passed.
func (s *Session) IsRefreshExpired(now time.Time) bool { return s.RefreshExpiresAt.Before(now) }

// ClientMeta carries the request metadata stored on a new session.
type ClientMeta struct {
	IPAddress string
	UserAgent string
	Device    string
}

// PublicSession is the response view of a session for the device list.
// Token material is never serialized.
type PublicSession struct {
	ID           string    `json:"id"`
	IPAddress    *string   `json:"ipAddress,omitempty"`
	UserAgent    *string   `json:"userAgent,omitempty"`
	Device       *string   `json:"device,omitempty"`
	Location     *string   `json:"location,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	CreatedAt    time.Time `json:"createdAt"`
	IsCurrent    bool      `json:"isCurrent"`
}

// Public converts the session to its response form, marking whether it
// is the session the caller used to make the request.
func (s *Session) Public(currentID string) PublicSession {
	return PublicSession{
		ID:           s.ID,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		Device:       s.Device,
		Location:     s.Location,
		LastActivity: s.LastActivity,
		CreatedAt:    s.CreatedAt,
		IsCurrent:    s.ID == currentID,
	}
}
