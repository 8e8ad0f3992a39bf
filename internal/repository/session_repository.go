package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/cerrano/cms-backend/internal/model"
)

// SessionRepo is the MySQL session store. Both token columns carry
// unique indexes; every mutation here is a single-row (or single bulk)
// UPDATE so concurrent requests are serialized by the row lock alone.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

var _ SessionStore = (*SessionRepo)(nil)

const sessionColumns = `id,user_id,token,refresh_token,expires_at,refresh_expires_at,
ip_address,user_agent,device,location,is_revoked,revoked_at,revoked_by,
last_activity,created_at,updated_at`

func scanSession(row *sql.Row) (model.Session, error) {
	var (
		s                   model.Session
		ip, ua, device, loc sql.NullString
		revokedAt           sql.NullTime
		revokedBy           sql.NullString
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.ExpiresAt, &s.RefreshExpiresAt,
		&ip, &ua, &device, &loc, &s.IsRevoked, &revokedAt, &revokedBy,
		&s.LastActivity, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, err
	}
	s.IPAddress = strPtr(ip)
	s.UserAgent = strPtr(ua)
	s.Device = strPtr(device)
	s.Location = strPtr(loc)
	s.RevokedAt = timePtr(revokedAt)
	s.RevokedBy = strPtr(revokedBy)
	return s, nil
}

// Create inserts the session row; the unique indexes on token and
// refresh_token turn a collision into ErrDuplicateToken.
func (r *SessionRepo) Create(ctx context.Context, s *model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_sessions
		 (id,user_id,token,refresh_token,expires_at,refresh_expires_at,
		  ip_address,user_agent,device,location,last_activity)
		 VALUES (?,?,?,?,?,?,?,?,?,?,NOW())`,
		s.ID, s.UserID, s.Token, s.RefreshToken, s.ExpiresAt, s.RefreshExpiresAt,
		s.IPAddress, s.UserAgent, s.Device, s.Location)
	if isDuplicate(err) {
		return ErrDuplicateToken
	}
	return err
}

// GetActiveByToken looks up a non-revoked session by access token.
func (r *SessionRepo) GetActiveByToken(ctx context.Context, token string) (model.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE token=? AND is_revoked=0 LIMIT 1", token))
}

// GetActiveByRefreshToken looks up a non-revoked session by refresh token.
func (r *SessionRepo) GetActiveByRefreshToken(ctx context.Context, token string) (model.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE refresh_token=? AND is_revoked=0 LIMIT 1", token))
}

// GetActiveByID scopes the lookup to the owning user so one user can
// never address another user's session by id.
func (r *SessionRepo) GetActiveByID(ctx context.Context, id, userID string) (model.Session, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE id=? AND user_id=? AND is_revoked=0 LIMIT 1",
		id, userID))
}

// Rotate replaces the token pair in place. The WHERE clause pins the
// refresh token the caller read, so of two racing refreshes only one
// commits; the loser sees ErrSessionNotFound instead of silently
// clobbering the winner's rotation.
func (r *SessionRepo) Rotate(ctx context.Context, id, oldRefresh, newToken, newRefresh string, expiresAt, refreshExpiresAt time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE user_sessions
		 SET token=?, refresh_token=?, expires_at=?, refresh_expires_at=?, last_activity=NOW()
		 WHERE id=? AND refresh_token=? AND is_revoked=0`,
		newToken, newRefresh, expiresAt, refreshExpiresAt, id, oldRefresh)
	if isDuplicate(err) {
		return ErrDuplicateToken
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Revoke marks the session revoked; already-revoked rows are untouched.
func (r *SessionRepo) Revoke(ctx context.Context, id, revokedBy string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_sessions SET is_revoked=1, revoked_at=NOW(), revoked_by=? WHERE id=? AND is_revoked=0",
		revokedBy, id)
	return err
}

// RevokeAllForUser bulk-revokes in one statement to avoid a partial
// revocation window. exceptID may be empty.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID, exceptID, revokedBy string) error {
	if exceptID == "" {
		_, err := r.DB.ExecContext(ctx,
			"UPDATE user_sessions SET is_revoked=1, revoked_at=NOW(), revoked_by=? WHERE user_id=? AND is_revoked=0",
			revokedBy, userID)
		return err
	}
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_sessions SET is_revoked=1, revoked_at=NOW(), revoked_by=? WHERE user_id=? AND id<>? AND is_revoked=0",
		revokedBy, userID, exceptID)
	return err
}

// ListActiveForUser returns the user's live sessions, most recent first.
func (r *SessionRepo) ListActiveForUser(ctx context.Context, userID string) ([]model.Session, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM user_sessions WHERE user_id=? AND is_revoked=0 ORDER BY last_activity DESC",
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var (
			s                   model.Session
			ip, ua, device, loc sql.NullString
			revokedAt           sql.NullTime
			revokedBy           sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &s.ExpiresAt, &s.RefreshExpiresAt,
			&ip, &ua, &device, &loc, &s.IsRevoked, &revokedAt, &revokedBy,
			&s.LastActivity, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.IPAddress = strPtr(ip)
		s.UserAgent = strPtr(ua)
		s.Device = strPtr(device)
		s.Location = strPtr(loc)
		s.RevokedAt = timePtr(revokedAt)
		s.RevokedBy = strPtr(revokedBy)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Touch stamps last activity.
func (r *SessionRepo) Touch(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_sessions SET last_activity=NOW() WHERE id=?", id)
	return err
}

// CountActive counts non-revoked sessions across all users.
func (r *SessionRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_sessions WHERE is_revoked=0").Scan(&n)
	return n, err
}
