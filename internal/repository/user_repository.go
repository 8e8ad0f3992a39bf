package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/utils"
)

// UserRepo is the MySQL credential store.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

var _ UserStore = (*UserRepo)(nil)

const userColumns = `id,email,password_hash,first_name,last_name,phone,role,
is_email_verified,is_phone_verified,
email_verification_token,email_verification_expires,
phone_verification_code,phone_verification_expires,
password_reset_token,password_reset_expires,
last_login,login_attempts,lock_until,is_active,
avatar,bio,preferences,created_at,updated_at`

// isDuplicate reports whether err is a MySQL unique-constraint violation.
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u                              model.User
		phone, evTok, pvCode, prTok    sql.NullString
		avatar, bio, prefs             sql.NullString
		evExp, pvExp, prExp, lastLogin sql.NullTime
		lockUntil                      sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone, &u.Role,
		&u.IsEmailVerified, &u.IsPhoneVerified,
		&evTok, &evExp, &pvCode, &pvExp, &prTok, &prExp,
		&lastLogin, &u.LoginAttempts, &lockUntil, &u.IsActive,
		&avatar, &bio, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Phone = strPtr(phone)
	u.EmailVerificationToken = strPtr(evTok)
	u.EmailVerificationExpires = timePtr(evExp)
	u.PhoneVerificationCode = strPtr(pvCode)
	u.PhoneVerificationExpires = timePtr(pvExp)
	u.PasswordResetToken = strPtr(prTok)
	u.PasswordResetExpires = timePtr(prExp)
	u.LastLogin = timePtr(lastLogin)
	u.LockUntil = timePtr(lockUntil)
	u.Avatar = strPtr(avatar)
	u.Bio = strPtr(bio)
	u.Preferences = strPtr(prefs)
	return u, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

// Create hashes the password and inserts the user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User, rawPassword string, cost int) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	hash, err := utils.HashPassword(rawPassword, cost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO users
		 (id,email,password_hash,first_name,last_name,phone,role,is_active,
		  email_verification_token,email_verification_expires)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone, u.Role, u.IsActive,
		u.EmailVerificationToken, u.EmailVerificationExpires)
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByEmailVerificationToken matches only unexpired tokens.
func (r *UserRepo) GetByEmailVerificationToken(ctx context.Context, token string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email_verification_token=? AND email_verification_expires>NOW() LIMIT 1",
		token))
}

// GetByPasswordResetToken matches only unexpired tokens.
func (r *UserRepo) GetByPasswordResetToken(ctx context.Context, token string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE password_reset_token=? AND password_reset_expires>NOW() LIMIT 1",
		token))
}

// UpdateLoginState persists the failed/successful-login bookkeeping.
func (r *UserRepo) UpdateLoginState(ctx context.Context, u *model.User) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET login_attempts=?, lock_until=?, last_login=? WHERE id=?",
		u.LoginAttempts, u.LockUntil, u.LastLogin, u.ID)
	return err
}

func (r *UserRepo) SetEmailVerificationToken(ctx context.Context, id, token string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verification_token=?, email_verification_expires=? WHERE id=?",
		token, expires, id)
	return err
}

func (r *UserRepo) MarkEmailVerified(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_email_verified=1, email_verification_token=NULL, email_verification_expires=NULL WHERE id=?",
		id)
	return err
}

func (r *UserRepo) SetPhoneVerification(ctx context.Context, id, code string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET phone_verification_code=?, phone_verification_expires=? WHERE id=?",
		code, expires, id)
	return err
}

func (r *UserRepo) MarkPhoneVerified(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_phone_verified=1, phone_verification_code=NULL, phone_verification_expires=NULL WHERE id=?",
		id)
	return err
}

func (r *UserRepo) SetPasswordResetToken(ctx context.Context, id, token string, expires time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_reset_token=?, password_reset_expires=? WHERE id=?",
		token, expires, id)
	return err
}

// UpdatePassword rehashes and clears reset-token and lock state in one
// statement so a consumed reset token can never be replayed.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, rawPassword string, cost int) error {
	hash, err := utils.HashPassword(rawPassword, cost)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`UPDATE users SET password_hash=?, password_reset_token=NULL, password_reset_expires=NULL,
		 login_attempts=0, lock_until=NULL WHERE id=?`,
		hash, id)
	return err
}

// UpdateProfile builds the SET list from the provided fields only. A
// phone change resets phone verification in the same statement.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, p ProfileUpdate) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.FirstName != nil {
		add("first_name", *p.FirstName)
	}
	if p.LastName != nil {
		add("last_name", *p.LastName)
	}
	if p.Phone != nil {
		add("phone", *p.Phone)
		sets = append(sets, "is_phone_verified=0", "phone_verification_code=NULL", "phone_verification_expires=NULL")
	}
	if p.Bio != nil {
		add("bio", *p.Bio)
	}
	if p.Avatar != nil {
		add("avatar", *p.Avatar)
	}
	if p.Preferences != nil {
		add("preferences", *p.Preferences)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	return err
}

// SoftDelete deactivates the account and scrubs personal fields. The
// row itself stays so sessions and comments keep valid references.
func (r *UserRepo) SoftDelete(ctx context.Context, id, tombstoneEmail string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET is_active=0, email=?, phone=NULL,
		 first_name='Deleted', last_name='User', bio=NULL, avatar=NULL WHERE id=?`,
		tombstoneEmail, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// sortColumns whitelists the admin-list sort fields.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"lastLogin": "last_login",
	"email":     "email",
	"firstName": "first_name",
	"lastName":  "last_name",
}

// List returns a page of users plus the unpaged total.
func (r *UserRepo) List(ctx context.Context, f UserFilter) ([]model.User, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(first_name LIKE ? OR last_name LIKE ? OR email LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.Role != "" {
		where = append(where, "role=?")
		args = append(args, f.Role)
	}
	switch f.Status {
	case "active":
		where = append(where, "is_active=1")
	case "inactive":
		where = append(where, "is_active=0")
	case "verified":
		where = append(where, "is_email_verified=1")
	case "unverified":
		where = append(where, "is_email_verified=0")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(f.SortOrder, "ASC") {
		order = "ASC"
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Page < 1 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	query := fmt.Sprintf("SELECT %s FROM users WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		userColumns, cond, col, order)
	rows, err := r.DB.QueryContext(ctx, query, append(args, f.Limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

func scanUserRows(rows *sql.Rows) (model.User, error) {
	var (
		u                              model.User
		phone, evTok, pvCode, prTok    sql.NullString
		avatar, bio, prefs             sql.NullString
		evExp, pvExp, prExp, lastLogin sql.NullTime
		lockUntil                      sql.NullTime
	)
	err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &phone, &u.Role,
		&u.IsEmailVerified, &u.IsPhoneVerified,
		&evTok, &evExp, &pvCode, &pvExp, &prTok, &prExp,
		&lastLogin, &u.LoginAttempts, &lockUntil, &u.IsActive,
		&avatar, &bio, &prefs, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Phone = strPtr(phone)
	u.EmailVerificationToken = strPtr(evTok)
	u.EmailVerificationExpires = timePtr(evExp)
	u.PhoneVerificationCode = strPtr(pvCode)
	u.PhoneVerificationExpires = timePtr(pvExp)
	u.PasswordResetToken = strPtr(prTok)
	u.PasswordResetExpires = timePtr(prExp)
	u.LastLogin = timePtr(lastLogin)
	u.LockUntil = timePtr(lockUntil)
	u.Avatar = strPtr(avatar)
	u.Bio = strPtr(bio)
	u.Preferences = strPtr(prefs)
	return u, nil
}

// AdminUpdate edits the admin-controlled columns.
func (r *UserRepo) AdminUpdate(ctx context.Context, id string, p AdminUpdate) error {
	sets := []string{}
	args := []interface{}{}
	add := func(col string, v interface{}) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.FirstName != nil {
		add("first_name", *p.FirstName)
	}
	if p.LastName != nil {
		add("last_name", *p.LastName)
	}
	if p.Email != nil {
		add("email", strings.ToLower(strings.TrimSpace(*p.Email)))
	}
	if p.Role != nil {
		add("role", *p.Role)
	}
	if p.IsActive != nil {
		add("is_active", *p.IsActive)
	}
	if p.IsEmailVerified != nil {
		add("is_email_verified", *p.IsEmailVerified)
	}
	if p.IsPhoneVerified != nil {
		add("is_phone_verified", *p.IsPhoneVerified)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

// Stats gathers the admin counters in one round trip per counter.
func (r *UserRepo) Stats(ctx context.Context) (UserStats, error) {
	var s UserStats
	queries := []struct {
		dst   *int
		query string
	}{
		{&s.TotalUsers, "SELECT COUNT(*) FROM users"},
		{&s.ActiveUsers, "SELECT COUNT(*) FROM users WHERE is_active=1"},
		{&s.VerifiedUsers, "SELECT COUNT(*) FROM users WHERE is_email_verified=1"},
		{&s.AdminUsers, "SELECT COUNT(*) FROM users WHERE role IN ('admin','super_admin')"},
		{&s.ModeratorUsers, "SELECT COUNT(*) FROM users WHERE role='moderator'"},
		{&s.RecentUsers, "SELECT COUNT(*) FROM users WHERE created_at >= NOW() - INTERVAL 30 DAY"},
	}
	for _, q := range queries {
		if err := r.DB.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return UserStats{}, err
		}
	}
	return s, nil
}
