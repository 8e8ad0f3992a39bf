package handler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/queue"
	"github.com/cerrano/cms-backend/internal/repository"
	"github.com/cerrano/cms-backend/internal/utils"
)

// In-memory store fakes backing the handler tests. They mirror the
// MySQL repositories' contract, including the typed errors and the
// conditional rotate.

type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]*model.User{}}
}

func (f *fakeUserStore) put(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := u
	f.users[u.ID] = &cp
}

func (f *fakeUserStore) get(id string) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.users[id]
}

func (f *fakeUserStore) byEmail(email string) *model.User {
	for _, u := range f.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (f *fakeUserStore) Create(_ context.Context, u *model.User, rawPassword string, cost int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byEmail(u.Email) != nil {
		return repository.ErrEmailExists
	}
	hash, err := utils.HashPassword(rawPassword, cost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUserStore) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.byEmail(email); u != nil {
		return *u, nil
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUserStore) GetByID(_ context.Context, id string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return *u, nil
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUserStore) GetByEmailVerificationToken(_ context.Context, token string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range f.users {
		if u.EmailVerificationToken != nil && *u.EmailVerificationToken == token &&
			u.EmailVerificationExpires != nil && u.EmailVerificationExpires.After(now) {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUserStore) GetByPasswordResetToken(_ context.Context, token string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, u := range f.users {
		if u.PasswordResetToken != nil && *u.PasswordResetToken == token &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now) {
			return *u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (f *fakeUserStore) UpdateLoginState(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[u.ID]
	if !ok {
		return repository.ErrUserNotFound
	}
	stored.LoginAttempts = u.LoginAttempts
	stored.LockUntil = u.LockUntil
	stored.LastLogin = u.LastLogin
	return nil
}

func (f *fakeUserStore) SetEmailVerificationToken(_ context.Context, id, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.EmailVerificationToken = &token
	u.EmailVerificationExpires = &expires
	return nil
}

func (f *fakeUserStore) MarkEmailVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsEmailVerified = true
	u.EmailVerificationToken = nil
	u.EmailVerificationExpires = nil
	return nil
}

func (f *fakeUserStore) SetPhoneVerification(_ context.Context, id, code string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PhoneVerificationCode = &code
	u.PhoneVerificationExpires = &expires
	return nil
}

func (f *fakeUserStore) MarkPhoneVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsPhoneVerified = true
	u.PhoneVerificationCode = nil
	u.PhoneVerificationExpires = nil
	return nil
}

func (f *fakeUserStore) SetPasswordResetToken(_ context.Context, id, token string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordResetToken = &token
	u.PasswordResetExpires = &expires
	return nil
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, id, rawPassword string, cost int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	hash, err := utils.HashPassword(rawPassword, cost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	u.LoginAttempts = 0
	u.LockUntil = nil
	return nil
}

func (f *fakeUserStore) UpdateProfile(_ context.Context, id string, p repository.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Phone != nil {
		u.Phone = p.Phone
		u.IsPhoneVerified = false
	}
	if p.Bio != nil {
		u.Bio = p.Bio
	}
	if p.Avatar != nil {
		u.Avatar = p.Avatar
	}
	if p.Preferences != nil {
		u.Preferences = p.Preferences
	}
	return nil
}

func (f *fakeUserStore) SoftDelete(_ context.Context, id, tombstoneEmail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = false
	u.Email = tombstoneEmail
	u.FirstName = "Deleted"
	u.LastName = "User"
	u.Phone = nil
	u.Bio = nil
	u.Avatar = nil
	return nil
}

func (f *fakeUserStore) List(_ context.Context, flt repository.UserFilter) ([]model.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.User
	for _, u := range f.users {
		if flt.Role != "" && u.Role != flt.Role {
			continue
		}
		if flt.Search != "" {
			s := strings.ToLower(flt.Search)
			if !strings.Contains(strings.ToLower(u.Email), s) &&
				!strings.Contains(strings.ToLower(u.FirstName), s) &&
				!strings.Contains(strings.ToLower(u.LastName), s) {
				continue
			}
		}
		switch flt.Status {
		case "active":
			if !u.IsActive {
				continue
			}
		case "inactive":
			if u.IsActive {
				continue
			}
		case "verified":
			if !u.IsEmailVerified {
				continue
			}
		case "unverified":
			if u.IsEmailVerified {
				continue
			}
		}
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })
	total := len(all)
	start := (flt.Page - 1) * flt.Limit
	if start > total {
		start = total
	}
	end := start + flt.Limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (f *fakeUserStore) AdminUpdate(_ context.Context, id string, p repository.AdminUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	if p.Email != nil {
		if dup := f.byEmail(*p.Email); dup != nil && dup.ID != id {
			return repository.ErrEmailExists
		}
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.IsEmailVerified != nil {
		u.IsEmailVerified = *p.IsEmailVerified
	}
	if p.IsPhoneVerified != nil {
		u.IsPhoneVerified = *p.IsPhoneVerified
	}
	return nil
}

func (f *fakeUserStore) Stats(_ context.Context) (repository.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s repository.UserStats
	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	for _, u := range f.users {
		s.TotalUsers++
		if u.IsActive {
			s.ActiveUsers++
		}
		if u.IsEmailVerified {
			s.VerifiedUsers++
		}
		if u.Role == model.RoleAdmin || u.Role == model.RoleSuperAdmin {
			s.AdminUsers++
		}
		if u.Role == model.RoleModerator {
			s.ModeratorUsers++
		}
		if u.CreatedAt.After(cutoff) {
			s.RecentUsers++
		}
	}
	return s, nil
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*model.Session{}}
}

func (f *fakeSessionStore) get(id string) model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ex := range f.sessions {
		if ex.Token == s.Token || ex.RefreshToken == s.RefreshToken {
			return repository.ErrDuplicateToken
		}
	}
	s.LastActivity = time.Now().UTC()
	s.CreatedAt = s.LastActivity
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionStore) GetActiveByToken(_ context.Context, token string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Token == token && !s.IsRevoked {
			return *s, nil
		}
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (f *fakeSessionStore) GetActiveByRefreshToken(_ context.Context, token string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RefreshToken == token && !s.IsRevoked {
			return *s, nil
		}
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (f *fakeSessionStore) GetActiveByID(_ context.Context, id, userID string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.UserID == userID && !s.IsRevoked {
		return *s, nil
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (f *fakeSessionStore) Rotate(_ context.Context, id, oldRefresh, newToken, newRefresh string, expiresAt, refreshExpiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.IsRevoked || s.RefreshToken != oldRefresh {
		return repository.ErrSessionNotFound
	}
	s.Token = newToken
	s.RefreshToken = newRefresh
	s.ExpiresAt = expiresAt
	s.RefreshExpiresAt = refreshExpiresAt
	s.LastActivity = time.Now().UTC()
	return nil
}

func (f *fakeSessionStore) Revoke(_ context.Context, id, revokedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if s.IsRevoked {
		return nil
	}
	now := time.Now().UTC()
	s.IsRevoked = true
	s.RevokedAt = &now
	s.RevokedBy = &revokedBy
	return nil
}

func (f *fakeSessionStore) RevokeAllForUser(_ context.Context, userID, exceptID, revokedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range f.sessions {
		if s.UserID != userID || s.ID == exceptID || s.IsRevoked {
			continue
		}
		s.IsRevoked = true
		s.RevokedAt = &now
		s.RevokedBy = &revokedBy
	}
	return nil
}

func (f *fakeSessionStore) ListActiveForUser(_ context.Context, userID string) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.sessions {
		if s.UserID == userID && !s.IsRevoked {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (f *fakeSessionStore) Touch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActivity = time.Now().UTC()
	}
	return nil
}

func (f *fakeSessionStore) CountActive(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if !s.IsRevoked {
			n++
		}
	}
	return n, nil
}

// attachIdentity places a resolved user and session on the context the
// same way the auth middleware does, so handlers can be tested without
// running the full gate.
func attachIdentity(c echo.Context, u *model.User, sessions *fakeSessionStore, sessID string) {
	c.Set("auth_user", u)
	if sessID != "" {
		s := sessions.get(sessID)
		c.Set("auth_session", &s)
	}
}

// eventRecorder captures published notification events in place of the
// RabbitMQ publisher.
type eventRecorder struct {
	mu     sync.Mutex
	events []queue.NotificationEvent
	err    error
}

func (r *eventRecorder) publish(_ context.Context, ev queue.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
