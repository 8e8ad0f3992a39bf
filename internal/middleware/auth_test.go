package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerrano/cms-backend/internal/model"
	"github.com/cerrano/cms-backend/internal/repository"
	"github.com/cerrano/cms-backend/internal/utils"
)

const testSecret = "test-access-secret"

// The stubs embed the store interfaces so only the methods the gate
// actually calls need implementations; anything else would panic.

type stubUsers struct {
	repository.UserStore
	byID map[string]model.User
}

func (s stubUsers) GetByID(_ context.Context, id string) (model.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return model.User{}, repository.ErrUserNotFound
}

type stubSessions struct {
	repository.SessionStore
	byToken map[string]model.Session
	touched []string
}

func (s *stubSessions) GetActiveByToken(_ context.Context, token string) (model.Session, error) {
	if sess, ok := s.byToken[token]; ok {
		return sess, nil
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (s *stubSessions) Touch(_ context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

type gateEnv struct {
	e        *echo.Echo
	users    stubUsers
	sessions *stubSessions
}

func newGateEnv() *gateEnv {
	return &gateEnv{
		e:        echo.New(),
		users:    stubUsers{byID: map[string]model.User{}},
		sessions: &stubSessions{byToken: map[string]model.Session{}},
	}
}

// seed creates an active user with one live session and returns the
// bearer token for it.
func (env *gateEnv) seed(t *testing.T, userID string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(testSecret, userID, 15*time.Minute)
	require.NoError(t, err)
	env.users.byID[userID] = model.User{ID: userID, Email: userID + "@example.com", Role: model.RoleUser, IsActive: true, IsEmailVerified: true}
	env.sessions.byToken[tok.Token] = model.Session{ID: "sess-" + userID, UserID: userID, Token: tok.Token, ExpiresAt: tok.Exp}
	return tok.Token
}

func (env *gateEnv) run(mw echo.MiddlewareFunc, bearer string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "reached")
	})
	_ = handler(c)
	return rec, c
}

func rejectionCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	s, _ := m["code"].(string)
	return s
}

func TestAuthenticateHappyPath(t *testing.T) {
	env := newGateEnv()
	token := env.seed(t, "u1")
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, c := env.run(mw, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reached", rec.Body.String())

	user := CurrentUser(c)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	sess := CurrentSession(c)
	require.NotNil(t, sess)
	assert.Equal(t, "sess-u1", sess.ID)
	assert.Equal(t, []string{"sess-u1"}, env.sessions.touched)
}

func TestAuthenticateMissingToken(t *testing.T) {
	env := newGateEnv()
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_MISSING", rejectionCode(t, rec))
}

func TestAuthenticateBadSignature(t *testing.T) {
	env := newGateEnv()
	tok, err := utils.NewAccessToken("some-other-secret", "u1", time.Minute)
	require.NoError(t, err)
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", rejectionCode(t, rec))
}

func TestAuthenticateRefreshTokenRejectedAsAccess(t *testing.T) {
	env := newGateEnv()
	tok, err := utils.NewRefreshToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TOKEN_INVALID", rejectionCode(t, rec))
}

func TestAuthenticateValidTokenWithoutSession(t *testing.T) {
	// Signature validity alone must not authenticate: the session row
	// is gone (revoked or rotated away).
	env := newGateEnv()
	tok, err := utils.NewAccessToken(testSecret, "u1", time.Minute)
	require.NoError(t, err)
	env.users.byID["u1"] = model.User{ID: "u1", IsActive: true}
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "SESSION_EXPIRED", rejectionCode(t, rec))
}

func TestAuthenticateExpiredSessionRow(t *testing.T) {
	env := newGateEnv()
	token := env.seed(t, "u1")
	sess := env.sessions.byToken[token]
	sess.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	env.sessions.byToken[token] = sess
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "SESSION_EXPIRED", rejectionCode(t, rec))
}

func TestAuthenticateInactiveUser(t *testing.T) {
	env := newGateEnv()
	token := env.seed(t, "u1")
	u := env.users.byID["u1"]
	u.IsActive = false
	env.users.byID["u1"] = u
	mw := Authenticate(env.users, env.sessions, testSecret)

	rec, _ := env.run(mw, token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "USER_INACTIVE", rejectionCode(t, rec))
}

func TestOptionalAuthenticateSilentOnFailure(t *testing.T) {
	env := newGateEnv()
	mw := OptionalAuthenticate(env.users, env.sessions, testSecret)

	rec, c := env.run(mw, "garbage")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reached", rec.Body.String())
	assert.Nil(t, CurrentUser(c))
}

func TestOptionalAuthenticateAttachesIdentityWhenValid(t *testing.T) {
	env := newGateEnv()
	token := env.seed(t, "u1")
	mw := OptionalAuthenticate(env.users, env.sessions, testSecret)

	rec, c := env.run(mw, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, CurrentUser(c))
}

func withUser(e *echo.Echo, u *model.User) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if u != nil {
		c.Set(ctxUserKey, u)
	}
	return c
}

func runOn(c echo.Context, mw echo.MiddlewareFunc) int {
	_ = mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c.Response().Status
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	mw := RequireRole(model.RoleAdmin, model.RoleSuperAdmin)

	assert.Equal(t, http.StatusOK, runOn(withUser(e, &model.User{Role: model.RoleAdmin}), mw))
	assert.Equal(t, http.StatusForbidden, runOn(withUser(e, &model.User{Role: model.RoleUser}), mw))
	assert.Equal(t, http.StatusUnauthorized, runOn(withUser(e, nil), mw))
}

func TestRequirePermission(t *testing.T) {
	e := echo.New()
	mw := RequirePermission("users.delete")

	assert.Equal(t, http.StatusOK, runOn(withUser(e, &model.User{Role: model.RoleAdmin}), mw))
	assert.Equal(t, http.StatusOK, runOn(withUser(e, &model.User{Role: model.RoleSuperAdmin}), mw), "wildcard grants everything")
	assert.Equal(t, http.StatusForbidden, runOn(withUser(e, &model.User{Role: model.RoleModerator}), mw))
	assert.Equal(t, http.StatusUnauthorized, runOn(withUser(e, nil), mw))
}

func TestRequireVerifiedEmail(t *testing.T) {
	e := echo.New()
	mw := RequireVerifiedEmail()

	assert.Equal(t, http.StatusOK, runOn(withUser(e, &model.User{IsEmailVerified: true}), mw))
	assert.Equal(t, http.StatusForbidden, runOn(withUser(e, &model.User{}), mw))
}

func TestCheckAccountLock(t *testing.T) {
	e := echo.New()
	mw := CheckAccountLock()

	lock := time.Now().UTC().Add(time.Hour)
	assert.Equal(t, http.StatusLocked, runOn(withUser(e, &model.User{LockUntil: &lock}), mw))

	past := time.Now().UTC().Add(-time.Hour)
	assert.Equal(t, http.StatusOK, runOn(withUser(e, &model.User{LockUntil: &past}), mw))
	assert.Equal(t, http.StatusOK, runOn(withUser(e, nil), mw), "unauthenticated requests pass through")
}
