package utils // package utils provides helper functions for token creation and validation

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators embedded in the `type` claim. An access
// token presented where a refresh token is expected (or vice versa) is
// rejected even when its signature is valid.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// ErrTokenInvalid covers every validation failure: bad signature, wrong
// type claim, expired, malformed. Callers never need to distinguish.
var ErrTokenInvalid = errors.New("invalid token")

// SignedToken is a serialized JWT together with its expiry. Both access
// and refresh tokens take this shape; they differ in TTL, signing secret
// and the embedded type claim.
type SignedToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims are the validated contents of a token.
type Claims struct {
	UserID string
	Type   string
}

// NewAccessToken builds and signs a short-lived HS256 JWT for a user.
// The JWT carries sub (user ID), type=access, exp and iat.
func NewAccessToken(secret, userID string, ttl time.Duration) (SignedToken, error) {
	return signToken(secret, userID, TokenTypeAccess, ttl)
}

// NewRefreshToken builds and signs a long-lived HS256 JWT for a user,
// with type=refresh. Refresh tokens are signed with a secret distinct
// from the access secret so compromise of one does not compromise the
// other.
func NewRefreshToken(secret, userID string, ttl time.Duration) (SignedToken, error) {
	return signToken(secret, userID, TokenTypeRefresh, ttl)
}

func signToken(secret, userID, typ string, ttl time.Duration) (SignedToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	// The jti makes every minted token unique. Without it two tokens
	// signed within the same second for the same user would serialize
	// identically and collide on the unique session columns.
	jti, err := RandomHex(8)
	if err != nil {
		return SignedToken{}, err
	}
	claims := jwt.MapClaims{
		"sub":  userID,
		"type": typ,
		"jti":  jti,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Exp: exp}, nil
}

// ValidateToken verifies signature and expiry and checks the embedded
// type claim against wantType. This check is necessary but not
// sufficient for authentication: it does not consult the session store,
// so a validly-signed token belonging to a revoked session must still
// be rejected by the caller.
func ValidateToken(secret, tokenString, wantType string) (Claims, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, ErrTokenInvalid
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrTokenInvalid
	}
	sub, _ := claims["sub"].(string)
	typ, _ := claims["type"].(string)
	if sub == "" || typ != wantType {
		return Claims{}, ErrTokenInvalid
	}
	return Claims{UserID: sub, Type: typ}, nil
}
