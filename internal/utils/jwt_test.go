package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("access-secret", "user-1", 15*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.WithinDuration(t, time.Now().UTC().Add(15*time.Minute), tok.Exp, 5*time.Second)

	claims, err := ValidateToken("access-secret", tok.Token, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.Type)
}

func TestValidateTokenRejectsWrongType(t *testing.T) {
	tok, err := NewRefreshToken("refresh-secret", "user-1", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("refresh-secret", tok.Token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	tok, err := NewAccessToken("access-secret", "user-1", time.Hour)
	require.NoError(t, err)

	_, err = ValidateToken("refresh-secret", tok.Token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	tok, err := NewAccessToken("access-secret", "user-1", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken("access-secret", tok.Token, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	_, err := ValidateToken("access-secret", "not-a-jwt", TokenTypeAccess)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
