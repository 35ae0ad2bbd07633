package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTokenRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "chat-hub")

	token, err := v.Issue(42, time.Minute)
	require.NoError(t, err)

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestValidateTokenRejects(t *testing.T) {
	v := NewVerifier("secret", "chat-hub")
	other := NewVerifier("other-secret", "chat-hub")
	wrongIssuer := NewVerifier("secret", "someone-else")

	expired, err := v.Issue(1, -time.Minute)
	require.NoError(t, err)
	forged, err := other.Issue(1, time.Minute)
	require.NoError(t, err)
	foreign, err := wrongIssuer.Issue(1, time.Minute)
	require.NoError(t, err)

	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "chat-hub", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
		UserID:           1,
		Type:             "refresh",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]struct {
		token string
		want  error
	}{
		"empty":        {token: "", want: ErrInvalidToken},
		"garbage":      {token: "not-a-jwt", want: ErrInvalidToken},
		"expired":      {token: expired, want: ErrExpiredToken},
		"wrong secret": {token: forged, want: ErrInvalidToken},
		"wrong issuer": {token: foreign, want: ErrInvalidToken},
		"refresh":      {token: refresh, want: ErrInvalidToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateToken(context.Background(), tc.token)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}
