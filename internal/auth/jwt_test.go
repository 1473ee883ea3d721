package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthenticateIssuedToken tests the issue and verify round trip.
func TestAuthenticateIssuedToken(t *testing.T) {
	a := NewJWTAuthenticator("secret")
	token, err := a.Issue(Principal{UserID: "u1", SessionID: "s1"}, time.Minute)
	require.NoError(t, err)

	p, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "u1", SessionID: "s1"}, p)
}

// TestAuthenticateRejections tests the failure cases of token validation.
func TestAuthenticateRejections(t *testing.T) {
	a := NewJWTAuthenticator("secret")
	other := NewJWTAuthenticator("other-secret")

	wrongKey, err := other.Issue(Principal{UserID: "u1"}, time.Minute)
	require.NoError(t, err)

	expired, err := a.Issue(Principal{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrTokenMissing},
		{"garbage", "not-a-jwt", ErrTokenInvalid},
		{"wrong key", wrongKey, ErrTokenInvalid},
		{"expired", expired, ErrTokenInvalid},
		{"alg none", unsigned, ErrTokenInvalid},
		{"no user", noUser, ErrTokenNoSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestAuthenticateSubjectFallback tests that sub is accepted when user_id is absent.
func TestAuthenticateSubjectFallback(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u9",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	p, err := NewJWTAuthenticator("secret").Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u9", p.UserID)
}
