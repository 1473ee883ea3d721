// Package auth validates the session tokens presented on websocket
// connections.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing             = errors.New("auth: token missing")
	ErrTokenInvalid             = errors.New("auth: token invalid")
	ErrTokenUnexpectedSignature = errors.New("auth: unexpected signing method")
	ErrTokenNoSubject           = errors.New("auth: token has no user")
)

// Principal is the authenticated caller of a connection.
type Principal struct {
	UserID    string
	SessionID string
}

// Authenticator turns a bearer token into the principal it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// JWTAuthenticator accepts HS256 tokens signed with a shared secret. The
// user comes from the user_id claim, falling back to sub.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewJWTAuthenticator returns an Authenticator for HS256 tokens signed with
// secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

// Authenticate verifies token and returns its principal. The user comes from
// the user_id claim, falling back to sub.
func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrTokenMissing
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenUnexpectedSignature
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return Principal{}, ErrTokenInvalid
	}

	p := Principal{
		UserID:    stringClaim(claims, "user_id"),
		SessionID: stringClaim(claims, "session_id"),
	}
	if p.UserID == "" {
		p.UserID = stringClaim(claims, "sub")
	}
	if p.UserID == "" {
		return Principal{}, ErrTokenNoSubject
	}
	return p, nil
}

// Issue signs a token for p valid for ttl. The hub never issues tokens in
// production; this exists for tooling and tests.
func (a *JWTAuthenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"user_id":    p.UserID,
		"session_id": p.SessionID,
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
