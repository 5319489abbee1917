// Package session validates the bearer tokens that identify the caller of an
// authenticated operation.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
)

// Claims are the JWT claims the backend issues. Role carries the app role;
// backends that put a transport role there (e.g. "authenticated") leave it
// unparsed.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Session is an authenticated identity.
type Session struct {
	UserID    string
	Email     string
	Role      model.Role
	ExpiresAt time.Time
	Token     string
}

// Authenticated reports whether the session identifies a user. Queries that
// need a user stay disabled until it does.
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}

// Parse validates an HS256 token signed with secret. Every failure is an auth
// error.
func Parse(token, secret string) (*Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, apperr.Auth("missing bearer token")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Auth("session expired")
		}
		return nil, &apperr.Error{Kind: apperr.KindAuth, Message: "invalid token", Err: err}
	}
	if claims.Subject == "" {
		return nil, apperr.Auth("token has no subject")
	}

	s := &Session{
		UserID: claims.Subject,
		Email:  claims.Email,
		Token:  token,
	}
	if role, err := model.ParseRole(claims.Role); err == nil {
		s.Role = role
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Issue signs a token for userID valid for ttl. It is used by the CLI to mint
// local development tokens and by tests.
func Issue(secret, userID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
