package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/model"
)

const testSecret = "test-secret-with-enough-bytes-for-hs256"

func TestParse_Valid(t *testing.T) {
	tok, err := Issue(testSecret, "U1", model.RoleStationManager, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	s, err := Parse("Bearer "+tok, testSecret)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.UserID != "U1" || s.Role != model.RoleStationManager {
		t.Errorf("session = %+v", s)
	}
	if !s.Authenticated() {
		t.Error("expected authenticated session")
	}
	if time.Until(s.ExpiresAt) < 59*time.Minute {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
}

func TestParse_Rejects(t *testing.T) {
	good, _ := Issue(testSecret, "U1", model.RoleUser, time.Hour)
	expired, _ := Issue(testSecret, "U1", model.RoleUser, -time.Minute)
	noSub, _ := Issue(testSecret, "", model.RoleUser, time.Hour)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "U1"}).
		SignedString([]byte(testSecret))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"empty", "", testSecret},
		{"garbage", "not.a.jwt", testSecret},
		{"wrong secret", good, "other-secret"},
		{"expired", expired, testSecret},
		{"no subject", noSub, testSecret},
		{"no expiry", noExp, testSecret},
		{"wrong algorithm", wrongAlg, testSecret},
	}
	for _, tt := range tests {
		_, err := Parse(tt.token, tt.secret)
		if !apperr.Is(err, apperr.KindAuth) {
			t.Errorf("%s: err = %v, want auth error", tt.name, err)
		}
	}
}

func TestParse_ExpiredMessage(t *testing.T) {
	expired, _ := Issue(testSecret, "U1", model.RoleUser, -time.Minute)
	_, err := Parse(expired, testSecret)
	if err == nil || !strings.Contains(err.Error(), "session expired") {
		t.Errorf("err = %v", err)
	}
}

func TestParse_TransportRoleIgnored(t *testing.T) {
	claims := Claims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "U1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))

	s, err := Parse(tok, testSecret)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Role != "" {
		t.Errorf("Role = %q, want empty", s.Role)
	}
}

func TestAuthenticated_Nil(t *testing.T) {
	var s *Session
	if s.Authenticated() {
		t.Error("nil session reported authenticated")
	}
}
