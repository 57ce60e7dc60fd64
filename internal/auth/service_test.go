package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAuthService(t *testing.T, password string) *Service {
	t.Helper()

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	logger := zerolog.Nop()
	return NewService(hash, testJWTConfig(), nil, &logger)
}

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t, "correct horse")

	if _, err := svc.Login("wrong horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	token, err := svc.Login("correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != RoleAdmin || claims.Subject != adminSubject || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestLoginWithoutHash(t *testing.T) {
	logger := zerolog.Nop()
	svc := NewService("", testJWTConfig(), nil, &logger)
	if _, err := svc.Login("anything"); !errors.Is(err, ErrAdminDisabled) {
		t.Fatalf("expected ErrAdminDisabled, got %v", err)
	}

	svc = NewService("not-a-bcrypt-hash", testJWTConfig(), nil, &logger)
	if _, err := svc.Login("anything"); !errors.Is(err, ErrAdminDisabled) {
		t.Fatalf("expected ErrAdminDisabled for a broken hash, got %v", err)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	expired, err := GenerateToken(cfg, "op", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	otherAudience := *cfg
	otherAudience.Audience = "elsewhere"
	foreign, _ := GenerateToken(&otherAudience, "op", now)
	otherSecret := *cfg
	otherSecret.Secret = []byte("another-secret")
	forged, _ := GenerateToken(&otherSecret, "op", now)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong audience", foreign},
		{"wrong secret", forged},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		if _, err := ValidateToken(cfg, tt.token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", tt.name, err)
		}
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	hash, err := HashPassword("long enough")
	if err != nil || !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("unexpected hash %q (%v)", hash, err)
	}
	if ok, err := ComparePassword(hash, "long enough"); !ok || err != nil {
		t.Fatalf("compare: %v %v", ok, err)
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Secret = nil
	if _, err := GenerateToken(cfg, "op", time.Now()); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected ErrNoSecret, got %v", err)
	}
}
