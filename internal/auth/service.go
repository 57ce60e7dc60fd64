// Package auth issues and checks operator tokens for the admin API.
package auth

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const adminSubject = "operator"

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminDisabled is returned when no password hash is configured.
	ErrAdminDisabled = errors.New("admin login is not configured")
)

// Service authenticates the single operator account.
type Service struct {
	passwordHash string
	jwtConfig    *JWTConfig
	clock        clock.Clock
	log          *zerolog.Logger
}

func NewService(passwordHash string, jwtConfig *JWTConfig, clk clock.Clock, logger *zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	l := logger.With().Str("component", "auth").Logger()
	return &Service{
		passwordHash: passwordHash,
		jwtConfig:    jwtConfig,
		clock:        clk,
		log:          &l,
	}
}

// Login checks password and returns a token.
func (s *Service) Login(password string) (string, error) {
	if s.passwordHash == "" {
		return "", ErrAdminDisabled
	}
	ok, err := ComparePassword(s.passwordHash, password)
	if err != nil {
		s.log.Error().Err(err).Msg("configured password hash is unusable")
		return "", ErrAdminDisabled
	}
	if !ok {
		s.log.Warn().Msg("failed admin login")
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, adminSubject, s.clock.Now())
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	s.log.Info().Msg("admin logged in")
	return token, nil
}

// ValidateToken validates a token and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
