package apiclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xkilldash9x/e2e-harness/internal/config"
)

const defaultTokenTTL = 15 * time.Minute

// TokenSource supplies bearer tokens for outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// JWTSource mints HS256 tokens and reuses each one until it is close to expiry.
type JWTSource struct {
	secret  []byte
	subject string
	issuer  string
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewJWTSource builds a source from the auth section. The secret must be set.
func NewJWTSource(cfg config.APIAuthConfig) (*JWTSource, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	ttl := cfg.JWTTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTSource{
		secret:  []byte(cfg.JWTSecret),
		subject: cfg.JWTSubject,
		issuer:  cfg.JWTIssuer,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token returns the cached token, minting a new one once less than a tenth
// of its lifetime remains.
func (s *JWTSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.expiry.Add(-s.ttl/10)) {
		return s.token, nil
	}

	expiry := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   s.subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign jwt: %w", err)
	}
	s.token, s.expiry = signed, expiry
	return signed, nil
}

// tokenSourceFor picks the configured auth scheme. A static token wins over
// JWT minting, and nil means requests go out unauthenticated.
func tokenSourceFor(cfg config.APIAuthConfig) (TokenSource, error) {
	switch {
	case cfg.Token != "":
		return StaticToken(cfg.Token), nil
	case cfg.JWTSecret != "":
		return NewJWTSource(cfg)
	default:
		return nil, nil
	}
}
