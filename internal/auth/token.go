package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the only role allowed to mutate content.
const RoleAdmin = "admin"

// DefaultTokenTTL bounds how long an issued token stays valid.
const DefaultTokenTTL = 24 * time.Hour

var (
	// ErrUnauthenticated is returned when a token is missing, malformed,
	// carries an invalid signature, or has expired.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden is returned when a valid token lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrSecretRequired is returned when the token service is built without a signing secret.
	ErrSecretRequired = errors.New("token signing secret is required")
)

// Claims is the signed token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the verified identity carried by a token.
type Principal struct {
	Identity  string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RequireRole returns ErrForbidden unless the principal holds role.
func (p Principal) RequireRole(role string) error {
	if !strings.EqualFold(p.Role, role) {
		return ErrForbidden
	}
	return nil
}

// TokenOption configures a TokenService instance.
type TokenOption func(*TokenService)

// WithTokenTTL overrides the default 24 hour token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock used for issuance and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// TokenService issues and verifies stateless HMAC-SHA256 bearer tokens.
// Tokens are never stored, so there is no revocation before expiry.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretRequired
	}
	service := &TokenService{
		secret: []byte(secret),
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// TTL reports the configured token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a new admin token for identity and returns it with its expiry.
func (s *TokenService) Issue(identity string) (string, time.Time, error) {
	if strings.TrimSpace(identity) == "" {
		return "", time.Time{}, fmt.Errorf("issue token: identity is required")
	}
	issuedAt := jwt.NewNumericDate(s.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(s.ttl))
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt.Time, nil
}

// Verify checks the signature, algorithm and expiry of token. Every failure
// wraps ErrUnauthenticated.
func (s *TokenService) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	principal := Principal{
		Identity:  claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		principal.IssuedAt = claims.IssuedAt.Time
	}
	return principal, nil
}
