package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeAdmin is the only capability currently issued.
const ScopeAdmin = "admin"

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims is the payload of a capability token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// CapabilityService issues and validates short-lived capability tokens.
type CapabilityService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCapabilityService creates a token service signing with secret.
func NewCapabilityService(secret string, ttl time.Duration) *CapabilityService {
	return &CapabilityService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a token granting scope, returning it with its expiry.
func (s *CapabilityService) Issue(scope string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Validate parses a token and checks that it grants scope.
func (s *CapabilityService) Validate(tokenString, scope string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Scope != scope {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
