package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSession is returned for tokens that fail parsing or verification.
	ErrInvalidSession = errors.New("invalid session token")
	// ErrMissingSecret is returned when the session secret is not configured.
	ErrMissingSecret = errors.New("session secret is not set")
)

const (
	// DefaultSessionTTL is the lifetime of issued session tokens.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// Issuer is the iss claim of tokens minted by the auth bridge.
	Issuer = "selah"
)

// SessionClaims are the claims carried by a session token. Subject is the
// external auth provider's user ID.
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Sessions issues and verifies HS256 session tokens.
type Sessions struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSessions creates a session codec.
func NewSessions(secret, issuer string, ttl time.Duration) (*Sessions, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{secret: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// Issue signs a session token for the given auth subject.
func (s *Sessions) Issue(subject, email string, now time.Time) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("session subject is required")
	}
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Parse verifies a session token and returns its claims.
func (s *Sessions) Parse(tokenString string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return claims, nil
}
