package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/model"
)

// SessionParser validates a session token and returns its claims.
type SessionParser interface {
	Parse(token string) (*auth.SessionClaims, error)
}

// UserResolver maps an auth subject to the local user, creating it on first sight.
type UserResolver interface {
	GetOrCreateUserByAuthID(ctx context.Context, authID, email string) (*model.User, error)
}

// IdentityCache caches resolved users by session token.
// GetUser returns nil, nil on a miss.
type IdentityCache interface {
	GetUser(ctx context.Context, token string) (*model.User, error)
	SetUser(ctx context.Context, token string, user *model.User) error
}

// IdentityService turns a session token into the persisted user.
type IdentityService struct {
	sessions SessionParser
	users    UserResolver
	cache    IdentityCache
	logger   *slog.Logger
}

// NewIdentityService creates a new IdentityService. identityCache may be nil.
func NewIdentityService(sessions SessionParser, users UserResolver, identityCache IdentityCache, logger *slog.Logger) *IdentityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityService{
		sessions: sessions,
		users:    users,
		cache:    identityCache,
		logger:   logger.With("component", "identity"),
	}
}

// Resolve validates token and returns its user. Invalid or expired tokens
// yield ErrUnauthenticated.
func (s *IdentityService) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	// Parse before the cache lookup so an expired token never hits a cached entry.
	claims, err := s.sessions.Parse(token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}

	if s.cache != nil {
		user, err := s.cache.GetUser(ctx, token)
		if err != nil {
			s.logger.Warn("identity cache read failed", "error", err)
		}
		if user != nil && user.AuthID == claims.Subject {
			return user, nil
		}
	}

	user, err := s.users.GetOrCreateUserByAuthID(ctx, claims.Subject, strings.ToLower(strings.TrimSpace(claims.Email)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetUser(ctx, token, user); err != nil {
			s.logger.Warn("identity cache write failed", "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}
