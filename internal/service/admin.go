package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/selah/selah/internal/access"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/repository"
)

const (
	defaultUserPage = 50
	maxUserPage     = 200
)

// AdminStore lists and updates users for platform administration.
type AdminStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*model.User, error)
	SetUserRole(ctx context.Context, id string, role model.UserRole) (*model.User, error)
}

// AdminService exposes super admin operations.
type AdminService struct {
	store      AdminStore
	identities IdentityInvalidator
	logger     *slog.Logger
}

// NewAdminService creates a new AdminService. identities may be nil.
func NewAdminService(store AdminStore, identities IdentityInvalidator, logger *slog.Logger) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		store:      store,
		identities: identities,
		logger:     logger.With("component", "admin"),
	}
}

// ListUsers returns a page of users.
func (s *AdminService) ListUsers(ctx context.Context, user *model.User, limit, offset int) ([]*model.User, error) {
	if err := access.RequireSuperAdmin(user); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultUserPage
	}
	if limit > maxUserPage {
		limit = maxUserPage
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.store.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// SetUserRole grants or revokes the super admin role. A super admin cannot
// demote themselves.
func (s *AdminService) SetUserRole(ctx context.Context, user *model.User, targetID string, role model.UserRole) (*model.User, error) {
	if err := access.RequireSuperAdmin(user); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, invalid("role", "must be one of user, super_admin")
	}
	if targetID == user.ID && role != model.RoleSuperAdmin {
		return nil, invalid("role", "cannot remove your own super admin role")
	}

	updated, err := s.store.SetUserRole(ctx, targetID, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to set user role: %w", err)
	}

	if s.identities != nil {
		if err := s.identities.InvalidateUser(ctx, updated.ID); err != nil {
			s.logger.Warn("identity cache invalidation failed", "user_id", updated.ID, "error", err)
		}
	}
	s.logger.Info("user role changed",
		"actor_id", user.ID,
		"user_id", updated.ID,
		"role", updated.Role,
	)
	return updated, nil
}
