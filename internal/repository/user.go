package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/selah/selah/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
)

const userColumns = `id, auth_id, email, account_kind, role, created_at, updated_at`

// GetOrCreateUserByAuthID returns the user for an external auth subject,
// creating an individual account on first sight. A changed email is synced.
func (r *Repository) GetOrCreateUserByAuthID(ctx context.Context, authID, email string) (*model.User, error) {
	query := `
		INSERT INTO users (id, auth_id, email, account_kind, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (auth_id) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END,
		    updated_at = CASE WHEN EXCLUDED.email <> '' AND EXCLUDED.email <> users.email
		                      THEN NOW() ELSE users.updated_at END
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query,
		ulid.Make().String(),
		authID,
		email,
		model.AccountIndividual,
		model.RoleUser,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}

	return user, nil
}

// FindUserByID returns the user or nil if none exists.
func (r *Repository) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return user, nil
}

// FindUserByEmail returns the user with the given email or nil.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return user, nil
}

// UpdateAccountKind changes a user's account kind.
func (r *Repository) UpdateAccountKind(ctx context.Context, id string, kind model.AccountKind) (*model.User, error) {
	query := `
		UPDATE users SET account_kind = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update account kind: %w", err)
	}

	return user, nil
}

// SetUserRole changes a user's platform role.
func (r *Repository) SetUserRole(ctx context.Context, id string, role model.UserRole) (*model.User, error) {
	query := `
		UPDATE users SET role = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to set user role: %w", err)
	}

	return user, nil
}

// ListUsers returns users newest first.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.AuthID,
		&user.Email,
		&user.AccountKind,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
