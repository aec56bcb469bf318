package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/selah/selah/internal/model"
)

// Common errors for invite repository operations.
var (
	ErrInviteNotFound = errors.New("invite not found")
)

// CreateInvite stores an invitation. Only the token hash is persisted.
func (r *Repository) CreateInvite(ctx context.Context, inv *model.OrganisationInvite) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO organisation_invites
			(id, organisation_id, email, role, token_hash, token_prefix, invited_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		inv.ID,
		inv.OrganisationID,
		inv.Email,
		inv.Role,
		inv.TokenHash,
		inv.TokenPrefix,
		inv.InvitedBy,
		inv.ExpiresAt,
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", err)
	}
	return nil
}

// ListPendingInvitesByPrefix returns unaccepted invites whose token shares
// prefix. Callers verify the full token against each hash.
func (r *Repository) ListPendingInvitesByPrefix(ctx context.Context, prefix string) ([]*model.OrganisationInvite, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organisation_id, email, role, token_hash, token_prefix, invited_by, expires_at, accepted_at, created_at
		FROM organisation_invites
		WHERE token_prefix = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]*model.OrganisationInvite, 0)
	for rows.Next() {
		var inv model.OrganisationInvite
		err := rows.Scan(
			&inv.ID,
			&inv.OrganisationID,
			&inv.Email,
			&inv.Role,
			&inv.TokenHash,
			&inv.TokenPrefix,
			&inv.InvitedBy,
			&inv.ExpiresAt,
			&inv.AcceptedAt,
			&inv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invites: %w", err)
	}
	return invites, nil
}

// AcceptInvite marks the invite accepted and grants the membership in one
// transaction. An existing membership keeps the higher of the two roles.
// Returns ErrInviteNotFound if the invite was already accepted.
func (r *Repository) AcceptInvite(ctx context.Context, inv *model.OrganisationInvite, userID string, at time.Time) (*model.OrganisationMembership, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		UPDATE organisation_invites SET accepted_at = $2
		WHERE id = $1 AND accepted_at IS NULL
	`, inv.ID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invite accepted: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, ErrInviteNotFound
	}

	var m model.OrganisationMembership
	err = tx.QueryRow(ctx, `
		INSERT INTO organisation_memberships (organisation_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organisation_id, user_id) DO UPDATE
		SET role = CASE
			WHEN array_position(ARRAY['member','team_manager','org_admin'], EXCLUDED.role::text)
			   > array_position(ARRAY['member','team_manager','org_admin'], organisation_memberships.role::text)
			THEN EXCLUDED.role ELSE organisation_memberships.role END
		RETURNING organisation_id, user_id, role, created_at
	`, inv.OrganisationID, userID, inv.Role, at).Scan(&m.OrganisationID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to grant membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invite acceptance: %w", err)
	}
	return &m, nil
}
