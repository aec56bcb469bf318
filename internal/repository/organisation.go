package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/selah/selah/internal/model"
)

// Common errors for organisation repository operations.
var (
	ErrOrganisationNotFound = errors.New("organisation not found")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrMembershipExists     = errors.New("user is already a member")
	ErrLastOrgAdmin         = errors.New("organisation must keep at least one org admin")
)

const organisationColumns = `o.id, o.name, o.description, o.creator_id, o.created_at, o.updated_at`

// CreateOrganisation inserts the organisation and its creator's org_admin
// membership in one transaction.
func (r *Repository) CreateOrganisation(ctx context.Context, org *model.Organisation, creator *model.OrganisationMembership) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO organisations (id, name, description, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, org.ID, org.Name, org.Description, org.CreatorID, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organisation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO organisation_memberships (organisation_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, creator.OrganisationID, creator.UserID, creator.Role, creator.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create creator membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit organisation: %w", err)
	}
	return nil
}

// FindOrganisation returns the organisation or nil.
func (r *Repository) FindOrganisation(ctx context.Context, id string) (*model.Organisation, error) {
	query := `SELECT ` + organisationColumns + ` FROM organisations o WHERE o.id = $1`

	org, err := scanOrganisation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	return org, nil
}

// ListOrganisationsByMember returns organisations the user belongs to.
func (r *Repository) ListOrganisationsByMember(ctx context.Context, userID string) ([]*model.Organisation, error) {
	query := `
		SELECT ` + organisationColumns + `
		FROM organisations o
		JOIN organisation_memberships m ON m.organisation_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name, o.id
	`
	return r.queryOrganisations(ctx, query, userID)
}

// ListOrganisations returns every organisation. Used for super admins.
func (r *Repository) ListOrganisations(ctx context.Context) ([]*model.Organisation, error) {
	query := `SELECT ` + organisationColumns + ` FROM organisations o ORDER BY o.name, o.id`
	return r.queryOrganisations(ctx, query)
}

func (r *Repository) queryOrganisations(ctx context.Context, query string, args ...any) ([]*model.Organisation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organisations: %w", err)
	}
	defer rows.Close()

	orgs := make([]*model.Organisation, 0)
	for rows.Next() {
		org, err := scanOrganisation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organisation: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organisations: %w", err)
	}
	return orgs, nil
}

// FindMembership returns the membership of userID in orgID, or nil.
func (r *Repository) FindMembership(ctx context.Context, orgID, userID string) (*model.OrganisationMembership, error) {
	query := `
		SELECT organisation_id, user_id, role, created_at
		FROM organisation_memberships
		WHERE organisation_id = $1 AND user_id = $2
	`

	var m model.OrganisationMembership
	err := r.pool.QueryRow(ctx, query, orgID, userID).Scan(&m.OrganisationID, &m.UserID, &m.Role, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// CountMembershipsByUser returns how many organisations the user belongs to.
func (r *Repository) CountMembershipsByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organisation_memberships WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return n, nil
}

// ListMembers returns an organisation's members with their email.
func (r *Repository) ListMembers(ctx context.Context, orgID string) ([]*model.MemberWithUser, error) {
	query := `
		SELECT m.organisation_id, m.user_id, m.role, m.created_at, u.email
		FROM organisation_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.organisation_id = $1
		ORDER BY m.created_at, m.user_id
	`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*model.MemberWithUser, 0)
	for rows.Next() {
		var m model.MemberWithUser
		if err := rows.Scan(&m.OrganisationID, &m.UserID, &m.Role, &m.CreatedAt, &m.Email); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// AddMembership inserts a membership.
func (r *Repository) AddMembership(ctx context.Context, m *model.OrganisationMembership) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO organisation_memberships (organisation_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.OrganisationID, m.UserID, m.Role, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMembershipExists
		}
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// UpdateMembershipRole changes a member's role. Demoting the last org_admin
// returns ErrLastOrgAdmin.
func (r *Repository) UpdateMembershipRole(ctx context.Context, orgID, userID string, role model.MembershipRole) error {
	return r.changeMembership(ctx, orgID, userID, role != model.MemberRoleOrgAdmin, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			UPDATE organisation_memberships SET role = $3
			WHERE organisation_id = $1 AND user_id = $2
		`, orgID, userID, role)
	})
}

// RemoveMembership deletes a membership. Removing the last org_admin
// returns ErrLastOrgAdmin.
func (r *Repository) RemoveMembership(ctx context.Context, orgID, userID string) error {
	return r.changeMembership(ctx, orgID, userID, true, func(tx pgx.Tx) (pgconn.CommandTag, error) {
		return tx.Exec(ctx, `
			DELETE FROM organisation_memberships
			WHERE organisation_id = $1 AND user_id = $2
		`, orgID, userID)
	})
}

// changeMembership applies a membership write under a lock on the
// organisation row, so concurrent admin changes see each other's result
// before the last-admin check.
func (r *Repository) changeMembership(ctx context.Context, orgID, userID string, dropsAdmin bool, apply func(pgx.Tx) (pgconn.CommandTag, error)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT 1 FROM organisations WHERE id = $1 FOR UPDATE`, orgID); err != nil {
		return fmt.Errorf("failed to lock organisation: %w", err)
	}

	var current model.MembershipRole
	err = tx.QueryRow(ctx, `
		SELECT role FROM organisation_memberships
		WHERE organisation_id = $1 AND user_id = $2
	`, orgID, userID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMembershipNotFound
		}
		return fmt.Errorf("failed to get membership: %w", err)
	}

	if dropsAdmin && current == model.MemberRoleOrgAdmin {
		var admins int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM organisation_memberships
			WHERE organisation_id = $1 AND role = $2
		`, orgID, model.MemberRoleOrgAdmin).Scan(&admins)
		if err != nil {
			return fmt.Errorf("failed to count org admins: %w", err)
		}
		if admins <= 1 {
			return ErrLastOrgAdmin
		}
	}

	result, err := apply(tx)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit membership change: %w", err)
	}
	return nil
}

func scanOrganisation(row pgx.Row) (*model.Organisation, error) {
	var org model.Organisation
	err := row.Scan(&org.ID, &org.Name, &org.Description, &org.CreatorID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &org, nil
}
