// Package access decides whether a user may act on organisation and experiment resources.
//
// Every decision is made from role and ownership facts already persisted.
// Absence of a user is always reported as ErrUnauthenticated before any lookup.
// Experiment ownership failures are reported as ErrNotFound so callers cannot
// distinguish "not yours" from "does not exist".
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/selah/selah/internal/model"
)

// Decision errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("insufficient permissions")
	ErrNotFound        = errors.New("resource not found")
)

// MembershipStore looks up membership rows.
// FindMembership returns nil, nil when the pair has no row.
type MembershipStore interface {
	FindMembership(ctx context.Context, orgID, userID string) (*model.OrganisationMembership, error)
	CountMembershipsByUser(ctx context.Context, userID string) (int, error)
}

// ExperimentStore looks up experiments.
// FindExperiment returns nil, nil when no experiment has the id.
type ExperimentStore interface {
	FindExperiment(ctx context.Context, id string) (*model.Experiment, error)
}

// CanAccessOrg reports whether user may read an organisation given its membership row (nil if none).
func CanAccessOrg(user *model.User, membership *model.OrganisationMembership) bool {
	if user == nil {
		return false
	}
	if user.IsSuperAdmin() {
		return true
	}
	return membership != nil && membership.UserID == user.ID
}

// CanActAsOrgAdmin reports whether user may perform write operations on an organisation.
func CanActAsOrgAdmin(user *model.User, membership *model.OrganisationMembership) bool {
	if user == nil {
		return false
	}
	if user.IsSuperAdmin() {
		return true
	}
	if membership == nil || membership.UserID != user.ID {
		return false
	}
	switch membership.Role {
	case model.MemberRoleOrgAdmin:
		return true
	case model.MemberRoleTeamManager, model.MemberRoleMember:
		return false
	default:
		return false
	}
}

// CanAccessOrgPortal reports whether user may enter the organisation section at all.
func CanAccessOrgPortal(user *model.User, membershipCount int) bool {
	if user == nil {
		return false
	}
	return user.IsSuperAdmin() || membershipCount > 0
}

// Evaluator resolves facts from storage and applies the predicates above.
type Evaluator struct {
	memberships MembershipStore
	experiments ExperimentStore
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(memberships MembershipStore, experiments ExperimentStore) *Evaluator {
	return &Evaluator{
		memberships: memberships,
		experiments: experiments,
	}
}

// CanAccessOrg reports whether user may read the dashboard of orgID.
func (e *Evaluator) CanAccessOrg(ctx context.Context, user *model.User, orgID string) (bool, error) {
	if user == nil {
		return false, ErrUnauthenticated
	}
	if user.IsSuperAdmin() {
		return true, nil
	}
	m, err := e.memberships.FindMembership(ctx, orgID, user.ID)
	if err != nil {
		return false, fmt.Errorf("find membership: %w", err)
	}
	return CanAccessOrg(user, m), nil
}

// CanActAsOrgAdmin reports whether user may manage members and templates of orgID.
func (e *Evaluator) CanActAsOrgAdmin(ctx context.Context, user *model.User, orgID string) (bool, error) {
	if user == nil {
		return false, ErrUnauthenticated
	}
	if user.IsSuperAdmin() {
		return true, nil
	}
	m, err := e.memberships.FindMembership(ctx, orgID, user.ID)
	if err != nil {
		return false, fmt.Errorf("find membership: %w", err)
	}
	return CanActAsOrgAdmin(user, m), nil
}

// CanAccessOrgPortal reports whether user holds any membership or the elevated role.
func (e *Evaluator) CanAccessOrgPortal(ctx context.Context, user *model.User) (bool, error) {
	if user == nil {
		return false, ErrUnauthenticated
	}
	if user.IsSuperAdmin() {
		return true, nil
	}
	n, err := e.memberships.CountMembershipsByUser(ctx, user.ID)
	if err != nil {
		return false, fmt.Errorf("count memberships: %w", err)
	}
	return CanAccessOrgPortal(user, n), nil
}

// RequireOrgAccess returns ErrForbidden unless CanAccessOrg holds.
func (e *Evaluator) RequireOrgAccess(ctx context.Context, user *model.User, orgID string) error {
	return require(e.CanAccessOrg(ctx, user, orgID))
}

// RequireOrgAdmin returns ErrForbidden unless CanActAsOrgAdmin holds.
func (e *Evaluator) RequireOrgAdmin(ctx context.Context, user *model.User, orgID string) error {
	return require(e.CanActAsOrgAdmin(ctx, user, orgID))
}

// RequireOrgPortal returns ErrForbidden unless CanAccessOrgPortal holds.
func (e *Evaluator) RequireOrgPortal(ctx context.Context, user *model.User) error {
	return require(e.CanAccessOrgPortal(ctx, user))
}

// RequireExperimentOwner returns the experiment iff user owns it.
// A missing experiment and a foreign experiment both yield ErrNotFound.
func (e *Evaluator) RequireExperimentOwner(ctx context.Context, experimentID string, user *model.User) (*model.Experiment, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if experimentID == "" {
		return nil, ErrNotFound
	}
	exp, err := e.experiments.FindExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("find experiment: %w", err)
	}
	if exp == nil || !exp.IsOwnedBy(user.ID) {
		return nil, ErrNotFound
	}
	return exp, nil
}

// RequireSuperAdmin returns nil iff the user's persisted role is the elevated sentinel.
func RequireSuperAdmin(user *model.User) error {
	if user == nil {
		return ErrUnauthenticated
	}
	if !user.IsSuperAdmin() {
		return ErrForbidden
	}
	return nil
}

func require(ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}
