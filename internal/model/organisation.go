package model

import "time"

// MembershipRole is a user's permission level within one organisation.
type MembershipRole string

const (
	MemberRoleMember      MembershipRole = "member"
	MemberRoleTeamManager MembershipRole = "team_manager"
	MemberRoleOrgAdmin    MembershipRole = "org_admin"
)

// ValidMembershipRoles contains all valid membership roles, lowest first.
var ValidMembershipRoles = []MembershipRole{MemberRoleMember, MemberRoleTeamManager, MemberRoleOrgAdmin}

// IsValid checks if the membership role is known.
func (r MembershipRole) IsValid() bool {
	switch r {
	case MemberRoleMember, MemberRoleTeamManager, MemberRoleOrgAdmin:
		return true
	default:
		return false
	}
}

// Rank orders roles by privilege. Unknown roles rank below member.
func (r MembershipRole) Rank() int {
	switch r {
	case MemberRoleMember:
		return 1
	case MemberRoleTeamManager:
		return 2
	case MemberRoleOrgAdmin:
		return 3
	default:
		return 0
	}
}

// Organisation groups users under shared templates and dashboards.
type Organisation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OrganisationMembership is unique per (organisation, user).
type OrganisationMembership struct {
	OrganisationID string         `json:"organisation_id"`
	UserID         string         `json:"user_id"`
	Role           MembershipRole `json:"role"`
	CreatedAt      time.Time      `json:"created_at"`
}

// MemberWithUser joins a membership with the member's contact details.
type MemberWithUser struct {
	OrganisationMembership
	Email string `json:"email"`
}

// OrganisationInvite is a pending invitation redeemed with a one-time token.
type OrganisationInvite struct {
	ID             string         `json:"id"`
	OrganisationID string         `json:"organisation_id"`
	Email          string         `json:"email"`
	Role           MembershipRole `json:"role"`
	TokenHash      string         `json:"-"` // Never serialize
	TokenPrefix    string         `json:"token_prefix"`
	InvitedBy      string         `json:"invited_by"`
	ExpiresAt      time.Time      `json:"expires_at"`
	AcceptedAt     *time.Time     `json:"accepted_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsRedeemable returns true if the invite was not accepted and has not expired.
func (i *OrganisationInvite) IsRedeemable(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// ExperimentTemplate is an organisation-managed blueprint for experiments.
type ExperimentTemplate struct {
	ID             string            `json:"id"`
	OrganisationID string            `json:"organisation_id"`
	Title          string            `json:"title"`
	Hypothesis     string            `json:"hypothesis,omitempty"`
	DurationDays   int               `json:"duration_days,omitempty"`
	Frequency      Frequency         `json:"frequency"`
	Fields         []ExperimentField `json:"fields"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
}
