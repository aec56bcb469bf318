// Package model defines domain entities for the application.
package model

import "time"

// AccountKind distinguishes personal accounts from accounts allowed to own organisations.
type AccountKind string

const (
	AccountIndividual   AccountKind = "individual"
	AccountOrganisation AccountKind = "organisation"
)

// IsValid checks if the account kind is known.
func (k AccountKind) IsValid() bool {
	return k == AccountIndividual || k == AccountOrganisation
}

// UserRole is the global, organisation-independent role of a user.
type UserRole string

const (
	RoleUser       UserRole = "user"
	// RoleSuperAdmin is the elevated sentinel value.
	RoleSuperAdmin UserRole = "super_admin"
)

// IsValid checks if the role is known.
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleSuperAdmin
}

// User is an identity created on the first authenticated request.
type User struct {
	ID          string      `json:"id"`
	AuthID      string      `json:"-"` // external auth provider subject
	Email       string      `json:"email"`
	AccountKind AccountKind `json:"account_kind"`
	Role        UserRole    `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsSuperAdmin reports whether the user carries the elevated role.
func (u *User) IsSuperAdmin() bool {
	return u != nil && u.Role == RoleSuperAdmin
}

// CanOwnOrganisations reports whether the account was upgraded to an organisation account.
func (u *User) CanOwnOrganisations() bool {
	return u != nil && u.AccountKind == AccountOrganisation
}
