// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"encoding/json"
	"time"

	"github.com/selah/selah/internal/model"
)

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// ListResponse wraps a collection.
type ListResponse struct {
	Data any `json:"data"`
}

// CreateExperimentRequest represents the request body for creating an experiment.
type CreateExperimentRequest struct {
	Title        string          `json:"title"`
	Hypothesis   string          `json:"hypothesis,omitempty"`
	DurationDays int             `json:"duration_days,omitempty"`
	Frequency    model.Frequency `json:"frequency,omitempty"`
}

// UpdateExperimentRequest represents a partial metadata update.
type UpdateExperimentRequest struct {
	Title        *string          `json:"title,omitempty"`
	Hypothesis   *string          `json:"hypothesis,omitempty"`
	DurationDays *int             `json:"duration_days,omitempty"`
	Frequency    *model.Frequency `json:"frequency,omitempty"`
}

// FieldRequest describes one field definition.
type FieldRequest struct {
	Label    string            `json:"label"`
	Type     model.FieldType   `json:"type"`
	Required bool              `json:"required,omitempty"`
	Config   model.FieldConfig `json:"config"`
}

// ReplaceFieldsRequest replaces the whole field list of a draft experiment.
type ReplaceFieldsRequest struct {
	Fields []FieldRequest `json:"fields"`
}

// ExperimentDetailResponse is an experiment with its fields and reminder state.
type ExperimentDetailResponse struct {
	Experiment *model.Experiment         `json:"experiment"`
	Fields     []model.ExperimentField   `json:"fields"`
	Reminder   *model.ExperimentReminder `json:"reminder,omitempty"`
}

// CheckInRequest is one day's submission. Date is "YYYY-MM-DD" or RFC 3339;
// empty means today (UTC).
type CheckInRequest struct {
	Date      string                     `json:"date,omitempty"`
	Note      string                     `json:"note,omitempty"`
	Responses map[string]json.RawMessage `json:"responses"`
}

// CheckInResponse is the stored check-in.
type CheckInResponse struct {
	CheckIn *model.ExperimentCheckIn `json:"check_in"`
	Created bool                     `json:"created"`
}

// SnoozeRequest suppresses reminders until an instant or for a number of hours.
type SnoozeRequest struct {
	Until *time.Time `json:"until,omitempty"`
	Hours int        `json:"hours,omitempty"`
}

// CreateOrganisationRequest represents the request body for creating an organisation.
type CreateOrganisationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// MemberRequest adds a member or invites one by email.
type MemberRequest struct {
	Email string               `json:"email"`
	Role  model.MembershipRole `json:"role"`
}

// RoleRequest changes a membership role.
type RoleRequest struct {
	Role model.MembershipRole `json:"role"`
}

// UserRoleRequest changes a global user role.
type UserRoleRequest struct {
	Role model.UserRole `json:"role"`
}

// InviteResponse returns a created invitation. Token is shown only once.
type InviteResponse struct {
	Invite *model.OrganisationInvite `json:"invite"`
	Token  string                    `json:"token"`
}

// AcceptInviteRequest redeems an invitation token.
type AcceptInviteRequest struct {
	Token string `json:"token"`
}

// CreateTemplateRequest represents the request body for creating a template.
type CreateTemplateRequest struct {
	CreateExperimentRequest
	Fields []FieldRequest `json:"fields"`
}

// DashboardResponse is the organisation overview.
type DashboardResponse struct {
	Organisation *model.Organisation         `json:"organisation"`
	Members      []*model.MemberWithUser     `json:"members"`
	Templates    []*model.ExperimentTemplate `json:"templates"`
}
