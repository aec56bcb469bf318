package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/selah/selah/internal/handler/dto"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/service"
)

// Organisations is the organisation use case surface. *service.OrganisationService implements it.
type Organisations interface {
	UpgradeAccount(ctx context.Context, user *model.User) (*model.User, error)
	Create(ctx context.Context, user *model.User, name, description string) (*model.Organisation, error)
	List(ctx context.Context, user *model.User) ([]*model.Organisation, error)
	Dashboard(ctx context.Context, user *model.User, orgID string) (*service.Dashboard, error)
	ListMembers(ctx context.Context, user *model.User, orgID string) ([]*model.MemberWithUser, error)
	AddMember(ctx context.Context, user *model.User, orgID, email string, role model.MembershipRole) (*model.OrganisationMembership, error)
	ChangeMemberRole(ctx context.Context, user *model.User, orgID, memberID string, role model.MembershipRole) (*model.OrganisationMembership, error)
	RemoveMember(ctx context.Context, user *model.User, orgID, memberID string) error
	CreateInvite(ctx context.Context, user *model.User, orgID, email string, role model.MembershipRole) (*service.CreatedInvite, error)
	AcceptInvite(ctx context.Context, user *model.User, token string) (*model.OrganisationMembership, error)
	CreateTemplate(ctx context.Context, user *model.User, orgID string, input service.TemplateInput) (*model.ExperimentTemplate, error)
	ListTemplates(ctx context.Context, user *model.User, orgID string) ([]*model.ExperimentTemplate, error)
	UseTemplate(ctx context.Context, user *model.User, orgID, templateID string) (*service.ExperimentDetail, error)
}

// OrganisationHandler handles HTTP requests for organisations, members,
// invitations and templates.
type OrganisationHandler struct {
	svc    Organisations
	logger *slog.Logger
	errs   errorMapper
}

// NewOrganisationHandler creates a new OrganisationHandler.
func NewOrganisationHandler(svc Organisations, logger *slog.Logger) *OrganisationHandler {
	return &OrganisationHandler{
		svc:    svc,
		logger: logger,
		errs:   errorMapper{logger: logger},
	}
}

// Me handles GET /api/v1/me.
func (h *OrganisationHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Upgrade handles POST /api/v1/me/upgrade.
func (h *OrganisationHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	updated, err := h.svc.UpgradeAccount(r.Context(), user)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("account_upgraded", "user_id", updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

// Create handles POST /api/v1/organisations.
func (h *OrganisationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CreateOrganisationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	org, err := h.svc.Create(r.Context(), user, req.Name, req.Description)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("organisation_created",
		"organisation_id", org.ID,
		"creator_id", user.ID,
	)
	writeJSON(w, http.StatusCreated, org)
}

// List handles GET /api/v1/organisations.
func (h *OrganisationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orgs, err := h.svc.List(r.Context(), user)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []*model.Organisation{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: orgs})
}

// Dashboard handles GET /api/v1/organisations/{id}.
func (h *OrganisationHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	d, err := h.svc.Dashboard(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	resp := dto.DashboardResponse{
		Organisation: d.Organisation,
		Members:      d.Members,
		Templates:    d.Templates,
	}
	if resp.Members == nil {
		resp.Members = []*model.MemberWithUser{}
	}
	if resp.Templates == nil {
		resp.Templates = []*model.ExperimentTemplate{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMembers handles GET /api/v1/organisations/{id}/members.
func (h *OrganisationHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	members, err := h.svc.ListMembers(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if members == nil {
		members = []*model.MemberWithUser{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: members})
}

// AddMember handles POST /api/v1/organisations/{id}/members.
func (h *OrganisationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.MemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.svc.AddMember(r.Context(), user, chi.URLParam(r, "id"), req.Email, req.Role)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("member_added",
		"organisation_id", m.OrganisationID,
		"user_id", m.UserID,
		"role", m.Role,
	)
	writeJSON(w, http.StatusCreated, m)
}

// ChangeMemberRole handles PATCH /api/v1/organisations/{id}/members/{userId}.
func (h *OrganisationHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.svc.ChangeMemberRole(r.Context(), user, chi.URLParam(r, "id"), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RemoveMember handles DELETE /api/v1/organisations/{id}/members/{userId}.
func (h *OrganisationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	orgID, memberID := chi.URLParam(r, "id"), chi.URLParam(r, "userId")
	if err := h.svc.RemoveMember(r.Context(), user, orgID, memberID); err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("member_removed",
		"organisation_id", orgID,
		"user_id", memberID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// CreateInvite handles POST /api/v1/organisations/{id}/invites.
func (h *OrganisationHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.MemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.svc.CreateInvite(r.Context(), user, chi.URLParam(r, "id"), req.Email, req.Role)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}

	h.logger.Info("invite_created",
		"organisation_id", created.Invite.OrganisationID,
		"invite_id", created.Invite.ID,
		"token_prefix", created.Invite.TokenPrefix,
	)
	writeJSON(w, http.StatusCreated, dto.InviteResponse{Invite: created.Invite, Token: created.Token})
}

// AcceptInvite handles POST /api/v1/invites/accept.
func (h *OrganisationHandler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.AcceptInviteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	m, err := h.svc.AcceptInvite(r.Context(), user, req.Token)
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateTemplate handles POST /api/v1/organisations/{id}/templates.
func (h *OrganisationHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req dto.CreateTemplateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tpl, err := h.svc.CreateTemplate(r.Context(), user, chi.URLParam(r, "id"), service.TemplateInput{
		ExperimentInput: experimentInput(req.CreateExperimentRequest),
		Fields:          fieldInputs(req.Fields),
	})
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// ListTemplates handles GET /api/v1/organisations/{id}/templates.
func (h *OrganisationHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	templates, err := h.svc.ListTemplates(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	if templates == nil {
		templates = []*model.ExperimentTemplate{}
	}
	writeJSON(w, http.StatusOK, dto.ListResponse{Data: templates})
}

// UseTemplate handles POST /api/v1/organisations/{id}/templates/{templateId}/use.
func (h *OrganisationHandler) UseTemplate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.UseTemplate(r.Context(), user, chi.URLParam(r, "id"), chi.URLParam(r, "templateId"))
	if err != nil {
		h.errs.handle(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, detailResponse(detail))
}
