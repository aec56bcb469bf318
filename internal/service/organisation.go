package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/repository"
)

const (
	// DefaultInviteTTL is how long an invitation stays redeemable.
	DefaultInviteTTL        = 7 * 24 * time.Hour
	maxOrgNameLength        = 120
	maxOrgDescriptionLength = 1000
)

// OrganisationStore persists organisations, memberships, invitations and templates.
type OrganisationStore interface {
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateAccountKind(ctx context.Context, id string, kind model.AccountKind) (*model.User, error)

	CreateOrganisation(ctx context.Context, org *model.Organisation, creator *model.OrganisationMembership) error
	FindOrganisation(ctx context.Context, id string) (*model.Organisation, error)
	ListOrganisations(ctx context.Context) ([]*model.Organisation, error)
	ListOrganisationsByMember(ctx context.Context, userID string) ([]*model.Organisation, error)

	FindMembership(ctx context.Context, orgID, userID string) (*model.OrganisationMembership, error)
	ListMembers(ctx context.Context, orgID string) ([]*model.MemberWithUser, error)
	AddMembership(ctx context.Context, m *model.OrganisationMembership) error
	UpdateMembershipRole(ctx context.Context, orgID, userID string, role model.MembershipRole) error
	RemoveMembership(ctx context.Context, orgID, userID string) error

	CreateInvite(ctx context.Context, inv *model.OrganisationInvite) error
	ListPendingInvitesByPrefix(ctx context.Context, prefix string) ([]*model.OrganisationInvite, error)
	AcceptInvite(ctx context.Context, inv *model.OrganisationInvite, userID string, at time.Time) (*model.OrganisationMembership, error)

	CreateTemplate(ctx context.Context, tpl *model.ExperimentTemplate) error
	ListTemplates(ctx context.Context, orgID string) ([]*model.ExperimentTemplate, error)
	FindTemplate(ctx context.Context, orgID, id string) (*model.ExperimentTemplate, error)

	CreateExperiment(ctx context.Context, exp *model.Experiment) error
	ReplaceFields(ctx context.Context, experimentID string, fields []model.ExperimentField) error
}

// OrgAuthorizer decides organisation-level access.
type OrgAuthorizer interface {
	RequireOrgAccess(ctx context.Context, user *model.User, orgID string) error
	RequireOrgAdmin(ctx context.Context, user *model.User, orgID string) error
	RequireOrgPortal(ctx context.Context, user *model.User) error
}

// IdentityInvalidator drops cached identities of a user.
type IdentityInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// OrganisationService handles organisation business logic.
type OrganisationService struct {
	store      OrganisationStore
	access     OrgAuthorizer
	identities IdentityInvalidator
	inviteTTL  time.Duration
	metrics    metrics.Recorder
	logger     *slog.Logger
	now        clock
}

// OrganisationServiceConfig groups OrganisationService dependencies.
type OrganisationServiceConfig struct {
	Store      OrganisationStore
	Access     OrgAuthorizer
	Identities IdentityInvalidator
	InviteTTL  time.Duration
	Metrics    metrics.Recorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewOrganisationService creates a new OrganisationService.
func NewOrganisationService(cfg OrganisationServiceConfig) *OrganisationService {
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = DefaultInviteTTL
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OrganisationService{
		store:      cfg.Store,
		access:     cfg.Access,
		identities: cfg.Identities,
		inviteTTL:  cfg.InviteTTL,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With("component", "organisations"),
		now:        cfg.Now,
	}
}

// Dashboard is the organisation overview shown to members.
type Dashboard struct {
	Organisation *model.Organisation
	Members      []*model.MemberWithUser
	Templates    []*model.ExperimentTemplate
}

// CreatedInvite is a stored invitation plus the plaintext token, shown once.
type CreatedInvite struct {
	Invite *model.OrganisationInvite
	Token  string
}

// TemplateInput describes a new experiment template.
type TemplateInput struct {
	ExperimentInput
	Fields []FieldInput
}

// UpgradeAccount converts the user to an organisation account. Upgrading
// twice is a no-op.
func (s *OrganisationService) UpgradeAccount(ctx context.Context, user *model.User) (*model.User, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if user.CanOwnOrganisations() {
		return user, nil
	}
	updated, err := s.store.UpdateAccountKind(ctx, user.ID, model.AccountOrganisation)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to upgrade account: %w", err)
	}
	s.forgetIdentity(ctx, user.ID)
	return updated, nil
}

// Create creates an organisation and makes the creator its org admin.
func (s *OrganisationService) Create(ctx context.Context, user *model.User, name, description string) (*model.Organisation, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if !user.CanOwnOrganisations() && !user.IsSuperAdmin() {
		return nil, ErrNotOrganisation
	}

	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	if len(name) > maxOrgNameLength {
		return nil, invalid("name", "must be at most %d characters", maxOrgNameLength)
	}
	if len(description) > maxOrgDescriptionLength {
		return nil, invalid("description", "must be at most %d characters", maxOrgDescriptionLength)
	}

	now := s.now.now()
	org := &model.Organisation{
		ID:          newID(),
		Name:        name,
		Description: description,
		CreatorID:   user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	creator := &model.OrganisationMembership{
		OrganisationID: org.ID,
		UserID:         user.ID,
		Role:           model.MemberRoleOrgAdmin,
		CreatedAt:      now,
	}
	if err := s.store.CreateOrganisation(ctx, org, creator); err != nil {
		return nil, fmt.Errorf("failed to create organisation: %w", err)
	}

	s.logger.Info("organisation created", "organisation_id", org.ID, "creator_id", user.ID)
	return org, nil
}

// List returns the organisations visible in the user's portal. Super admins see all.
func (s *OrganisationService) List(ctx context.Context, user *model.User) ([]*model.Organisation, error) {
	if err := s.access.RequireOrgPortal(ctx, user); err != nil {
		return nil, err
	}
	var (
		orgs []*model.Organisation
		err  error
	)
	if user.IsSuperAdmin() {
		orgs, err = s.store.ListOrganisations(ctx)
	} else {
		orgs, err = s.store.ListOrganisationsByMember(ctx, user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list organisations: %w", err)
	}
	return orgs, nil
}

// Dashboard returns the organisation with its members and templates.
func (s *OrganisationService) Dashboard(ctx context.Context, user *model.User, orgID string) (*Dashboard, error) {
	org, err := s.readableOrganisation(ctx, user, orgID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	templates, err := s.store.ListTemplates(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return &Dashboard{Organisation: org, Members: members, Templates: templates}, nil
}

// ListMembers returns the members of an organisation the user can access.
func (s *OrganisationService) ListMembers(ctx context.Context, user *model.User, orgID string) ([]*model.MemberWithUser, error) {
	org, err := s.readableOrganisation(ctx, user, orgID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember adds an existing user, found by email, to the organisation.
func (s *OrganisationService) AddMember(ctx context.Context, user *model.User, orgID, email string, role model.MembershipRole) (*model.OrganisationMembership, error) {
	if _, err := s.manageableOrganisation(ctx, user, orgID); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = model.MemberRoleMember
	}
	if !role.IsValid() {
		return nil, invalid("role", "must be one of member, team_manager, org_admin")
	}

	member, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if member == nil {
		return nil, ErrNotFound
	}

	m := &model.OrganisationMembership{
		OrganisationID: orgID,
		UserID:         member.ID,
		Role:           role,
		CreatedAt:      s.now.now(),
	}
	if err := s.store.AddMembership(ctx, m); err != nil {
		if errors.Is(err, repository.ErrMembershipExists) {
			return nil, ErrMemberExists
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// ChangeMemberRole updates a member's role. The last org admin cannot be demoted.
func (s *OrganisationService) ChangeMemberRole(ctx context.Context, user *model.User, orgID, memberID string, role model.MembershipRole) (*model.OrganisationMembership, error) {
	if _, err := s.manageableOrganisation(ctx, user, orgID); err != nil {
		return nil, err
	}
	if !role.IsValid() {
		return nil, invalid("role", "must be one of member, team_manager, org_admin")
	}
	current, err := s.membership(ctx, orgID, memberID)
	if err != nil {
		return nil, err
	}
	if current.Role == role {
		return current, nil
	}
	if err := s.store.UpdateMembershipRole(ctx, orgID, memberID, role); err != nil {
		if errors.Is(err, repository.ErrLastOrgAdmin) {
			return nil, ErrLastAdmin
		}
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}
	updated := *current
	updated.Role = role
	return &updated, nil
}

// RemoveMember removes a member. The last org admin cannot be removed.
func (s *OrganisationService) RemoveMember(ctx context.Context, user *model.User, orgID, memberID string) error {
	if _, err := s.manageableOrganisation(ctx, user, orgID); err != nil {
		return err
	}
	if err := s.store.RemoveMembership(ctx, orgID, memberID); err != nil {
		if errors.Is(err, repository.ErrLastOrgAdmin) {
			return ErrLastAdmin
		}
		if errors.Is(err, repository.ErrMembershipNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// CreateInvite issues an invitation token for email. Only the hash is stored.
func (s *OrganisationService) CreateInvite(ctx context.Context, user *model.User, orgID, email string, role model.MembershipRole) (*CreatedInvite, error) {
	if _, err := s.manageableOrganisation(ctx, user, orgID); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = model.MemberRoleMember
	}
	if !role.IsValid() {
		return nil, invalid("role", "must be one of member, team_manager, org_admin")
	}

	token, err := auth.GenerateInviteToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invite token: %w", err)
	}

	now := s.now.now()
	inv := &model.OrganisationInvite{
		ID:             newID(),
		OrganisationID: orgID,
		Email:          email,
		Role:           role,
		TokenHash:      token.Hash,
		TokenPrefix:    token.Prefix,
		InvitedBy:      user.ID,
		ExpiresAt:      now.Add(s.inviteTTL),
		CreatedAt:      now,
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invite: %w", err)
	}

	s.logger.Info("invite created",
		"organisation_id", orgID,
		"invite_id", inv.ID,
		"token_prefix", inv.TokenPrefix,
	)
	return &CreatedInvite{Invite: inv, Token: token.Plaintext}, nil
}

// AcceptInvite redeems a token for the signed-in user. The invite must be
// addressed to the user's email, unaccepted and unexpired.
func (s *OrganisationService) AcceptInvite(ctx context.Context, user *model.User, token string) (*model.OrganisationMembership, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	prefix, err := auth.InvitePrefix(strings.TrimSpace(token))
	if err != nil {
		return nil, ErrInviteInvalid
	}

	candidates, err := s.store.ListPendingInvitesByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to look up invites: %w", err)
	}

	now := s.now.now()
	var match *model.OrganisationInvite
	for _, inv := range candidates {
		ok, err := auth.VerifySecret(strings.TrimSpace(token), inv.TokenHash)
		if err != nil {
			s.logger.Warn("invite hash unreadable", "invite_id", inv.ID, "error", err)
			continue
		}
		if ok {
			match = inv
			break
		}
	}
	if match == nil || !match.IsRedeemable(now) || !strings.EqualFold(match.Email, user.Email) {
		return nil, ErrInviteInvalid
	}

	m, err := s.store.AcceptInvite(ctx, match, user.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrInviteNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, fmt.Errorf("failed to accept invite: %w", err)
	}

	s.metrics.IncInviteAccepted()
	s.logger.Info("invite accepted",
		"organisation_id", m.OrganisationID,
		"invite_id", match.ID,
		"user_id", user.ID,
	)
	return m, nil
}

// CreateTemplate stores an experiment template for the organisation.
func (s *OrganisationService) CreateTemplate(ctx context.Context, user *model.User, orgID string, input TemplateInput) (*model.ExperimentTemplate, error) {
	if _, err := s.manageableOrganisation(ctx, user, orgID); err != nil {
		return nil, err
	}
	meta, err := normalizeExperimentInput(input.ExperimentInput)
	if err != nil {
		return nil, err
	}
	fields, err := buildFields("", input.Fields)
	if err != nil {
		return nil, err
	}

	tpl := &model.ExperimentTemplate{
		ID:             newID(),
		OrganisationID: orgID,
		Title:          meta.Title,
		Hypothesis:     meta.Hypothesis,
		DurationDays:   meta.DurationDays,
		Frequency:      meta.Frequency,
		Fields:         fields,
		CreatedBy:      user.ID,
		CreatedAt:      s.now.now(),
	}
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns the organisation's templates.
func (s *OrganisationService) ListTemplates(ctx context.Context, user *model.User, orgID string) ([]*model.ExperimentTemplate, error) {
	org, err := s.readableOrganisation(ctx, user, orgID)
	if err != nil {
		return nil, err
	}
	templates, err := s.store.ListTemplates(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

// UseTemplate copies a template into a new draft experiment owned by the caller.
func (s *OrganisationService) UseTemplate(ctx context.Context, user *model.User, orgID, templateID string) (*ExperimentDetail, error) {
	if _, err := s.readableOrganisation(ctx, user, orgID); err != nil {
		return nil, err
	}
	tpl, err := s.store.FindTemplate(ctx, orgID, templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	if tpl == nil {
		return nil, ErrNotFound
	}

	now := s.now.now()
	exp := &model.Experiment{
		ID:           newID(),
		OwnerID:      user.ID,
		Title:        tpl.Title,
		Hypothesis:   tpl.Hypothesis,
		DurationDays: tpl.DurationDays,
		Frequency:    tpl.Frequency,
		Status:       model.StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	fields := make([]model.ExperimentField, len(tpl.Fields))
	for i, f := range tpl.Fields {
		f.ID = newID()
		f.ExperimentID = exp.ID
		f.Position = i
		fields[i] = f
	}
	if err := s.store.ReplaceFields(ctx, exp.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to copy template fields: %w", err)
	}

	s.metrics.IncExperimentCreated()
	return &ExperimentDetail{Experiment: exp, Fields: fields}, nil
}

func (s *OrganisationService) readableOrganisation(ctx context.Context, user *model.User, orgID string) (*model.Organisation, error) {
	if err := s.access.RequireOrgAccess(ctx, user, orgID); err != nil {
		return nil, err
	}
	return s.organisation(ctx, orgID)
}

func (s *OrganisationService) manageableOrganisation(ctx context.Context, user *model.User, orgID string) (*model.Organisation, error) {
	if err := s.access.RequireOrgAdmin(ctx, user, orgID); err != nil {
		return nil, err
	}
	return s.organisation(ctx, orgID)
}

func (s *OrganisationService) organisation(ctx context.Context, orgID string) (*model.Organisation, error) {
	org, err := s.store.FindOrganisation(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organisation: %w", err)
	}
	if org == nil {
		return nil, ErrNotFound
	}
	return org, nil
}

func (s *OrganisationService) membership(ctx context.Context, orgID, userID string) (*model.OrganisationMembership, error) {
	m, err := s.store.FindMembership(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if m == nil {
		return nil, ErrNotFound
	}
	return m, nil
}

func (s *OrganisationService) forgetIdentity(ctx context.Context, userID string) {
	if s.identities == nil {
		return
	}
	if err := s.identities.InvalidateUser(ctx, userID); err != nil {
		s.logger.Warn("identity cache invalidation failed", "user_id", userID, "error", err)
	}
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", invalid("email", "must be a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}
