package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
)

type orgFixture struct {
	store      *memStore
	svc        *OrganisationService
	identities *recordingInvalidator
	recorder   *metrics.InMemoryRecorder
	admin      *model.User
	org        *model.Organisation
	now        time.Time
}

func newOrgFixture(t *testing.T) *orgFixture {
	t.Helper()
	f := &orgFixture{
		store:      newMemStore(),
		identities: &recordingInvalidator{},
		recorder:   metrics.NewInMemory(),
		now:        fixedNow,
	}
	f.svc = NewOrganisationService(OrganisationServiceConfig{
		Store:      f.store,
		Access:     accessFor(f.store),
		Identities: f.identities,
		Metrics:    f.recorder,
		Now:        func() time.Time { return f.now },
	})
	f.admin = f.store.addUser("admin", "lead@example.com", model.AccountOrganisation, model.RoleUser)

	org, err := f.svc.Create(context.Background(), f.admin, " Wellness Team ", "")
	if err != nil {
		t.Fatalf("create organisation: %v", err)
	}
	f.org = org
	return f
}

func TestUpgradeAndCreateOrganisation(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	person := f.store.addUser("p1", "person@example.com", model.AccountIndividual, model.RoleUser)

	if _, err := f.svc.Create(ctx, person, "Book club", ""); !errors.Is(err, ErrNotOrganisation) {
		t.Fatalf("expected ErrNotOrganisation, got %v", err)
	}

	upgraded, err := f.svc.UpgradeAccount(ctx, person)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if !upgraded.CanOwnOrganisations() {
		t.Fatal("expected organisation account")
	}
	if len(f.identities.ids) != 1 || f.identities.ids[0] != person.ID {
		t.Fatalf("expected identity cache invalidated, got %v", f.identities.ids)
	}

	org, err := f.svc.Create(ctx, upgraded, "Book club", "Monthly reads")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m, _ := f.store.FindMembership(ctx, org.ID, person.ID)
	if m == nil || m.Role != model.MemberRoleOrgAdmin {
		t.Fatalf("expected creator to be org admin, got %+v", m)
	}

	if f.org.Name != "Wellness Team" {
		t.Fatalf("expected trimmed name, got %q", f.org.Name)
	}
	if _, err := f.svc.Create(ctx, upgraded, "  ", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestOrganisationAccess(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	outsider := f.store.addUser("o1", "out@example.com", model.AccountIndividual, model.RoleUser)
	super := f.store.addUser("s1", "root@example.com", model.AccountIndividual, model.RoleSuperAdmin)
	member := f.store.addUser("m1", "member@example.com", model.AccountIndividual, model.RoleUser)
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, member.Email, ""); err != nil {
		t.Fatalf("add member: %v", err)
	}

	if _, err := f.svc.Dashboard(ctx, outsider, f.org.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
	if _, err := f.svc.List(ctx, outsider); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected portal denied for outsider, got %v", err)
	}
	if _, err := f.svc.Dashboard(ctx, nil, f.org.ID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	dash, err := f.svc.Dashboard(ctx, member, f.org.ID)
	if err != nil {
		t.Fatalf("member dashboard: %v", err)
	}
	if len(dash.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(dash.Members))
	}
	if _, err := f.svc.CreateInvite(ctx, member, f.org.ID, "x@example.com", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected member unable to invite, got %v", err)
	}

	if _, err := f.svc.Dashboard(ctx, super, f.org.ID); err != nil {
		t.Fatalf("super admin dashboard: %v", err)
	}
	orgs, err := f.svc.List(ctx, super)
	if err != nil || len(orgs) != 1 {
		t.Fatalf("expected super admin to see all organisations, got %v %v", orgs, err)
	}
	if _, err := f.svc.Dashboard(ctx, super, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing organisation, got %v", err)
	}
}

func TestMemberManagement(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	member := f.store.addUser("m1", "member@example.com", model.AccountIndividual, model.RoleUser)

	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, "nobody@example.com", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, "not-an-email", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, "MEMBER@example.com", "owner"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for role, got %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, "MEMBER@example.com", ""); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, member.Email, ""); !errors.Is(err, ErrMemberExists) {
		t.Fatalf("expected ErrMemberExists, got %v", err)
	}

	if _, err := f.svc.ChangeMemberRole(ctx, f.admin, f.org.ID, f.admin.ID, model.MemberRoleMember); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin, got %v", err)
	}
	if err := f.svc.RemoveMember(ctx, f.admin, f.org.ID, f.admin.ID); !errors.Is(err, ErrLastAdmin) {
		t.Fatalf("expected ErrLastAdmin on removal, got %v", err)
	}

	promoted, err := f.svc.ChangeMemberRole(ctx, f.admin, f.org.ID, member.ID, model.MemberRoleOrgAdmin)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if promoted.Role != model.MemberRoleOrgAdmin {
		t.Fatalf("expected org admin, got %s", promoted.Role)
	}
	if _, err := f.svc.ChangeMemberRole(ctx, f.admin, f.org.ID, f.admin.ID, model.MemberRoleTeamManager); err != nil {
		t.Fatalf("demote with another admin present: %v", err)
	}

	if err := f.svc.RemoveMember(ctx, member, f.org.ID, f.admin.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.svc.RemoveMember(ctx, member, f.org.ID, f.admin.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestConcurrentAdminDemotionKeepsOneAdmin(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	second := f.store.addUser("a2", "second@example.com", model.AccountIndividual, model.RoleUser)
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, second.Email, model.MemberRoleOrgAdmin); err != nil {
		t.Fatalf("add second admin: %v", err)
	}

	pairs := [][2]*model.User{{f.admin, second}, {second, f.admin}}
	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		go func(i int, actor, target *model.User) {
			defer wg.Done()
			_, errs[i] = f.svc.ChangeMemberRole(ctx, actor, f.org.ID, target.ID, model.MemberRoleMember)
		}(i, p[0], p[1])
	}
	wg.Wait()

	members, err := f.svc.ListMembers(ctx, f.admin, f.org.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	admins := 0
	for _, m := range members {
		if m.Role == model.MemberRoleOrgAdmin {
			admins++
		}
	}
	if admins != 1 {
		t.Fatalf("expected exactly one org admin to remain, got %d (errors %v)", admins, errs)
	}

	failures := 0
	for _, err := range errs {
		if err != nil {
			if !errors.Is(err, ErrLastAdmin) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrForbidden) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("expected exactly one demotion to fail, got %v", errs)
	}
}

func TestInviteFlow(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	invitee := f.store.addUser("i1", "new@example.com", model.AccountIndividual, model.RoleUser)
	stranger := f.store.addUser("x1", "stranger@example.com", model.AccountIndividual, model.RoleUser)

	created, err := f.svc.CreateInvite(ctx, f.admin, f.org.ID, "New@Example.com", model.MemberRoleTeamManager)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if !strings.HasPrefix(created.Token, "inv_"+created.Invite.TokenPrefix+"_") {
		t.Fatalf("token %q does not carry prefix %q", created.Token, created.Invite.TokenPrefix)
	}
	if created.Invite.TokenHash == "" || strings.Contains(created.Invite.TokenHash, created.Token) {
		t.Fatal("expected only a hash of the token to be stored")
	}
	if created.Invite.Email != "new@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Invite.Email)
	}

	if _, err := f.svc.AcceptInvite(ctx, invitee, "garbage"); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid for malformed token, got %v", err)
	}
	if _, err := f.svc.AcceptInvite(ctx, stranger, created.Token); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid for another address, got %v", err)
	}

	m, err := f.svc.AcceptInvite(ctx, invitee, created.Token)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Role != model.MemberRoleTeamManager || m.OrganisationID != f.org.ID {
		t.Fatalf("unexpected membership: %+v", m)
	}
	if got := f.recorder.Snapshot().InvitesAccepted; got != 1 {
		t.Fatalf("expected 1 accepted invite, got %d", got)
	}

	if _, err := f.svc.AcceptInvite(ctx, invitee, created.Token); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid on reuse, got %v", err)
	}
}

func TestInviteExpiry(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	invitee := f.store.addUser("i1", "new@example.com", model.AccountIndividual, model.RoleUser)

	created, err := f.svc.CreateInvite(ctx, f.admin, f.org.ID, invitee.Email, "")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	f.now = fixedNow.Add(DefaultInviteTTL + time.Minute)
	if _, err := f.svc.AcceptInvite(ctx, invitee, created.Token); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid after expiry, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()
	member := f.store.addUser("m1", "member@example.com", model.AccountIndividual, model.RoleUser)
	if _, err := f.svc.AddMember(ctx, f.admin, f.org.ID, member.Email, ""); err != nil {
		t.Fatalf("add member: %v", err)
	}

	input := TemplateInput{
		ExperimentInput: ExperimentInput{Title: "Screen-free mornings", DurationDays: 21},
		Fields: []FieldInput{
			{Label: "Phone before 9am", Type: model.FieldYesNo, Required: true},
			{Label: "Focus", Type: model.FieldEmoji},
		},
	}
	if _, err := f.svc.CreateTemplate(ctx, member, f.org.ID, input); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for member, got %v", err)
	}
	tpl, err := f.svc.CreateTemplate(ctx, f.admin, f.org.ID, input)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	templates, err := f.svc.ListTemplates(ctx, member, f.org.ID)
	if err != nil || len(templates) != 1 {
		t.Fatalf("expected 1 template, got %v %v", templates, err)
	}

	detail, err := f.svc.UseTemplate(ctx, member, f.org.ID, tpl.ID)
	if err != nil {
		t.Fatalf("use template: %v", err)
	}
	exp := detail.Experiment
	if exp.OwnerID != member.ID || exp.Status != model.StatusDraft || exp.DurationDays != 21 {
		t.Fatalf("unexpected experiment: %+v", exp)
	}
	if len(detail.Fields) != 2 || detail.Fields[0].ID == tpl.Fields[0].ID || detail.Fields[0].ExperimentID != exp.ID {
		t.Fatalf("expected fresh copies of template fields, got %+v", detail.Fields)
	}
	if got := f.recorder.Snapshot().ExperimentsCreated; got != 1 {
		t.Fatalf("expected 1 experiment created, got %d", got)
	}

	if _, err := f.svc.UseTemplate(ctx, member, f.org.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
