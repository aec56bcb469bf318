package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/selah/selah/internal/access"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/repository"
	"github.com/selah/selah/internal/review"
)

var fixedNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// memStore is an in-memory stand-in for the Postgres repository.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*model.User
	experiments map[string]*model.Experiment
	fields      map[string][]model.ExperimentField
	checkIns    map[string][]model.ExperimentCheckIn
	reminders   map[string]*model.ExperimentReminder
	orgs        map[string]*model.Organisation
	memberships map[string]*model.OrganisationMembership
	invites     []*model.OrganisationInvite
	templates   map[string]*model.ExperimentTemplate
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]*model.User{},
		experiments: map[string]*model.Experiment{},
		fields:      map[string][]model.ExperimentField{},
		checkIns:    map[string][]model.ExperimentCheckIn{},
		reminders:   map[string]*model.ExperimentReminder{},
		orgs:        map[string]*model.Organisation{},
		memberships: map[string]*model.OrganisationMembership{},
		templates:   map[string]*model.ExperimentTemplate{},
	}
}

func memberKey(orgID, userID string) string { return orgID + "|" + userID }

func (s *memStore) addUser(id, email string, kind model.AccountKind, role model.UserRole) *model.User {
	u := &model.User{ID: id, AuthID: "auth-" + id, Email: email, AccountKind: kind, Role: role}
	s.users[id] = u
	return u
}

func (s *memStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpdateAccountKind(ctx context.Context, id string, kind model.AccountKind) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.AccountKind = kind
	cp := *u
	return &cp, nil
}

func (s *memStore) ListUsers(ctx context.Context, limit, offset int) ([]*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return []*model.User{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SetUserRole(ctx context.Context, id string, role model.UserRole) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.Role = role
	cp := *u
	return &cp, nil
}

func (s *memStore) CreateExperiment(ctx context.Context, exp *model.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exp
	s.experiments[exp.ID] = &cp
	return nil
}

func (s *memStore) FindExperiment(ctx context.Context, id string) (*model.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok {
		return nil, nil
	}
	cp := *exp
	return &cp, nil
}

func (s *memStore) ListExperimentsByOwner(ctx context.Context, ownerID string, status model.ExperimentStatus) ([]*model.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Experiment, 0)
	for _, exp := range s.experiments {
		if exp.OwnerID != ownerID || (status != "" && exp.Status != status) {
			continue
		}
		cp := *exp
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) UpdateExperiment(ctx context.Context, exp *model.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[exp.ID]; !ok {
		return repository.ErrExperimentNotFound
	}
	cp := *exp
	s.experiments[exp.ID] = &cp
	return nil
}

func (s *memStore) TransitionExperiment(ctx context.Context, id string, from, to model.ExperimentStatus, at time.Time) (*model.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.experiments[id]
	if !ok || exp.Status != from {
		return nil, repository.ErrStatusConflict
	}
	exp.Status = to
	switch to {
	case model.StatusActive:
		exp.StartedAt = &at
	case model.StatusCompleted:
		exp.CompletedAt = &at
	}
	exp.UpdatedAt = at
	cp := *exp
	return &cp, nil
}

func (s *memStore) DeleteExperiment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[id]; !ok {
		return repository.ErrExperimentNotFound
	}
	delete(s.experiments, id)
	delete(s.fields, id)
	delete(s.checkIns, id)
	delete(s.reminders, id)
	return nil
}

func (s *memStore) ListFields(ctx context.Context, experimentID string) ([]model.ExperimentField, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ExperimentField(nil), s.fields[experimentID]...), nil
}

func (s *memStore) ReplaceFields(ctx context.Context, experimentID string, fields []model.ExperimentField) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[experimentID] = append([]model.ExperimentField(nil), fields...)
	return nil
}

func (s *memStore) UpsertCheckIn(ctx context.Context, c *model.ExperimentCheckIn) (*model.ExperimentCheckIn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.checkIns[c.ExperimentID]
	for i := range list {
		if list[i].Date.Equal(c.Date) {
			list[i].Note = c.Note
			list[i].Responses = c.Responses
			list[i].UpdatedAt = c.UpdatedAt
			cp := list[i]
			return &cp, false, nil
		}
	}
	cp := *c
	s.checkIns[c.ExperimentID] = append(list, cp)
	return &cp, true, nil
}

func (s *memStore) ListCheckIns(ctx context.Context, experimentID string, limit int) ([]model.ExperimentCheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]model.ExperimentCheckIn(nil), s.checkIns[experimentID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) FindReminder(ctx context.Context, experimentID string) (*model.ExperimentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem, ok := s.reminders[experimentID]
	if !ok {
		return nil, nil
	}
	cp := *rem
	return &cp, nil
}

func (s *memStore) SetReminderPaused(ctx context.Context, experimentID string, pausedAt *time.Time) (*model.ExperimentReminder, error) {
	return s.updateReminder(experimentID, func(r *model.ExperimentReminder) { r.PausedAt = pausedAt })
}

func (s *memStore) SetReminderSnooze(ctx context.Context, experimentID string, until *time.Time) (*model.ExperimentReminder, error) {
	return s.updateReminder(experimentID, func(r *model.ExperimentReminder) { r.SnoozedUntil = until })
}

func (s *memStore) updateReminder(experimentID string, apply func(*model.ExperimentReminder)) (*model.ExperimentReminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rem, ok := s.reminders[experimentID]
	if !ok {
		rem = &model.ExperimentReminder{ExperimentID: experimentID}
		s.reminders[experimentID] = rem
	}
	apply(rem)
	cp := *rem
	return &cp, nil
}

func (s *memStore) LoadReviewHistory(ctx context.Context, experimentID string) (*review.History, error) {
	exp, _ := s.FindExperiment(ctx, experimentID)
	if exp == nil {
		return nil, nil
	}
	fields, _ := s.ListFields(ctx, experimentID)
	checkIns, _ := s.ListCheckIns(ctx, experimentID, 1000)
	return &review.History{Experiment: exp, Fields: fields, CheckIns: checkIns}, nil
}

func (s *memStore) CreateOrganisation(ctx context.Context, org *model.Organisation, creator *model.OrganisationMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *org
	s.orgs[org.ID] = &cp
	m := *creator
	s.memberships[memberKey(org.ID, creator.UserID)] = &m
	return nil
}

func (s *memStore) FindOrganisation(ctx context.Context, id string) (*model.Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, nil
	}
	cp := *org
	return &cp, nil
}

func (s *memStore) ListOrganisations(ctx context.Context) ([]*model.Organisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Organisation, 0, len(s.orgs))
	for _, org := range s.orgs {
		cp := *org
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListOrganisationsByMember(ctx context.Context, userID string) ([]*model.Organisation, error) {
	all, _ := s.ListOrganisations(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Organisation, 0)
	for _, org := range all {
		if _, ok := s.memberships[memberKey(org.ID, userID)]; ok {
			out = append(out, org)
		}
	}
	return out, nil
}

func (s *memStore) FindMembership(ctx context.Context, orgID, userID string) (*model.OrganisationMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey(orgID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) CountMembershipsByUser(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.memberships {
		if m.UserID == userID {
			n++
		}
	}
	return n, nil
}

// lastAdminLocked reports whether dropping userID's role would leave orgID
// without an org admin. Callers hold s.mu.
func (s *memStore) lastAdminLocked(orgID, userID string) bool {
	if m := s.memberships[memberKey(orgID, userID)]; m == nil || m.Role != model.MemberRoleOrgAdmin {
		return false
	}
	n := 0
	for _, m := range s.memberships {
		if m.OrganisationID == orgID && m.Role == model.MemberRoleOrgAdmin {
			n++
		}
	}
	return n <= 1
}

func (s *memStore) ListMembers(ctx context.Context, orgID string) ([]*model.MemberWithUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.MemberWithUser, 0)
	for _, m := range s.memberships {
		if m.OrganisationID != orgID {
			continue
		}
		row := &model.MemberWithUser{OrganisationMembership: *m}
		if u, ok := s.users[m.UserID]; ok {
			row.Email = u.Email
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) AddMembership(ctx context.Context, m *model.OrganisationMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey(m.OrganisationID, m.UserID)
	if _, ok := s.memberships[key]; ok {
		return repository.ErrMembershipExists
	}
	cp := *m
	s.memberships[key] = &cp
	return nil
}

func (s *memStore) UpdateMembershipRole(ctx context.Context, orgID, userID string, role model.MembershipRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[memberKey(orgID, userID)]
	if !ok {
		return repository.ErrMembershipNotFound
	}
	if role != model.MemberRoleOrgAdmin && s.lastAdminLocked(orgID, userID) {
		return repository.ErrLastOrgAdmin
	}
	m.Role = role
	return nil
}

func (s *memStore) RemoveMembership(ctx context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey(orgID, userID)
	if _, ok := s.memberships[key]; !ok {
		return repository.ErrMembershipNotFound
	}
	if s.lastAdminLocked(orgID, userID) {
		return repository.ErrLastOrgAdmin
	}
	delete(s.memberships, key)
	return nil
}

func (s *memStore) CreateInvite(ctx context.Context, inv *model.OrganisationInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	s.invites = append(s.invites, &cp)
	return nil
}

func (s *memStore) ListPendingInvitesByPrefix(ctx context.Context, prefix string) ([]*model.OrganisationInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.OrganisationInvite, 0)
	for _, inv := range s.invites {
		if inv.TokenPrefix == prefix && inv.AcceptedAt == nil {
			cp := *inv
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) AcceptInvite(ctx context.Context, inv *model.OrganisationInvite, userID string, at time.Time) (*model.OrganisationMembership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.invites {
		if stored.ID != inv.ID {
			continue
		}
		if stored.AcceptedAt != nil {
			return nil, repository.ErrInviteNotFound
		}
		stored.AcceptedAt = &at
		key := memberKey(inv.OrganisationID, userID)
		m, ok := s.memberships[key]
		if !ok {
			m = &model.OrganisationMembership{OrganisationID: inv.OrganisationID, UserID: userID, Role: inv.Role, CreatedAt: at}
			s.memberships[key] = m
		} else if inv.Role.Rank() > m.Role.Rank() {
			m.Role = inv.Role
		}
		cp := *m
		return &cp, nil
	}
	return nil, repository.ErrInviteNotFound
}

func (s *memStore) CreateTemplate(ctx context.Context, tpl *model.ExperimentTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tpl
	s.templates[tpl.ID] = &cp
	return nil
}

func (s *memStore) ListTemplates(ctx context.Context, orgID string) ([]*model.ExperimentTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ExperimentTemplate, 0)
	for _, tpl := range s.templates {
		if tpl.OrganisationID == orgID {
			cp := *tpl
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindTemplate(ctx context.Context, orgID, id string) (*model.ExperimentTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok || tpl.OrganisationID != orgID {
		return nil, nil
	}
	cp := *tpl
	return &cp, nil
}

var (
	_ ExperimentStore   = (*memStore)(nil)
	_ OrganisationStore = (*memStore)(nil)
	_ HistoryStore      = (*memStore)(nil)
	_ AdminStore        = (*memStore)(nil)
)

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, experimentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, experimentID)
	return nil
}

func (r *recordingInvalidator) InvalidateUser(ctx context.Context, userID string) error {
	return r.Invalidate(ctx, userID)
}

func newExperimentService(t *testing.T, store *memStore) (*ExperimentService, *recordingInvalidator) {
	t.Helper()
	inv := &recordingInvalidator{}
	svc := NewExperimentService(ExperimentServiceConfig{
		Store:   store,
		Access:  accessFor(store),
		Reviews: inv,
		Now:     fixedClock,
	})
	return svc, inv
}

func accessFor(store *memStore) *access.Evaluator {
	return access.NewEvaluator(store, store)
}
