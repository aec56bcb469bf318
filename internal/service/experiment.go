package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/selah/selah/internal/access"
	"github.com/selah/selah/internal/metrics"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/reminder"
	"github.com/selah/selah/internal/repository"
)

const (
	maxTitleLength      = 200
	maxHypothesisLength = 2000
	maxDurationDays     = 365
	maxFields           = 20
	maxLabelLength      = 100
	maxOptions          = 20
	minEmojiCount       = 2
	maxEmojiCount       = 10
)

// ExperimentStore persists experiments, their fields, check-ins and reminder state.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp *model.Experiment) error
	FindExperiment(ctx context.Context, id string) (*model.Experiment, error)
	ListExperimentsByOwner(ctx context.Context, ownerID string, status model.ExperimentStatus) ([]*model.Experiment, error)
	UpdateExperiment(ctx context.Context, exp *model.Experiment) error
	TransitionExperiment(ctx context.Context, id string, from, to model.ExperimentStatus, at time.Time) (*model.Experiment, error)
	DeleteExperiment(ctx context.Context, id string) error
	ListFields(ctx context.Context, experimentID string) ([]model.ExperimentField, error)
	ReplaceFields(ctx context.Context, experimentID string, fields []model.ExperimentField) error
	UpsertCheckIn(ctx context.Context, c *model.ExperimentCheckIn) (*model.ExperimentCheckIn, bool, error)
	ListCheckIns(ctx context.Context, experimentID string, limit int) ([]model.ExperimentCheckIn, error)
	FindReminder(ctx context.Context, experimentID string) (*model.ExperimentReminder, error)
	SetReminderPaused(ctx context.Context, experimentID string, pausedAt *time.Time) (*model.ExperimentReminder, error)
	SetReminderSnooze(ctx context.Context, experimentID string, until *time.Time) (*model.ExperimentReminder, error)
}

// OwnerChecker resolves an experiment the user owns.
type OwnerChecker interface {
	RequireExperimentOwner(ctx context.Context, experimentID string, user *model.User) (*model.Experiment, error)
}

// ReviewInvalidator drops cached review payloads for an experiment.
type ReviewInvalidator interface {
	Invalidate(ctx context.Context, experimentID string) error
}

// PauseTokenVerifier resolves a signed pause link to its experiment id.
type PauseTokenVerifier interface {
	Verify(token string, now time.Time) (string, error)
}

// ExperimentService handles experiment business logic.
type ExperimentService struct {
	store   ExperimentStore
	access  OwnerChecker
	reviews ReviewInvalidator
	links   PauseTokenVerifier
	metrics metrics.Recorder
	logger  *slog.Logger
	now     clock
}

// ExperimentServiceConfig groups ExperimentService dependencies.
// Reviews and Links are optional.
type ExperimentServiceConfig struct {
	Store   ExperimentStore
	Access  OwnerChecker
	Reviews ReviewInvalidator
	Links   PauseTokenVerifier
	Metrics metrics.Recorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewExperimentService creates a new ExperimentService.
func NewExperimentService(cfg ExperimentServiceConfig) *ExperimentService {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExperimentService{
		store:   cfg.Store,
		access:  cfg.Access,
		reviews: cfg.Reviews,
		links:   cfg.Links,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "experiments"),
		now:     cfg.Now,
	}
}

// ExperimentInput carries the editable metadata of an experiment.
type ExperimentInput struct {
	Title        string
	Hypothesis   string
	DurationDays int
	Frequency    model.Frequency
}

// ExperimentUpdate is a partial metadata update. Nil fields are left unchanged.
type ExperimentUpdate struct {
	Title        *string
	Hypothesis   *string
	DurationDays *int
	Frequency    *model.Frequency
}

// ExperimentDetail is an experiment with its fields and reminder state.
type ExperimentDetail struct {
	Experiment *model.Experiment
	Fields     []model.ExperimentField
	Reminder   *model.ExperimentReminder
}

// FieldInput describes one field in a replace-fields request.
type FieldInput struct {
	Label    string
	Type     model.FieldType
	Required bool
	Config   model.FieldConfig
}

// Create creates a draft experiment owned by user.
func (s *ExperimentService) Create(ctx context.Context, user *model.User, input ExperimentInput) (*model.Experiment, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	in, err := normalizeExperimentInput(input)
	if err != nil {
		return nil, err
	}

	now := s.now.now()
	exp := &model.Experiment{
		ID:           newID(),
		OwnerID:      user.ID,
		Title:        in.Title,
		Hypothesis:   in.Hypothesis,
		DurationDays: in.DurationDays,
		Frequency:    in.Frequency,
		Status:       model.StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("failed to create experiment: %w", err)
	}

	s.metrics.IncExperimentCreated()
	return exp, nil
}

// Get returns an experiment the user owns, with fields and reminder state.
func (s *ExperimentService) Get(ctx context.Context, user *model.User, id string) (*ExperimentDetail, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	rem, err := s.store.FindReminder(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return &ExperimentDetail{Experiment: exp, Fields: fields, Reminder: rem}, nil
}

// List returns the user's experiments, optionally filtered by status.
func (s *ExperimentService) List(ctx context.Context, user *model.User, status model.ExperimentStatus) ([]*model.Experiment, error) {
	if user == nil {
		return nil, ErrUnauthenticated
	}
	if status != "" && !status.IsValid() {
		return nil, invalid("status", "must be one of draft, active, completed")
	}
	experiments, err := s.store.ListExperimentsByOwner(ctx, user.ID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	return experiments, nil
}

// Update changes metadata of a draft or active experiment.
func (s *ExperimentService) Update(ctx context.Context, user *model.User, id string, upd ExperimentUpdate) (*model.Experiment, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if exp.Status == model.StatusCompleted {
		return nil, ErrExperimentLocked
	}

	input := ExperimentInput{
		Title:        exp.Title,
		Hypothesis:   exp.Hypothesis,
		DurationDays: exp.DurationDays,
		Frequency:    exp.Frequency,
	}
	if upd.Title != nil {
		input.Title = *upd.Title
	}
	if upd.Hypothesis != nil {
		input.Hypothesis = *upd.Hypothesis
	}
	if upd.DurationDays != nil {
		input.DurationDays = *upd.DurationDays
	}
	if upd.Frequency != nil {
		input.Frequency = *upd.Frequency
	}
	in, err := normalizeExperimentInput(input)
	if err != nil {
		return nil, err
	}

	updated := *exp
	updated.Title = in.Title
	updated.Hypothesis = in.Hypothesis
	updated.DurationDays = in.DurationDays
	updated.Frequency = in.Frequency
	updated.UpdatedAt = s.now.now()

	if err := s.store.UpdateExperiment(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrExperimentNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update experiment: %w", err)
	}
	s.invalidateReview(ctx, exp.ID)
	return &updated, nil
}

// Start moves a draft experiment with at least one field to active.
func (s *ExperimentService) Start(ctx context.Context, user *model.User, id string) (*model.Experiment, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if !exp.Status.CanTransitionTo(model.StatusActive) {
		return nil, ErrInvalidTransition
	}
	fields, err := s.store.ListFields(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNoFields
	}
	return s.transition(ctx, exp, model.StatusActive)
}

// Complete moves an active experiment to completed.
func (s *ExperimentService) Complete(ctx context.Context, user *model.User, id string) (*model.Experiment, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if !exp.Status.CanTransitionTo(model.StatusCompleted) {
		return nil, ErrInvalidTransition
	}
	return s.transition(ctx, exp, model.StatusCompleted)
}

func (s *ExperimentService) transition(ctx context.Context, exp *model.Experiment, to model.ExperimentStatus) (*model.Experiment, error) {
	updated, err := s.store.TransitionExperiment(ctx, exp.ID, exp.Status, to, s.now.now())
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to transition experiment: %w", err)
	}
	s.logger.Info("experiment status changed",
		"experiment_id", exp.ID,
		"from", exp.Status,
		"to", to,
	)
	s.invalidateReview(ctx, exp.ID)
	return updated, nil
}

// Delete removes an experiment and everything recorded against it.
func (s *ExperimentService) Delete(ctx context.Context, user *model.User, id string) error {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return err
	}
	if err := s.store.DeleteExperiment(ctx, exp.ID); err != nil {
		if errors.Is(err, repository.ErrExperimentNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	s.invalidateReview(ctx, exp.ID)
	return nil
}

// ReplaceFields swaps the full field list of a draft experiment.
// Positions follow input order.
func (s *ExperimentService) ReplaceFields(ctx context.Context, user *model.User, id string, inputs []FieldInput) ([]model.ExperimentField, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.StatusDraft {
		return nil, ErrFieldsLocked
	}

	fields, err := buildFields(exp.ID, inputs)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceFields(ctx, exp.ID, fields); err != nil {
		return nil, fmt.Errorf("failed to replace fields: %w", err)
	}
	s.invalidateReview(ctx, exp.ID)
	return fields, nil
}

// PauseReminders suppresses reminders until resumed.
func (s *ExperimentService) PauseReminders(ctx context.Context, user *model.User, id string) (*model.ExperimentReminder, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	return s.pause(ctx, exp.ID)
}

// ResumeReminders clears both the pause and any snooze.
func (s *ExperimentService) ResumeReminders(ctx context.Context, user *model.User, id string) (*model.ExperimentReminder, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetReminderPaused(ctx, exp.ID, nil); err != nil {
		return nil, fmt.Errorf("failed to resume reminders: %w", err)
	}
	rem, err := s.store.SetReminderSnooze(ctx, exp.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to clear snooze: %w", err)
	}
	return rem, nil
}

// SnoozeReminders suppresses reminders until the given instant, which must be in the future.
func (s *ExperimentService) SnoozeReminders(ctx context.Context, user *model.User, id string, until time.Time) (*model.ExperimentReminder, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	now := s.now.now()
	if !until.After(now) {
		return nil, invalid("until", "must be in the future")
	}
	until = until.UTC()
	rem, err := s.store.SetReminderSnooze(ctx, exp.ID, &until)
	if err != nil {
		return nil, fmt.Errorf("failed to snooze reminders: %w", err)
	}
	return rem, nil
}

// PauseLinkTarget resolves the experiment a pause token refers to without
// changing anything. Tokens for deleted experiments are reported as ErrNotFound.
func (s *ExperimentService) PauseLinkTarget(ctx context.Context, token string) (*model.Experiment, error) {
	if s.links == nil {
		return nil, invalid("token", "pause links are disabled")
	}
	id, err := s.links.Verify(token, s.now.now())
	if err != nil {
		if errors.Is(err, reminder.ErrPauseTokenExpired) || errors.Is(err, reminder.ErrInvalidPauseToken) {
			return nil, invalid("token", "%v", err)
		}
		return nil, fmt.Errorf("failed to verify pause token: %w", err)
	}
	exp, err := s.store.FindExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	if exp == nil {
		return nil, ErrNotFound
	}
	return exp, nil
}

// PauseByToken pauses reminders from a signed link without a session.
func (s *ExperimentService) PauseByToken(ctx context.Context, token string) (*model.ExperimentReminder, error) {
	exp, err := s.PauseLinkTarget(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.pause(ctx, exp.ID)
}

func (s *ExperimentService) pause(ctx context.Context, experimentID string) (*model.ExperimentReminder, error) {
	now := s.now.now()
	rem, err := s.store.SetReminderPaused(ctx, experimentID, &now)
	if err != nil {
		return nil, fmt.Errorf("failed to pause reminders: %w", err)
	}
	s.logger.Info("reminders paused", "experiment_id", experimentID)
	return rem, nil
}

// invalidateReview is best effort; a stale entry expires with its TTL.
func (s *ExperimentService) invalidateReview(ctx context.Context, experimentID string) {
	if s.reviews == nil {
		return
	}
	if err := s.reviews.Invalidate(ctx, experimentID); err != nil {
		s.logger.Warn("review cache invalidation failed",
			"experiment_id", experimentID,
			"error", err,
		)
	}
}

func normalizeExperimentInput(in ExperimentInput) (ExperimentInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Hypothesis = strings.TrimSpace(in.Hypothesis)

	if in.Title == "" {
		return in, invalid("title", "is required")
	}
	if len(in.Title) > maxTitleLength {
		return in, invalid("title", "must be at most %d characters", maxTitleLength)
	}
	if len(in.Hypothesis) > maxHypothesisLength {
		return in, invalid("hypothesis", "must be at most %d characters", maxHypothesisLength)
	}
	if in.DurationDays < 0 || in.DurationDays > maxDurationDays {
		return in, invalid("duration_days", "must be between 0 and %d", maxDurationDays)
	}
	if in.Frequency == "" {
		in.Frequency = model.FrequencyDaily
	}
	if !in.Frequency.IsValid() {
		return in, invalid("frequency", "must be one of daily, weekdays, weekly")
	}
	return in, nil
}

func buildFields(experimentID string, inputs []FieldInput) ([]model.ExperimentField, error) {
	if len(inputs) > maxFields {
		return nil, invalid("fields", "at most %d fields are allowed", maxFields)
	}

	fields := make([]model.ExperimentField, 0, len(inputs))
	for i, in := range inputs {
		name := fmt.Sprintf("fields[%d]", i)
		cfg, err := normalizeFieldConfig(name, in.Type, in.Config)
		if err != nil {
			return nil, err
		}
		label := strings.TrimSpace(in.Label)
		if label == "" {
			return nil, invalid(name+".label", "is required")
		}
		if len(label) > maxLabelLength {
			return nil, invalid(name+".label", "must be at most %d characters", maxLabelLength)
		}
		fields = append(fields, model.ExperimentField{
			ID:           newID(),
			ExperimentID: experimentID,
			Label:        label,
			Type:         in.Type,
			Required:     in.Required,
			Position:     i,
			Config:       cfg,
		})
	}
	return fields, nil
}

// normalizeFieldConfig keeps only the settings that apply to typ.
func normalizeFieldConfig(name string, typ model.FieldType, cfg model.FieldConfig) (model.FieldConfig, error) {
	if !typ.IsValid() {
		return cfg, invalid(name+".type", "must be one of text, number, yesno, emoji, select")
	}

	switch typ {
	case model.FieldNumber:
		if cfg.Min != nil && cfg.Max != nil && *cfg.Min > *cfg.Max {
			return cfg, invalid(name+".config", "min must not exceed max")
		}
		return model.FieldConfig{Min: cfg.Min, Max: cfg.Max}, nil
	case model.FieldEmoji:
		if cfg.EmojiCount == 0 {
			cfg.EmojiCount = model.DefaultEmojiCount
		}
		if cfg.EmojiCount < minEmojiCount || cfg.EmojiCount > maxEmojiCount {
			return cfg, invalid(name+".config.emoji_count", "must be between %d and %d", minEmojiCount, maxEmojiCount)
		}
		return model.FieldConfig{EmojiCount: cfg.EmojiCount}, nil
	case model.FieldSelect:
		if len(cfg.Options) < 2 || len(cfg.Options) > maxOptions {
			return cfg, invalid(name+".config.options", "must list between 2 and %d options", maxOptions)
		}
		seen := make(map[string]struct{}, len(cfg.Options))
		options := make([]string, 0, len(cfg.Options))
		for _, opt := range cfg.Options {
			opt = strings.TrimSpace(opt)
			if opt == "" {
				return cfg, invalid(name+".config.options", "options must not be empty")
			}
			if _, dup := seen[opt]; dup {
				return cfg, invalid(name+".config.options", "duplicate option %q", opt)
			}
			seen[opt] = struct{}{}
			options = append(options, opt)
		}
		return model.FieldConfig{Options: options}, nil
	default:
		return model.FieldConfig{}, nil
	}
}

var _ OwnerChecker = (*access.Evaluator)(nil)
