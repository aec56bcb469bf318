package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/selah/selah/internal/model"
)

const (
	maxNoteLength      = 2000
	maxTextLength      = 2000
	defaultCheckInList = 100
	maxCheckInList     = 500
)

// CheckInInput is one submission. A zero Date means today (UTC).
// Responses map field id to the raw JSON value; null counts as unanswered.
type CheckInInput struct {
	Date      time.Time
	Note      string
	Responses map[string]json.RawMessage
}

// CheckInResult is the stored check-in and whether it created a new day.
type CheckInResult struct {
	CheckIn *model.ExperimentCheckIn
	Created bool
}

// RecordCheckIn validates responses against the experiment's fields and
// stores them for the UTC day of input.Date. A later submission for the same
// day replaces the earlier one.
func (s *ExperimentService) RecordCheckIn(ctx context.Context, user *model.User, id string, input CheckInInput) (*CheckInResult, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if exp.Status != model.StatusActive {
		return nil, ErrNotActive
	}

	now := s.now.now()
	day, err := checkInDay(exp, input.Date, now)
	if err != nil {
		return nil, err
	}

	note := strings.TrimSpace(input.Note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, invalid("note", "must be at most %d characters", maxNoteLength)
	}

	fields, err := s.store.ListFields(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	responses, err := normalizeResponses(fields, input.Responses)
	if err != nil {
		return nil, err
	}

	stored, created, err := s.store.UpsertCheckIn(ctx, &model.ExperimentCheckIn{
		ID:           newID(),
		ExperimentID: exp.ID,
		Date:         day,
		Note:         note,
		Responses:    responses,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}

	s.metrics.IncCheckInRecorded()
	s.invalidateReview(ctx, exp.ID)
	return &CheckInResult{CheckIn: stored, Created: created}, nil
}

// ListCheckIns returns up to limit check-ins, oldest first.
func (s *ExperimentService) ListCheckIns(ctx context.Context, user *model.User, id string, limit int) ([]model.ExperimentCheckIn, error) {
	exp, err := s.access.RequireExperimentOwner(ctx, id, user)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultCheckInList
	}
	if limit > maxCheckInList {
		limit = maxCheckInList
	}
	checkIns, err := s.store.ListCheckIns(ctx, exp.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins: %w", err)
	}
	return checkIns, nil
}

// checkInDay resolves the UTC day a submission belongs to. It may not be
// in the future or before the experiment started.
func checkInDay(exp *model.Experiment, date, now time.Time) (time.Time, error) {
	today := model.StartOfUTCDay(now)
	if date.IsZero() {
		return today, nil
	}
	day := model.StartOfUTCDay(date)
	if day.After(today) {
		return time.Time{}, invalid("date", "must not be in the future")
	}
	if exp.StartedAt != nil && day.Before(model.StartOfUTCDay(*exp.StartedAt)) {
		return time.Time{}, invalid("date", "must not be before the experiment started")
	}
	return day, nil
}

// normalizeResponses checks every answer against its field and re-encodes
// it in canonical form. Unanswered optional fields are omitted.
func normalizeResponses(fields []model.ExperimentField, raw map[string]json.RawMessage) ([]model.ExperimentFieldResponse, error) {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.ID] = struct{}{}
	}
	for id := range raw {
		if _, ok := known[id]; !ok {
			return nil, invalid("responses", "unknown field %q", id)
		}
	}

	out := make([]model.ExperimentFieldResponse, 0, len(fields))
	for _, f := range fields {
		value, answered := raw[f.ID]
		if answered && isNull(value) {
			answered = false
		}
		if !answered {
			if f.Required {
				return nil, invalid("responses."+f.ID, "%s is required", f.Label)
			}
			continue
		}

		canonical, skip, err := normalizeValue(f, value)
		if err != nil {
			return nil, err
		}
		if skip {
			if f.Required {
				return nil, invalid("responses."+f.ID, "%s is required", f.Label)
			}
			continue
		}
		out = append(out, model.ExperimentFieldResponse{FieldID: f.ID, Value: canonical})
	}
	return out, nil
}

// normalizeValue returns the canonical JSON value, or skip for an empty text answer.
func normalizeValue(f model.ExperimentField, value json.RawMessage) (json.RawMessage, bool, error) {
	name := "responses." + f.ID
	r := model.ExperimentFieldResponse{FieldID: f.ID, Value: value}

	var v any
	switch f.Type {
	case model.FieldText:
		text, ok := r.Text()
		if !ok {
			return nil, false, invalid(name, "%s must be text", f.Label)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, true, nil
		}
		if utf8.RuneCountInString(text) > maxTextLength {
			return nil, false, invalid(name, "%s must be at most %d characters", f.Label, maxTextLength)
		}
		v = text
	case model.FieldNumber:
		n, ok := r.Number()
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, false, invalid(name, "%s must be a number", f.Label)
		}
		if f.Config.Min != nil && n < *f.Config.Min {
			return nil, false, invalid(name, "%s must be at least %v", f.Label, *f.Config.Min)
		}
		if f.Config.Max != nil && n > *f.Config.Max {
			return nil, false, invalid(name, "%s must be at most %v", f.Label, *f.Config.Max)
		}
		v = n
	case model.FieldYesNo:
		b, ok := r.Bool()
		if !ok {
			return nil, false, invalid(name, "%s must be yes or no", f.Label)
		}
		v = b
	case model.FieldEmoji:
		score, ok := r.Score()
		if !ok || score < 1 || score > f.Config.ScaleSize() {
			return nil, false, invalid(name, "%s must be a whole number from 1 to %d", f.Label, f.Config.ScaleSize())
		}
		v = score
	case model.FieldSelect:
		choice, ok := r.Text()
		if !ok || !containsOption(f.Config.Options, choice) {
			return nil, false, invalid(name, "%s must be one of %s", f.Label, strings.Join(f.Config.Options, ", "))
		}
		v = choice
	default:
		return nil, false, invalid(name, "%s has unsupported type %q", f.Label, f.Type)
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode response: %w", err)
	}
	return encoded, false, nil
}

func containsOption(options []string, choice string) bool {
	for _, opt := range options {
		if opt == choice {
			return true
		}
	}
	return false
}

func isNull(value json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(value))
	return trimmed == "" || trimmed == "null"
}
