package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusCompleted ExperimentStatus = "completed"
)

// IsValid checks if the status is known.
func (s ExperimentStatus) IsValid() bool {
	return s == StatusDraft || s == StatusActive || s == StatusCompleted
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
// The lifecycle is strictly draft -> active -> completed.
func (s ExperimentStatus) CanTransitionTo(next ExperimentStatus) bool {
	switch s {
	case StatusDraft:
		return next == StatusActive
	case StatusActive:
		return next == StatusCompleted
	default:
		return false
	}
}

// Frequency is how often the owner intends to check in.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekdays Frequency = "weekdays"
	FrequencyWeekly   Frequency = "weekly"
)

// IsValid checks if the frequency is known.
func (f Frequency) IsValid() bool {
	return f == FrequencyDaily || f == FrequencyWeekdays || f == FrequencyWeekly
}

// Experiment is a user-defined self-tracking routine.
type Experiment struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"owner_id"`
	Title        string           `json:"title"`
	Hypothesis   string           `json:"hypothesis,omitempty"`
	DurationDays int              `json:"duration_days,omitempty"` // 0 means open-ended
	Frequency    Frequency        `json:"frequency"`
	Status       ExperimentStatus `json:"status"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// IsOwnedBy returns true if userID owns the experiment.
func (e *Experiment) IsOwnedBy(userID string) bool {
	return e != nil && userID != "" && e.OwnerID == userID
}

// FieldType is the declared input type of an experiment field.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldNumber FieldType = "number"
	FieldYesNo  FieldType = "yesno"
	FieldEmoji  FieldType = "emoji"
	FieldSelect FieldType = "select"
)

// IsValid checks if the field type is known.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldText, FieldNumber, FieldYesNo, FieldEmoji, FieldSelect:
		return true
	default:
		return false
	}
}

// DefaultEmojiCount is the scale size used when an emoji field does not set one.
const DefaultEmojiCount = 5

// FieldConfig holds type-specific constraints.
type FieldConfig struct {
	Min        *float64 `json:"min,omitempty"`
	Max        *float64 `json:"max,omitempty"`
	Options    []string `json:"options,omitempty"`
	EmojiCount int      `json:"emoji_count,omitempty"`
}

// ScaleSize returns the emoji scale size, falling back to DefaultEmojiCount.
func (c FieldConfig) ScaleSize() int {
	if c.EmojiCount <= 0 {
		return DefaultEmojiCount
	}
	return c.EmojiCount
}

// ExperimentField is a typed input definition attached to an experiment.
type ExperimentField struct {
	ID           string      `json:"id"`
	ExperimentID string      `json:"experiment_id,omitempty"`
	Label        string      `json:"label"`
	Type         FieldType   `json:"type"`
	Required     bool        `json:"required"`
	Position     int         `json:"position"`
	Config       FieldConfig `json:"config"`
}

// ExperimentCheckIn is one UTC day's set of responses.
type ExperimentCheckIn struct {
	ID           string                    `json:"id"`
	ExperimentID string                    `json:"experiment_id"`
	Date         time.Time                 `json:"date"` // always 00:00:00 UTC
	Note         string                    `json:"note,omitempty"`
	Responses    []ExperimentFieldResponse `json:"responses"`
	CreatedAt    time.Time                 `json:"created_at"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Response returns the response for fieldID, if any.
func (c *ExperimentCheckIn) Response(fieldID string) (*ExperimentFieldResponse, bool) {
	for i := range c.Responses {
		if c.Responses[i].FieldID == fieldID {
			return &c.Responses[i], true
		}
	}
	return nil, false
}

// ExperimentFieldResponse is the raw JSON value recorded for one field on one check-in.
type ExperimentFieldResponse struct {
	FieldID string          `json:"field_id"`
	Value   json.RawMessage `json:"value"`
}

// Text decodes the value as a string.
func (r *ExperimentFieldResponse) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// Number decodes the value as a float.
func (r *ExperimentFieldResponse) Number() (float64, bool) {
	var f float64
	if err := json.Unmarshal(r.Value, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Bool decodes the value as a boolean. The strings "yes" and "no" are accepted too.
func (r *ExperimentFieldResponse) Bool() (bool, bool) {
	var b bool
	if err := json.Unmarshal(r.Value, &b); err == nil {
		return b, true
	}
	s, ok := r.Text()
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	default:
		return false, false
	}
}

// Score decodes the value as an integer ordinal score.
func (r *ExperimentFieldResponse) Score() (int, bool) {
	f, ok := r.Number()
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// StartOfUTCDay normalizes t to 00:00:00 UTC of its UTC calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
