// Package review turns an experiment's check-in history into per-field
// summaries, coarse trends and a combined review result.
//
// Trend windows: the chronological values that have a response are split into
// an early half values[:n/2] and a late half values[n-n/2:] (the middle value
// of an odd-length sequence belongs to neither). Half means that differ by at
// most Epsilon are flat. Select trends need MinSelectResponses responses and
// are reported over SelectBuckets contiguous buckets.
package review

import (
	"sort"
	"time"

	"github.com/selah/selah/internal/model"
)

const (
	// Epsilon is the largest mean difference still treated as flat.
	Epsilon = 0.01
	// MinSelectResponses is the minimum history size for a select trend.
	MinSelectResponses = 4
	// SelectBuckets is the number of sequential buckets in a select trend.
	SelectBuckets = 4
)

// Direction is a coarse three-way trend indicator.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionUp         Direction = "up"
	DirectionDown       Direction = "down"
	DirectionFlat       Direction = "flat"
)

// FieldSummary is the statistical summary of one field.
// Exactly one of the type-specific blocks is set, except for text fields which only carry Count.
type FieldSummary struct {
	FieldID string          `json:"fieldId"`
	Label   string          `json:"label"`
	Type    model.FieldType `json:"type"`
	Count   int             `json:"count"`
	Number  *NumberSummary  `json:"number,omitempty"`
	YesNo   *YesNoSummary   `json:"yesno,omitempty"`
	Emoji   *EmojiSummary   `json:"emoji,omitempty"`
	Select  *SelectSummary  `json:"select,omitempty"`
}

// NumberSummary is zero-valued when there are no responses.
type NumberSummary struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
}

// YesNoSummary counts boolean responses.
type YesNoSummary struct {
	YesCount      int `json:"yesCount"`
	NoCount       int `json:"noCount"`
	YesPercentage int `json:"yesPercentage"`
}

// EmojiSummary describes responses on the field's ordinal scale.
type EmojiSummary struct {
	ScaleSize    int         `json:"scaleSize"`
	AverageScore float64     `json:"averageScore"`
	Distribution map[int]int `json:"distribution"`
}

// SelectSummary counts the options actually chosen.
type SelectSummary struct {
	OptionCounts map[string]int `json:"optionCounts"`
}

// FieldTrend is the trend indicator of one field.
type FieldTrend struct {
	FieldID   string          `json:"fieldId"`
	Label     string          `json:"label"`
	Type      model.FieldType `json:"type"`
	Direction Direction       `json:"direction,omitempty"`
	Daily     []DateCount     `json:"daily,omitempty"`
	Buckets   []SelectBucket  `json:"buckets,omitempty"`
}

// DateCount is the number of responses on one UTC date.
type DateCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// SelectBucket is the dominant choice within one slice of the history.
type SelectBucket struct {
	Index    int    `json:"index"`
	From     string `json:"from"`
	To       string `json:"to"`
	Dominant string `json:"dominant"`
	Count    int    `json:"count"`
	Size     int    `json:"size"`
}

// SummaryReport is the summary-by-field payload.
type SummaryReport struct {
	ExperimentID string         `json:"experimentId"`
	Fields       []FieldSummary `json:"fields"`
}

// TrendReport is the trend-by-field payload.
type TrendReport struct {
	ExperimentID string       `json:"experimentId"`
	Fields       []FieldTrend `json:"fields"`
}

// Result wraps both reports with experiment metadata and coverage statistics.
type Result struct {
	ExperimentID   string                 `json:"experimentId"`
	Title          string                 `json:"title"`
	Hypothesis     string                 `json:"hypothesis"`
	Status         model.ExperimentStatus `json:"status"`
	Frequency      model.Frequency        `json:"frequency"`
	DurationDays   int                    `json:"durationDays"`
	StartedAt      *time.Time             `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt"`
	CreatedAt      time.Time              `json:"createdAt"`
	TotalCheckIns  int                    `json:"totalCheckIns"`
	DaysCovered    int                    `json:"daysCovered"`
	CompletionRate *float64               `json:"completionRate"`
	FirstCheckIn   *time.Time             `json:"firstCheckIn"`
	LastCheckIn    *time.Time             `json:"lastCheckIn"`
	Summary        []FieldSummary         `json:"summary"`
	Trends         []FieldTrend           `json:"trends"`
}

// History is an experiment's fields and check-ins as loaded from storage.
type History struct {
	Experiment *model.Experiment
	Fields     []model.ExperimentField
	CheckIns   []model.ExperimentCheckIn
}

// sample is one response value with the date of its check-in.
type sample struct {
	date  time.Time
	value *model.ExperimentFieldResponse
}

// chronological returns the check-ins ordered oldest to newest without mutating the input.
func chronological(checkIns []model.ExperimentCheckIn) []model.ExperimentCheckIn {
	out := make([]model.ExperimentCheckIn, len(checkIns))
	copy(out, checkIns)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// orderedFields returns the fields ordered by position without mutating the input.
func orderedFields(fields []model.ExperimentField) []model.ExperimentField {
	out := make([]model.ExperimentField, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position < out[j].Position
	})
	return out
}

// samplesFor collects the field's responses in check-in order.
func samplesFor(field model.ExperimentField, checkIns []model.ExperimentCheckIn) []sample {
	var out []sample
	for i := range checkIns {
		if r, ok := checkIns[i].Response(field.ID); ok {
			out = append(out, sample{date: checkIns[i].Date, value: r})
		}
	}
	return out
}

func dateKey(t time.Time) string {
	return model.StartOfUTCDay(t).Format(time.DateOnly)
}
