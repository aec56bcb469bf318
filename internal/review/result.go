package review

import (
	"errors"
	"math"
	"time"

	"github.com/selah/selah/internal/model"
)

// ErrMissingExperiment is returned when a history has no experiment attached.
var ErrMissingExperiment = errors.New("review history has no experiment")

// BuildSummaryReport computes the summary-by-field payload.
func BuildSummaryReport(h History) (*SummaryReport, error) {
	if h.Experiment == nil {
		return nil, ErrMissingExperiment
	}
	return &SummaryReport{
		ExperimentID: h.Experiment.ID,
		Fields:       Summaries(h.Fields, h.CheckIns),
	}, nil
}

// BuildTrendReport computes the trend-by-field payload.
func BuildTrendReport(h History) (*TrendReport, error) {
	if h.Experiment == nil {
		return nil, ErrMissingExperiment
	}
	return &TrendReport{
		ExperimentID: h.Experiment.ID,
		Fields:       Trends(h.Fields, h.CheckIns),
	}, nil
}

// BuildResult combines metadata, coverage statistics and both reports.
func BuildResult(h History) (*Result, error) {
	exp := h.Experiment
	if exp == nil {
		return nil, ErrMissingExperiment
	}

	history := chronological(h.CheckIns)
	res := &Result{
		ExperimentID:  exp.ID,
		Title:         exp.Title,
		Hypothesis:    exp.Hypothesis,
		Status:        exp.Status,
		Frequency:     exp.Frequency,
		DurationDays:  exp.DurationDays,
		StartedAt:     exp.StartedAt,
		CompletedAt:   exp.CompletedAt,
		CreatedAt:     exp.CreatedAt,
		TotalCheckIns: len(history),
		Summary:       Summaries(h.Fields, history),
		Trends:        Trends(h.Fields, history),
	}

	if len(history) > 0 {
		first := model.StartOfUTCDay(history[0].Date)
		last := model.StartOfUTCDay(history[len(history)-1].Date)
		res.FirstCheckIn = &first
		res.LastCheckIn = &last
		res.DaysCovered = DaysSpanned(first, last)
	}

	res.CompletionRate = CompletionRate(res.TotalCheckIns, exp.DurationDays)

	return res, nil
}

// DaysSpanned returns the inclusive number of UTC days between first and last.
func DaysSpanned(first, last time.Time) int {
	a, b := model.StartOfUTCDay(first), model.StartOfUTCDay(last)
	if b.Before(a) {
		a, b = b, a
	}
	return int(math.Round(b.Sub(a).Hours()/24)) + 1
}

// CompletionRate returns checkIns/durationDays clamped to 1, or nil when no duration is set.
func CompletionRate(checkIns, durationDays int) *float64 {
	if durationDays <= 0 {
		return nil
	}
	rate := math.Min(float64(checkIns)/float64(durationDays), 1)
	return &rate
}
