package review

import (
	"math"
	"strings"

	"github.com/selah/selah/internal/model"
)

// Summaries computes one summary per field, ordered by field position.
func Summaries(fields []model.ExperimentField, checkIns []model.ExperimentCheckIn) []FieldSummary {
	ordered := orderedFields(fields)
	history := chronological(checkIns)

	out := make([]FieldSummary, 0, len(ordered))
	for _, f := range ordered {
		out = append(out, summarize(f, samplesFor(f, history)))
	}
	return out
}

func summarize(field model.ExperimentField, samples []sample) FieldSummary {
	s := FieldSummary{
		FieldID: field.ID,
		Label:   field.Label,
		Type:    field.Type,
	}

	switch field.Type {
	case model.FieldText:
		s.Count = len(textValues(samples))
	case model.FieldNumber:
		values := numberValues(samples)
		s.Count = len(values)
		s.Number = summarizeNumbers(values)
	case model.FieldYesNo:
		values := boolValues(samples)
		s.Count = len(values)
		s.YesNo = summarizeBools(values)
	case model.FieldEmoji:
		scale := field.Config.ScaleSize()
		values := scoreValues(samples, scale)
		s.Count = len(values)
		s.Emoji = summarizeScores(values, scale)
	case model.FieldSelect:
		values := choiceValues(samples)
		s.Count = len(values)
		s.Select = summarizeChoices(values)
	}

	return s
}

func summarizeNumbers(values []float64) *NumberSummary {
	if len(values) == 0 {
		return &NumberSummary{}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return &NumberSummary{
		Min:     lo,
		Max:     hi,
		Average: round2(mean(values)),
	}
}

func summarizeBools(values []bool) *YesNoSummary {
	s := &YesNoSummary{}
	for _, v := range values {
		if v {
			s.YesCount++
		} else {
			s.NoCount++
		}
	}
	if total := s.YesCount + s.NoCount; total > 0 {
		s.YesPercentage = int(math.Round(float64(s.YesCount) * 100 / float64(total)))
	}
	return s
}

func summarizeScores(values []int, scale int) *EmojiSummary {
	s := &EmojiSummary{
		ScaleSize:    scale,
		Distribution: make(map[int]int),
	}
	if len(values) == 0 {
		return s
	}
	total := 0
	for _, v := range values {
		s.Distribution[v]++
		total += v
	}
	s.AverageScore = round2(float64(total) / float64(len(values)))
	return s
}

func summarizeChoices(values []string) *SelectSummary {
	s := &SelectSummary{OptionCounts: make(map[string]int)}
	for _, v := range values {
		s.OptionCounts[v]++
	}
	return s
}

// textValues keeps non-empty text responses.
func textValues(samples []sample) []sample {
	var out []sample
	for _, s := range samples {
		if v, ok := s.value.Text(); ok && strings.TrimSpace(v) != "" {
			out = append(out, s)
		}
	}
	return out
}

func numberValues(samples []sample) []float64 {
	var out []float64
	for _, s := range samples {
		if v, ok := s.value.Number(); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func boolValues(samples []sample) []bool {
	var out []bool
	for _, s := range samples {
		if v, ok := s.value.Bool(); ok {
			out = append(out, v)
		}
	}
	return out
}

// scoreValues keeps scores inside 1..scale.
func scoreValues(samples []sample, scale int) []int {
	var out []int
	for _, s := range samples {
		if v, ok := s.value.Score(); ok && v >= 1 && v <= scale {
			out = append(out, v)
		}
	}
	return out
}

// choiceSample is a chosen option with its check-in date.
type choiceSample struct {
	date   string
	choice string
}

func choiceSamples(samples []sample) []choiceSample {
	var out []choiceSample
	for _, s := range samples {
		if v, ok := s.value.Text(); ok && strings.TrimSpace(v) != "" {
			out = append(out, choiceSample{date: dateKey(s.date), choice: v})
		}
	}
	return out
}

func choiceValues(samples []sample) []string {
	cs := choiceSamples(samples)
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.choice
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
