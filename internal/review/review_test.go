package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/selah/selah/internal/model"
)

var day0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func day(n int) time.Time {
	return day0.AddDate(0, 0, n-1)
}

func raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// checkIns builds one check-in per value on consecutive days for a single field.
// A nil value produces a check-in without a response for the field.
func checkIns(fieldID string, values ...any) []model.ExperimentCheckIn {
	out := make([]model.ExperimentCheckIn, 0, len(values))
	for i, v := range values {
		c := model.ExperimentCheckIn{
			ID:   fmt.Sprintf("c%d", i+1),
			Date: day(i + 1),
		}
		if v != nil {
			c.Responses = []model.ExperimentFieldResponse{{FieldID: fieldID, Value: raw(v)}}
		}
		out = append(out, c)
	}
	return out
}

func field(id string, typ model.FieldType) model.ExperimentField {
	return model.ExperimentField{ID: id, Label: id, Type: typ}
}

func TestSummaries_Number(t *testing.T) {
	t.Parallel()

	got := Summaries([]model.ExperimentField{field("f", model.FieldNumber)}, checkIns("f", 1, 2, 3, 4, 5))
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	s := got[0]
	if s.Count != 5 || s.Number == nil {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Number.Min != 1 || s.Number.Max != 5 || s.Number.Average != 3 {
		t.Errorf("number summary = %+v, want min 1 max 5 avg 3", *s.Number)
	}
}

func TestSummaries_NumberSkipsMissingResponses(t *testing.T) {
	t.Parallel()

	got := Summaries([]model.ExperimentField{field("f", model.FieldNumber)}, checkIns("f", 10, nil, 20, nil))
	s := got[0]
	if s.Count != 2 {
		t.Errorf("Count = %d, want 2 (missing responses are not zeros)", s.Count)
	}
	if s.Number.Average != 15 || s.Number.Min != 10 {
		t.Errorf("number summary = %+v", *s.Number)
	}
}

func TestSummaries_YesNo(t *testing.T) {
	t.Parallel()

	got := Summaries([]model.ExperimentField{field("f", model.FieldYesNo)}, checkIns("f", true, true, false))
	s := got[0]
	if s.Count != 3 || s.YesNo == nil {
		t.Fatalf("unexpected summary: %+v", s)
	}
	want := YesNoSummary{YesCount: 2, NoCount: 1, YesPercentage: 67}
	if *s.YesNo != want {
		t.Errorf("yesno summary = %+v, want %+v", *s.YesNo, want)
	}
}

func TestSummaries_Emoji(t *testing.T) {
	t.Parallel()

	f := field("f", model.FieldEmoji)
	f.Config.EmojiCount = 5

	got := Summaries([]model.ExperimentField{f}, checkIns("f", 4, 5, 4, 9, 2))
	s := got[0]
	if s.Count != 4 {
		t.Errorf("Count = %d, want 4 (out-of-scale value ignored)", s.Count)
	}
	if s.Emoji.AverageScore != 3.75 {
		t.Errorf("AverageScore = %v, want 3.75", s.Emoji.AverageScore)
	}
	if s.Emoji.Distribution[4] != 2 || s.Emoji.Distribution[5] != 1 || s.Emoji.Distribution[2] != 1 {
		t.Errorf("Distribution = %v", s.Emoji.Distribution)
	}
	if _, ok := s.Emoji.Distribution[1]; ok {
		t.Error("absent scale values must not appear in the distribution")
	}
}

func TestSummaries_SelectAndText(t *testing.T) {
	t.Parallel()

	sel := field("s", model.FieldSelect)
	sel.Config.Options = []string{"run", "swim", "rest"}
	txt := field("t", model.FieldText)
	txt.Position = 1

	history := checkIns("s", "run", "run", "swim")
	history[0].Responses = append(history[0].Responses, model.ExperimentFieldResponse{FieldID: "t", Value: raw("felt good")})
	history[1].Responses = append(history[1].Responses, model.ExperimentFieldResponse{FieldID: "t", Value: raw("   ")})

	got := Summaries([]model.ExperimentField{txt, sel}, history)
	if got[0].FieldID != "s" || got[1].FieldID != "t" {
		t.Fatalf("summaries should follow field position, got %s, %s", got[0].FieldID, got[1].FieldID)
	}

	if got[0].Select.OptionCounts["run"] != 2 || got[0].Select.OptionCounts["swim"] != 1 {
		t.Errorf("OptionCounts = %v", got[0].Select.OptionCounts)
	}
	if _, ok := got[0].Select.OptionCounts["rest"]; ok {
		t.Error("unchosen options should not appear")
	}
	if got[1].Count != 1 {
		t.Errorf("text Count = %d, want 1 (blank responses excluded)", got[1].Count)
	}
}

func TestZeroResponses_WellFormed(t *testing.T) {
	t.Parallel()

	fields := []model.ExperimentField{
		field("a", model.FieldText),
		field("b", model.FieldNumber),
		field("c", model.FieldYesNo),
		field("d", model.FieldEmoji),
		field("e", model.FieldSelect),
	}
	for i := range fields {
		fields[i].Position = i
	}

	summaries := Summaries(fields, nil)
	trends := Trends(fields, nil)

	for _, s := range summaries {
		if s.Count != 0 {
			t.Errorf("%s: Count = %d, want 0", s.FieldID, s.Count)
		}
	}
	if s := summaries[1].Number; s == nil || s.Average != 0 || s.Min != 0 || s.Max != 0 {
		t.Errorf("empty number summary = %+v", s)
	}
	if s := summaries[2].YesNo; s == nil || s.YesPercentage != 0 {
		t.Errorf("empty yesno summary = %+v", s)
	}
	if s := summaries[3].Emoji; s == nil || s.AverageScore != 0 || len(s.Distribution) != 0 {
		t.Errorf("empty emoji summary = %+v", s)
	}

	if len(trends[0].Daily) != 0 {
		t.Errorf("empty text trend = %v", trends[0].Daily)
	}
	for _, tr := range trends[1:4] {
		if tr.Direction != DirectionFlat {
			t.Errorf("%s: Direction = %s, want flat", tr.FieldID, tr.Direction)
		}
	}
	if len(trends[4].Buckets) != 0 {
		t.Errorf("empty select trend = %v", trends[4].Buckets)
	}

	exp := &model.Experiment{ID: "exp", Status: model.StatusDraft}
	if _, err := mustSummary(t, History{Experiment: exp, Fields: fields}); err != nil {
		t.Errorf("empty summary report should validate: %v", err)
	}
}

func mustSummary(t *testing.T, h History) (*SummaryReport, error) {
	t.Helper()
	r, err := BuildSummaryReport(h)
	if err != nil {
		t.Fatalf("BuildSummaryReport failed: %v", err)
	}
	return r, ValidateSummaryReport(r)
}

func TestCompareHalves(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values []float64
		want   int
	}{
		{"empty", nil, 0},
		{"single", []float64{7}, 0},
		{"rising pair", []float64{1, 2}, 1},
		{"falling", []float64{5, 4, 3, 2}, -1},
		{"odd length ignores middle", []float64{1, 100, 1}, 0},
		{"within epsilon", []float64{1, 1.005}, 0},
		{"just above epsilon", []float64{1, 1.02}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compareHalves(tt.values); got != tt.want {
				t.Errorf("compareHalves(%v) = %d, want %d", tt.values, got, tt.want)
			}
		})
	}
}

func TestTrends_Directions(t *testing.T) {
	t.Parallel()

	num := field("n", model.FieldNumber)
	yn := field("y", model.FieldYesNo)
	emo := field("e", model.FieldEmoji)

	if got := Trends([]model.ExperimentField{num}, checkIns("n", 1, 2, 3, 4))[0].Direction; got != DirectionIncreasing {
		t.Errorf("number direction = %s, want increasing", got)
	}
	if got := Trends([]model.ExperimentField{num}, checkIns("n", 4, 3, 2, 1))[0].Direction; got != DirectionDecreasing {
		t.Errorf("number direction = %s, want decreasing", got)
	}
	if got := Trends([]model.ExperimentField{yn}, checkIns("y", false, false, true, true))[0].Direction; got != DirectionUp {
		t.Errorf("yesno direction = %s, want up", got)
	}
	if got := Trends([]model.ExperimentField{emo}, checkIns("e", 5, 4, 2, 1))[0].Direction; got != DirectionDown {
		t.Errorf("emoji direction = %s, want down", got)
	}
	if got := Trends([]model.ExperimentField{emo}, checkIns("e", 3, 3, 3))[0].Direction; got != DirectionFlat {
		t.Errorf("emoji direction = %s, want flat", got)
	}
}

func TestTrends_UsesChronologicalOrder(t *testing.T) {
	t.Parallel()

	history := checkIns("n", 1, 2, 3, 4)
	// Reverse the slice; the aggregator must sort by date.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	got := Trends([]model.ExperimentField{field("n", model.FieldNumber)}, history)[0].Direction
	if got != DirectionIncreasing {
		t.Errorf("direction = %s, want increasing", got)
	}
	if history[0].Date != day(4) {
		t.Error("input slice must not be reordered")
	}
}

func TestTrends_TextDaily(t *testing.T) {
	t.Parallel()

	got := Trends([]model.ExperimentField{field("t", model.FieldText)}, checkIns("t", "a", nil, "", "c"))[0]
	want := []DateCount{
		{Date: "2024-05-01", Count: 1},
		{Date: "2024-05-04", Count: 1},
	}
	if len(got.Daily) != len(want) {
		t.Fatalf("Daily = %v, want %v", got.Daily, want)
	}
	for i := range want {
		if got.Daily[i] != want[i] {
			t.Errorf("Daily[%d] = %v, want %v", i, got.Daily[i], want[i])
		}
	}
}

func TestTrends_SelectBuckets(t *testing.T) {
	t.Parallel()

	sel := field("s", model.FieldSelect)
	sel.Config.Options = []string{"swim", "run"}

	t.Run("below threshold", func(t *testing.T) {
		got := Trends([]model.ExperimentField{sel}, checkIns("s", "run", "swim", "run"))[0]
		if len(got.Buckets) != 0 {
			t.Errorf("expected no buckets below %d responses, got %v", MinSelectResponses, got.Buckets)
		}
	})

	t.Run("uneven sizes", func(t *testing.T) {
		history := checkIns("s", "run", "run", "swim", "swim", "run", "swim", "run", "run", "run", "swim")
		got := Trends([]model.ExperimentField{sel}, history)[0].Buckets
		if len(got) != SelectBuckets {
			t.Fatalf("expected %d buckets, got %d", SelectBuckets, len(got))
		}
		sizes := []int{got[0].Size, got[1].Size, got[2].Size, got[3].Size}
		if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 2 || sizes[3] != 2 {
			t.Errorf("bucket sizes = %v, want [3 3 2 2]", sizes)
		}
		if got[0].Dominant != "run" || got[0].Count != 2 {
			t.Errorf("bucket 1 = %+v", got[0])
		}
		if got[0].From != "2024-05-01" || got[0].To != "2024-05-03" {
			t.Errorf("bucket 1 range = %s..%s", got[0].From, got[0].To)
		}
	})

	t.Run("tie goes to declared order", func(t *testing.T) {
		history := checkIns("s", "run", "swim", "run", "swim", "run", "swim", "run", "swim")
		got := Trends([]model.ExperimentField{sel}, history)[0].Buckets
		for _, b := range got {
			if b.Dominant != "swim" {
				t.Errorf("bucket %d dominant = %s, want swim (declared first)", b.Index, b.Dominant)
			}
		}
	})

	t.Run("undeclared tie is lexicographic", func(t *testing.T) {
		history := checkIns("s", "zen", "yoga", "zen", "yoga", "zen", "yoga", "zen", "yoga")
		got := Trends([]model.ExperimentField{sel}, history)[0].Buckets
		if got[0].Dominant != "yoga" {
			t.Errorf("dominant = %s, want yoga", got[0].Dominant)
		}
	})
}

func TestBuildResult_Coverage(t *testing.T) {
	t.Parallel()

	f := field("n", model.FieldNumber)

	t.Run("consecutive days", func(t *testing.T) {
		exp := &model.Experiment{ID: "exp", Title: "Walk", DurationDays: 5, Status: model.StatusActive}
		res, err := BuildResult(History{Experiment: exp, Fields: []model.ExperimentField{f}, CheckIns: checkIns("n", 1, 2, 3)})
		if err != nil {
			t.Fatalf("BuildResult failed: %v", err)
		}
		if res.TotalCheckIns != 3 || res.DaysCovered != 3 {
			t.Errorf("TotalCheckIns = %d, DaysCovered = %d", res.TotalCheckIns, res.DaysCovered)
		}
		if res.CompletionRate == nil || *res.CompletionRate != 0.6 {
			t.Errorf("CompletionRate = %v, want 0.6", res.CompletionRate)
		}
		if err := ValidateResult(res); err != nil {
			t.Errorf("result should validate: %v", err)
		}
	})

	t.Run("gap is inclusive", func(t *testing.T) {
		exp := &model.Experiment{ID: "exp", Status: model.StatusActive}
		history := []model.ExperimentCheckIn{
			{ID: "a", Date: day(10)},
			{ID: "b", Date: day(1)},
		}
		res, err := BuildResult(History{Experiment: exp, CheckIns: history})
		if err != nil {
			t.Fatalf("BuildResult failed: %v", err)
		}
		if res.DaysCovered != 10 || res.TotalCheckIns != 2 {
			t.Errorf("DaysCovered = %d, TotalCheckIns = %d, want 10 and 2", res.DaysCovered, res.TotalCheckIns)
		}
		if res.CompletionRate != nil {
			t.Errorf("CompletionRate = %v, want nil without duration", *res.CompletionRate)
		}
		if !res.FirstCheckIn.Equal(day(1)) || !res.LastCheckIn.Equal(day(10)) {
			t.Errorf("FirstCheckIn = %v, LastCheckIn = %v", res.FirstCheckIn, res.LastCheckIn)
		}
	})

	t.Run("completion is clamped", func(t *testing.T) {
		exp := &model.Experiment{ID: "exp", DurationDays: 2, Status: model.StatusCompleted}
		res, _ := BuildResult(History{Experiment: exp, CheckIns: checkIns("n", 1, 2, 3, 4)})
		if res.CompletionRate == nil || *res.CompletionRate != 1 {
			t.Errorf("CompletionRate = %v, want 1", res.CompletionRate)
		}
	})

	t.Run("no check-ins", func(t *testing.T) {
		exp := &model.Experiment{ID: "exp", DurationDays: 7, Status: model.StatusDraft}
		res, _ := BuildResult(History{Experiment: exp})
		if res.DaysCovered != 0 || res.FirstCheckIn != nil {
			t.Errorf("DaysCovered = %d, FirstCheckIn = %v", res.DaysCovered, res.FirstCheckIn)
		}
		if res.CompletionRate == nil || *res.CompletionRate != 0 {
			t.Errorf("CompletionRate = %v, want 0", res.CompletionRate)
		}
		if err := ValidateResult(res); err != nil {
			t.Errorf("empty result should validate: %v", err)
		}
	})
}

func TestBuildResult_MissingExperiment(t *testing.T) {
	t.Parallel()

	if _, err := BuildResult(History{}); !errors.Is(err, ErrMissingExperiment) {
		t.Errorf("error = %v, want ErrMissingExperiment", err)
	}
	if _, err := BuildTrendReport(History{}); !errors.Is(err, ErrMissingExperiment) {
		t.Errorf("error = %v, want ErrMissingExperiment", err)
	}
}

func TestValidate_FailsClosed(t *testing.T) {
	t.Parallel()

	good := &SummaryReport{
		ExperimentID: "exp",
		Fields: []FieldSummary{
			{FieldID: "f", Label: "Mood", Type: model.FieldYesNo, Count: 1, YesNo: &YesNoSummary{YesCount: 1, YesPercentage: 100}},
		},
	}
	if err := ValidateSummaryReport(good); err != nil {
		t.Fatalf("valid report rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(r *SummaryReport)
	}{
		{"unknown type", func(r *SummaryReport) { r.Fields[0].Type = "slider" }},
		{"negative count", func(r *SummaryReport) { r.Fields[0].Count = -1 }},
		{"percentage over 100", func(r *SummaryReport) { r.Fields[0].YesNo.YesPercentage = 140 }},
		{"empty field id", func(r *SummaryReport) { r.Fields[0].FieldID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &SummaryReport{ExperimentID: good.ExperimentID, Fields: []FieldSummary{good.Fields[0]}}
			yn := *good.Fields[0].YesNo
			r.Fields[0].YesNo = &yn
			tt.mutate(r)
			if err := ValidateSummaryReport(r); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("error = %v, want ErrInvalidPayload", err)
			}
		})
	}

	bad := &TrendReport{ExperimentID: "exp", Fields: []FieldTrend{{FieldID: "f", Label: "x", Type: model.FieldNumber, Direction: "sideways"}}}
	if err := ValidateTrendReport(bad); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("trend error = %v, want ErrInvalidPayload", err)
	}

	rate := 1.5
	res := &Result{ExperimentID: "exp", Status: model.StatusActive, CompletionRate: &rate, Summary: []FieldSummary{}, Trends: []FieldTrend{}}
	if err := ValidateResult(res); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("result error = %v, want ErrInvalidPayload", err)
	}
}

func TestDaysSpanned(t *testing.T) {
	t.Parallel()

	if got := DaysSpanned(day(1), day(1)); got != 1 {
		t.Errorf("same day = %d, want 1", got)
	}
	if got := DaysSpanned(day(1).Add(23*time.Hour), day(2)); got != 2 {
		t.Errorf("adjacent days = %d, want 2", got)
	}
	if got := DaysSpanned(day(10), day(1)); got != 10 {
		t.Errorf("reversed = %d, want 10", got)
	}
}
