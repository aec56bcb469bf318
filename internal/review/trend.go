package review

import (
	"sort"

	"github.com/selah/selah/internal/model"
)

// Trends computes one trend per field, ordered by field position.
func Trends(fields []model.ExperimentField, checkIns []model.ExperimentCheckIn) []FieldTrend {
	ordered := orderedFields(fields)
	history := chronological(checkIns)

	out := make([]FieldTrend, 0, len(ordered))
	for _, f := range ordered {
		out = append(out, trend(f, samplesFor(f, history)))
	}
	return out
}

func trend(field model.ExperimentField, samples []sample) FieldTrend {
	t := FieldTrend{
		FieldID: field.ID,
		Label:   field.Label,
		Type:    field.Type,
	}

	switch field.Type {
	case model.FieldText:
		t.Daily = dailyCounts(textValues(samples))
	case model.FieldNumber:
		t.Direction = direction(compareHalves(numberValues(samples)), DirectionIncreasing, DirectionDecreasing)
	case model.FieldYesNo:
		bools := boolValues(samples)
		rates := make([]float64, len(bools))
		for i, b := range bools {
			if b {
				rates[i] = 1
			}
		}
		t.Direction = direction(compareHalves(rates), DirectionUp, DirectionDown)
	case model.FieldEmoji:
		scores := scoreValues(samples, field.Config.ScaleSize())
		values := make([]float64, len(scores))
		for i, s := range scores {
			values[i] = float64(s)
		}
		t.Direction = direction(compareHalves(values), DirectionUp, DirectionDown)
	case model.FieldSelect:
		t.Buckets = dominantBuckets(choiceSamples(samples), field.Config.Options)
	}

	return t
}

// compareHalves returns +1 when the late half's mean exceeds the early half's
// by more than Epsilon, -1 for the reverse and 0 otherwise.
func compareHalves(values []float64) int {
	n := len(values)
	if n < 2 {
		return 0
	}
	half := n / 2
	early := mean(values[:half])
	late := mean(values[n-half:])

	diff := late - early
	switch {
	case diff > Epsilon:
		return 1
	case diff < -Epsilon:
		return -1
	default:
		return 0
	}
}

func direction(cmp int, rising, falling Direction) Direction {
	switch cmp {
	case 1:
		return rising
	case -1:
		return falling
	default:
		return DirectionFlat
	}
}

// dailyCounts returns one entry per date with at least one response, oldest first.
func dailyCounts(samples []sample) []DateCount {
	var out []DateCount
	for _, s := range samples {
		key := dateKey(s.date)
		if len(out) > 0 && out[len(out)-1].Date == key {
			out[len(out)-1].Count++
			continue
		}
		out = append(out, DateCount{Date: key, Count: 1})
	}
	return out
}

// dominantBuckets splits the history into SelectBuckets contiguous buckets
// whose sizes differ by at most one, earlier buckets taking the remainder.
func dominantBuckets(samples []choiceSample, declared []string) []SelectBucket {
	n := len(samples)
	if n < MinSelectResponses {
		return nil
	}

	order := make(map[string]int, len(declared))
	for i, opt := range declared {
		if _, seen := order[opt]; !seen {
			order[opt] = i
		}
	}

	base, extra := n/SelectBuckets, n%SelectBuckets
	buckets := make([]SelectBucket, 0, SelectBuckets)
	start := 0
	for i := 0; i < SelectBuckets; i++ {
		size := base
		if i < extra {
			size++
		}
		chunk := samples[start : start+size]
		start += size

		dominant, count := mostFrequent(chunk, order)
		buckets = append(buckets, SelectBucket{
			Index:    i + 1,
			From:     chunk[0].date,
			To:       chunk[len(chunk)-1].date,
			Dominant: dominant,
			Count:    count,
			Size:     size,
		})
	}
	return buckets
}

// mostFrequent picks the most chosen option. Ties go to the option declared
// first on the field, then to lexicographic order for undeclared values.
func mostFrequent(chunk []choiceSample, order map[string]int) (string, int) {
	counts := make(map[string]int)
	for _, c := range chunk {
		counts[c.choice]++
	}

	options := make([]string, 0, len(counts))
	for opt := range counts {
		options = append(options, opt)
	}
	sort.Slice(options, func(i, j int) bool {
		a, b := options[i], options[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		ia, aDeclared := order[a]
		ib, bDeclared := order[b]
		switch {
		case aDeclared && bDeclared:
			return ia < ib
		case aDeclared != bDeclared:
			return aDeclared
		default:
			return a < b
		}
	})

	return options[0], counts[options[0]]
}
