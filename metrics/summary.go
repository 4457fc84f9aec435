package metrics

import (
	"math"
	"strings"

	lev "github.com/agnivade/levenshtein"
	"github.com/zeebo/xxh3"
)

// Summary aggregates the numeric values of one record sequence.
type Summary struct {
	Count   int
	Average float64
	Min     float64
	Max     float64
}

// Summarize computes average/min/max over values that arrived as JSON
// numbers. ok is false when no record carries a numeric value.
func Summarize(records []Record) (Summary, bool) {
	s := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, rec := range records {
		v, ok := rec.Value.Float()
		if !ok || math.IsNaN(v) {
			continue
		}
		s.Count++
		sum += v
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	if s.Count == 0 {
		return Summary{}, false
	}
	s.Average = sum / float64(s.Count)
	return s, true
}

// Closest returns the name nearest to query by edit distance, compared
// case-insensitively. Ties keep the earliest name. ok is false for an empty
// name list or an empty query.
func Closest(names []string, query string) (string, bool) {
	query = strings.ToLower(query)
	if query == "" || len(names) == 0 {
		return "", false
	}
	best := ""
	bestDist := -1
	for _, name := range names {
		d := lev.ComputeDistance(strings.ToLower(name), query)
		if bestDist < 0 || d < bestDist {
			best = name
			bestDist = d
		}
	}
	return best, bestDist >= 0
}

// Fingerprint identifies a payload so unchanged polls can be reported.
func Fingerprint(body []byte) uint64 {
	return xxh3.Hash(body)
}
