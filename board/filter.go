package board

import (
	"strings"

	"metricsdash/metrics"
)

// Filter is a case-insensitive substring match on metric names. The zero
// value matches everything.
type Filter struct {
	text  string
	query string
}

// NewFilter keeps text as entered; only case is folded for matching.
func NewFilter(text string) Filter {
	return Filter{text: text, query: strings.ToLower(text)}
}

func (f Filter) Text() string {
	return f.text
}

func (f Filter) Empty() bool {
	return f.query == ""
}

// Match reports whether the record name contains the filter text, ignoring case.
func (f Filter) Match(rec metrics.Record) bool {
	if f.query == "" {
		return true
	}
	return strings.Contains(rec.NameKey(), f.query)
}
