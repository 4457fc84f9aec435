// Package metrics holds the metric record model and the decoding of the
// metrics endpoint payload.
package metrics

import (
	"math"
	"strconv"
	"strings"
)

// Kind classifies the JSON shape a value arrived with.
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindString
	KindBool
	KindNull
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindNull:
		return "null"
	case KindComposite:
		return "composite"
	default:
		return "missing"
	}
}

// Value is a metric value as the endpoint sent it. Numbers are shown in their
// shortest round-trip form (42.0 reads 42), strings keep their decoded content.
type Value struct {
	text string
	kind Kind
}

// Number builds a numeric value from its literal text. Literals that do not
// parse are kept as sent.
func Number(literal string) Value {
	f, err := strconv.ParseFloat(literal, 64)
	if err != nil && !math.IsInf(f, 0) {
		return Value{text: literal, kind: KindNumber}
	}
	return Value{text: FormatNumber(f), kind: KindNumber}
}

// FormatNumber renders f the way a browser prints a number: plain decimals
// for 1e-7 <= |f| < 1e21, exponent form outside that range.
func FormatNumber(f float64) string {
	switch {
	case f == 0:
		return "0"
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	if abs := math.Abs(f); abs >= 1e-7 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[:1]
	exp = strings.TrimLeft(exp[1:], "0")
	return mant + "e" + sign + exp
}

// String builds a string value.
func String(s string) Value {
	return Value{text: s, kind: KindString}
}

func (v Value) Kind() Kind {
	return v.kind
}

// String renders the value for display without coercion.
func (v Value) String() string {
	return v.text
}

// Float reports the numeric value when the value arrived as a JSON number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Record is one named measurement returned by the metrics service.
type Record struct {
	Name  string
	Value Value
}

// NameKey is the lower-cased name used for case-insensitive matching.
func (r Record) NameKey() string {
	return strings.ToLower(r.Name)
}
