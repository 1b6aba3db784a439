package quote

import (
	"fmt"
	"strings"
)

// Field is a canonical quote field name
type Field string

const (
	FieldPrice       Field = "price"
	FieldOpen        Field = "open"
	FieldHigh        Field = "high"
	FieldLow         Field = "low"
	FieldPrevClose   Field = "prev_close"
	FieldChangePct   Field = "change_pct"
	FieldVolume      Field = "volume"
	FieldAmount      Field = "amount"       // Traded value in quote currency
	FieldVolumeRatio Field = "volume_ratio" // Volume relative to the trailing average
	FieldMA5         Field = "ma5"
	FieldMA10        Field = "ma10"
	FieldMA20        Field = "ma20"
	FieldAmplitude   Field = "amplitude" // (high-low)/prev_close in percent

	// FieldHistory is auxiliary: a trailing window of daily bars. It can be
	// declared as a provider capability and requested as a derivation input,
	// but never appears in a Record.
	FieldHistory Field = "history"
)

// canonicalOrder fixes resolution order; derivations rely on inputs
// appearing before the fields derived from them.
var canonicalOrder = []Field{
	FieldPrice,
	FieldOpen,
	FieldHigh,
	FieldLow,
	FieldPrevClose,
	FieldChangePct,
	FieldVolume,
	FieldAmount,
	FieldVolumeRatio,
	FieldMA5,
	FieldMA10,
	FieldMA20,
	FieldAmplitude,
}

var fieldRank = func() map[Field]int {
	m := make(map[Field]int, len(canonicalOrder)+1)
	for i, f := range canonicalOrder {
		m[f] = i
	}
	m[FieldHistory] = len(canonicalOrder)
	return m
}()

// CanonicalFields returns every record field in canonical order
func CanonicalFields() []Field {
	out := make([]Field, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// Valid reports whether f is a known field, auxiliary fields included
func (f Field) Valid() bool {
	_, ok := fieldRank[f]
	return ok
}

// Auxiliary reports whether f is an input-only field
func (f Field) Auxiliary() bool {
	return f == FieldHistory
}

// ParseField normalizes and validates a field name
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// ParseFields parses a list of field names, dropping duplicates
func ParseFields(names []string) ([]Field, error) {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		f, err := ParseField(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return SortFields(out), nil
}

// SortFields returns a de-duplicated copy of fields in canonical order
func SortFields(fields []Field) []Field {
	seen := make(map[Field]bool, len(fields))
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	// Insertion sort: field lists are short
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(out[j]) < rank(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rank(f Field) int {
	if r, ok := fieldRank[f]; ok {
		return r
	}
	return len(fieldRank)
}
