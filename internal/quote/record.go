package quote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolution methods recorded on each field
const (
	MethodDirect    = "direct"
	MethodAlternate = "alternate"
	MethodAbsent    = "absent"
	methodDerived   = "derived:"
)

// DerivedMethod returns the method label for a named derivation
func DerivedMethod(name string) string {
	return methodDerived + name
}

// FieldValue is one resolved field with its provenance
type FieldValue struct {
	Value    float64 `json:"value"`
	Present  bool    `json:"present"`
	Source   string  `json:"source,omitempty"`   // provider that supplied the value or its primary input
	Fallback bool    `json:"fallback"`           // true unless taken from the field's first successful priority provider
	Method   string  `json:"method"`             // direct | alternate | derived:<name> | absent
}

// Direct builds a value fetched from the first successful priority provider
func Direct(v float64, source string) FieldValue {
	return FieldValue{Value: v, Present: true, Source: source, Method: MethodDirect}
}

// Alternate builds a value taken from a non-candidate provider's response
func Alternate(v float64, source string) FieldValue {
	return FieldValue{Value: v, Present: true, Source: source, Fallback: true, Method: MethodAlternate}
}

// Derived builds a computed value
func Derived(v float64, source, derivation string) FieldValue {
	return FieldValue{Value: v, Present: true, Source: source, Fallback: true, Method: DerivedMethod(derivation)}
}

// Absent marks a field no provider or derivation could supply
func Absent() FieldValue {
	return FieldValue{Fallback: true, Method: MethodAbsent}
}

// IsDerived reports whether the value was computed
func (v FieldValue) IsDerived() bool {
	return strings.HasPrefix(v.Method, methodDerived)
}

// Record is the canonical normalized output for one security. It is
// immutable: values are only reachable through copying accessors.
type Record struct {
	securityID string
	asOf       time.Time
	fetchedAt  time.Time
	fields     map[Field]FieldValue
}

func (r Record) SecurityID() string   { return r.securityID }
func (r Record) AsOf() time.Time      { return r.asOf }
func (r Record) FetchedAt() time.Time { return r.fetchedAt }

// Get returns the resolved value for f; ok is false when f was not requested
func (r Record) Get(f Field) (FieldValue, bool) {
	v, ok := r.fields[f]
	return v, ok
}

// Value returns the numeric value for f if present
func (r Record) Value(f Field) (float64, bool) {
	v, ok := r.fields[f]
	if !ok || !v.Present {
		return 0, false
	}
	return v.Value, true
}

// Fields returns the requested fields in canonical order
func (r Record) Fields() []Field {
	out := make([]Field, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	return SortFields(out)
}

// Absent returns requested fields that carry no value
func (r Record) Absent() []Field {
	var out []Field
	for _, f := range r.Fields() {
		if !r.fields[f].Present {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every requested field has a value
func (r Record) Complete() bool {
	return len(r.Absent()) == 0
}

// Equal compares content, ignoring timestamps
func (r Record) Equal(o Record) bool {
	if r.securityID != o.securityID || len(r.fields) != len(o.fields) {
		return false
	}
	for f, v := range r.fields {
		if ov, ok := o.fields[f]; !ok || ov != v {
			return false
		}
	}
	return true
}

type recordJSON struct {
	SecurityID string               `json:"security_id"`
	AsOf       time.Time            `json:"as_of"`
	FetchedAt  time.Time            `json:"fetched_at"`
	Fields     map[Field]FieldValue `json:"fields"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{
		SecurityID: r.securityID,
		AsOf:       r.asOf,
		FetchedAt:  r.fetchedAt,
		Fields:     r.fields,
	})
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.SecurityID == "" {
		return errors.New("record without security_id")
	}
	fields := make(map[Field]FieldValue, len(raw.Fields))
	for f, v := range raw.Fields {
		if !f.Valid() || f.Auxiliary() {
			return fmt.Errorf("record field %q not allowed", f)
		}
		fields[f] = v
	}
	*r = Record{securityID: raw.SecurityID, asOf: raw.AsOf, fetchedAt: raw.FetchedAt, fields: fields}
	return nil
}

// Builder assembles a Record during one resolution
type Builder struct {
	rec Record
}

func NewBuilder(securityID string, asOf, fetchedAt time.Time) *Builder {
	return &Builder{rec: Record{
		securityID: securityID,
		asOf:       asOf,
		fetchedAt:  fetchedAt,
		fields:     map[Field]FieldValue{},
	}}
}

// Set stores v for f. A present value is never replaced, so a direct fetch
// can't be overwritten by a later fallback.
func (b *Builder) Set(f Field, v FieldValue) bool {
	if f.Auxiliary() {
		return false
	}
	if cur, ok := b.rec.fields[f]; ok && cur.Present {
		return false
	}
	b.rec.fields[f] = v
	return true
}

// Get returns the current value for f
func (b *Builder) Get(f Field) (FieldValue, bool) {
	v, ok := b.rec.fields[f]
	return v, ok
}

// Has reports whether f already carries a value
func (b *Builder) Has(f Field) bool {
	v, ok := b.rec.fields[f]
	return ok && v.Present
}

// Build returns a copy so the builder can't mutate the returned record
func (b *Builder) Build() Record {
	fields := make(map[Field]FieldValue, len(b.rec.fields))
	for f, v := range b.rec.fields {
		fields[f] = v
	}
	out := b.rec
	out.fields = fields
	return out
}
