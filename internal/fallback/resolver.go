package fallback

import (
	"fmt"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// Response is one successful provider response collected during a resolve
// call. Responses are passed in global priority order.
type Response struct {
	Provider string
	Partial  quote.PartialRecord
}

// Config selects the strategies the resolver applies
type Config struct {
	AlternateSources  bool
	Derivations       []string // enabled derivations, empty enables all
	VolumeRatioWindow int
}

// DefaultConfig enables every strategy
func DefaultConfig() Config {
	return Config{AlternateSources: true, VolumeRatioWindow: DefaultVolumeRatioWindow}
}

// Resolver fills fields the priority walk left missing: alternate source,
// then derivation, then explicit absence. It holds no per-call state.
type Resolver struct {
	alternates  bool
	derivations map[quote.Field]Derivation
}

// New builds a resolver; unknown derivation names are an error
func New(cfg Config) (*Resolver, error) {
	if cfg.VolumeRatioWindow <= 0 {
		cfg.VolumeRatioWindow = DefaultVolumeRatioWindow
	}

	enabled := map[string]bool{}
	for _, name := range cfg.Derivations {
		if !Known(name) {
			return nil, fmt.Errorf("unknown derivation %q", name)
		}
		enabled[name] = true
	}

	r := &Resolver{
		alternates:  cfg.AlternateSources,
		derivations: map[quote.Field]Derivation{},
	}
	for _, d := range builtins(cfg.VolumeRatioWindow) {
		if len(enabled) > 0 && !enabled[d.Name] {
			continue
		}
		r.derivations[d.Field] = d
	}
	return r, nil
}

// Inputs returns the fields, auxiliary ones included, that derivations for
// missing would read. The router fetches those it does not hold yet.
func (r *Resolver) Inputs(missing []quote.Field) []quote.Field {
	seen := map[quote.Field]bool{}
	var visit func(f quote.Field)
	visit = func(f quote.Field) {
		d, ok := r.derivations[f]
		if !ok {
			return
		}
		for _, in := range d.Inputs {
			if seen[in] {
				continue
			}
			seen[in] = true
			visit(in)
		}
	}
	for _, f := range missing {
		visit(f)
	}

	out := make([]quote.Field, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return quote.SortFields(out)
}

// Report lists how each fallback field was settled
type Report struct {
	Alternate []quote.Field
	Derived   []quote.Field
	Absent    []quote.Field
}

// Fill settles every required field b does not hold yet. Present values are
// never replaced. Equal inputs always produce equal output.
func (r *Resolver) Fill(b *quote.Builder, required []quote.Field, responses []Response, asOf time.Time) Report {
	var rep Report
	required = quote.SortFields(required)

	missing := func() []quote.Field {
		var out []quote.Field
		for _, f := range required {
			if !f.Auxiliary() && !b.Has(f) {
				out = append(out, f)
			}
		}
		return out
	}

	if r.alternates {
		for _, f := range missing() {
			for _, resp := range responses {
				v, ok := resp.Partial.Get(f)
				if !ok {
					continue
				}
				if b.Set(f, quote.Alternate(v, resp.Provider)) {
					rep.Alternate = append(rep.Alternate, f)
					record(f, resp.Provider, quote.MethodAlternate)
				}
				break
			}
		}
	}

	env := newEnv(r, b, responses, asOf)
	for _, f := range missing() {
		d, ok := r.derivations[f]
		if !ok {
			continue
		}
		v, ok := env.derive(f)
		if !ok {
			continue
		}
		if b.Set(f, v) {
			rep.Derived = append(rep.Derived, f)
			record(f, v.Source, quote.DerivedMethod(d.Name))
		}
	}

	for _, f := range missing() {
		b.Set(f, quote.Absent())
		rep.Absent = append(rep.Absent, f)
		record(f, "", quote.MethodAbsent)
	}
	return rep
}

func record(f quote.Field, source, method string) {
	observ.FieldResolutions.WithLabelValues(string(f), method).Inc()
	observ.Log("field_fallback", map[string]any{
		"field":  string(f),
		"method": method,
		"source": source,
	})
}

// Env is the read view a derivation computes from. Lookups consult the
// record under construction, then successful responses in priority order,
// then other derivations; intermediate results are kept out of the record.
type Env struct {
	r         *Resolver
	b         *quote.Builder
	responses []Response
	asOf      time.Time

	scratch  map[quote.Field]quote.FieldValue
	visiting map[quote.Field]bool
}

func newEnv(r *Resolver, b *quote.Builder, responses []Response, asOf time.Time) *Env {
	return &Env{
		r:         r,
		b:         b,
		responses: responses,
		asOf:      asOf,
		scratch:   map[quote.Field]quote.FieldValue{},
		visiting:  map[quote.Field]bool{},
	}
}

// AsOf is the date derivations are computed for
func (e *Env) AsOf() time.Time { return e.asOf }

// Value looks up f, deriving it when nothing supplied it
func (e *Env) Value(f quote.Field) (quote.FieldValue, bool) {
	if v, ok := e.b.Get(f); ok && v.Present {
		return v, true
	}
	for _, resp := range e.responses {
		if v, ok := resp.Partial.Get(f); ok {
			return quote.Alternate(v, resp.Provider), true
		}
	}
	return e.derive(f)
}

func (e *Env) derive(f quote.Field) (quote.FieldValue, bool) {
	if v, ok := e.scratch[f]; ok {
		return v, v.Present
	}
	d, ok := e.r.derivations[f]
	if !ok || e.visiting[f] {
		return quote.FieldValue{}, false
	}
	e.visiting[f] = true
	v, source, ok := d.Compute(e)
	delete(e.visiting, f)

	if !ok {
		e.scratch[f] = quote.Absent()
		return quote.FieldValue{}, false
	}
	fv := quote.Derived(v, source, d.Name)
	e.scratch[f] = fv
	return fv, true
}

// History returns the bars of the highest-priority response carrying any
func (e *Env) History() ([]quote.Bar, string) {
	for _, resp := range e.responses {
		if len(resp.Partial.History) > 0 {
			return resp.Partial.History, resp.Provider
		}
	}
	return nil, ""
}

// Trailing returns up to n bars strictly before the as-of date, ascending
func (e *Env) Trailing(n int) ([]quote.Bar, string) {
	bars, source := e.History()
	if len(bars) == 0 {
		return nil, ""
	}
	eligible := eligibleBars(bars, e.asOf)
	if len(eligible) > n {
		eligible = eligible[len(eligible)-n:]
	}
	return eligible, source
}
