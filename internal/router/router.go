// Package router resolves quote records by walking providers in priority
// order behind their circuit breakers and rate limiters, then handing the
// gaps to the fallback resolver.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/marketdata/internal/adapters"
	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/fallback"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/ratelimit"
)

// DefaultAttemptTimeout bounds one adapter call when Options leaves it unset
const DefaultAttemptTimeout = 5 * time.Second

// Descriptor is a provider's identity and capabilities. It does not change
// after the router is built.
type Descriptor struct {
	Name     string
	Priority int // lower is tried first
	Order    int // declaration order, breaks priority ties
	Fields   []quote.Field
}

// Supplies reports whether the provider declares f
func (d Descriptor) Supplies(f quote.Field) bool {
	for _, have := range d.Fields {
		if have == f {
			return true
		}
	}
	return false
}

// Provider bundles a descriptor with the state owned for it
type Provider struct {
	Descriptor
	Fetcher adapters.Fetcher
	Breaker *breaker.Breaker
	Limiter *ratelimit.Limiter
}

// Options tunes a Router
type Options struct {
	AttemptTimeout time.Duration
	MaxConcurrency int                      // ResolveAll parallelism, 0 is unbounded
	Overrides      map[quote.Field][]string // per-field provider order tried before priority order
	Fallback       *fallback.Resolver       // nil uses every strategy
	Now            func() time.Time
}

// Router is safe for concurrent use. It holds no lock of its own: shared
// state lives in each provider's breaker and limiter.
type Router struct {
	providers []*Provider // priority order
	byName    map[string]*Provider
	overrides map[quote.Field][]*Provider
	fallback  *fallback.Resolver
	timeout   time.Duration
	limit     int
	now       func() time.Time
}

// New validates providers and builds a router. Providers without a breaker
// or limiter get default ones.
func New(providers []Provider, opts Options) (*Router, error) {
	if len(providers) == 0 {
		return nil, errors.New("router: no providers")
	}

	r := &Router{
		byName:    make(map[string]*Provider, len(providers)),
		overrides: map[quote.Field][]*Provider{},
		fallback:  opts.Fallback,
		timeout:   opts.AttemptTimeout,
		limit:     opts.MaxConcurrency,
		now:       opts.Now,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultAttemptTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.fallback == nil {
		fb, err := fallback.New(fallback.DefaultConfig())
		if err != nil {
			return nil, err
		}
		r.fallback = fb
	}

	for i := range providers {
		p := providers[i]
		if p.Name == "" {
			return nil, fmt.Errorf("router: provider %d has no name", i)
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("router: duplicate provider %q", p.Name)
		}
		if p.Fetcher == nil {
			return nil, fmt.Errorf("router: provider %q has no fetcher", p.Name)
		}
		if p.Breaker == nil {
			p.Breaker = breaker.New(p.Name, breaker.Config{})
		}
		if p.Limiter == nil {
			p.Limiter = ratelimit.New(p.Name, ratelimit.Config{})
		}
		p.Fields = append([]quote.Field(nil), p.Fields...)
		r.providers = append(r.providers, &p)
		r.byName[p.Name] = &p
	}
	sort.SliceStable(r.providers, func(i, j int) bool {
		a, b := r.providers[i], r.providers[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Order < b.Order
	})

	for f, names := range opts.Overrides {
		for _, name := range names {
			p, ok := r.byName[name]
			if !ok {
				return nil, fmt.Errorf("router: override for %s names unknown provider %q", f, name)
			}
			// An override only reorders providers that can supply the field
			if p.Supplies(f) {
				r.overrides[f] = append(r.overrides[f], p)
			}
		}
	}
	return r, nil
}

// Candidates returns the providers tried for f, in order
func (r *Router) Candidates(f quote.Field) []string {
	cands := r.candidates(f)
	out := make([]string, len(cands))
	for i, p := range cands {
		out[i] = p.Name
	}
	return out
}

func (r *Router) candidates(f quote.Field) []*Provider {
	seen := map[string]bool{}
	var out []*Provider
	for _, p := range r.overrides[f] {
		if !seen[p.Name] {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	for _, p := range r.providers {
		if !seen[p.Name] && p.Supplies(f) {
			seen[p.Name] = true
			out = append(out, p)
		}
	}
	return out
}

// ResolveOption adjusts one Resolve call
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	asOf time.Time
}

// WithAsOf sets the date derivations are computed for; default is now
func WithAsOf(t time.Time) ResolveOption {
	return func(o *resolveOptions) { o.asOf = t }
}

// Resolve builds the record for securityID. Every requested field comes back
// either with a value and its provenance or explicitly absent. The error is
// a *quote.NoProviderError only when no requested field got a value.
func (r *Router) Resolve(ctx context.Context, securityID string, fields []quote.Field, opts ...ResolveOption) (quote.Record, error) {
	id, err := adapters.NormalizeSecurityID(securityID)
	if err != nil {
		return quote.Record{}, fmt.Errorf("resolve: %w", err)
	}
	securityID = id

	start := r.now()
	o := resolveOptions{asOf: start}
	for _, opt := range opts {
		opt(&o)
	}

	required := make([]quote.Field, 0, len(fields))
	for _, f := range quote.SortFields(fields) {
		if !f.Valid() {
			return quote.Record{}, fmt.Errorf("resolve %s: unknown field %q", securityID, f)
		}
		if !f.Auxiliary() {
			required = append(required, f)
		}
	}
	if len(required) == 0 {
		return quote.Record{}, fmt.Errorf("resolve %s: no fields requested", securityID)
	}

	run := &resolution{
		router:     r,
		id:         uuid.NewString(),
		securityID: securityID,
		results:    map[string]*attempt{},
	}
	b := quote.NewBuilder(securityID, o.asOf, start)

	direct := 0
	for _, f := range required {
		for _, p := range r.candidates(f) {
			rec, ok := run.call(ctx, p)
			if !ok {
				continue
			}
			v, has := rec.Get(f)
			if !has {
				continue
			}
			b.Set(f, quote.Direct(v, p.Name))
			observ.FieldResolutions.WithLabelValues(string(f), quote.MethodDirect).Inc()
			direct++
			break
		}
	}

	var missing []quote.Field
	for _, f := range required {
		if !b.Has(f) {
			missing = append(missing, f)
		}
	}

	var rep fallback.Report
	if len(missing) > 0 {
		// Derivation inputs no successful response carries yet go through
		// the same candidate walk
		for _, in := range r.fallback.Inputs(missing) {
			if b.Has(in) || run.holds(in) {
				continue
			}
			for _, p := range r.candidates(in) {
				if rec, ok := run.call(ctx, p); ok && rec.Has(in) {
					break
				}
			}
		}
		rep = r.fallback.Fill(b, required, run.responses(), o.asOf)
	}

	record := b.Build()
	elapsed := r.now().Sub(start)
	observ.ResolveDuration.Observe(elapsed.Seconds())
	observ.Log("resolve_complete", map[string]any{
		"run_id":      run.id,
		"security":    securityID,
		"fields":      len(required),
		"direct":      direct,
		"alternate":   len(rep.Alternate),
		"derived":     len(rep.Derived),
		"absent":      len(rep.Absent),
		"attempts":    run.attempted(),
		"duration_ms": elapsed.Milliseconds(),
	})

	if len(record.Absent()) == len(required) {
		return record, &quote.NoProviderError{
			SecurityID: securityID,
			Fields:     required,
			Attempts:   run.outcomes(),
		}
	}
	return record, nil
}

// Result is one security's resolution from ResolveAll
type Result struct {
	SecurityID string
	Record     quote.Record
	Err        error
}

// ResolveAll resolves securities concurrently. Results keep the order of
// ids and one security's failure never affects another's.
func (r *Router) ResolveAll(ctx context.Context, ids []string, fields []quote.Field, opts ...ResolveOption) []Result {
	results := make([]Result, len(ids))

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.Resolve(ctx, id, fields, opts...)
			results[i] = Result{SecurityID: id, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ProviderStatus is a point-in-time view of one provider
type ProviderStatus struct {
	Name      string           `json:"name"`
	Priority  int              `json:"priority"`
	Fields    []quote.Field    `json:"fields"`
	Breaker   string           `json:"breaker"`
	RateLimit ratelimit.Status `json:"rate_limit"`
}

// Status reports every provider in priority order
func (r *Router) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, ProviderStatus{
			Name:      p.Name,
			Priority:  p.Priority,
			Fields:    append([]quote.Field(nil), p.Fields...),
			Breaker:   p.Breaker.State().String(),
			RateLimit: p.Limiter.Status(),
		})
	}
	return out
}

// BreakerStates maps provider name to breaker state, for health reporting
func (r *Router) BreakerStates() map[string]string {
	out := make(map[string]string, len(r.providers))
	for _, p := range r.providers {
		out[p.Name] = p.Breaker.State().String()
	}
	return out
}
