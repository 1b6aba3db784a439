package router

import (
	"context"
	"errors"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/fallback"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/ratelimit"
)

// attempt is the memoized result of one provider within one resolution
type attempt struct {
	rec     quote.PartialRecord
	outcome quote.Outcome
	skipped string // why the provider was not called, empty if it was
}

func (a *attempt) ok() bool {
	return a.skipped == "" && !a.outcome.Failed()
}

// resolution is the per-call state of Resolve. It is confined to one
// goroutine.
type resolution struct {
	router     *Router
	id         string
	securityID string
	results    map[string]*attempt
}

// call invokes p at most once per resolution and reports whether it
// returned a successful response
func (run *resolution) call(ctx context.Context, p *Provider) (quote.PartialRecord, bool) {
	if a, done := run.results[p.Name]; done {
		return a.rec, a.ok()
	}
	a := run.attempt(ctx, p)
	run.results[p.Name] = a
	return a.rec, a.ok()
}

func (run *resolution) attempt(ctx context.Context, p *Provider) *attempt {
	ticket, err := p.Breaker.Acquire()
	if err != nil {
		reason := "breaker_open"
		if errors.Is(err, breaker.ErrProbeInFlight) {
			reason = "probe_in_flight"
		}
		run.skip(p, reason)
		return &attempt{skipped: reason}
	}

	if err := p.Limiter.Acquire(ctx); err != nil {
		p.Breaker.Cancel(ticket)
		reason := "rate_limited_local"
		if !errors.Is(err, ratelimit.ErrExhausted) {
			reason = "cancelled"
		}
		run.skip(p, reason)
		return &attempt{skipped: reason}
	}

	actx, cancel := context.WithTimeout(ctx, run.router.timeout)
	start := run.router.now()
	rec, out := p.Fetcher.Fetch(actx, run.securityID)
	elapsed := run.router.now().Sub(start)
	cancel()

	// The caller giving up says nothing about the provider
	if out.Failed() && ctx.Err() != nil {
		p.Breaker.Cancel(ticket)
		run.skip(p, "cancelled")
		return &attempt{skipped: "cancelled"}
	}

	p.Breaker.Report(ticket, out.Failed())
	observ.ProviderRequests.WithLabelValues(p.Name, out.Kind.String()).Inc()
	observ.RecordDuration(p.Name, elapsed)

	switch out.Kind {
	case quote.Success:
		p.Limiter.Relax()
		rec = declared(p, rec)
		observ.Debug("provider_attempt", map[string]any{
			"run_id":   run.id,
			"provider": p.Name,
			"security": run.securityID,
			"fields":   len(rec.Values),
			"history":  len(rec.History),
			"probe":    ticket.Probe(),
			"ms":       elapsed.Milliseconds(),
		})
		return &attempt{rec: rec, outcome: out}
	case quote.RateLimited:
		p.Limiter.Contract()
	}

	kv := map[string]any{
		"run_id":   run.id,
		"provider": p.Name,
		"security": run.securityID,
		"outcome":  out.Kind.String(),
		"reason":   out.Reason,
		"probe":    ticket.Probe(),
		"ms":       elapsed.Milliseconds(),
	}
	if out.Err != nil {
		kv["error"] = out.Err.Error()
	}
	observ.Log("provider_attempt_failed", kv)
	if out.Kind == quote.ProtocolError {
		// Often an upstream API change rather than load
		observ.Warn("provider_protocol_error", kv)
	}
	return &attempt{rec: quote.NewPartial(run.securityID), outcome: out}
}

// declared drops whatever p returned beyond the fields it declares, so a
// provider configured without a field never supplies it
func declared(p *Provider, rec quote.PartialRecord) quote.PartialRecord {
	out := quote.NewPartial(rec.SecurityID)
	out.Timestamp = rec.Timestamp
	for f, v := range rec.Values {
		if p.Supplies(f) {
			out.Set(f, v)
		}
	}
	if p.Supplies(quote.FieldHistory) {
		out.History = rec.History
	}
	return out
}

func (run *resolution) skip(p *Provider, reason string) {
	observ.Debug("provider_skipped", map[string]any{
		"run_id":   run.id,
		"provider": p.Name,
		"security": run.securityID,
		"reason":   reason,
	})
}

// holds reports whether a successful response already carries f
func (run *resolution) holds(f quote.Field) bool {
	for _, a := range run.results {
		if a.ok() && a.rec.Has(f) {
			return true
		}
	}
	return false
}

// responses returns the successful responses in global priority order
func (run *resolution) responses() []fallback.Response {
	var out []fallback.Response
	for _, p := range run.router.providers {
		if a, ok := run.results[p.Name]; ok && a.ok() {
			out = append(out, fallback.Response{Provider: p.Name, Partial: a.rec})
		}
	}
	return out
}

// outcomes maps each called provider to its outcome
func (run *resolution) outcomes() map[string]quote.Outcome {
	out := map[string]quote.Outcome{}
	for name, a := range run.results {
		if a.skipped == "" {
			out[name] = a.outcome
		}
	}
	return out
}

func (run *resolution) attempted() int {
	n := 0
	for _, a := range run.results {
		if a.skipped == "" {
			n++
		}
	}
	return n
}
