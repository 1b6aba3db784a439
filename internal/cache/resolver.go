package cache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/marketdata/internal/adapters"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/router"
)

// Source resolves records; *router.Router satisfies it
type Source interface {
	Resolve(ctx context.Context, securityID string, fields []quote.Field, opts ...router.ResolveOption) (quote.Record, error)
}

// Resolver serves records from a cache and falls through to its source on
// a miss. Only complete resolutions without error are stored, so a record
// degraded by an unavailable provider is fetched again next time. A cache
// that fails counts as a miss.
type Resolver struct {
	source  Source
	cache   Cache
	backend string
	ttl     time.Duration
	limit   int
}

// NewResolver wraps source. A nil cache disables caching.
func NewResolver(source Source, c Cache, backend string, ttl time.Duration, maxConcurrency int) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{source: source, cache: c, backend: backend, ttl: ttl, limit: maxConcurrency}
}

// Resolve returns the record for securityID as of asOf
func (r *Resolver) Resolve(ctx context.Context, securityID string, fields []quote.Field, asOf time.Time) (quote.Record, error) {
	if r.cache == nil {
		return r.source.Resolve(ctx, securityID, fields, router.WithAsOf(asOf))
	}

	id, err := adapters.NormalizeSecurityID(securityID)
	if err != nil {
		return r.source.Resolve(ctx, securityID, fields, router.WithAsOf(asOf))
	}
	key := Key(id, fields, asOf)
	rec, ok, err := r.cache.Get(ctx, key)
	switch {
	case err != nil:
		observ.CacheRequests.WithLabelValues(r.backend, "error").Inc()
		observ.Warn("cache_get_failed", map[string]any{"key": key, "error": err.Error()})
	case ok:
		observ.CacheRequests.WithLabelValues(r.backend, "hit").Inc()
		return rec, nil
	default:
		observ.CacheRequests.WithLabelValues(r.backend, "miss").Inc()
	}

	rec, err = r.source.Resolve(ctx, securityID, fields, router.WithAsOf(asOf))
	if err != nil {
		return rec, err
	}
	if !rec.Complete() {
		observ.Debug("cache_skip_incomplete", map[string]any{"key": key, "absent": len(rec.Absent())})
		return rec, nil
	}
	if err := r.cache.Set(ctx, key, rec, r.ttl); err != nil {
		observ.Warn("cache_set_failed", map[string]any{"key": key, "error": err.Error()})
	}
	return rec, nil
}

// ResolveAll resolves ids concurrently, keeping their order in the results
func (r *Resolver) ResolveAll(ctx context.Context, ids []string, fields []quote.Field, asOf time.Time) []router.Result {
	results := make([]router.Result, len(ids))

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.Resolve(ctx, id, fields, asOf)
			results[i] = router.Result{SecurityID: id, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
