package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/adapters"
	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/cache"
	"github.com/Rajchodisetti/marketdata/internal/config"
	"github.com/Rajchodisetti/marketdata/internal/fallback"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/ratelimit"
	"github.com/Rajchodisetti/marketdata/internal/router"
	"github.com/Rajchodisetti/marketdata/internal/state"
)

// app owns everything one fetch run needs
type app struct {
	router   *router.Router
	breakers *breaker.Set
	store    state.Store
	cache    cache.Cache
	resolver *cache.Resolver
}

func newApp(ctx context.Context, cfg config.Root, chaos adapters.ChaosConfig) (*app, error) {
	breakers := breaker.NewSet()
	built := map[string]bool{}

	var providers []router.Provider
	for i, p := range cfg.Enabled() {
		f, err := adapters.Build(p)
		if err != nil {
			observ.Warn("provider_skipped", map[string]any{"provider": p.Name, "error": err.Error()})
			continue
		}
		if chaos.Enabled() {
			f = adapters.NewChaosFetcher(f, chaos)
		}
		b, err := breakers.Add(p.Name, p.BreakerConfig())
		if err != nil {
			return nil, err
		}
		providers = append(providers, router.Provider{
			Descriptor: router.Descriptor{
				Name:     p.Name,
				Priority: p.Priority,
				Order:    i,
				Fields:   p.FieldSet(),
			},
			Fetcher: f,
			Breaker: b,
			Limiter: ratelimit.New(p.Name, p.LimiterConfig()),
		})
		built[p.Name] = true
	}
	if len(providers) == 0 {
		return nil, errors.New("no usable providers")
	}

	// Overrides may name providers that are disabled or failed to build
	overrides := cfg.Acquisition.Overrides()
	for f, names := range overrides {
		kept := names[:0]
		for _, n := range names {
			if built[n] {
				kept = append(kept, n)
			}
		}
		overrides[f] = kept
	}

	fb, err := fallback.New(cfg.Acquisition.FallbackConfig())
	if err != nil {
		return nil, err
	}
	r, err := router.New(providers, router.Options{
		AttemptTimeout: cfg.Acquisition.AttemptTimeout(),
		MaxConcurrency: cfg.Acquisition.MaxConcurrency,
		Overrides:      overrides,
		Fallback:       fb,
	})
	if err != nil {
		return nil, err
	}

	store, err := state.Open(cfg.State)
	if err != nil {
		return nil, err
	}
	state.Restore(ctx, store, breakers)

	c, ttl, err := cache.Open(cfg.Cache)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		router:   r,
		breakers: breakers,
		store:    store,
		cache:    c,
		resolver: cache.NewResolver(r, c, cfg.Cache.Backend, ttl, cfg.Acquisition.MaxConcurrency),
	}, nil
}

// close saves breaker state and releases backends
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := state.Save(ctx, a.store, a.breakers); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler(a.router.BreakerStates))
	return mux
}

// serveMetrics starts the listener; the returned func shuts it down
func (a *app) serveMetrics(addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	observ.Log("metrics_listen", map[string]any{"addr": addr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.Warn("metrics_listen_failed", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
