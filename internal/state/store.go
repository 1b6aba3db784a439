// Package state persists circuit breaker snapshots between runs, so a
// provider that was failing when the last run ended is not hammered again
// the moment the next one starts.
package state

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/config"
	"github.com/Rajchodisetti/marketdata/internal/observ"
)

// Store loads and saves breaker snapshots keyed by provider name
type Store interface {
	Load(ctx context.Context) (map[string]breaker.Snapshot, error)
	Save(ctx context.Context, snaps map[string]breaker.Snapshot) error
	Clear(ctx context.Context) error
	Close() error
}

// Open returns the store the config selects
func Open(cfg config.State) (Store, error) {
	switch cfg.Backend {
	case "file":
		return NewFileStore(cfg.Path)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisStore(client, cfg.RedisKey), nil
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

// Restore loads snapshots from s into set. Providers that are no longer
// configured are skipped; a failed load leaves every breaker closed.
func Restore(ctx context.Context, s Store, set *breaker.Set) int {
	snaps, err := s.Load(ctx)
	if err != nil {
		observ.Warn("breaker_state_load_failed", map[string]any{"error": err.Error()})
		return 0
	}
	n := set.Restore(snaps)
	observ.Log("breaker_state_restored", map[string]any{
		"stored":   len(snaps),
		"restored": n,
	})
	return n
}

// Save writes every breaker in set to s
func Save(ctx context.Context, s Store, set *breaker.Set) error {
	snaps := set.Snapshots()
	if err := s.Save(ctx, snaps); err != nil {
		return fmt.Errorf("save breaker state: %w", err)
	}
	observ.Log("breaker_state_saved", map[string]any{"providers": len(snaps)})
	return nil
}

// Nop keeps nothing
type Nop struct{}

func (Nop) Load(context.Context) (map[string]breaker.Snapshot, error) {
	return map[string]breaker.Snapshot{}, nil
}

func (Nop) Save(context.Context, map[string]breaker.Snapshot) error { return nil }

func (Nop) Clear(context.Context) error { return nil }

func (Nop) Close() error { return nil }
