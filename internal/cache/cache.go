// Package cache keeps resolved records for a short time so repeated
// requests for the same security, fields and date skip the providers.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/marketdata/internal/config"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// DefaultTTL applies when the config leaves ttl_seconds unset
const DefaultTTL = 30 * time.Minute

// Cache stores records by key. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (quote.Record, bool, error)
	Set(ctx context.Context, key string, rec quote.Record, ttl time.Duration) error
	Close() error
}

// Key identifies one resolution request
func Key(securityID string, fields []quote.Field, asOf time.Time) string {
	names := make([]string, 0, len(fields))
	for _, f := range quote.SortFields(fields) {
		names = append(names, string(f))
	}
	return fmt.Sprintf("%s|%s|%s", securityID, strings.Join(names, ","), asOf.Format("2006-01-02"))
}

// Open returns the cache the config selects, or nil for "none"
func Open(cfg config.Cache) (Cache, time.Duration, error) {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch cfg.Backend {
	case "memory":
		return NewMemory(cfg.MaxEntries), ttl, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedis(client, ""), ttl, nil
	case "none", "":
		return nil, ttl, nil
	default:
		return nil, 0, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
