package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// Redis stores records as JSON strings with a server-side expiry
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "marketdata:quote:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (c *Redis) Get(ctx context.Context, key string) (quote.Record, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return quote.Record{}, false, nil
	}
	if err != nil {
		return quote.Record{}, false, fmt.Errorf("GET %s: %w", key, err)
	}
	var rec quote.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return quote.Record{}, false, fmt.Errorf("decode cached record %s: %w", key, err)
	}
	return rec, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, rec quote.Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("SET %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
