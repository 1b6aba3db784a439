package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
)

// RedisStore keeps snapshots in one hash, one JSON field per provider, so
// several hosts running the CLI share breaker state
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = "marketdata:breakers"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]breaker.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("HGETALL %s: %w", s.key, err)
	}
	out := make(map[string]breaker.Snapshot, len(fields))
	for provider, raw := range fields {
		var snap breaker.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot for %s: %w", provider, err)
		}
		out[provider] = snap
	}
	return out, nil
}

// Save replaces the hash atomically
func (s *RedisStore) Save(ctx context.Context, snaps map[string]breaker.Snapshot) error {
	values := make(map[string]any, len(snaps))
	for provider, snap := range snaps {
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot for %s: %w", provider, err)
		}
		values[provider] = string(raw)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
