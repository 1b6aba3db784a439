package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// DefaultMaxEntries bounds a Memory cache built with maxEntries <= 0
const DefaultMaxEntries = 1024

type entry struct {
	rec       quote.Record
	cachedAt  time.Time
	expiresAt time.Time
}

// Memory is an in-process cache with per-entry TTL. When full, the entry
// cached longest ago is evicted.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (quote.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return quote.Record{}, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return quote.Record{}, false, nil
	}
	return e.rec, true, nil
}

func (m *Memory) Set(_ context.Context, key string, rec quote.Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxEntries {
		m.cleanup(now)
		if len(m.entries) >= m.maxEntries {
			m.evictOldest()
		}
	}
	m.entries[key] = entry{rec: rec, cachedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

// cleanup removes expired entries
func (m *Memory) cleanup(now time.Time) {
	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for key, e := range m.entries {
		if oldestKey == "" || e.cachedAt.Before(oldest) {
			oldestKey, oldest = key, e.cachedAt
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
