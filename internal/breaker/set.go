package breaker

import (
	"fmt"

	"github.com/Rajchodisetti/marketdata/internal/observ"
)

// Set owns exactly one breaker per configured provider for the lifetime of
// the router it is injected into.
type Set struct {
	breakers map[string]*Breaker
	order    []string
}

func NewSet() *Set {
	return &Set{breakers: make(map[string]*Breaker)}
}

// Add creates the breaker for provider; a second Add for the same name fails
func (s *Set) Add(provider string, config Config, opts ...Option) (*Breaker, error) {
	if _, exists := s.breakers[provider]; exists {
		return nil, fmt.Errorf("breaker for %s already exists", provider)
	}
	b := New(provider, config, opts...)
	s.breakers[provider] = b
	s.order = append(s.order, provider)
	return b, nil
}

// Get returns the breaker for provider or nil
func (s *Set) Get(provider string) *Breaker {
	return s.breakers[provider]
}

// Providers returns provider names in registration order
func (s *Set) Providers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// States returns provider -> state label
func (s *Set) States() map[string]string {
	out := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State().String()
	}
	return out
}

// Snapshots captures every breaker
func (s *Set) Snapshots() map[string]Snapshot {
	out := make(map[string]Snapshot, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Restore applies snapshots to known providers and returns how many were
// applied. Snapshots for providers that are no longer configured are skipped.
func (s *Set) Restore(snaps map[string]Snapshot) int {
	restored := 0
	for _, name := range s.order {
		snap, ok := snaps[name]
		if !ok {
			continue
		}
		if err := s.breakers[name].Restore(snap); err != nil {
			observ.Warn("breaker_restore_failed", map[string]any{
				"provider": name,
				"error":    err,
			})
			continue
		}
		restored++
	}
	return restored
}

// Reset closes every breaker
func (s *Set) Reset() {
	for _, name := range s.order {
		s.breakers[name].Reset()
	}
}
