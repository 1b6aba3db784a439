package breaker

import (
	"time"

	"github.com/Rajchodisetti/marketdata/internal/observ"
)

// Snapshot is the persistable view of a breaker
type Snapshot struct {
	Provider            string    `json:"provider"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	CooldownMs          int64     `json:"cooldown_ms"`
	Reopens             int       `json:"reopens"`
	TakenAt             time.Time `json:"taken_at"`
}

// Snapshot captures the current state
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Provider:            b.provider,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		CooldownMs:          b.cooldown.Milliseconds(),
		Reopens:             b.reopens,
		TakenAt:             b.now(),
	}
}

// Restore applies a snapshot taken by a previous process. A half-open
// snapshot restores as Open: its probe died with that process.
func (b *Breaker) Restore(s Snapshot) error {
	state, err := ParseState(s.State)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if state == HalfOpen {
		state = Open
	}

	b.consecutiveFailures = s.ConsecutiveFailures
	b.reopens = s.Reopens
	b.openedAt = s.OpenedAt
	b.cooldown = time.Duration(s.CooldownMs) * time.Millisecond
	if b.cooldown <= 0 {
		b.cooldown = b.config.Cooldown
	}
	if b.cooldown > b.config.MaxCooldown {
		b.cooldown = b.config.MaxCooldown
	}
	b.probing = false

	switch state {
	case Open:
		// Open always carries at least threshold failures
		if b.consecutiveFailures < b.config.FailureThreshold {
			b.consecutiveFailures = b.config.FailureThreshold
		}
		if b.openedAt.IsZero() {
			b.openedAt = b.now()
		}
	case Closed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.consecutiveFailures = b.config.FailureThreshold - 1
		}
		b.openedAt = time.Time{}
		b.reopens = 0
		b.cooldown = b.config.Cooldown
	}

	if b.state != state {
		b.transition(state, "restored")
	} else {
		b.gen++
	}

	observ.Debug("breaker_restored", map[string]any{
		"provider":             b.provider,
		"state":                b.state.String(),
		"consecutive_failures": b.consecutiveFailures,
	})
	return nil
}
