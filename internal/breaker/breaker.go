package breaker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/observ"
)

// State represents the circuit breaker state
type State int

const (
	Closed   State = iota // 0 = normal operation
	HalfOpen              // 1 = probing for recovery
	Open                  // 2 = failing, reject requests
)

// String returns the state label used in logs, metrics and snapshots
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of String
func ParseState(s string) (State, error) {
	switch s {
	case "closed":
		return Closed, nil
	case "half-open":
		return HalfOpen, nil
	case "open":
		return Open, nil
	default:
		return Closed, fmt.Errorf("unknown breaker state %q", s)
	}
}

// Backoff selects how the cooldown grows after a failed probe
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffExponential Backoff = "exponential"
)

var (
	// ErrOpen means the provider must not be attempted
	ErrOpen = errors.New("circuit breaker open")
	// ErrProbeInFlight means another caller holds the half-open probe
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// Config holds circuit breaker settings
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	Backoff          Backoff
	Multiplier       float64       // exponential growth factor, default 2
	MaxCooldown      time.Duration // cap for exponential backoff, default 16x Cooldown
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Minute
	}
	if c.Backoff == "" {
		c.Backoff = BackoffConstant
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2
	}
	if c.MaxCooldown < c.Cooldown {
		c.MaxCooldown = 16 * c.Cooldown
	}
	return c
}

// Ticket authorizes one attempt. Its outcome must be passed to Report, or
// the ticket handed back with Cancel when the attempt never happened.
type Ticket struct {
	gen   uint64
	probe bool
}

// Probe reports whether this ticket is the half-open probe
func (t Ticket) Probe() bool { return t.probe }

// Breaker is a per-provider Closed/Open/HalfOpen state machine. All reads
// and writes go through mu; breakers for different providers share nothing.
type Breaker struct {
	mu       sync.Mutex
	provider string
	config   Config
	now      func() time.Time

	state               State
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration // current cooldown, grows with backoff
	reopens             int           // failed probes since last close
	probing             bool
	gen                 uint64 // bumped on every transition
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a closed breaker for provider
func New(provider string, config Config, opts ...Option) *Breaker {
	config = config.withDefaults()
	b := &Breaker{
		provider: provider,
		config:   config,
		now:      time.Now,
		state:    Closed,
		cooldown: config.Cooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	observ.BreakerState.WithLabelValues(provider).Set(float64(Closed))
	return b
}

// Provider returns the provider this breaker guards
func (b *Breaker) Provider() string { return b.provider }

// State returns the stored state. An Open breaker whose cooldown has elapsed
// stays Open until the next Acquire moves it to HalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Acquire checks whether an attempt may proceed
func (b *Breaker) Acquire() (Ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return Ticket{gen: b.gen}, nil

	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return Ticket{}, ErrOpen
		}
		b.transition(HalfOpen, "cooldown_elapsed")
		b.probing = true
		return Ticket{gen: b.gen, probe: true}, nil

	case HalfOpen:
		if b.probing {
			return Ticket{}, ErrProbeInFlight
		}
		b.probing = true
		return Ticket{gen: b.gen, probe: true}, nil

	default:
		return Ticket{}, ErrOpen
	}
}

// Report records the outcome of an attempt made under t. Tickets issued
// before the latest transition are ignored.
func (b *Breaker) Report(t Ticket, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}

	switch b.state {
	case Closed:
		if !failed {
			b.consecutiveFailures = 0
			return
		}
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transition(Open, "failure_threshold")
		}

	case HalfOpen:
		if !t.probe {
			return
		}
		b.probing = false
		if !failed {
			b.consecutiveFailures = 0
			b.reopens = 0
			b.cooldown = b.config.Cooldown
			b.transition(Closed, "probe_succeeded")
			return
		}
		b.consecutiveFailures++
		b.reopens++
		b.cooldown = b.nextCooldown()
		b.openedAt = b.now()
		b.transition(Open, "probe_failed")
	}
}

// Cancel returns an unused probe slot so the next caller can probe
func (b *Breaker) Cancel(t Ticket) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.probe && t.gen == b.gen && b.state == HalfOpen {
		b.probing = false
		b.gen++ // the cancelled ticket must not settle the next probe
	}
}

// Reset forces the breaker back to Closed with cleared counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.reopens = 0
	b.cooldown = b.config.Cooldown
	b.probing = false
	b.openedAt = time.Time{}
	if b.state != Closed {
		b.transition(Closed, "reset")
	} else {
		b.gen++
	}
}

func (b *Breaker) nextCooldown() time.Duration {
	if b.config.Backoff != BackoffExponential {
		return b.config.Cooldown
	}
	next := float64(b.config.Cooldown) * math.Pow(b.config.Multiplier, float64(b.reopens))
	if next > float64(b.config.MaxCooldown) {
		return b.config.MaxCooldown
	}
	return time.Duration(next)
}

// transition must be called with mu held
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	b.state = to
	b.gen++

	observ.BreakerTransitions.WithLabelValues(b.provider, from.String(), to.String()).Inc()
	observ.BreakerState.WithLabelValues(b.provider).Set(float64(to))

	kv := map[string]any{
		"provider":             b.provider,
		"from":                 from.String(),
		"to":                   to.String(),
		"reason":               reason,
		"consecutive_failures": b.consecutiveFailures,
	}
	if to == Open {
		kv["cooldown"] = b.cooldown.String()
		kv["next_probe"] = b.openedAt.Add(b.cooldown).UTC().Format(time.RFC3339)
		observ.Warn("breaker_transition", kv)
		return
	}
	observ.Log("breaker_transition", kv)
}
