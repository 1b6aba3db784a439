package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/marketdata/internal/observ"
)

// Mode selects what happens when capacity is exhausted
type Mode string

const (
	ModeSkip Mode = "skip" // deny immediately, the router falls through
	ModeWait Mode = "wait" // block up to MaxWait
)

// ErrExhausted means no capacity was available for this attempt
var ErrExhausted = errors.New("rate limit exhausted")

// Config holds per-provider rate limit settings
type Config struct {
	Capacity   int           // admissions per Interval, 0 disables the window
	Interval   time.Duration // replenishment interval
	MinSpacing time.Duration // minimum gap between two admissions, 0 disables
	Mode       Mode
	MaxWait    time.Duration // wait mode only
	Backoff    time.Duration // first contraction after a RateLimited outcome
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity > 0 && c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Mode == "" {
		c.Mode = ModeSkip
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 2 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 2 * time.Second
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = 60 * time.Second
		if c.MaxBackoff < c.Backoff {
			c.MaxBackoff = c.Backoff
		}
	}
	return c
}

// Limiter gates attempts against one provider. The window is a log of
// admission times, so no Interval-long span ever holds more than Capacity
// admissions regardless of how callers interleave.
type Limiter struct {
	mu       sync.Mutex
	provider string
	config   Config
	now      func() time.Time

	admitted []time.Time   // ascending, pruned to the current window
	spacing  *rate.Limiter // nil without MinSpacing

	backoff      time.Duration // current contraction length, 0 when relaxed
	backoffUntil time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter for provider
func New(provider string, config Config, opts ...Option) *Limiter {
	config = config.withDefaults()
	l := &Limiter{
		provider: provider,
		config:   config,
		now:      time.Now,
	}
	if config.Capacity > 0 {
		l.admitted = make([]time.Time, 0, config.Capacity)
	}
	if config.MinSpacing > 0 {
		l.spacing = rate.NewLimiter(rate.Every(config.MinSpacing), 1)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Provider returns the provider this limiter guards
func (l *Limiter) Provider() string { return l.provider }

// Acquire takes one unit of capacity. In skip mode it never blocks; in wait
// mode it blocks until capacity frees up, MaxWait passes or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	deadline := l.now().Add(l.config.MaxWait)

	for {
		wait, reason, ok := l.reserve()
		if ok {
			return nil
		}

		if l.config.Mode != ModeWait || l.now().Add(wait).After(deadline) {
			l.deny(reason)
			return ErrExhausted
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.deny("cancelled")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Allow is Acquire in skip mode regardless of configuration
func (l *Limiter) Allow() bool {
	_, reason, ok := l.reserve()
	if !ok {
		l.deny(reason)
	}
	return ok
}

// reserve admits now or reports how long until the next admission could
// succeed. Checks and commit happen under one lock hold.
func (l *Limiter) reserve() (time.Duration, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	if now.Before(l.backoffUntil) {
		return l.backoffUntil.Sub(now), "contracted", false
	}

	if l.config.Capacity > 0 {
		l.prune(now)
		if len(l.admitted) >= l.config.Capacity {
			return l.admitted[0].Add(l.config.Interval).Sub(now), "window", false
		}
	}

	if l.spacing != nil {
		if tokens := l.spacing.TokensAt(now); tokens < 1 {
			secs := (1 - tokens) / float64(l.spacing.Limit())
			return time.Duration(math.Ceil(secs * float64(time.Second))), "spacing", false
		}
		l.spacing.AllowN(now, 1)
	}

	if l.config.Capacity > 0 {
		l.admitted = append(l.admitted, now)
	}
	return 0, "", true
}

// prune drops admissions that left the window, must hold mu
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.config.Interval)
	i := 0
	for i < len(l.admitted) && !l.admitted[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[i:]...)
	}
}

func (l *Limiter) deny(reason string) {
	observ.RateLimitDenied.WithLabelValues(l.provider, reason).Inc()
	observ.Debug("ratelimit_denied", map[string]any{
		"provider": l.provider,
		"reason":   reason,
	})
}

// Contract reacts to the provider signalling RateLimited: every attempt is
// denied for the current backoff, which doubles per consecutive contraction.
func (l *Limiter) Contract() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backoff == 0 {
		l.backoff = l.config.Backoff
	} else {
		l.backoff *= 2
		if l.backoff > l.config.MaxBackoff {
			l.backoff = l.config.MaxBackoff
		}
	}
	l.backoffUntil = l.now().Add(l.backoff)

	observ.Warn("ratelimit_contracted", map[string]any{
		"provider": l.provider,
		"backoff":  l.backoff.String(),
		"until":    l.backoffUntil.UTC().Format(time.RFC3339),
	})
}

// Relax resets the contraction length after a successful attempt
func (l *Limiter) Relax() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = 0
}

// Status is a point-in-time view for diagnostics
type Status struct {
	Provider     string    `json:"provider"`
	InWindow     int       `json:"in_window"`
	Capacity     int       `json:"capacity"`
	BackoffUntil time.Time `json:"backoff_until,omitempty"`
}

// Status reports current window usage
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.config.Capacity > 0 {
		l.prune(now)
	}
	s := Status{
		Provider: l.provider,
		InWindow: len(l.admitted),
		Capacity: l.config.Capacity,
	}
	if now.Before(l.backoffUntil) {
		s.BackoffUntil = l.backoffUntil
	}
	return s
}
