package adapters

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// Step is one scripted response
type Step struct {
	Values  map[quote.Field]float64
	History []quote.Bar
	Outcome quote.Outcome
	Delay   time.Duration // a delay past the caller's deadline reports a timeout
}

// Values returns a successful step carrying v
func Values(v map[quote.Field]float64) Step {
	return Step{Values: v, Outcome: quote.Succeeded()}
}

// Fail returns a step that reports o and no values
func Fail(o quote.Outcome) Step {
	return Step{Outcome: o}
}

// Scripted is a Fetcher driven by a queue of steps, for tests and drills.
// Once the queue drains every call answers with the default step.
type Scripted struct {
	mu    sync.Mutex
	name  string
	queue []Step
	def   Step
	calls int
	per   map[string]int
	gate  chan struct{}
}

func NewScripted(name string, def Step) *Scripted {
	return &Scripted{name: name, def: def, per: map[string]int{}}
}

func (s *Scripted) Name() string { return s.name }

// Then appends steps to the queue
func (s *Scripted) Then(steps ...Step) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, steps...)
	return s
}

// SetDefault replaces the step used once the queue is empty
func (s *Scripted) SetDefault(def Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = def
}

// Block holds every subsequent Fetch until release is called or the
// caller's context ends. Calls are counted before blocking.
func (s *Scripted) Block() (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times Fetch was invoked
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// CallsFor returns the invocations for one security
func (s *Scripted) CallsFor(securityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.per[securityID]
}

func (s *Scripted) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	s.mu.Lock()
	s.calls++
	s.per[securityID]++
	step := s.def
	if len(s.queue) > 0 {
		step = s.queue[0]
		s.queue = s.queue[1:]
	}
	gate := s.gate
	s.mu.Unlock()

	rec := quote.NewPartial(securityID)
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return rec, classifyErr(ctx.Err())
		}
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return rec, classifyErr(ctx.Err())
		}
	}

	if step.Outcome.Failed() {
		return rec, step.Outcome
	}
	for f, v := range step.Values {
		rec.Set(f, v)
	}
	if len(step.History) > 0 {
		rec.History = append([]quote.Bar(nil), step.History...)
	}
	rec.Timestamp = time.Now()
	return rec, quote.Succeeded()
}

// ChaosConfig configures failure injection. Rates are probabilities per call.
type ChaosConfig struct {
	TimeoutRate  float64
	ThrottleRate float64
	ProtocolRate float64
	ExtraLatency time.Duration
	Seed         int64
}

// Enabled reports whether any failure or latency is injected
func (c ChaosConfig) Enabled() bool {
	return c.TimeoutRate > 0 || c.ThrottleRate > 0 || c.ProtocolRate > 0 || c.ExtraLatency > 0
}

// ChaosFetcher wraps any Fetcher to inject classified failures, for
// exercising breakers and limiters against live or simulated feeds
type ChaosFetcher struct {
	underlying Fetcher
	config     ChaosConfig
	mu         sync.Mutex
	rand       *rand.Rand
}

func NewChaosFetcher(underlying Fetcher, config ChaosConfig) *ChaosFetcher {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &ChaosFetcher{
		underlying: underlying,
		config:     config,
		rand:       rand.New(rand.NewSource(seed)),
	}
}

func (c *ChaosFetcher) Name() string { return c.underlying.Name() }

func (c *ChaosFetcher) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	if out, injected := c.inject(securityID); injected {
		return quote.NewPartial(securityID), out
	}
	if c.config.ExtraLatency > 0 {
		timer := time.NewTimer(c.config.ExtraLatency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return quote.NewPartial(securityID), classifyErr(ctx.Err())
		}
	}
	return c.underlying.Fetch(ctx, securityID)
}

func (c *ChaosFetcher) inject(securityID string) (quote.Outcome, bool) {
	c.mu.Lock()
	r := c.rand.Float64()
	c.mu.Unlock()

	var out quote.Outcome
	switch {
	case r < c.config.TimeoutRate:
		out = quote.Transient("timeout", context.DeadlineExceeded)
	case r < c.config.TimeoutRate+c.config.ThrottleRate:
		out = quote.Throttled("chaos throttle")
	case r < c.config.TimeoutRate+c.config.ThrottleRate+c.config.ProtocolRate:
		out = quote.Protocol("chaos parse", nil)
	default:
		return quote.Outcome{}, false
	}
	observ.Debug("chaos_injected", map[string]any{
		"provider": c.underlying.Name(),
		"security": securityID,
		"outcome":  out.Kind.String(),
	})
	return out, true
}
