package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/fallback"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/ratelimit"
)

// PriorityEnv reorders providers: a comma list, first name wins
const PriorityEnv = "MARKETDATA_PROVIDER_PRIORITY"

// Provider kinds understood by the adapter factory
var Kinds = []string{"alphavantage", "polygon", "yahoo", "sina", "mock", "sim"}

type RateLimit struct {
	Capacity     int    `yaml:"capacity"`    // requests per interval, 0 = unbounded
	IntervalMs   int    `yaml:"interval_ms"` // replenishment interval
	MinSpacingMs int    `yaml:"min_spacing_ms"`
	Mode         string `yaml:"mode"` // skip | wait
	MaxWaitMs    int    `yaml:"max_wait_ms"`
	BackoffMs    int    `yaml:"backoff_ms"` // contraction after a 429
	MaxBackoffMs int    `yaml:"max_backoff_ms"`
}

type Breaker struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	CooldownMs       int     `yaml:"cooldown_ms"`
	Backoff          string  `yaml:"backoff"` // constant | exponential
	Multiplier       float64 `yaml:"multiplier"`
	MaxCooldownMs    int     `yaml:"max_cooldown_ms"`
}

type Provider struct {
	Name        string    `yaml:"name"`
	Kind        string    `yaml:"kind"`
	Enabled     *bool     `yaml:"enabled"` // default true
	Priority    int       `yaml:"priority"`
	Fields      []string  `yaml:"fields"`
	BaseURL     string    `yaml:"base_url"`
	APIKeyEnv   string    `yaml:"api_key_env"`
	TimeoutMs   int       `yaml:"timeout_ms"`
	HistoryDays int       `yaml:"history_days"`
	Seed        int64     `yaml:"seed"` // sim only
	RateLimit   RateLimit `yaml:"rate_limit"`
	Breaker     Breaker   `yaml:"breaker"`
}

type Fallback struct {
	VolumeRatioWindow int      `yaml:"volume_ratio_window"`
	AlternateSources  *bool    `yaml:"alternate_sources"` // default true
	Derivations       []string `yaml:"derivations"`       // empty enables all
}

type Acquisition struct {
	AttemptTimeoutMs int                 `yaml:"attempt_timeout_ms"`
	MaxConcurrency   int                 `yaml:"max_concurrency"` // 0 = one goroutine per security
	FieldPriority    map[string][]string `yaml:"field_priority"`  // field -> providers tried first
	Fallback         Fallback            `yaml:"fallback"`
}

type State struct {
	Backend   string `yaml:"backend"` // file | sqlite | redis | none
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

type Cache struct {
	Backend    string `yaml:"backend"` // none | memory | redis
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries"`
	RedisAddr  string `yaml:"redis_addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type Metrics struct {
	Addr string `yaml:"addr"` // empty disables the listener
}

type Root struct {
	Securities     []string    `yaml:"securities"`
	RequiredFields []string    `yaml:"required_fields"`
	Acquisition    Acquisition `yaml:"acquisition"`
	Providers      []Provider  `yaml:"providers"`
	State          State       `yaml:"state"`
	Cache          Cache       `yaml:"cache"`
	Log            Log         `yaml:"log"`
	Metrics        Metrics     `yaml:"metrics"`
}

// Load reads path, applies defaults and the priority override, and
// validates the result
func Load(path string) (Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Root{}, err
	}
	return Parse(b)
}

// Parse is Load for an in-memory document
func Parse(b []byte) (Root, error) {
	var c Root
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.applyPriorityEnv(os.Getenv(PriorityEnv)); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if len(c.RequiredFields) == 0 {
		c.RequiredFields = []string{"price", "open", "high", "low", "prev_close", "change_pct", "volume", "volume_ratio"}
	}

	if c.Acquisition.AttemptTimeoutMs == 0 {
		c.Acquisition.AttemptTimeoutMs = 5000
	}
	if c.Acquisition.Fallback.VolumeRatioWindow == 0 {
		c.Acquisition.Fallback.VolumeRatioWindow = fallback.DefaultVolumeRatioWindow
	}
	if c.Acquisition.Fallback.AlternateSources == nil {
		on := true
		c.Acquisition.Fallback.AlternateSources = &on
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		p.Name = strings.TrimSpace(p.Name)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = p.Name
		}
		if p.TimeoutMs == 0 {
			p.TimeoutMs = 5000
		}
		if p.HistoryDays == 0 {
			p.HistoryDays = 30
		}
		if p.Breaker.FailureThreshold == 0 {
			p.Breaker.FailureThreshold = 3
		}
		if p.Breaker.CooldownMs == 0 {
			p.Breaker.CooldownMs = 60000
		}
		if p.Breaker.Backoff == "" {
			p.Breaker.Backoff = string(breaker.BackoffConstant)
		}
		if p.RateLimit.Mode == "" {
			p.RateLimit.Mode = string(ratelimit.ModeSkip)
		}
		if p.RateLimit.Capacity > 0 && p.RateLimit.IntervalMs == 0 {
			p.RateLimit.IntervalMs = 60000
		}
	}

	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.Path == "" {
		switch c.State.Backend {
		case "sqlite":
			c.State.Path = "data/marketdata.db"
		default:
			c.State.Path = "data/breaker_state.json"
		}
	}
	if c.State.RedisKey == "" {
		c.State.RedisKey = "marketdata:breakers"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "none"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 1800
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 1000
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// applyPriorityEnv gives listed providers priorities 0..n-1 in list order;
// unlisted providers keep their relative order behind them
func (c *Root) applyPriorityEnv(v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}

	index := make(map[string]int, len(c.Providers))
	for i, p := range c.Providers {
		index[p.Name] = i
	}

	listed := map[string]int{}
	for _, name := range strings.Split(v, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := index[name]; !ok {
			return fmt.Errorf("%s names unknown provider %q", PriorityEnv, name)
		}
		if _, dup := listed[name]; !dup {
			listed[name] = len(listed)
		}
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if rank, ok := listed[p.Name]; ok {
			p.Priority = rank
		} else {
			p.Priority += len(listed)
		}
	}
	return nil
}

// Validate checks the configuration once at startup
func (c Root) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := c.Required(); err != nil {
		fail("required_fields: %v", err)
	}

	names := map[string]bool{}
	enabled := 0
	for i, p := range c.Providers {
		if p.Name == "" {
			fail("providers[%d]: name is required", i)
			continue
		}
		if names[p.Name] {
			fail("providers[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		if p.IsEnabled() {
			enabled++
		}

		if !knownKind(p.Kind) {
			fail("provider %s: unknown kind %q", p.Name, p.Kind)
		}
		fields, err := quote.ParseFields(p.Fields)
		if err != nil {
			fail("provider %s: %v", p.Name, err)
		} else if len(fields) == 0 {
			fail("provider %s: no fields declared", p.Name)
		}
		if p.TimeoutMs < 0 {
			fail("provider %s: timeout_ms must be positive", p.Name)
		}

		if p.RateLimit.Capacity < 0 || p.RateLimit.IntervalMs < 0 || p.RateLimit.MinSpacingMs < 0 {
			fail("provider %s: rate_limit values must not be negative", p.Name)
		}
		switch ratelimit.Mode(p.RateLimit.Mode) {
		case ratelimit.ModeSkip, ratelimit.ModeWait:
		default:
			fail("provider %s: rate_limit.mode must be skip or wait", p.Name)
		}

		if p.Breaker.FailureThreshold < 1 {
			fail("provider %s: breaker.failure_threshold must be at least 1", p.Name)
		}
		if p.Breaker.CooldownMs < 0 {
			fail("provider %s: breaker.cooldown_ms must be positive", p.Name)
		}
		switch breaker.Backoff(p.Breaker.Backoff) {
		case breaker.BackoffConstant, breaker.BackoffExponential:
		default:
			fail("provider %s: breaker.backoff must be constant or exponential", p.Name)
		}
	}
	if enabled == 0 {
		fail("at least one enabled provider is required")
	}

	for field, providers := range c.Acquisition.FieldPriority {
		f, err := quote.ParseField(field)
		if err != nil {
			fail("field_priority: %v", err)
			continue
		}
		for _, name := range providers {
			if !names[name] {
				fail("field_priority.%s: unknown provider %q", f, name)
			}
		}
	}
	for _, d := range c.Acquisition.Fallback.Derivations {
		if !fallback.Known(d) {
			fail("fallback.derivations: unknown derivation %q (known: %s)", d, strings.Join(fallback.Names(), ", "))
		}
	}
	if c.Acquisition.AttemptTimeoutMs < 0 || c.Acquisition.MaxConcurrency < 0 {
		fail("acquisition: attempt_timeout_ms and max_concurrency must not be negative")
	}

	switch c.State.Backend {
	case "file", "sqlite", "redis", "none":
	default:
		fail("state.backend must be file, sqlite, redis or none")
	}
	switch c.Cache.Backend {
	case "none", "memory", "redis":
	default:
		fail("cache.backend must be none, memory or redis")
	}

	return errors.Join(errs...)
}

func knownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Required returns the parsed required fields in canonical order
func (c Root) Required() ([]quote.Field, error) {
	fields, err := quote.ParseFields(c.RequiredFields)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.Auxiliary() {
			return nil, fmt.Errorf("%s can't be a required field", f)
		}
	}
	if len(fields) == 0 {
		return nil, errors.New("no required fields")
	}
	return fields, nil
}

// Enabled returns the enabled providers in declaration order
func (c Root) Enabled() []Provider {
	var out []Provider
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}

func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// FieldSet returns the declared fields; call after Validate
func (p Provider) FieldSet() []quote.Field {
	fields, _ := quote.ParseFields(p.Fields)
	return fields
}

func (p Provider) Timeout() time.Duration {
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

func (p Provider) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: p.Breaker.FailureThreshold,
		Cooldown:         ms(p.Breaker.CooldownMs),
		Backoff:          breaker.Backoff(p.Breaker.Backoff),
		Multiplier:       p.Breaker.Multiplier,
		MaxCooldown:      ms(p.Breaker.MaxCooldownMs),
	}
}

func (p Provider) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity:   p.RateLimit.Capacity,
		Interval:   ms(p.RateLimit.IntervalMs),
		MinSpacing: ms(p.RateLimit.MinSpacingMs),
		Mode:       ratelimit.Mode(p.RateLimit.Mode),
		MaxWait:    ms(p.RateLimit.MaxWaitMs),
		Backoff:    ms(p.RateLimit.BackoffMs),
		MaxBackoff: ms(p.RateLimit.MaxBackoffMs),
	}
}

func (a Acquisition) AttemptTimeout() time.Duration {
	return ms(a.AttemptTimeoutMs)
}

func (a Acquisition) FallbackConfig() fallback.Config {
	return fallback.Config{
		AlternateSources:  a.Fallback.AlternateSources == nil || *a.Fallback.AlternateSources,
		Derivations:       a.Fallback.Derivations,
		VolumeRatioWindow: a.Fallback.VolumeRatioWindow,
	}
}

// Overrides returns field_priority with parsed field keys
func (a Acquisition) Overrides() map[quote.Field][]string {
	out := make(map[quote.Field][]string, len(a.FieldPriority))
	for field, providers := range a.FieldPriority {
		if f, err := quote.ParseField(field); err == nil {
			out[f] = append([]string(nil), providers...)
		}
	}
	return out
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
