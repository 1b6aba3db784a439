package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketdata/internal/breaker"
	"github.com/Rajchodisetti/marketdata/internal/quote"
	"github.com/Rajchodisetti/marketdata/internal/ratelimit"
)

const minimal = `
providers:
  - name: alpha
    kind: mock
    fields: [price, volume]
  - name: beta
    kind: sim
    priority: 2
    fields: [price, volume, volume_ratio, history]
    rate_limit: { capacity: 3 }
    breaker: { failure_threshold: 2, cooldown_ms: 1500, backoff: exponential }
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 5000, c.Acquisition.AttemptTimeoutMs)
	assert.Equal(t, 5, c.Acquisition.Fallback.VolumeRatioWindow)
	assert.True(t, c.Acquisition.FallbackConfig().AlternateSources)
	assert.Equal(t, "file", c.State.Backend)
	assert.Equal(t, "data/breaker_state.json", c.State.Path)
	assert.Equal(t, "none", c.Cache.Backend)
	assert.Equal(t, 1800, c.Cache.TTLSeconds)
	assert.Equal(t, "info", c.Log.Level)

	required, err := c.Required()
	require.NoError(t, err)
	assert.Contains(t, required, quote.FieldVolumeRatio)

	alpha := c.Providers[0]
	assert.True(t, alpha.IsEnabled())
	assert.Equal(t, 5*time.Second, alpha.Timeout())
	assert.Equal(t, breaker.Config{FailureThreshold: 3, Cooldown: time.Minute, Backoff: breaker.BackoffConstant}, alpha.BreakerConfig())

	beta := c.Providers[1]
	assert.Equal(t, []quote.Field{quote.FieldPrice, quote.FieldVolume, quote.FieldVolumeRatio, quote.FieldHistory}, beta.FieldSet())
	assert.Equal(t, breaker.BackoffExponential, beta.BreakerConfig().Backoff)
	assert.Equal(t, 1500*time.Millisecond, beta.BreakerConfig().Cooldown)

	lim := beta.LimiterConfig()
	assert.Equal(t, 3, lim.Capacity)
	assert.Equal(t, time.Minute, lim.Interval)
	assert.Equal(t, ratelimit.ModeSkip, lim.Mode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no providers",
			doc:     `securities: [AAPL]`,
			wantErr: "at least one enabled provider",
		},
		{
			name: "duplicate names",
			doc: `
providers:
  - {name: a, kind: mock, fields: [price]}
  - {name: a, kind: sim, fields: [price]}`,
			wantErr: `duplicate name "a"`,
		},
		{
			name:    "unknown kind",
			doc:     `providers: [{name: a, kind: bloomberg, fields: [price]}]`,
			wantErr: `unknown kind "bloomberg"`,
		},
		{
			name:    "unknown field",
			doc:     `providers: [{name: a, kind: mock, fields: [price, pe_ratio]}]`,
			wantErr: `unknown field "pe_ratio"`,
		},
		{
			name:    "no fields",
			doc:     `providers: [{name: a, kind: mock}]`,
			wantErr: "no fields declared",
		},
		{
			name:    "history is not a required field",
			doc:     "required_fields: [price, history]\nproviders: [{name: a, kind: mock, fields: [price]}]",
			wantErr: "history can't be a required field",
		},
		{
			name:    "bad limiter mode",
			doc:     `providers: [{name: a, kind: mock, fields: [price], rate_limit: {mode: queue}}]`,
			wantErr: "rate_limit.mode",
		},
		{
			name:    "bad backoff",
			doc:     `providers: [{name: a, kind: mock, fields: [price], breaker: {backoff: linear}}]`,
			wantErr: "breaker.backoff",
		},
		{
			name: "override names unknown provider",
			doc: `
acquisition: {field_priority: {volume_ratio: [ghost]}}
providers: [{name: a, kind: mock, fields: [price]}]`,
			wantErr: `unknown provider "ghost"`,
		},
		{
			name: "unknown derivation",
			doc: `
acquisition: {fallback: {derivations: [vwap]}}
providers: [{name: a, kind: mock, fields: [price]}]`,
			wantErr: `unknown derivation "vwap"`,
		},
		{
			name:    "all disabled",
			doc:     `providers: [{name: a, kind: mock, enabled: false, fields: [price]}]`,
			wantErr: "at least one enabled provider",
		},
		{
			name:    "state backend",
			doc:     "state: {backend: etcd}\nproviders: [{name: a, kind: mock, fields: [price]}]",
			wantErr: "state.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPriorityEnvOverride(t *testing.T) {
	doc := `
providers:
  - {name: a, kind: mock, priority: 0, fields: [price]}
  - {name: b, kind: mock, priority: 1, fields: [price]}
  - {name: c, kind: mock, priority: 2, fields: [price]}
`
	t.Setenv(PriorityEnv, "c, b")
	c, err := Parse([]byte(doc))
	require.NoError(t, err)

	got := map[string]int{}
	for _, p := range c.Providers {
		got[p.Name] = p.Priority
	}
	assert.Equal(t, map[string]int{"c": 0, "b": 1, "a": 2}, got)

	t.Setenv(PriorityEnv, "c,zeta")
	_, err = Parse([]byte(doc))
	assert.ErrorContains(t, err, `unknown provider "zeta"`)
}

func TestLoadShippedConfig(t *testing.T) {
	t.Setenv(PriorityEnv, "")
	c, err := Load(filepath.Join("..", "..", "configs", "marketdata.yaml"))
	require.NoError(t, err)

	assert.Len(t, c.Enabled(), 3)
	assert.Equal(t, []string{"alphavantage", "yahoo"}, c.Acquisition.Overrides()[quote.FieldChangePct])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
