package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

var asOf = time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC) // Monday

// bars builds daily bars ending the day before asOf, skipping weekends
func bars(volumes ...float64) []quote.Bar {
	out := make([]quote.Bar, 0, len(volumes))
	day := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)
	for i := len(volumes) - 1; i >= 0; i-- {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, -1)
		}
		px := 100 + float64(i)
		out = append([]quote.Bar{{Date: day, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: volumes[i]}}, out...)
		day = day.AddDate(0, 0, -1)
	}
	return out
}

func partial(values map[quote.Field]float64, history []quote.Bar) quote.PartialRecord {
	p := quote.NewPartial("600519")
	for f, v := range values {
		p.Set(f, v)
	}
	p.History = history
	return p
}

func newResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestVolumeRatioDerivation(t *testing.T) {
	tests := []struct {
		name    string
		history []quote.Bar
		volume  float64
		want    float64
		ok      bool
	}{
		{
			name:    "five day mean",
			history: bars(100, 200, 300, 400, 500),
			volume:  600,
			want:    2,
			ok:      true,
		},
		{
			name:    "uses only the last five",
			history: bars(9000, 100, 200, 300, 400, 500),
			volume:  300,
			want:    1,
			ok:      true,
		},
		{
			name:    "as-of day bar excluded",
			history: append(bars(100, 100, 100, 100, 100), quote.Bar{Date: asOf.Truncate(24 * time.Hour), Volume: 1e9}),
			volume:  250,
			want:    2.5,
			ok:      true,
		},
		{
			name:    "not enough bars",
			history: bars(100, 200, 300, 400),
			volume:  600,
		},
		{
			name:    "zero mean",
			history: bars(0, 0, 0, 0, 0),
			volume:  600,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(t, DefaultConfig())
			b := quote.NewBuilder("600519", asOf, asOf)
			b.Set(quote.FieldVolume, quote.Direct(tt.volume, "sina"))

			rep := r.Fill(b, []quote.Field{quote.FieldVolume, quote.FieldVolumeRatio},
				[]Response{{Provider: "yahoo", Partial: partial(nil, tt.history)}}, asOf)
			rec := b.Build()

			got, _ := rec.Get(quote.FieldVolumeRatio)
			if !tt.ok {
				assert.False(t, got.Present)
				assert.Equal(t, quote.MethodAbsent, got.Method)
				assert.True(t, got.Fallback)
				assert.Equal(t, []quote.Field{quote.FieldVolumeRatio}, rep.Absent)
				return
			}
			assert.True(t, got.Present)
			assert.InDelta(t, tt.want, got.Value, 1e-9)
			assert.Equal(t, "derived:volume_ratio", got.Method)
			assert.Equal(t, "yahoo", got.Source, "credited to the provider of the history window")
			assert.True(t, got.Fallback)
		})
	}
}

func TestAlternateSourceBeforeDerivation(t *testing.T) {
	r := newResolver(t, DefaultConfig())
	b := quote.NewBuilder("AAPL", asOf, asOf)
	b.Set(quote.FieldPrice, quote.Direct(110, "alpha"))

	responses := []Response{
		{Provider: "alpha", Partial: partial(map[quote.Field]float64{quote.FieldPrice: 110}, nil)},
		{Provider: "beta", Partial: partial(map[quote.Field]float64{quote.FieldPrevClose: 100, quote.FieldChangePct: 9.5}, nil)},
		{Provider: "gamma", Partial: partial(map[quote.Field]float64{quote.FieldChangePct: 7}, nil)},
	}

	rep := r.Fill(b, []quote.Field{quote.FieldPrice, quote.FieldChangePct}, responses, asOf)
	rec := b.Build()

	got, _ := rec.Get(quote.FieldChangePct)
	assert.Equal(t, quote.Alternate(9.5, "beta"), got, "first responder in priority order wins")
	assert.Equal(t, []quote.Field{quote.FieldChangePct}, rep.Alternate)

	price, _ := rec.Get(quote.FieldPrice)
	assert.False(t, price.Fallback)
}

func TestDerivationChainsThroughIntermediates(t *testing.T) {
	r := newResolver(t, Config{AlternateSources: false})
	b := quote.NewBuilder("AAPL", asOf, asOf)
	b.Set(quote.FieldPrice, quote.Direct(110, "alpha"))
	b.Set(quote.FieldHigh, quote.Direct(112, "alpha"))
	b.Set(quote.FieldLow, quote.Direct(106, "alpha"))

	// prev_close comes from the last bar (close 104) and is not requested
	responses := []Response{{Provider: "yahoo", Partial: partial(nil, bars(1, 1, 1, 1, 1))}}
	rep := r.Fill(b, []quote.Field{quote.FieldPrice, quote.FieldChangePct, quote.FieldAmplitude, quote.FieldMA5}, responses, asOf)
	rec := b.Build()

	assert.Equal(t, []quote.Field{quote.FieldChangePct, quote.FieldMA5, quote.FieldAmplitude}, rep.Derived)
	assert.Empty(t, rep.Absent)

	pct, _ := rec.Get(quote.FieldChangePct)
	assert.InDelta(t, (110.0-104.0)/104.0*100, pct.Value, 1e-9)
	assert.Equal(t, "derived:change_pct", pct.Method)
	assert.Equal(t, "alpha", pct.Source)

	amp, _ := rec.Get(quote.FieldAmplitude)
	assert.InDelta(t, 6.0/104.0*100, amp.Value, 1e-9)

	ma, _ := rec.Get(quote.FieldMA5)
	assert.InDelta(t, 102.0, ma.Value, 1e-9)
	assert.Equal(t, "yahoo", ma.Source)

	_, ok := rec.Get(quote.FieldPrevClose)
	assert.False(t, ok, "intermediates stay out of the record")
}

func TestFillNeverOverwritesDirectValues(t *testing.T) {
	r := newResolver(t, DefaultConfig())
	b := quote.NewBuilder("AAPL", asOf, asOf)
	b.Set(quote.FieldVolumeRatio, quote.Direct(0.8, "alpha"))
	b.Set(quote.FieldVolume, quote.Direct(500, "alpha"))

	responses := []Response{{Provider: "beta", Partial: partial(map[quote.Field]float64{quote.FieldVolumeRatio: 3}, bars(1, 1, 1, 1, 1))}}
	rep := r.Fill(b, []quote.Field{quote.FieldVolume, quote.FieldVolumeRatio}, responses, asOf)

	got, _ := b.Build().Get(quote.FieldVolumeRatio)
	assert.Equal(t, quote.Direct(0.8, "alpha"), got)
	assert.Equal(t, Report{}, rep)
}

func TestFillIsDeterministic(t *testing.T) {
	r := newResolver(t, DefaultConfig())
	responses := []Response{
		{Provider: "alpha", Partial: partial(map[quote.Field]float64{quote.FieldPrice: 10, quote.FieldVolume: 50}, nil)},
		{Provider: "beta", Partial: partial(map[quote.Field]float64{quote.FieldHigh: 11, quote.FieldLow: 9}, bars(40, 50, 60, 50, 50))},
	}
	required := quote.CanonicalFields()

	run := func() quote.Record {
		b := quote.NewBuilder("AAPL", asOf, asOf)
		b.Set(quote.FieldPrice, quote.Direct(10, "alpha"))
		r.Fill(b, required, responses, asOf)
		return b.Build()
	}

	first := run()
	for i := 0; i < 20; i++ {
		assert.True(t, first.Equal(run()))
	}
	for _, f := range required {
		v, ok := first.Get(f)
		require.True(t, ok, "every required field is settled: %s", f)
		assert.Equal(t, v.Method != quote.MethodDirect, v.Fallback)
	}
}

func TestDisabledDerivations(t *testing.T) {
	r := newResolver(t, Config{Derivations: []string{DeriveMA5}})
	b := quote.NewBuilder("AAPL", asOf, asOf)
	b.Set(quote.FieldVolume, quote.Direct(500, "alpha"))

	responses := []Response{{Provider: "beta", Partial: partial(nil, bars(1, 1, 1, 1, 1))}}
	rep := r.Fill(b, []quote.Field{quote.FieldVolumeRatio, quote.FieldMA5}, responses, asOf)

	assert.Equal(t, []quote.Field{quote.FieldMA5}, rep.Derived)
	assert.Equal(t, []quote.Field{quote.FieldVolumeRatio}, rep.Absent)

	_, err := New(Config{Derivations: []string{"vwap"}})
	assert.Error(t, err)
}

func TestInputs(t *testing.T) {
	r := newResolver(t, DefaultConfig())

	tests := []struct {
		missing []quote.Field
		want    []quote.Field
	}{
		{[]quote.Field{quote.FieldVolumeRatio}, []quote.Field{quote.FieldVolume, quote.FieldHistory}},
		{[]quote.Field{quote.FieldChangePct}, []quote.Field{quote.FieldPrice, quote.FieldPrevClose, quote.FieldHistory}},
		{[]quote.Field{quote.FieldAmount}, []quote.Field{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Inputs(tt.missing), "missing %v", tt.missing)
	}
}
