package fallback

import (
	"sort"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// Derivation computes one field from other fields of the same record and
// the history window. Compute returns the value, the provider credited as
// source and whether the derivation applied.
type Derivation struct {
	Name    string
	Field   quote.Field
	Inputs  []quote.Field
	Compute func(e *Env) (float64, string, bool)
}

// Derivation names accepted in configuration
const (
	DeriveVolumeRatio = "volume_ratio"
	DerivePrevClose   = "prev_close"
	DeriveChangePct   = "change_pct"
	DeriveAmplitude   = "amplitude"
	DeriveMA5         = "ma5"
	DeriveMA10        = "ma10"
	DeriveMA20        = "ma20"
)

// DefaultVolumeRatioWindow is the number of completed trading days averaged
// for the volume ratio.
const DefaultVolumeRatioWindow = 5

// builtins returns every derivation; window sizes the volume average
func builtins(window int) []Derivation {
	return []Derivation{
		{
			Name:    DerivePrevClose,
			Field:   quote.FieldPrevClose,
			Inputs:  []quote.Field{quote.FieldHistory},
			Compute: prevClose,
		},
		{
			Name:    DeriveChangePct,
			Field:   quote.FieldChangePct,
			Inputs:  []quote.Field{quote.FieldPrice, quote.FieldPrevClose},
			Compute: changePct,
		},
		{
			Name:    DeriveVolumeRatio,
			Field:   quote.FieldVolumeRatio,
			Inputs:  []quote.Field{quote.FieldVolume, quote.FieldHistory},
			Compute: volumeRatio(window),
		},
		{Name: DeriveMA5, Field: quote.FieldMA5, Inputs: []quote.Field{quote.FieldHistory}, Compute: movingAverage(5)},
		{Name: DeriveMA10, Field: quote.FieldMA10, Inputs: []quote.Field{quote.FieldHistory}, Compute: movingAverage(10)},
		{Name: DeriveMA20, Field: quote.FieldMA20, Inputs: []quote.Field{quote.FieldHistory}, Compute: movingAverage(20)},
		{
			Name:    DeriveAmplitude,
			Field:   quote.FieldAmplitude,
			Inputs:  []quote.Field{quote.FieldHigh, quote.FieldLow, quote.FieldPrevClose},
			Compute: amplitude,
		},
	}
}

// Known reports whether name is a built-in derivation
func Known(name string) bool {
	for _, d := range builtins(DefaultVolumeRatioWindow) {
		if d.Name == name {
			return true
		}
	}
	return false
}

// Names lists built-in derivations
func Names() []string {
	all := builtins(DefaultVolumeRatioWindow)
	out := make([]string, len(all))
	for i, d := range all {
		out[i] = d.Name
	}
	return out
}

func prevClose(e *Env) (float64, string, bool) {
	bars, source := e.Trailing(1)
	if len(bars) == 0 {
		return 0, "", false
	}
	return bars[0].Close, source, true
}

func changePct(e *Env) (float64, string, bool) {
	price, ok := e.Value(quote.FieldPrice)
	if !ok {
		return 0, "", false
	}
	pc, ok := e.Value(quote.FieldPrevClose)
	if !ok || pc.Value == 0 {
		return 0, "", false
	}
	return (price.Value - pc.Value) / pc.Value * 100, price.Source, true
}

func amplitude(e *Env) (float64, string, bool) {
	high, ok := e.Value(quote.FieldHigh)
	if !ok {
		return 0, "", false
	}
	low, ok := e.Value(quote.FieldLow)
	if !ok {
		return 0, "", false
	}
	pc, ok := e.Value(quote.FieldPrevClose)
	if !ok || pc.Value == 0 {
		return 0, "", false
	}
	return (high.Value - low.Value) / pc.Value * 100, high.Source, true
}

// volumeRatio divides the as-of volume by the mean volume of the last n
// completed trading days strictly before the as-of date. Days without a bar
// are not trading days and are skipped, not zero-filled. Fewer than n bars
// or a zero mean leaves the ratio underivable. The history provider is
// credited, as for the moving averages.
func volumeRatio(n int) func(e *Env) (float64, string, bool) {
	return func(e *Env) (float64, string, bool) {
		vol, ok := e.Value(quote.FieldVolume)
		if !ok {
			return 0, "", false
		}
		bars, source := e.Trailing(n)
		if len(bars) < n {
			return 0, "", false
		}
		var sum float64
		for _, b := range bars {
			sum += b.Volume
		}
		mean := sum / float64(n)
		if mean <= 0 {
			return 0, "", false
		}
		return vol.Value / mean, source, true
	}
}

func movingAverage(n int) func(e *Env) (float64, string, bool) {
	return func(e *Env) (float64, string, bool) {
		bars, source := e.Trailing(n)
		if len(bars) < n {
			return 0, "", false
		}
		var sum float64
		for _, b := range bars {
			sum += b.Close
		}
		return sum / float64(n), source, true
	}
}

// eligibleBars returns bars dated strictly before asOf's calendar date,
// ascending. Each date is read in its own location.
func eligibleBars(bars []quote.Bar, asOf time.Time) []quote.Bar {
	cutoff := civil(asOf)
	out := make([]quote.Bar, 0, len(bars))
	for _, b := range bars {
		if civil(b.Date) < cutoff {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func civil(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
