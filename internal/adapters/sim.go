package adapters

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// SimConfig configures the simulated feed
type SimConfig struct {
	Name        string
	Seed        int64
	History     bool
	HistoryDays int
}

type simBase struct {
	price      float64
	volatility float64 // daily, as a fraction
	volume     float64
}

// SimFetcher generates a deterministic random walk per security and day.
// The same seed, security and date always produce the same record.
type SimFetcher struct {
	name    string
	seed    int64
	history bool
	days    int
	bases   map[string]simBase
	now     func() time.Time
}

func NewSimFetcher(config SimConfig) *SimFetcher {
	if config.Name == "" {
		config.Name = "sim"
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = 30
	}
	return &SimFetcher{
		name:    config.Name,
		seed:    config.Seed,
		history: config.History,
		days:    config.HistoryDays,
		bases: map[string]simBase{
			"AAPL":   {price: 206.80, volatility: 0.025, volume: 15e6},
			"NVDA":   {price: 450.00, volatility: 0.035, volume: 10e6},
			"MSFT":   {price: 415.75, volatility: 0.022, volume: 12e6},
			"600519": {price: 1700.0, volatility: 0.018, volume: 2.5e6},
			"000001": {price: 11.40, volatility: 0.021, volume: 9e7},
		},
		now: time.Now,
	}
}

func (s *SimFetcher) Name() string { return s.name }

func (s *SimFetcher) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	rec := quote.NewPartial(securityID)
	if err := ctx.Err(); err != nil {
		return rec, classifyErr(err)
	}

	symbol := normalizeSymbol(securityID)
	base := s.base(symbol)
	today := s.now().UTC().Truncate(24 * time.Hour)

	bars := s.walk(symbol, base, today)
	prev := bars[len(bars)-1]
	bar := s.day(symbol, base, today, prev.Close)

	rec.Set(quote.FieldPrice, bar.Close)
	rec.Set(quote.FieldOpen, bar.Open)
	rec.Set(quote.FieldHigh, bar.High)
	rec.Set(quote.FieldLow, bar.Low)
	rec.Set(quote.FieldPrevClose, prev.Close)
	rec.Set(quote.FieldChangePct, (bar.Close-prev.Close)/prev.Close*100)
	rec.Set(quote.FieldVolume, bar.Volume)
	rec.Set(quote.FieldAmount, bar.Volume*(bar.High+bar.Low+bar.Close)/3)
	if s.history {
		rec.History = bars
	}
	rec.Timestamp = s.now()
	return rec, quote.Succeeded()
}

// base returns the configured profile or one derived from the symbol hash
func (s *SimFetcher) base(symbol string) simBase {
	if b, ok := s.bases[symbol]; ok {
		return b
	}
	r := s.rand(symbol, time.Time{})
	return simBase{
		price:      5 + r.Float64()*300,
		volatility: 0.015 + r.Float64()*0.03,
		volume:     1e5 + r.Float64()*2e7,
	}
}

// walk returns the trading-day bars before today, oldest first
func (s *SimFetcher) walk(symbol string, base simBase, today time.Time) []quote.Bar {
	var dates []time.Time
	for d := today.AddDate(0, 0, -1); len(dates) < s.days; d = d.AddDate(0, 0, -1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		dates = append([]time.Time{d}, dates...)
	}

	bars := make([]quote.Bar, 0, len(dates))
	prev := base.price
	for _, d := range dates {
		bar := s.day(symbol, base, d, prev)
		bars = append(bars, bar)
		prev = bar.Close
	}
	return bars
}

func (s *SimFetcher) day(symbol string, base simBase, date time.Time, prevClose float64) quote.Bar {
	r := s.rand(symbol, date)
	open := prevClose * (1 + r.NormFloat64()*base.volatility/4)
	closePx := open * (1 + r.NormFloat64()*base.volatility)
	high := math.Max(open, closePx) * (1 + r.Float64()*base.volatility/2)
	low := math.Min(open, closePx) * (1 - r.Float64()*base.volatility/2)
	return quote.Bar{
		Date:   date,
		Open:   roundToTick(open),
		High:   roundToTick(high),
		Low:    roundToTick(low),
		Close:  roundToTick(closePx),
		Volume: math.Round(base.volume * (0.7 + r.Float64()*0.6)),
	}
}

func (s *SimFetcher) rand(symbol string, date time.Time) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(date.Format("2006-01-02")))
	return rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))
}

// roundToTick rounds to a cent, or a hundredth of a cent below $1
func roundToTick(price float64) float64 {
	tick := 0.01
	if price < 1 {
		tick = 0.0001
	}
	return math.Round(price/tick) * tick
}
