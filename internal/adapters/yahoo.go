package adapters

import (
	"context"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	fquote "github.com/piquette/finance-go/quote"

	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// YahooBackend is the part of piquette/finance-go the adapter calls. It is
// an interface so tests can stand in for Yahoo.
type YahooBackend interface {
	Quote(symbol string) (*finance.Quote, error)
	Chart(symbol string, start, end time.Time) ([]finance.ChartBar, error)
}

type financeBackend struct{}

func (financeBackend) Quote(symbol string) (*finance.Quote, error) {
	return fquote.Get(symbol)
}

func (financeBackend) Chart(symbol string, start, end time.Time) ([]finance.ChartBar, error) {
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})
	var bars []finance.ChartBar
	for iter.Next() {
		bars = append(bars, *iter.Bar())
	}
	return bars, iter.Err()
}

// YahooConfig holds configuration for the Yahoo Finance adapter
type YahooConfig struct {
	Name        string
	History     bool
	HistoryDays int
}

// YahooAdapter reads quotes and daily bars through finance-go
type YahooAdapter struct {
	name    string
	backend YahooBackend
	history bool
	days    int
	now     func() time.Time
}

// NewYahooAdapter creates the adapter; a nil backend uses finance-go
func NewYahooAdapter(config YahooConfig, backend YahooBackend) *YahooAdapter {
	if config.Name == "" {
		config.Name = "yahoo"
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = 30
	}
	if backend == nil {
		backend = financeBackend{}
	}
	return &YahooAdapter{
		name:    config.Name,
		backend: backend,
		history: config.History,
		days:    config.HistoryDays,
		now:     time.Now,
	}
}

func (y *YahooAdapter) Name() string { return y.name }

type yahooResult struct {
	rec quote.PartialRecord
	out quote.Outcome
}

// Fetch runs the blocking finance-go calls off the caller's goroutine so the
// attempt timeout still applies
func (y *YahooAdapter) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	done := make(chan yahooResult, 1)
	go func() {
		rec, out := y.fetch(securityID)
		done <- yahooResult{rec, out}
	}()

	select {
	case <-ctx.Done():
		return quote.NewPartial(securityID), classifyErr(ctx.Err())
	case r := <-done:
		return r.rec, r.out
	}
}

func (y *YahooAdapter) fetch(securityID string) (quote.PartialRecord, quote.Outcome) {
	symbol := yahooSymbol(securityID)
	rec := quote.NewPartial(securityID)

	q, err := y.backend.Quote(symbol)
	if err != nil {
		return rec, classifyYahoo(err)
	}
	if q == nil {
		return rec, quote.Succeeded()
	}
	if q.RegularMarketPrice <= 0 {
		return rec, quote.Protocol("no regular market price", nil)
	}

	rec.Set(quote.FieldPrice, q.RegularMarketPrice)
	if q.RegularMarketOpen > 0 {
		rec.Set(quote.FieldOpen, q.RegularMarketOpen)
		rec.Set(quote.FieldHigh, q.RegularMarketDayHigh)
		rec.Set(quote.FieldLow, q.RegularMarketDayLow)
	}
	if q.RegularMarketPreviousClose > 0 {
		rec.Set(quote.FieldPrevClose, q.RegularMarketPreviousClose)
		rec.Set(quote.FieldChangePct, q.RegularMarketChangePercent)
	}
	if q.RegularMarketVolume > 0 {
		rec.Set(quote.FieldVolume, float64(q.RegularMarketVolume))
	}
	rec.Timestamp = y.now()
	if q.RegularMarketTime > 0 {
		rec.Timestamp = time.Unix(int64(q.RegularMarketTime), 0)
	}

	if y.history {
		bars, err := y.bars(symbol)
		if err != nil {
			observ.Warn("provider_history_unavailable", map[string]any{
				"provider": y.name,
				"security": securityID,
				"error":    err,
			})
		} else {
			rec.History = bars
		}
	}
	return rec, quote.Succeeded()
}

// bars requests enough calendar days to cover the trading-day window
func (y *YahooAdapter) bars(symbol string) ([]quote.Bar, error) {
	end := y.now()
	start := end.AddDate(0, 0, -(y.days*7/5 + 7))

	raw, err := y.backend.Chart(symbol, start, end)
	if err != nil {
		return nil, err
	}
	bars := make([]quote.Bar, 0, len(raw))
	for _, b := range raw {
		if b.Close.IsZero() {
			continue
		}
		bars = append(bars, quote.Bar{
			Date:   time.Unix(int64(b.Timestamp), 0).UTC(),
			Open:   b.Open.InexactFloat64(),
			High:   b.High.InexactFloat64(),
			Low:    b.Low.InexactFloat64(),
			Close:  b.Close.InexactFloat64(),
			Volume: float64(b.Volume),
		})
	}
	if len(bars) > y.days {
		bars = bars[len(bars)-y.days:]
	}
	return bars, nil
}

func classifyYahoo(err error) quote.Outcome {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return quote.Throttled("yahoo: too many requests")
	case strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid character"):
		return quote.Protocol("yahoo: decode", err)
	default:
		return classifyErr(err)
	}
}

// yahooSymbol maps six digit A-share codes onto Yahoo's exchange suffixes
func yahooSymbol(securityID string) string {
	id := normalizeSymbol(securityID)
	if code, ok := sinaCode(id); ok {
		switch code[:2] {
		case "sh":
			return code[2:] + ".SS"
		case "sz":
			return code[2:] + ".SZ"
		case "bj":
			return code[2:] + ".BJ"
		}
	}
	return id
}
