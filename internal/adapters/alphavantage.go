package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

const alphaVantageURL = "https://www.alphavantage.co"

// AlphaVantageConfig holds configuration for the Alpha Vantage adapter
type AlphaVantageConfig struct {
	Name        string
	APIKey      string
	Timeout     time.Duration
	History     bool // also fetch TIME_SERIES_DAILY
	HistoryDays int
}

// AlphaVantageAdapter reads GLOBAL_QUOTE and, optionally, daily bars
type AlphaVantageAdapter struct {
	name    string
	apiKey  string
	client  HTTPClient
	baseURL string
	history bool
	days    int
}

// NewAlphaVantageAdapter creates a new Alpha Vantage adapter
func NewAlphaVantageAdapter(config AlphaVantageConfig, opts ...Option) (*AlphaVantageAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("alpha vantage API key is required")
	}
	if config.Name == "" {
		config.Name = "alphavantage"
	}
	if config.HistoryDays <= 0 {
		config.HistoryDays = 30
	}
	o := applyOptions(alphaVantageURL, config.Timeout, opts)
	return &AlphaVantageAdapter{
		name:    config.Name,
		apiKey:  config.APIKey,
		client:  o.client,
		baseURL: o.baseURL,
		history: config.History,
		days:    config.HistoryDays,
	}, nil
}

func (av *AlphaVantageAdapter) Name() string { return av.name }

// Fetch reads the global quote. Daily bars are best effort: when that second
// call fails the quote values are still returned.
func (av *AlphaVantageAdapter) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	symbol := normalizeSymbol(securityID)
	p := quote.NewPartial(securityID)

	body, out := get(ctx, av.client, av.queryURL("GLOBAL_QUOTE", symbol), nil)
	if out.Failed() {
		return p, out
	}
	if out := av.parseGlobalQuote(body, &p); out.Failed() {
		return quote.NewPartial(securityID), out
	}

	if av.history && !p.Empty() {
		bars, out := av.fetchDaily(ctx, symbol)
		if out.Failed() {
			observ.Warn("provider_history_unavailable", map[string]any{
				"provider": av.name,
				"security": securityID,
				"outcome":  out.Kind.String(),
				"reason":   out.Reason,
			})
		} else {
			p.History = bars
		}
	}
	return p, quote.Succeeded()
}

func (av *AlphaVantageAdapter) queryURL(function, symbol string) string {
	params := url.Values{
		"function": {function},
		"symbol":   {symbol},
		"apikey":   {av.apiKey},
	}
	return av.baseURL + "/query?" + params.Encode()
}

// avEnvelope carries the messages Alpha Vantage returns with a 200 status
type avEnvelope struct {
	ErrorMessage string `json:"Error Message"`
	Information  string `json:"Information"`
	Note         string `json:"Note"`
}

// check turns in-band messages into outcomes. Note and Information are the
// call-frequency messages; Error Message means the request was rejected.
func (e avEnvelope) check() quote.Outcome {
	switch {
	case e.Note != "":
		return quote.Throttled(e.Note)
	case e.Information != "":
		return quote.Throttled(e.Information)
	case e.ErrorMessage != "":
		return quote.Protocol("error message", errors.New(e.ErrorMessage))
	}
	return quote.Succeeded()
}

func (av *AlphaVantageAdapter) parseGlobalQuote(body []byte, p *quote.PartialRecord) quote.Outcome {
	var response struct {
		avEnvelope
		GlobalQuote *map[string]string `json:"Global Quote"`
	}
	if out := decodeJSON(body, &response); out.Failed() {
		return out
	}
	if out := response.check(); out.Failed() {
		return out
	}
	if response.GlobalQuote == nil {
		return quote.Protocol("missing Global Quote", nil)
	}

	gq := *response.GlobalQuote
	if len(gq) == 0 {
		// Unknown symbol: well-formed but empty
		return quote.Succeeded()
	}

	for key, field := range map[string]quote.Field{
		"02. open":           quote.FieldOpen,
		"03. high":           quote.FieldHigh,
		"04. low":            quote.FieldLow,
		"05. price":          quote.FieldPrice,
		"06. volume":         quote.FieldVolume,
		"08. previous close": quote.FieldPrevClose,
		"10. change percent": quote.FieldChangePct,
	} {
		if err := setNumber(p, field, gq[key]); err != nil {
			return quote.Protocol("bad number", err)
		}
	}
	if !p.Has(quote.FieldPrice) {
		return quote.Protocol("missing price", nil)
	}

	if day, err := time.Parse("2006-01-02", gq["07. latest trading day"]); err == nil {
		p.Timestamp = day
	} else {
		p.Timestamp = time.Now()
	}
	return quote.Succeeded()
}

func (av *AlphaVantageAdapter) fetchDaily(ctx context.Context, symbol string) ([]quote.Bar, quote.Outcome) {
	body, out := get(ctx, av.client, av.queryURL("TIME_SERIES_DAILY", symbol), nil)
	if out.Failed() {
		return nil, out
	}

	var response struct {
		avEnvelope
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if out := decodeJSON(body, &response); out.Failed() {
		return nil, out
	}
	if out := response.check(); out.Failed() {
		return nil, out
	}

	bars := make([]quote.Bar, 0, len(response.Series))
	for date, row := range response.Series {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, quote.Protocol("bad bar date", err)
		}
		bar := quote.Bar{Date: day}
		for key, dst := range map[string]*float64{
			"1. open":   &bar.Open,
			"2. high":   &bar.High,
			"3. low":    &bar.Low,
			"4. close":  &bar.Close,
			"5. volume": &bar.Volume,
		} {
			v, ok, err := parseNumber(row[key])
			if err != nil || !ok {
				return nil, quote.Protocol("bad bar", fmt.Errorf("%s %s: %q", date, key, row[key]))
			}
			*dst = v
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) > av.days {
		bars = bars[len(bars)-av.days:]
	}
	return bars, quote.Succeeded()
}
