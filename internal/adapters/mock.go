package adapters

import (
	"context"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// MockQuotesFetcher returns fixed quotes for a handful of securities, for dev runs
// without network access
type MockQuotesFetcher struct {
	name    string
	quotes  map[string]map[quote.Field]float64
	latency time.Duration
}

// NewMockQuotesFetcher creates a mock adapter with predefined quotes
func NewMockQuotesFetcher(name string) *MockQuotesFetcher {
	if name == "" {
		name = "mock"
	}
	return &MockQuotesFetcher{
		name: name,
		quotes: map[string]map[quote.Field]float64{
			"AAPL": {
				quote.FieldPrice:     206.80,
				quote.FieldOpen:      205.10,
				quote.FieldHigh:      207.45,
				quote.FieldLow:       204.60,
				quote.FieldPrevClose: 204.90,
				quote.FieldVolume:    12500000,
			},
			"NVDA": {
				quote.FieldPrice:     450.00,
				quote.FieldOpen:      446.20,
				quote.FieldHigh:      452.75,
				quote.FieldLow:       444.00,
				quote.FieldPrevClose: 445.30,
				quote.FieldVolume:    8200000,
			},
			"600519": {
				quote.FieldPrice:     1712.00,
				quote.FieldOpen:      1698.00,
				quote.FieldHigh:      1720.50,
				quote.FieldLow:       1690.10,
				quote.FieldPrevClose: 1695.00,
				quote.FieldVolume:    2345600,
				quote.FieldAmount:    4.01e9,
			},
			"000001": {
				quote.FieldPrice:     11.42,
				quote.FieldOpen:      11.30,
				quote.FieldHigh:      11.50,
				quote.FieldLow:       11.25,
				quote.FieldPrevClose: 11.28,
				quote.FieldVolume:    98000000,
				quote.FieldAmount:    1.12e9,
			},
		},
		latency: 50 * time.Millisecond,
	}
}

func (m *MockQuotesFetcher) Name() string { return m.name }

// Fetch returns a copy of the fixture; unknown securities come back empty
func (m *MockQuotesFetcher) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	rec := quote.NewPartial(securityID)

	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return rec, classifyErr(ctx.Err())
		case <-timer.C:
		}
	}

	values, ok := m.quotes[normalizeSymbol(securityID)]
	if !ok {
		return rec, quote.Succeeded()
	}
	for f, v := range values {
		rec.Set(f, v)
	}
	rec.Timestamp = time.Now()
	return rec, quote.Succeeded()
}

// SetLatency controls simulated latency
func (m *MockQuotesFetcher) SetLatency(d time.Duration) {
	m.latency = d
}

// AddQuote adds or replaces a fixture
func (m *MockQuotesFetcher) AddQuote(securityID string, values map[quote.Field]float64) {
	m.quotes[normalizeSymbol(securityID)] = values
}

// Securities returns the identifiers with fixtures
func (m *MockQuotesFetcher) Securities() []string {
	out := make([]string, 0, len(m.quotes))
	for id := range m.quotes {
		out = append(out, id)
	}
	return out
}
