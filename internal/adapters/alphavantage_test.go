package adapters

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

const globalQuoteAAPL = `{
  "Global Quote": {
    "01. symbol": "AAPL",
    "02. open": "205.1000",
    "03. high": "207.4500",
    "04. low": "204.6000",
    "05. price": "206.8000",
    "06. volume": "12500000",
    "07. latest trading day": "2025-06-06",
    "08. previous close": "204.9000",
    "09. change": "1.9000",
    "10. change percent": "0.9273%"
  }
}`

const dailyAAPL = `{
  "Meta Data": {"2. Symbol": "AAPL"},
  "Time Series (Daily)": {
    "2025-06-05": {"1. open": "203.0", "2. high": "205.0", "3. low": "202.5", "4. close": "204.9", "5. volume": "11000000"},
    "2025-06-04": {"1. open": "201.0", "2. high": "203.5", "3. low": "200.0", "4. close": "202.8", "5. volume": "10000000"},
    "2025-06-03": {"1. open": "200.0", "2. high": "201.5", "3. low": "199.0", "4. close": "201.1", "5. volume": "9000000"}
  }
}`

func newAVServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *AlphaVantageAdapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)

	av, err := NewAlphaVantageAdapter(AlphaVantageConfig{APIKey: "demo", History: true, HistoryDays: 2}, WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)
	return av
}

func TestAlphaVantageConfig(t *testing.T) {
	_, err := NewAlphaVantageAdapter(AlphaVantageConfig{})
	require.Error(t, err)

	av, err := NewAlphaVantageAdapter(AlphaVantageConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", av.Name())
	assert.Equal(t, alphaVantageURL, av.baseURL)
}

func TestAlphaVantageFetch(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		switch r.URL.Query().Get("function") {
		case "GLOBAL_QUOTE":
			fmt.Fprint(w, globalQuoteAAPL)
		case "TIME_SERIES_DAILY":
			fmt.Fprint(w, dailyAAPL)
		default:
			http.Error(w, "unexpected", http.StatusBadRequest)
		}
	})

	rec, out := av.Fetch(t.Context(), " aapl ")
	require.Equal(t, quote.Success, out.Kind, out.String())
	assert.Equal(t, " aapl ", rec.SecurityID)

	want := map[quote.Field]float64{
		quote.FieldPrice:     206.80,
		quote.FieldOpen:      205.10,
		quote.FieldHigh:      207.45,
		quote.FieldLow:       204.60,
		quote.FieldPrevClose: 204.90,
		quote.FieldVolume:    12500000,
		quote.FieldChangePct: 0.9273,
	}
	assert.Equal(t, want, rec.Values)
	assert.Equal(t, "2025-06-06", rec.Timestamp.Format("2006-01-02"))

	// Trimmed to the last two days, oldest first
	require.Len(t, rec.History, 2)
	assert.Equal(t, "2025-06-04", rec.History[0].Date.Format("2006-01-02"))
	assert.InDelta(t, 204.9, rec.History[1].Close, 1e-9)
}

func TestAlphaVantageOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   quote.OutcomeKind
		empty  bool
	}{
		{"note is throttling", 200, `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, quote.RateLimited, false},
		{"information is throttling", 200, `{"Information": "rate limit"}`, quote.RateLimited, false},
		{"error message", 200, `{"Error Message": "Invalid API call"}`, quote.ProtocolError, false},
		{"missing global quote", 200, `{}`, quote.ProtocolError, false},
		{"unknown symbol", 200, `{"Global Quote": {}}`, quote.Success, true},
		{"malformed json", 200, `{"Global Quote": `, quote.ProtocolError, false},
		{"bad number", 200, `{"Global Quote": {"05. price": "abc"}}`, quote.ProtocolError, false},
		{"missing price", 200, `{"Global Quote": {"02. open": "1.0"}}`, quote.ProtocolError, false},
		{"http 429", 429, ``, quote.RateLimited, false},
		{"http 503", 503, `busy`, quote.TransientFailure, false},
		{"http 403", 403, `forbidden`, quote.ProtocolError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			av.history = false

			rec, out := av.Fetch(t.Context(), "AAPL")
			assert.Equal(t, tt.want, out.Kind, out.String())
			if tt.want != quote.Success || tt.empty {
				assert.True(t, rec.Empty())
			}
		})
	}
}

func TestAlphaVantageHistoryIsBestEffort(t *testing.T) {
	av := newAVServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") == "TIME_SERIES_DAILY" {
			fmt.Fprint(w, `{"Note": "slow down"}`)
			return
		}
		fmt.Fprint(w, globalQuoteAAPL)
	})

	rec, out := av.Fetch(t.Context(), "AAPL")
	require.Equal(t, quote.Success, out.Kind)
	assert.True(t, rec.Has(quote.FieldPrice))
	assert.Empty(t, rec.History)
}
