package adapters

import (
	"fmt"
	"os"
	"strings"

	"github.com/Rajchodisetti/marketdata/internal/config"
	"github.com/Rajchodisetti/marketdata/internal/observ"
	"github.com/Rajchodisetti/marketdata/internal/quote"
)

// Build creates the adapter for one configured provider. API keys are read
// from the environment variable the provider names, never from the file.
func Build(p config.Provider, opts ...Option) (Fetcher, error) {
	kind := strings.ToLower(strings.TrimSpace(p.Kind))
	if p.BaseURL != "" {
		opts = append([]Option{WithBaseURL(p.BaseURL)}, opts...)
	}
	history := declares(p, quote.FieldHistory)

	var (
		f   Fetcher
		err error
	)
	switch kind {
	case "mock":
		f = NewMockQuotesFetcher(p.Name)

	case "sim":
		f = NewSimFetcher(SimConfig{
			Name:        p.Name,
			Seed:        p.Seed,
			History:     history,
			HistoryDays: p.HistoryDays,
		})

	case "alphavantage":
		f, err = NewAlphaVantageAdapter(AlphaVantageConfig{
			Name:        p.Name,
			APIKey:      apiKey(p),
			Timeout:     p.Timeout(),
			History:     history,
			HistoryDays: p.HistoryDays,
		}, opts...)

	case "polygon":
		f, err = NewPolygonAdapter(PolygonConfig{
			Name:    p.Name,
			APIKey:  apiKey(p),
			Timeout: p.Timeout(),
		}, opts...)

	case "yahoo":
		f = NewYahooAdapter(YahooConfig{
			Name:        p.Name,
			History:     history,
			HistoryDays: p.HistoryDays,
		}, nil)

	case "sina":
		f = NewSinaAdapter(SinaConfig{Name: p.Name, Timeout: p.Timeout()}, opts...)

	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", p.Name, p.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.Name, err)
	}

	fields := make([]string, 0, len(p.Fields))
	for _, fd := range p.FieldSet() {
		fields = append(fields, string(fd))
	}
	observ.Log("quotes_adapter_created", map[string]any{
		"provider": p.Name,
		"type":     kind,
		"fields":   fields,
		"api_key":  maskAPIKey(apiKey(p)),
	})
	return f, nil
}

func apiKey(p config.Provider) string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(p.APIKeyEnv))
}

func declares(p config.Provider, field quote.Field) bool {
	for _, f := range p.FieldSet() {
		if f == field {
			return true
		}
	}
	return false
}

// maskAPIKey masks sensitive API key for logging
func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
