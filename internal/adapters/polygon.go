package adapters

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

const polygonURL = "https://api.polygon.io"

// PolygonConfig holds configuration for the Polygon adapter
type PolygonConfig struct {
	Name    string
	APIKey  string
	Timeout time.Duration
}

// PolygonAdapter reads the single-ticker snapshot endpoint
type PolygonAdapter struct {
	name    string
	apiKey  string
	client  HTTPClient
	baseURL string
}

// NewPolygonAdapter creates a new Polygon.io adapter
func NewPolygonAdapter(config PolygonConfig, opts ...Option) (*PolygonAdapter, error) {
	if config.APIKey == "" {
		return nil, errors.New("polygon API key is required")
	}
	if config.Name == "" {
		config.Name = "polygon"
	}
	o := applyOptions(polygonURL, config.Timeout, opts)
	return &PolygonAdapter{
		name:    config.Name,
		apiKey:  config.APIKey,
		client:  o.client,
		baseURL: o.baseURL,
	}, nil
}

func (p *PolygonAdapter) Name() string { return p.name }

type polygonBar struct {
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

func (p *PolygonAdapter) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	symbol := normalizeSymbol(securityID)
	rec := quote.NewPartial(securityID)

	endpoint := p.baseURL + "/v2/snapshot/locale/us/markets/stocks/tickers/" + url.PathEscape(symbol) +
		"?" + url.Values{"apiKey": {p.apiKey}}.Encode()

	body, out := get(ctx, p.client, endpoint, nil)
	if out.Failed() {
		// The snapshot endpoint answers unknown tickers with 404
		if notFound(out) {
			return rec, quote.Succeeded()
		}
		return rec, out
	}

	var response struct {
		Status string `json:"status"`
		Error  string `json:"error"`
		Ticker *struct {
			Ticker           string     `json:"ticker"`
			TodaysChangePerc *float64   `json:"todaysChangePerc"`
			Day              polygonBar `json:"day"`
			PrevDay          polygonBar `json:"prevDay"`
			LastTrade        struct {
				P float64 `json:"p"`
			} `json:"lastTrade"`
			Updated int64 `json:"updated"` // nanoseconds
		} `json:"ticker"`
	}
	if out := decodeJSON(body, &response); out.Failed() {
		return rec, out
	}
	switch response.Status {
	case "OK":
	case "NOT_FOUND":
		return rec, quote.Succeeded()
	default:
		return rec, quote.Protocol("status "+response.Status, errors.New(response.Error))
	}
	if response.Ticker == nil {
		return rec, quote.Protocol("missing ticker", nil)
	}

	t := response.Ticker
	price := t.LastTrade.P
	if price <= 0 {
		price = t.Day.C
	}
	if price <= 0 {
		return rec, quote.Protocol("no price in snapshot", nil)
	}
	rec.Set(quote.FieldPrice, price)

	// Zero day values mean the session hasn't opened; leave them absent
	if t.Day.O > 0 {
		rec.Set(quote.FieldOpen, t.Day.O)
		rec.Set(quote.FieldHigh, t.Day.H)
		rec.Set(quote.FieldLow, t.Day.L)
		rec.Set(quote.FieldVolume, t.Day.V)
	}
	if t.PrevDay.C > 0 {
		rec.Set(quote.FieldPrevClose, t.PrevDay.C)
	}
	if t.TodaysChangePerc != nil {
		rec.Set(quote.FieldChangePct, *t.TodaysChangePerc)
	}

	rec.Timestamp = time.Now()
	if t.Updated > 0 {
		rec.Timestamp = time.Unix(0, t.Updated)
	}
	return rec, quote.Succeeded()
}
