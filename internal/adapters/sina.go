package adapters

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata" // Asia/Shanghai on hosts without zoneinfo

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

const sinaURL = "https://hq.sinajs.cn"

// SinaConfig holds configuration for the Sina realtime feed adapter
type SinaConfig struct {
	Name    string
	Timeout time.Duration
}

// SinaAdapter reads the hq.sinajs.cn realtime line for A-shares. The feed
// needs a finance.sina.com.cn referer and answers "too frequent" with 456.
type SinaAdapter struct {
	name    string
	client  HTTPClient
	baseURL string
}

func NewSinaAdapter(config SinaConfig, opts ...Option) *SinaAdapter {
	if config.Name == "" {
		config.Name = "sina"
	}
	o := applyOptions(sinaURL, config.Timeout, opts)
	return &SinaAdapter{name: config.Name, client: o.client, baseURL: o.baseURL}
}

func (s *SinaAdapter) Name() string { return s.name }

func (s *SinaAdapter) Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome) {
	rec := quote.NewPartial(securityID)

	code, ok := sinaCode(securityID)
	if !ok {
		// Not an exchange-listed A-share, nothing this feed can answer
		return rec, quote.Succeeded()
	}

	header := http.Header{"Referer": {"https://finance.sina.com.cn"}}
	body, out := get(ctx, s.client, s.baseURL+"/list="+code, header)
	if out.Failed() {
		if out.Reason == "HTTP 456" {
			return rec, quote.Throttled("HTTP 456")
		}
		return rec, out
	}

	fields, out := parseSinaLine(body)
	if out.Failed() || len(fields) == 0 {
		return rec, out
	}
	if len(fields) < 32 {
		return rec, quote.Protocol("short line", fmt.Errorf("%d fields", len(fields)))
	}

	for i, f := range map[int]quote.Field{
		1: quote.FieldOpen,
		2: quote.FieldPrevClose,
		3: quote.FieldPrice,
		4: quote.FieldHigh,
		5: quote.FieldLow,
		8: quote.FieldVolume,
		9: quote.FieldAmount,
	} {
		if err := setNumber(&rec, f, fields[i]); err != nil {
			return quote.NewPartial(securityID), quote.Protocol("bad number", err)
		}
	}

	// Suspended securities report zeros for the session
	if v, _ := rec.Get(quote.FieldPrice); v <= 0 {
		return quote.NewPartial(securityID), quote.Succeeded()
	}
	if v, _ := rec.Get(quote.FieldOpen); v <= 0 {
		for _, f := range []quote.Field{quote.FieldOpen, quote.FieldHigh, quote.FieldLow, quote.FieldVolume, quote.FieldAmount} {
			delete(rec.Values, f)
		}
	}

	rec.Timestamp = time.Now()
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", fields[30]+" "+fields[31], loc); err == nil {
			rec.Timestamp = ts
		}
	}
	return rec, quote.Succeeded()
}

// parseSinaLine extracts the comma separated payload of
// var hq_str_sh600519="...";  An empty payload means unknown code.
func parseSinaLine(body []byte) ([]string, quote.Outcome) {
	start := bytes.IndexByte(body, '"')
	end := bytes.LastIndexByte(body, '"')
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("var hq_str_")) || start < 0 || end <= start {
		return nil, quote.Protocol("unexpected body", fmt.Errorf("%.80q", body))
	}
	payload := strings.TrimSpace(string(body[start+1 : end]))
	if payload == "" {
		return nil, quote.Succeeded()
	}
	return strings.Split(payload, ","), quote.Succeeded()
}

// sinaCode maps a six digit code onto the feed's exchange-prefixed form
func sinaCode(securityID string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(securityID))
	for _, prefix := range []string{"sh", "sz", "bj"} {
		if strings.HasPrefix(id, prefix) && isDigits(id[2:]) && len(id) == 8 {
			return id, true
		}
	}
	if len(id) != 6 || !isDigits(id) {
		return "", false
	}
	switch id[0] {
	case '6', '9', '5':
		return "sh" + id, true
	case '0', '2', '3', '1':
		return "sz" + id, true
	case '4', '8':
		return "bj" + id, true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
