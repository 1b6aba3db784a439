package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

//go:generate mockgen -package=adapters -destination=mock_http_client_test.go -source=quotes.go HTTPClient

// Fetcher is the only contract the router depends on. Fetch never returns
// a Go error: every failure is classified into the outcome.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, securityID string) (quote.PartialRecord, quote.Outcome)
}

// HTTPClient is the subset of *http.Client the HTTP adapters use
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxBody caps how much of a response body is read
const maxBody = 4 << 20

// userAgent is sent by every HTTP adapter; some feeds reject Go's default
const userAgent = "Mozilla/5.0 (X11; Linux x86_64) marketdata/1.0"

// classifyErr maps a transport-level error onto an outcome
func classifyErr(err error) quote.Outcome {
	switch {
	case err == nil:
		return quote.Succeeded()
	case errors.Is(err, context.DeadlineExceeded):
		return quote.Transient("timeout", err)
	case errors.Is(err, context.Canceled):
		return quote.Transient("cancelled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return quote.Transient("timeout", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return quote.Transient("dns", err)
	}
	return quote.Transient("network", err)
}

// classifyHTTP maps a non-200 status onto an outcome
func classifyHTTP(status int, body []byte) quote.Outcome {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	switch {
	case status == http.StatusTooManyRequests:
		return quote.Throttled(fmt.Sprintf("HTTP %d", status))
	case status >= 500:
		return quote.Transient(fmt.Sprintf("HTTP %d", status), errors.New(snippet))
	default:
		return quote.Protocol(fmt.Sprintf("HTTP %d", status), errors.New(snippet))
	}
}

// notFound reports a 404 from classifyHTTP
func notFound(o quote.Outcome) bool {
	return o.Kind == quote.ProtocolError && o.Reason == fmt.Sprintf("HTTP %d", http.StatusNotFound)
}

// get performs a GET and returns the body of a 200 response. Anything else
// comes back as a classified failure outcome.
func get(ctx context.Context, client HTTPClient, url string, header http.Header) ([]byte, quote.Outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, quote.Protocol("build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classifyErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTP(resp.StatusCode, body)
	}
	return body, quote.Succeeded()
}

// decodeJSON unmarshals a provider body; failures are protocol errors
func decodeJSON(body []byte, v any) quote.Outcome {
	if err := json.Unmarshal(body, v); err != nil {
		return quote.Protocol("decode response", err)
	}
	return quote.Succeeded()
}

// parseNumber parses provider numerics, tolerating percent signs and
// thousands separators. An empty string is absence, not an error.
func parseNumber(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" || strings.EqualFold(s, "none") {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %w", s, err)
	}
	return v, true, nil
}

// setNumber parses s into f on p; a malformed number is a protocol error
func setNumber(p *quote.PartialRecord, f quote.Field, s string) error {
	v, ok, err := parseNumber(s)
	if err != nil {
		return fmt.Errorf("%s: %w", f, err)
	}
	if ok {
		p.Set(f, v)
	}
	return nil
}

// normalizeSymbol upper-cases and trims a security identifier
func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// newHTTPClient returns the default client for an adapter timeout
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type httpOptions struct {
	client  HTTPClient
	baseURL string
}

// Option configures an HTTP adapter
type Option func(*httpOptions)

// WithHTTPClient replaces the adapter's HTTP client
func WithHTTPClient(c HTTPClient) Option {
	return func(o *httpOptions) { o.client = c }
}

// WithBaseURL points the adapter at another host, e.g. a test server
func WithBaseURL(u string) Option {
	return func(o *httpOptions) {
		if u != "" {
			o.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func applyOptions(defaultURL string, timeout time.Duration, opts []Option) httpOptions {
	o := httpOptions{baseURL: defaultURL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = newHTTPClient(timeout)
	}
	return o
}
