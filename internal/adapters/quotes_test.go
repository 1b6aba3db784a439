package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Rajchodisetti/marketdata/internal/quote"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyErr(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   quote.OutcomeKind
		reason string
	}{
		{"nil", nil, quote.Success, ""},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), quote.TransientFailure, "timeout"},
		{"cancelled", context.Canceled, quote.TransientFailure, "cancelled"},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, quote.TransientFailure, "timeout"},
		{"dns", &net.DNSError{Err: "no such host", Name: "example.invalid"}, quote.TransientFailure, "dns"},
		{"refused", errors.New("connection refused"), quote.TransientFailure, "network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifyErr(tt.err)
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.reason, out.Reason)
		})
	}
}

func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		status int
		kind   quote.OutcomeKind
	}{
		{http.StatusTooManyRequests, quote.RateLimited},
		{http.StatusInternalServerError, quote.TransientFailure},
		{http.StatusBadGateway, quote.TransientFailure},
		{http.StatusBadRequest, quote.ProtocolError},
		{http.StatusUnauthorized, quote.ProtocolError},
		{http.StatusNotFound, quote.ProtocolError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			out := classifyHTTP(tt.status, []byte(strings.Repeat("x", 500)))
			assert.Equal(t, tt.kind, out.Kind)
			if out.Err != nil {
				assert.Len(t, out.Err.Error(), 200)
			}
		})
	}
	assert.True(t, notFound(classifyHTTP(http.StatusNotFound, nil)))
	assert.False(t, notFound(classifyHTTP(http.StatusBadRequest, nil)))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		ok      bool
		wantErr bool
	}{
		{"206.80", 206.80, true, false},
		{" 0.9273% ", 0.9273, true, false},
		{"12,500,000", 12500000, true, false},
		{"-1.5", -1.5, true, false},
		{"", 0, false, false},
		{"-", 0, false, false},
		{"None", 0, false, false},
		{"abc", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, ok, err := parseNumber(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, v, 1e-9)
		})
	}
}

func TestGetSendsHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	client.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, userAgent, req.Header.Get("User-Agent"))
			assert.Equal(t, "https://finance.sina.com.cn", req.Header.Get("Referer"))
			assert.Equal(t, "/list=sh600519", req.URL.Path)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`var hq_str_sh600519="";`)),
			}, nil
		}).
		Times(1)

	sina := NewSinaAdapter(SinaConfig{}, WithHTTPClient(client), WithBaseURL("http://localhost:8080"))
	rec, out := sina.Fetch(t.Context(), "600519")
	require.Equal(t, quote.Success, out.Kind)
	assert.True(t, rec.Empty())
}

func TestGetClassifiesTransportErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	client.EXPECT().
		Do(gomock.Any()).
		Return(nil, &net.OpError{Op: "dial", Err: timeoutErr{}}).
		Times(1)

	body, out := get(t.Context(), client, "http://localhost/x", nil)
	assert.Nil(t, body)
	assert.Equal(t, quote.TransientFailure, out.Kind)
	assert.Equal(t, "timeout", out.Reason)
}

func TestGetCapsBody(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)

	client.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(make([]byte, maxBody+10))),
		}, nil)

	body, out := get(t.Context(), client, "http://localhost/x", nil)
	require.Equal(t, quote.Success, out.Kind)
	assert.Len(t, body, maxBody)
}

func TestMockQuotesFetcher(t *testing.T) {
	m := NewMockQuotesFetcher("")
	m.SetLatency(0)
	assert.Equal(t, "mock", m.Name())

	rec, out := m.Fetch(t.Context(), "aapl")
	require.Equal(t, quote.Success, out.Kind)
	price, ok := rec.Get(quote.FieldPrice)
	require.True(t, ok)
	assert.InDelta(t, 206.80, price, 1e-9)
	assert.False(t, rec.Has(quote.FieldAmount))

	rec, out = m.Fetch(t.Context(), "UNKNOWN")
	require.Equal(t, quote.Success, out.Kind)
	assert.True(t, rec.Empty())

	m.AddQuote("TSLA", map[quote.Field]float64{quote.FieldPrice: 250})
	assert.Contains(t, m.Securities(), "TSLA")

	m.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, out = m.Fetch(ctx, "AAPL")
	assert.Equal(t, quote.TransientFailure, out.Kind)
}

func TestSimFetcherIsDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC)
	newSim := func(seed int64) *SimFetcher {
		s := NewSimFetcher(SimConfig{Seed: seed, History: true, HistoryDays: 10})
		s.now = func() time.Time { return now }
		return s
	}

	a, out := newSim(42).Fetch(t.Context(), "600519")
	require.Equal(t, quote.Success, out.Kind)
	b, _ := newSim(42).Fetch(t.Context(), "600519")
	assert.Equal(t, a.Values, b.Values)
	assert.Equal(t, a.History, b.History)

	c, _ := newSim(7).Fetch(t.Context(), "600519")
	assert.NotEqual(t, a.Values, c.Values)

	require.Len(t, a.History, 10)
	last := a.History[len(a.History)-1]
	assert.Equal(t, "2025-06-06", last.Date.Format("2006-01-02"))
	for _, bar := range a.History {
		assert.NotEqual(t, time.Saturday, bar.Date.Weekday())
		assert.NotEqual(t, time.Sunday, bar.Date.Weekday())
		assert.GreaterOrEqual(t, bar.High, bar.Low)
	}

	pc, _ := a.Get(quote.FieldPrevClose)
	assert.Equal(t, last.Close, pc)
	high, _ := a.Get(quote.FieldHigh)
	low, _ := a.Get(quote.FieldLow)
	assert.GreaterOrEqual(t, high, low)

	// Unknown symbols still get a stable profile
	x, out := newSim(42).Fetch(t.Context(), "ZZZZ")
	require.Equal(t, quote.Success, out.Kind)
	assert.True(t, x.Has(quote.FieldPrice))
}

func TestRoundToTick(t *testing.T) {
	assert.InDelta(t, 12.35, roundToTick(12.3456), 1e-9)
	assert.InDelta(t, 0.1235, roundToTick(0.12345), 1e-9)
}

func TestScripted(t *testing.T) {
	s := NewScripted("p", Values(map[quote.Field]float64{quote.FieldPrice: 1}))
	s.Then(Fail(quote.Throttled("HTTP 429")), Step{Delay: time.Second, Outcome: quote.Succeeded()})

	_, out := s.Fetch(t.Context(), "X")
	assert.Equal(t, quote.RateLimited, out.Kind)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, out = s.Fetch(ctx, "X")
	assert.Equal(t, quote.TransientFailure, out.Kind)
	assert.Equal(t, "timeout", out.Reason)

	rec, out := s.Fetch(t.Context(), "Y")
	require.Equal(t, quote.Success, out.Kind)
	assert.True(t, rec.Has(quote.FieldPrice))
	assert.Equal(t, 3, s.Calls())
	assert.Equal(t, 2, s.CallsFor("X"))
}

func TestScriptedBlock(t *testing.T) {
	s := NewScripted("p", Values(map[quote.Field]float64{quote.FieldPrice: 1}))
	release := s.Block()

	done := make(chan quote.Outcome, 1)
	go func() {
		_, out := s.Fetch(t.Context(), "X")
		done <- out
	}()

	require.Eventually(t, func() bool { return s.Calls() == 1 }, time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("fetch returned before release")
	default:
	}
	release()
	release()
	assert.Equal(t, quote.Success, (<-done).Kind)
}

func TestChaosFetcher(t *testing.T) {
	inner := NewScripted("inner", Values(map[quote.Field]float64{quote.FieldPrice: 1}))

	always := NewChaosFetcher(inner, ChaosConfig{ThrottleRate: 1, Seed: 1})
	assert.True(t, ChaosConfig{ThrottleRate: 1}.Enabled())
	assert.Equal(t, "inner", always.Name())
	_, out := always.Fetch(t.Context(), "X")
	assert.Equal(t, quote.RateLimited, out.Kind)
	assert.Zero(t, inner.Calls())

	never := NewChaosFetcher(inner, ChaosConfig{Seed: 1})
	assert.False(t, ChaosConfig{}.Enabled())
	_, out = never.Fetch(t.Context(), "X")
	assert.Equal(t, quote.Success, out.Kind)
	assert.Equal(t, 1, inner.Calls())
}
