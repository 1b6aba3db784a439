package observ

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogWritesEventAndSortedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Logger()
	SetLogger(zap.New(core))
	defer SetLogger(prev)

	Log("breaker_transition", map[string]any{
		"provider": "alpha",
		"to":       "open",
		"cause":    errors.New("boom"),
	})
	Debug("ratelimit_admitted", map[string]any{"provider": "alpha"})
	Warn("provider_protocol_error", nil)

	entries := logs.All()
	require.Len(t, entries, 3)

	first := entries[0]
	assert.Equal(t, "breaker_transition", first.Message)
	ctx := first.ContextMap()
	assert.Equal(t, "breaker_transition", ctx["event"])
	assert.Equal(t, "alpha", ctx["provider"])
	assert.Equal(t, "boom", ctx["cause"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	_, err := NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)

	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	ProviderRequests.WithLabelValues("observ_test", "success").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(ProviderRequests.WithLabelValues("observ_test", "success")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `marketdata_provider_requests_total{outcome="success",provider="observ_test"} 1`))
}

func TestHealthHandlerStatus(t *testing.T) {
	tests := []struct {
		name       string
		states     map[string]string
		wantStatus string
		wantCode   int
	}{
		{name: "all closed", states: map[string]string{"a": "closed", "b": "closed"}, wantStatus: "healthy", wantCode: http.StatusOK},
		{name: "one open", states: map[string]string{"a": "closed", "b": "open"}, wantStatus: "degraded", wantCode: http.StatusOK},
		{name: "none closed", states: map[string]string{"a": "half-open", "b": "open"}, wantStatus: "failed", wantCode: http.StatusServiceUnavailable},
		{name: "no providers", states: map[string]string{}, wantStatus: "failed", wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthHandler(func() map[string]string { return tt.states }).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), `"status":"`+tt.wantStatus+`"`)
		})
	}
}
