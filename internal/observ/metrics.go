package observ

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every marketdata collector. It is separate from the
// default registry so tests can read values without global collisions.
var Registry = prometheus.NewRegistry()

var (
	// ProviderRequests counts fetch attempts by outcome kind
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_provider_requests_total",
			Help: "Provider fetch attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks adapter call latency
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketdata_provider_latency_seconds",
			Help:    "Provider fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketdata_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)

	// BreakerTransitions counts state machine transitions
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_breaker_transitions_total",
			Help: "Circuit breaker transitions",
		},
		[]string{"provider", "from", "to"},
	)

	// RateLimitDenied counts attempts the limiter did not admit
	RateLimitDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_ratelimit_denied_total",
			Help: "Provider attempts denied by the local rate limiter",
		},
		[]string{"provider", "reason"},
	)

	// FieldResolutions counts how each requested field was resolved
	FieldResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_field_resolutions_total",
			Help: "Requested fields by resolution method",
		},
		[]string{"field", "method"},
	)

	// CacheRequests counts result cache lookups
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketdata_cache_requests_total",
			Help: "Result cache lookups",
		},
		[]string{"backend", "result"},
	)

	// ResolveDuration tracks end-to-end resolution time per security
	ResolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketdata_resolve_duration_seconds",
			Help:    "End-to-end resolution latency for one security",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	Registry.MustRegister(
		ProviderRequests,
		ProviderLatency,
		BreakerState,
		BreakerTransitions,
		RateLimitDenied,
		FieldResolutions,
		CacheRequests,
		ResolveDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// RecordDuration observes a provider call latency
func RecordDuration(provider string, d time.Duration) {
	ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Handler exposes the registry in Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// HealthStatus summarizes provider availability
type HealthStatus struct {
	Status    string            `json:"status"` // "healthy", "degraded", "failed"
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Providers map[string]string `json:"providers"` // provider -> breaker state
}

var (
	startTime = time.Now()
	version   = "dev" // Set via build flags
)

// SetVersion sets the version string for health reports
func SetVersion(v string) {
	version = v
}

// HealthHandler reports "healthy" when every breaker is closed, "failed"
// when none is, "degraded" otherwise.
func HealthHandler(states func() map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providers := states()
		health := HealthStatus{
			Status:    overallStatus(providers),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(startTime).String(),
			Version:   version,
			Providers: providers,
		}

		statusCode := http.StatusOK
		if health.Status == "failed" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	})
}

func overallStatus(providers map[string]string) string {
	if len(providers) == 0 {
		return "failed"
	}
	closed := 0
	for _, state := range providers {
		if state == "closed" {
			closed++
		}
	}
	switch {
	case closed == len(providers):
		return "healthy"
	case closed == 0:
		return "failed"
	default:
		return "degraded"
	}
}
