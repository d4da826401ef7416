// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh cycle outcomes.
const (
	OutcomeCompleted  = "completed"
	OutcomeBusy       = "busy"
	OutcomeThrottled  = "throttled"
	OutcomeAuthFailed = "auth_failed"
	OutcomeUnknownVIN = "unknown_vin"
)

var (
	// APILastStatus records the HTTP status of the most recent call per endpoint.
	APILastStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "polestar_api_last_status",
			Help: "HTTP status code of the most recent call to each API endpoint.",
		},
		[]string{"endpoint"},
	)

	// RefreshCycles counts refresh attempts by outcome.
	RefreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polestar_refresh_cycles_total",
			Help: "Total number of vehicle refresh attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	// FetchDuration records round-trip latency per GraphQL operation.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polestar_fetch_duration_seconds",
			Help:    "Latency of GraphQL operations sent to the Polestar API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// TokenExpiry is the expiry of the current access token as a unix timestamp.
	TokenExpiry = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "polestar_token_expiry_timestamp_seconds",
			Help: "Expiry of the current access token in seconds since the epoch.",
		},
	)
)

func init() {
	prometheus.MustRegister(APILastStatus)
	prometheus.MustRegister(RefreshCycles)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(TokenExpiry)
}

func SetLastStatus(endpoint string, code int) {
	APILastStatus.WithLabelValues(endpoint).Set(float64(code))
}

func ObserveFetch(operation string, elapsed time.Duration) {
	FetchDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func RefreshCycle(outcome string) {
	RefreshCycles.WithLabelValues(outcome).Inc()
}

func SetTokenExpiry(expiry time.Time) {
	TokenExpiry.Set(float64(expiry.Unix()))
}
