package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the HTTP transport.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveStreams     prometheus.Gauge
	SessionsActive    prometheus.GaugeFunc
	RateLimitedTotal  *prometheus.CounterVec
	AuthFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all transport metrics with the given
// registry. sessionCount is sampled on scrape for the sessions gauge.
func NewMetrics(reg prometheus.Registerer, sessionCount func() float64) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fitbridge",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fitbridge",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ActiveStreams: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fitbridge",
				Name:      "active_streams",
				Help:      "Number of open SSE streams",
			},
		),
		SessionsActive: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "fitbridge",
				Name:      "sessions_active",
				Help:      "Number of stored sessions, expired included until swept",
			},
			sessionCount,
		),
		RateLimitedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fitbridge",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by a rate limiter",
			},
			[]string{"limiter"}, // limiter=general/auth
		),
		AuthFailuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "fitbridge",
				Name:      "auth_failures_total",
				Help:      "Failed bearer token checks",
			},
		),
	}
}
