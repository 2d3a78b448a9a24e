package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Checkout metrics
	CheckoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesepay_checkouts_total",
		Help: "Total number of checkout initiation attempts",
	}, []string{
		"status", // initiated, failed
	})

	// Webhook metrics
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesepay_webhooks_total",
		Help: "Total number of webhook notifications processed",
	}, []string{
		"status", // mapped local status: paid, pending, failed
	})

	// Settlement metrics
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pesepay_settlements_total",
		Help: "Total number of payments saved and delivered to the host system",
	})

	SettlementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pesepay_settlement_failures_total",
		Help: "Total number of settlement attempts that failed and were left recoverable",
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{
		"path",
		"status",
	})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{
		"path",
	})
)

// RecordHTTPRequest records one completed HTTP request
func RecordHTTPRequest(path string, statusCode int, durationSeconds float64) {
	httpRequestsTotal.WithLabelValues(path, httpStatusClass(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(path).Observe(durationSeconds)
}

func httpStatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
