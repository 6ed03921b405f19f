// Package observability holds the Prometheus instrumentation for the API
// and the settlement pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the process registers.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Transitions    *prometheus.CounterVec
	WebhookEvents  *prometheus.CounterVec
	RecoverySweeps prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiatramp_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fiatramp_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiatramp_transaction_transitions_total",
			Help: "Status transitions by target status.",
		}, []string{"status"}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiatramp_webhook_events_total",
			Help: "Inbound provider webhooks by provider and outcome.",
		}, []string{"provider", "outcome"}),
		RecoverySweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fiatramp_recovery_sweeps_total",
			Help: "Recovery sweeps executed.",
		}),
	}
}
