// Package telemetry exposes the gateway's Prometheus collectors and the
// /metrics handler.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway metrics collectors
var (
	SearchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_searches_total",
			Help: "Total number of aggregated search operations",
		},
	)

	FetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_fetches_total",
			Help: "Total number of aggregated fetch operations",
		},
	)

	HandlerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_handler_failures_total",
			Help: "Total number of classified handler failures",
		},
		[]string{"class"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_search_duration_seconds",
			Help:    "Aggregated search latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	AuditDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_audit_drops_total",
			Help: "Total number of audit entries dropped under backpressure",
		},
	)

	PoolExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_pool_exhausted_total",
			Help: "Total number of server creations rejected for lack of endpoints",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
