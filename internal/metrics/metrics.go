// Package metrics holds the Prometheus collectors for the payment flow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridenow_gateway_requests_total",
		Help: "Outbound payment gateway calls by operation and outcome.",
	}, []string{"op", "outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ridenow_gateway_request_duration_seconds",
		Help:    "Latency of outbound payment gateway calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridenow_webhook_deliveries_total",
		Help: "Inbound webhook deliveries by outcome.",
	}, []string{"outcome"})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ridenow_settlements_total",
		Help: "Settlement applications by source (verify, webhook) and outcome.",
	}, []string{"source", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
