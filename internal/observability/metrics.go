package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "airbear"

var (
	RidesRequested  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Ride requests accepted by the API"})
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions by target status"},
		[]string{"status"},
	)
	CheckoutSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "checkout_sessions_total", Help: "Checkout session requests by outcome"},
		[]string{"result"},
	)
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "webhook_events_total", Help: "Payment webhook deliveries by outcome"},
		[]string{"result"},
	)
	RealtimeClients  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_clients", Help: "Connected change feed clients"})
	ChangesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "changes_published_total", Help: "Row changes fanned out to the change feed"},
		[]string{"table"},
	)

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Vehicle location updates by path and outcome"},
		[]string{"path", "result"},
	)
	ConsumerLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "consumer_update_age_seconds",
		Help:      "Age of location updates when the consumer applies them",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
