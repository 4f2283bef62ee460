package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	// Realtime metrics
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderchat_ws_connections",
			Help: "Currently registered WebSocket connections",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orderchat_ws_rooms",
			Help: "Order rooms with at least one member",
		},
	)

	DeliveryDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderchat_delivery_drops_total",
			Help: "Outbound events dropped because a recipient could not keep up",
		},
		[]string{"reason"}, // "overflow" or "closed"
	)

	// Business metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderchat_messages_sent_total",
			Help: "Messages persisted and broadcast",
		},
		[]string{"role"},
	)

	ReadReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderchat_read_receipts_total",
			Help: "Messages transitioned to read",
		},
	)

	TypingExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orderchat_typing_expirations_total",
			Help: "Typing indicators cleared by the expiry timer",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderchat_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
		[]string{"op"},
	)
)
