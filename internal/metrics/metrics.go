// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive counts admitted websocket connections per endpoint
	// ("presence" or "room").
	ConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Current number of admitted websocket connections",
		},
		[]string{"endpoint"},
	)

	AdmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_admissions_rejected_total",
			Help: "Websocket admissions rejected before upgrade",
		},
		[]string{"endpoint", "reason"}, // unauthenticated, missing_slug, not_member, store_error
	)

	InboundFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_inbound_frames_dropped_total",
			Help: "Inbound frames discarded without processing",
		},
		[]string{"reason"}, // malformed, rate_limited, unknown_type, empty_message
	)

	// Broadcast bus
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_bus_events_published_total",
			Help: "Events published to broadcast groups",
		},
		[]string{"kind"},
	)

	BusDeliveriesFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_bus_deliveries_failed_total",
			Help: "Event deliveries refused by a subscriber mailbox",
		},
	)

	RefreshesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_refreshes_coalesced_total",
			Help: "Presence refresh events merged into one already pending",
		},
	)

	BusGroups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_bus_groups",
			Help: "Current number of broadcast groups with at least one subscriber",
		},
	)

	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Chat messages saved to the store",
		},
	)

	// Store worker pool
	StoreCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_call_duration_seconds",
			Help:    "Duration of store calls including queue wait",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"op"},
	)

	StoreCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_call_errors_total",
			Help: "Store calls that returned an error other than not found",
		},
		[]string{"op"},
	)

	StoreQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_store_queue_depth",
			Help: "Store jobs waiting for a worker",
		},
	)
)
