// Package metrics defines the Prometheus instrumentation surface for
// the venue adapters, aggregator, subscription hub and TWAP engine, in
// the style of the teacher repository's backend/monitoring/prometheus.go
// (promauto-registered vectors grouped by subsystem).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VenueReconnects counts reconnect attempts per venue stream.
	VenueReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twapbook_venue_stream_reconnects_total",
			Help: "Total reconnect attempts per venue order-book stream.",
		},
		[]string{"venue"},
	)

	// VenueUpstreamErrors counts REST/stream failures per venue and call kind.
	VenueUpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twapbook_venue_upstream_errors_total",
			Help: "Total upstream errors per venue and call kind.",
		},
		[]string{"venue", "call"},
	)

	// AggregatorRoundLatency observes wall time per aggregation round.
	AggregatorRoundLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "twapbook_aggregator_round_latency_seconds",
			Help:    "Latency of one aggregator round (fan-out to all venues, merge, emit).",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		},
		[]string{"symbol"},
	)

	// AggregatorVenuesDropped counts venues dropped from a round due to error.
	AggregatorVenuesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twapbook_aggregator_venues_dropped_total",
			Help: "Total venue-drops from an aggregation round due to a stream error.",
		},
		[]string{"symbol", "venue"},
	)

	// HubSubscribers is the current subscriber count per symbol.
	HubSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "twapbook_hub_subscribers",
			Help: "Current subscriber count per symbol.",
		},
		[]string{"symbol"},
	)

	// HubBroadcastersActive is the current count of running broadcaster tasks.
	HubBroadcastersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twapbook_hub_broadcasters_active",
			Help: "Current number of active per-symbol broadcaster tasks.",
		},
	)

	// TwapSlicesExecuted counts TWAP slices processed, by fill outcome.
	TwapSlicesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twapbook_twap_slices_total",
			Help: "Total TWAP slices processed, labeled by whether they produced a fill.",
		},
		[]string{"filled"},
	)

	// TwapFillQuantity sums filled quantity as float64, for dashboards only
	// (the authoritative running total lives in model.ParentOrder as a Decimal).
	TwapFillQuantity = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "twapbook_twap_fill_quantity_total",
			Help: "Total filled quantity across all TWAP orders, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	// RepositoryLatency observes repository call latency by method.
	RepositoryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "twapbook_repository_call_latency_seconds",
			Help:    "Repository call latency by method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)
