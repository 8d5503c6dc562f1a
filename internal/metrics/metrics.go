// Package metrics exposes Prometheus instrumentation and the metrics/health
// HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_signals_generated_total",
		Help: "Signals emitted by strategy models.",
	}, []string{"strategy", "direction"})

	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_orders_submitted_total",
		Help: "Order intents sent to a venue.",
	}, []string{"venue", "symbol", "order_type"})

	OrdersDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_orders_dropped_total",
		Help: "Orders dropped on venue overload or unexpected responses.",
	}, []string{"venue", "reason"})

	OrderStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_order_status_transitions_total",
		Help: "Canonical order status transitions applied by reconciliation.",
	}, []string{"venue", "status"})

	CancelsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_cancels_confirmed_total",
		Help: "Cancel confirmations by terminal outcome.",
	}, []string{"venue", "outcome"})

	TicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_ticks_dropped_total",
		Help: "Ticks discarded from a full market buffer.",
	}, []string{"venue"})

	BarsScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trading_bars_scraped_total",
		Help: "One-minute bars built from the tick buffer.",
	}, []string{"venue", "symbol"})

	ReconcileDivergence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trading_reconcile_diverged_orders",
		Help: "Tracked orders absent from venue snapshots past the grace window.",
	}, []string{"venue"})

	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trading_open_orders",
		Help: "Tracked non-terminal orders.",
	}, []string{"venue"})

	PositionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trading_position_size",
		Help: "Signed reconciled position size.",
	}, []string{"venue", "symbol"})

	VenueRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trading_venue_request_seconds",
		Help:    "Outbound venue request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue", "operation"})
)
