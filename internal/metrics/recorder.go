package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordSignal records a signal emitted by a strategy model.
func (r *Recorder) RecordSignal(strategy string, direction types.Side) {
	SignalsGenerated.WithLabelValues(strategy, direction.String()).Inc()
}

// RecordOrderSubmitted records an order intent reaching a venue.
func (r *Recorder) RecordOrderSubmitted(venue, symbol string, ordType types.OrderType) {
	OrdersSubmitted.WithLabelValues(venue, symbol, ordType.String()).Inc()
}

// RecordOrdersDropped records orders discarded by the response policy.
func (r *Recorder) RecordOrdersDropped(venue, reason string, n int) {
	OrdersDropped.WithLabelValues(venue, reason).Add(float64(n))
}

// RecordStatusTransition records a reconciled order status change.
func (r *Recorder) RecordStatusTransition(venue string, status types.OrderStatus) {
	OrderStatusTransitions.WithLabelValues(venue, status.String()).Inc()
}

// RecordCancel records a terminal cancel confirmation.
func (r *Recorder) RecordCancel(venue string, status types.OrderStatus) {
	CancelsConfirmed.WithLabelValues(venue, status.String()).Inc()
}

// RecordTickDropped records a tick discarded from a full buffer.
func (r *Recorder) RecordTickDropped(venue string) {
	TicksDropped.WithLabelValues(venue).Inc()
}

// RecordBarScraped records a minute bar built from the tick buffer.
func (r *Recorder) RecordBarScraped(venue, symbol string) {
	BarsScraped.WithLabelValues(venue, symbol).Inc()
}

// RecordDivergence records the current diverged-order count.
func (r *Recorder) RecordDivergence(venue string, n int) {
	ReconcileDivergence.WithLabelValues(venue).Set(float64(n))
}

// RecordOpenOrders records the current tracked non-terminal order count.
func (r *Recorder) RecordOpenOrders(venue string, n int) {
	OpenOrders.WithLabelValues(venue).Set(float64(n))
}

// RecordPosition records a reconciled position size.
func (r *Recorder) RecordPosition(venue, symbol string, size decimal.Decimal) {
	PositionSize.WithLabelValues(venue, symbol).Set(size.InexactFloat64())
}

// RecordVenueRequest records one outbound venue request's latency.
func (r *Recorder) RecordVenueRequest(venue, operation string, d time.Duration) {
	VenueRequestDuration.WithLabelValues(venue, operation).Observe(d.Seconds())
}
