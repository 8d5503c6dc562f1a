// Package venue defines the adapter contract between the canonical data model
// and exchange-specific wire formats. Adapters normalize order, execution and
// position representations at the boundary; everything above this package
// speaks only the canonical model.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

// Confirmation is a venue order acknowledgement normalized into canonical
// form. OrderID is the client-assigned id echoed back by the venue and is the
// sole key used to match a confirmation to its intent.
type Confirmation struct {
	OrderID      string
	VenueID      string
	Timestamp    time.Time
	Price        decimal.Decimal // resting limit price as echoed by the venue
	StopPrice    decimal.Decimal // stop trigger as echoed by the venue
	AvgFillPrice decimal.Decimal
	Currency     string
	Status       types.OrderStatus
}

// Response is the outcome of one order placement request. StatusCode carries
// the venue's HTTP-level verdict; Confirmations are populated only for
// success responses. ErrorMessage is the venue's error text otherwise.
type Response struct {
	StatusCode    int
	ErrorMessage  string
	Confirmations []Confirmation
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// CancelOutcome classifies a venue's reply to a cancel request. The venue may
// legitimately report the order already filled or already cancelled instead
// of confirming the cancel; both races are terminal successes.
type CancelOutcome int

const (
	CancelOutcomeCancelled CancelOutcome = iota
	CancelOutcomeAlreadyFilled
	CancelOutcomeAlreadyCancelled
	// CancelOutcomeUnhandled marks venue vocabulary outside the known set.
	// It must surface as a fatal error, never be silently swallowed.
	CancelOutcomeUnhandled
)

// CancelReply is one venue response entry to a cancel request, normalized.
// Raw preserves the offending payload when Outcome is unhandled.
type CancelReply struct {
	VenueID   string
	OrderID   string
	OrderType types.OrderType
	Price     decimal.Decimal
	Outcome   CancelOutcome
	Raw       string
}

// OrderQuery narrows an order state query.
type OrderQuery struct {
	Symbol string
	Start  time.Time
	Count  int
}

// ExecutionQuery narrows an execution history query.
type ExecutionQuery struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Count  int
}

// Venue is the adapter interface for one exchange. Implementations own wire
// conversion, request signing and transport-level retry; they never apply
// business policy. All calls must honor ctx and carry a bounded timeout.
type Venue interface {
	// Name returns the venue identifier (e.g. "BitMEX").
	Name() string

	// PlaceOrder submits a single order. Market orders go through here, one
	// request per order.
	PlaceOrder(ctx context.Context, intent types.OrderIntent) (*Response, error)

	// PlaceBulkOrders submits non-market orders as one batch request.
	PlaceBulkOrders(ctx context.Context, intents []types.OrderIntent) (*Response, error)

	// CancelOrders requests cancellation of the given venue order ids.
	CancelOrders(ctx context.Context, venueIDs []string) ([]CancelReply, error)

	// GetPosition returns the venue-reported position for a symbol, or nil
	// when the venue holds none.
	GetPosition(ctx context.Context, symbol string) (*types.Position, error)

	// GetOrders returns venue-reported order state in canonical form.
	GetOrders(ctx context.Context, q OrderQuery) ([]types.OrderRecord, error)

	// GetExecutions returns venue-reported fills in canonical form.
	GetExecutions(ctx context.Context, q ExecutionQuery) ([]types.Execution, error)

	// GetBars returns the most recent count bars for a timeframe and symbol.
	GetBars(ctx context.Context, timeframe, symbol string, count int) ([]types.Bar, error)

	// SubscribeTrades opens the streaming per-symbol trade channel. The
	// returned channel closes when ctx is cancelled or the feed ends.
	SubscribeTrades(ctx context.Context, symbols []string) (<-chan types.Tick, error)

	// MinIncrement returns the minimum price increment for a symbol.
	MinIncrement(symbol string) decimal.Decimal

	// Close releases venue resources.
	Close() error
}
