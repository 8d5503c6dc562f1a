// Package types defines the canonical data model shared across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a signal, order or position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// OrderType represents the type of an order.
type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus represents the canonical state of an order. There are exactly
// four values; venue vocabularies are mapped onto these at the adapter
// boundary and anything unmappable is a fatal error, never a default.
type OrderStatus int

const (
	OrderStatusNew OrderStatus = iota
	OrderStatusPartial
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// CanTransition reports whether moving from s to next is allowed.
// Transitions are monotonic: NEW→PARTIAL→FILLED, or NEW/PARTIAL→CANCELLED.
// Terminal states accept no transitions. Re-asserting the current status is
// allowed so repeated venue snapshots stay idempotent.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s == next {
		return !s.IsTerminal()
	}
	switch s {
	case OrderStatusNew:
		return next == OrderStatusPartial || next == OrderStatusFilled || next == OrderStatusCancelled
	case OrderStatusPartial:
		return next == OrderStatusFilled || next == OrderStatusCancelled
	default:
		return false
	}
}

// Metatype is the semantic role of an order within a trade.
type Metatype int

const (
	MetatypeNone Metatype = iota
	MetatypeEntry
	MetatypeStop
	MetatypeTakeProfit
	MetatypeFinalTakeProfit
)

func (m Metatype) String() string {
	switch m {
	case MetatypeEntry:
		return "ENTRY"
	case MetatypeStop:
		return "STOP"
	case MetatypeTakeProfit:
		return "TAKE_PROFIT"
	case MetatypeFinalTakeProfit:
		return "FINAL_TAKE_PROFIT"
	default:
		return ""
	}
}

// ParseMetatype maps an exact label onto a Metatype. Unknown labels yield
// MetatypeNone and false; they are never an error.
func ParseMetatype(s string) (Metatype, bool) {
	switch s {
	case "ENTRY":
		return MetatypeEntry, true
	case "STOP":
		return MetatypeStop, true
	case "TAKE_PROFIT":
		return MetatypeTakeProfit, true
	case "FINAL_TAKE_PROFIT":
		return MetatypeFinalTakeProfit, true
	default:
		return MetatypeNone, false
	}
}

// FeeType indicates whether an execution added or removed liquidity.
type FeeType int

const (
	FeeTypeMaker FeeType = iota
	FeeTypeTaker
)

func (f FeeType) String() string {
	if f == FeeTypeTaker {
		return "TAKER"
	}
	return "MAKER"
}

// PositionStatus represents the state of a position.
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosed
)

func (p PositionStatus) String() string {
	if p == PositionClosed {
		return "CLOSED"
	}
	return "OPEN"
}

// Tick is a single trade event for one symbol.
type Tick struct {
	Symbol    string
	Timestamp time.Time
	Price     decimal.Decimal
	Size      decimal.Decimal
	Side      Side
}

// Bar is an OHLCV aggregate over a fixed time window for one symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Signal is a strategy's directional trade recommendation. Immutable once
// emitted by a model; consumed exactly once by the order router.
type Signal struct {
	ID           string
	Symbol       string
	Timestamp    time.Time
	Direction    Side
	Timeframe    string
	StrategyName string
	Venue        string
	EntryPrice   decimal.Decimal
	OrderType    OrderType
	StopPrice    decimal.Decimal // zero when the model sets no stop
	TargetPrice  decimal.Decimal // zero when the model sets no target
	Size         decimal.Decimal // zero lets the caller size the trade
	Trail        decimal.Decimal
	Metadata     map[string]string
}

// OrderIntent is the pre-confirmation representation of an order. OrderID is
// client-assigned, globally unique per venue session, and is the idempotency
// key across retries: it is the sole correlation key between an intent and
// its venue confirmations.
type OrderIntent struct {
	OrderID    string
	TradeID    string
	Venue      string
	Symbol     string
	Direction  Side
	Size       decimal.Decimal
	OrderType  OrderType
	Price      decimal.Decimal // limit price; zero for market orders
	VoidPrice  decimal.Decimal // stop trigger price
	Metatype   Metatype
	ReduceOnly bool
	PostOnly   bool
	BatchSize  int
	Trail      decimal.Decimal
}

// OrderRecord is the post-confirmation representation of an order. VenueID is
// assigned only after venue acceptance and must never be used before
// confirmation. Records are mutated only by the reconciliation engine.
type OrderRecord struct {
	OrderIntent

	VenueID      string
	Timestamp    time.Time
	AvgFillPrice decimal.Decimal
	Currency     string
	Status       OrderStatus
}

// Position is a venue-derived holding for one symbol. Size is signed; it is
// not locally mutated except via confirmed executions.
type Position struct {
	Symbol           string
	Size             decimal.Decimal
	AvgEntryPrice    decimal.Decimal
	Direction        Side
	Currency         string
	OpeningTimestamp time.Time
	OpeningSize      decimal.Decimal
	Status           PositionStatus
}

// Execution is one fill event for an order. Append-only; a single OrderRecord
// may accumulate several executions through partial fills.
type Execution struct {
	// ExecID is the venue-assigned fill identifier, unique per execution.
	// It is the dedupe key when the same fill is reported across cycles.
	ExecID       string
	OrderID      string
	VenueID      string
	Symbol       string
	Timestamp    time.Time
	Direction    Side
	AvgExecPrice decimal.Decimal
	Size         decimal.Decimal
	OrderType    OrderType
	FeeType      FeeType
	FeeAmount    decimal.Decimal
	TotalFee     decimal.Decimal
	Currency     string
	Status       OrderStatus
}

// CancelConfirmation is the terminal outcome of a cancel request, keyed by
// venue order id. A venue reporting the order already filled or already
// cancelled still yields a confirmation, not an error.
type CancelConfirmation struct {
	VenueID   string
	OrderID   string
	Status    OrderStatus
	OrderType OrderType
	Price     decimal.Decimal
}
