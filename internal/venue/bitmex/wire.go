package bitmex

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// Wire representations of BitMEX payloads. Field names follow the venue API;
// conversion to the canonical model happens in this file only.

type wireOrder struct {
	OrderID     string           `json:"orderID"`
	ClOrdID     string           `json:"clOrdID"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	OrderQty    *decimal.Decimal `json:"orderQty"`
	Price       *decimal.Decimal `json:"price"`
	StopPx      *decimal.Decimal `json:"stopPx"`
	AvgPx       *decimal.Decimal `json:"avgPx"`
	Currency    string           `json:"currency"`
	OrdType     string           `json:"ordType"`
	OrdStatus   string           `json:"ordStatus"`
	TimeInForce string           `json:"timeInForce"`
	Text        string           `json:"text"`
	Timestamp   time.Time        `json:"timestamp"`
	// Error is set on cancel responses when the order could not be
	// cancelled, e.g. because it already reached a terminal state.
	Error *string `json:"error"`
}

type wireNewOrder struct {
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	OrderQty    decimal.Decimal  `json:"orderQty"`
	Price       *decimal.Decimal `json:"price"`
	StopPx      *decimal.Decimal `json:"stopPx"`
	ClOrdID     string           `json:"clOrdID"`
	OrdType     string           `json:"ordType"`
	TimeInForce string           `json:"timeInForce"`
	ExecInst    *string          `json:"execInst"`
	Text        string           `json:"text"`
}

type wirePosition struct {
	Symbol           string          `json:"symbol"`
	CurrentQty       decimal.Decimal `json:"currentQty"`
	AvgEntryPrice    decimal.Decimal `json:"avgEntryPrice"`
	QuoteCurrency    string          `json:"quoteCurrency"`
	IsOpen           bool            `json:"isOpen"`
	OpeningTimestamp time.Time       `json:"openingTimestamp"`
	OpeningQty       decimal.Decimal `json:"openingQty"`
}

type wireExecution struct {
	ExecID           string          `json:"execID"`
	OrderID          string          `json:"orderID"`
	ClOrdID          string          `json:"clOrdID"`
	Symbol           string          `json:"symbol"`
	Side             string          `json:"side"`
	LastQty          decimal.Decimal `json:"lastQty"`
	AvgPx            decimal.Decimal `json:"avgPx"`
	Currency         string          `json:"currency"`
	OrdType          string          `json:"ordType"`
	OrdStatus        string          `json:"ordStatus"`
	LastLiquidityInd string          `json:"lastLiquidityInd"`
	Commission       decimal.Decimal `json:"commission"`
	ExecComm         decimal.Decimal `json:"execComm"`
	Timestamp        time.Time       `json:"timestamp"`
}

type wireBar struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

type wireTrade struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	Side      string          `json:"side"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

// statusFromWire maps a venue order status onto the canonical enumeration.
// The enumeration is closed: any other string is fatal so new venue behavior
// is handled explicitly instead of being misclassified.
func statusFromWire(s string) (types.OrderStatus, error) {
	switch s {
	case "New":
		return types.OrderStatusNew, nil
	case "PartiallyFilled":
		return types.OrderStatusPartial, nil
	case "Filled":
		return types.OrderStatusFilled, nil
	case "Canceled":
		return types.OrderStatusCancelled, nil
	default:
		return 0, fmt.Errorf("%w: ordStatus=%q", types.ErrUnknownVenueStatus, s)
	}
}

func orderTypeFromWire(s string) (types.OrderType, error) {
	switch s {
	case "Limit":
		return types.OrderTypeLimit, nil
	case "Market":
		return types.OrderTypeMarket, nil
	case "Stop":
		return types.OrderTypeStop, nil
	case "StopLimit":
		return types.OrderTypeStopLimit, nil
	default:
		return 0, fmt.Errorf("%w: ordType=%q", types.ErrUnknownVenueStatus, s)
	}
}

func sideFromWire(s string) types.Side {
	if s == "Buy" {
		return types.SideLong
	}
	return types.SideShort
}

func sideToWire(s types.Side) string {
	if s == types.SideLong {
		return "Buy"
	}
	return "Sell"
}

func feeTypeFromWire(lastLiquidityInd string) types.FeeType {
	if lastLiquidityInd == "RemovedLiquidity" {
		return types.FeeTypeTaker
	}
	return types.FeeTypeMaker
}

// metatypeFromText derives an order's metatype from the venue text annotation.
// A multi-line annotation carries the metatype on its second line; a bare
// annotation must exactly match a known label; anything else is no metatype,
// never an error.
func metatypeFromText(text string) types.Metatype {
	if strings.Contains(text, "\n") {
		lines := strings.Split(text, "\n")
		m, _ := types.ParseMetatype(lines[1])
		return m
	}
	m, _ := types.ParseMetatype(text)
	return m
}

// roundIncrement rounds v to the nearest multiple of inc.
func roundIncrement(v, inc decimal.Decimal) decimal.Decimal {
	if inc.IsZero() {
		return v
	}
	return v.Div(inc).Round(0).Mul(inc)
}

// formatOrder converts a canonical intent into the venue's order payload,
// applying the per-type time-in-force rules: market and stop orders are
// immediate-or-cancel with no resting price, and a stop's limit price is
// repurposed as the stop trigger.
func formatOrder(o types.OrderIntent, inc decimal.Decimal) (wireNewOrder, error) {
	price := roundIncrement(o.Price, inc)
	qty := roundIncrement(o.Size, inc)

	w := wireNewOrder{
		Symbol:   o.Symbol,
		Side:     sideToWire(o.Direction),
		OrderQty: qty,
		ClOrdID:  o.OrderID,
		Text:     o.Metatype.String(),
	}

	switch o.OrderType {
	case types.OrderTypeLimit:
		w.OrdType = "Limit"
		w.TimeInForce = "GoodTillCancel"
		w.Price = &price
	case types.OrderTypeMarket:
		w.OrdType = "Market"
		w.TimeInForce = "ImmediateOrCancel"
	case types.OrderTypeStopLimit:
		w.OrdType = "StopLimit"
		w.TimeInForce = "GoodTillCancel"
		w.Price = &price
		if !o.VoidPrice.IsZero() {
			stop := roundIncrement(o.VoidPrice, inc)
			w.StopPx = &stop
		}
	case types.OrderTypeStop:
		w.OrdType = "Stop"
		w.TimeInForce = "ImmediateOrCancel"
		w.StopPx = &price
	default:
		return wireNewOrder{}, fmt.Errorf("%w: order type %v", types.ErrUnknownVenueStatus, o.OrderType)
	}

	return w, nil
}

// confirmationFromWire normalizes an accepted order payload.
func confirmationFromWire(w wireOrder) (venue.Confirmation, error) {
	status, err := statusFromWire(w.OrdStatus)
	if err != nil {
		return venue.Confirmation{}, err
	}

	c := venue.Confirmation{
		OrderID:   w.ClOrdID,
		VenueID:   w.OrderID,
		Timestamp: w.Timestamp,
		Currency:  w.Currency,
		Status:    status,
	}
	if w.Price != nil {
		c.Price = *w.Price
	}
	if w.StopPx != nil {
		c.StopPrice = *w.StopPx
	}
	if w.AvgPx != nil {
		c.AvgFillPrice = *w.AvgPx
	}
	return c, nil
}
