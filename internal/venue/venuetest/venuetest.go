// Package venuetest provides a scriptable in-memory venue for tests and
// paper trading. Responses can be forced per call to exercise rejection,
// overload, and cancel-race paths without a live venue.
package venuetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// Venue is an in-memory venue.Venue. The zero value is not usable; create
// one with New.
type Venue struct {
	name string

	mu         sync.RWMutex
	orders     map[string]*types.OrderRecord // keyed by venue id
	byClientID map[string]string             // client order id -> venue id
	positions  map[string]*types.Position
	executions []types.Execution
	bars       map[string][]types.Bar // keyed by timeframe+symbol
	increments map[string]decimal.Decimal

	// Scripted behavior, consumed in order.
	nextStatus  []int
	nextErrs    []error
	nextCancels map[string]venue.CancelReply

	ticksMu sync.Mutex
	ticks   chan types.Tick

	now func() time.Time

	// Submitted records every intent received, for assertions.
	Submitted []types.OrderIntent
}

// New creates an empty scriptable venue.
func New(name string) *Venue {
	if name == "" {
		name = "TestVenue"
	}
	return &Venue{
		name:        name,
		orders:      make(map[string]*types.OrderRecord),
		byClientID:  make(map[string]string),
		positions:   make(map[string]*types.Position),
		bars:        make(map[string][]types.Bar),
		increments:  make(map[string]decimal.Decimal),
		nextCancels: make(map[string]venue.CancelReply),
		now:         time.Now,
	}
}

// Name returns the configured venue name.
func (v *Venue) Name() string { return v.name }

// MinIncrement returns the scripted increment for a symbol, zero if unset.
func (v *Venue) MinIncrement(symbol string) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.increments[symbol]
}

// SetMinIncrement scripts a symbol's minimum price increment.
func (v *Venue) SetMinIncrement(symbol string, inc decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.increments[symbol] = inc
}

// FailNext scripts HTTP-style status codes for upcoming submissions. Each
// submission consumes one; once drained, submissions succeed again.
func (v *Venue) FailNext(statusCodes ...int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextStatus = append(v.nextStatus, statusCodes...)
}

// FailNextErr scripts transport-level errors for upcoming submissions. Each
// submission consumes one entry; a nil entry lets that submission succeed.
func (v *Venue) FailNextErr(errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextErrs = append(v.nextErrs, errs...)
}

// ScriptCancel fixes the reply for a future cancel of the given venue id.
func (v *Venue) ScriptCancel(venueID string, reply venue.CancelReply) {
	v.mu.Lock()
	defer v.mu.Unlock()
	reply.VenueID = venueID
	v.nextCancels[venueID] = reply
}

// SetBars scripts the bar history served for a timeframe and symbol.
func (v *Venue) SetBars(timeframe, symbol string, bars []types.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bars[timeframe+"/"+symbol] = bars
}

// SetPosition scripts the held position for a symbol.
func (v *Venue) SetPosition(pos types.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[pos.Symbol] = &pos
}

func (v *Venue) popErr() error {
	if len(v.nextErrs) == 0 {
		return nil
	}
	err := v.nextErrs[0]
	v.nextErrs = v.nextErrs[1:]
	return err
}

func (v *Venue) popStatus() (int, bool) {
	if len(v.nextStatus) == 0 {
		return 0, false
	}
	code := v.nextStatus[0]
	v.nextStatus = v.nextStatus[1:]
	return code, true
}

func (v *Venue) accept(intent types.OrderIntent) venue.Confirmation {
	rec := &types.OrderRecord{
		OrderIntent: intent,
		VenueID:     uuid.NewString(),
		Timestamp:   v.now(),
		Status:      types.OrderStatusNew,
	}
	v.orders[rec.VenueID] = rec
	v.byClientID[intent.OrderID] = rec.VenueID

	return venue.Confirmation{
		OrderID:   intent.OrderID,
		VenueID:   rec.VenueID,
		Timestamp: rec.Timestamp,
		Price:     intent.Price,
		StopPrice: intent.VoidPrice,
		Status:    rec.Status,
	}
}

// PlaceOrder accepts one order, or consumes a scripted failure.
func (v *Venue) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*venue.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.Submitted = append(v.Submitted, intent)

	if err := v.popErr(); err != nil {
		return nil, err
	}
	if code, ok := v.popStatus(); ok {
		return &venue.Response{StatusCode: code, ErrorMessage: scriptedMessage(code)}, nil
	}

	conf := v.accept(intent)
	return &venue.Response{StatusCode: 200, Confirmations: []venue.Confirmation{conf}}, nil
}

// PlaceBulkOrders accepts a batch atomically, or consumes one scripted
// failure for the whole batch.
func (v *Venue) PlaceBulkOrders(ctx context.Context, intents []types.OrderIntent) (*venue.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.Submitted = append(v.Submitted, intents...)

	if err := v.popErr(); err != nil {
		return nil, err
	}
	if code, ok := v.popStatus(); ok {
		return &venue.Response{StatusCode: code, ErrorMessage: scriptedMessage(code)}, nil
	}

	resp := &venue.Response{StatusCode: 200}
	for _, intent := range intents {
		resp.Confirmations = append(resp.Confirmations, v.accept(intent))
	}
	return resp, nil
}

func scriptedMessage(code int) string {
	if code == 503 {
		return "The system is currently overloaded."
	}
	return fmt.Sprintf("scripted failure %d", code)
}

// CancelOrders cancels known resting orders; scripted replies take
// precedence. Unknown ids yield an unhandled reply.
func (v *Venue) CancelOrders(ctx context.Context, venueIDs []string) ([]venue.CancelReply, error) {
	if len(venueIDs) == 0 {
		return nil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	replies := make([]venue.CancelReply, 0, len(venueIDs))
	for _, id := range venueIDs {
		if scripted, ok := v.nextCancels[id]; ok {
			delete(v.nextCancels, id)
			replies = append(replies, scripted)
			continue
		}

		rec, ok := v.orders[id]
		if !ok {
			replies = append(replies, venue.CancelReply{
				VenueID: id,
				Outcome: venue.CancelOutcomeUnhandled,
				Raw:     "unknown order",
			})
			continue
		}

		reply := venue.CancelReply{
			VenueID:   id,
			OrderID:   rec.OrderID,
			OrderType: rec.OrderType,
			Price:     rec.Price,
		}
		switch rec.Status {
		case types.OrderStatusFilled:
			reply.Outcome = venue.CancelOutcomeAlreadyFilled
		case types.OrderStatusCancelled:
			reply.Outcome = venue.CancelOutcomeAlreadyCancelled
		default:
			rec.Status = types.OrderStatusCancelled
			reply.Outcome = venue.CancelOutcomeCancelled
		}
		replies = append(replies, reply)
	}
	return replies, nil
}

// Fill force-fills a resting order by client order id, recording an
// execution at the given price.
func (v *Venue) Fill(orderID string, price decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	venueID, ok := v.byClientID[orderID]
	if !ok {
		return fmt.Errorf("fill: unknown order %q", orderID)
	}
	rec := v.orders[venueID]
	if rec.Status.IsTerminal() {
		return fmt.Errorf("fill: %w: %q", types.ErrTerminalOrder, orderID)
	}

	rec.Status = types.OrderStatusFilled
	rec.AvgFillPrice = price

	v.executions = append(v.executions, types.Execution{
		ExecID:       uuid.NewString(),
		OrderID:      rec.OrderID,
		VenueID:      rec.VenueID,
		Symbol:       rec.Symbol,
		Timestamp:    v.now(),
		Direction:    rec.Direction,
		AvgExecPrice: price,
		Size:         rec.Size,
		OrderType:    rec.OrderType,
		FeeType:      types.FeeTypeTaker,
		Status:       rec.Status,
	})
	return nil
}

// SetOrderStatus force-sets venue-side order state by client order id, for
// divergence scenarios.
func (v *Venue) SetOrderStatus(orderID string, status types.OrderStatus) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	venueID, ok := v.byClientID[orderID]
	if !ok {
		return fmt.Errorf("set status: unknown order %q", orderID)
	}
	v.orders[venueID].Status = status
	return nil
}

// AdoptOrder injects an order the system never placed, as a venue-side
// surprise for reconciliation tests.
func (v *Venue) AdoptOrder(rec types.OrderRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if rec.VenueID == "" {
		rec.VenueID = uuid.NewString()
	}
	v.orders[rec.VenueID] = &rec
	if rec.OrderID != "" {
		v.byClientID[rec.OrderID] = rec.VenueID
	}
}

// GetPosition returns the scripted position for a symbol, nil when none.
func (v *Venue) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	pos, ok := v.positions[symbol]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

// GetOrders returns current venue-side order state.
func (v *Venue) GetOrders(ctx context.Context, q venue.OrderQuery) ([]types.OrderRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var records []types.OrderRecord
	for _, rec := range v.orders {
		if q.Symbol != "" && rec.Symbol != q.Symbol {
			continue
		}
		if !q.Start.IsZero() && rec.Timestamp.Before(q.Start) {
			continue
		}
		records = append(records, *rec)
		if q.Count > 0 && len(records) == q.Count {
			break
		}
	}
	return records, nil
}

// GetExecutions returns recorded fills.
func (v *Venue) GetExecutions(ctx context.Context, q venue.ExecutionQuery) ([]types.Execution, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []types.Execution
	for _, e := range v.executions {
		if q.Symbol != "" && e.Symbol != q.Symbol {
			continue
		}
		if !q.Start.IsZero() && e.Timestamp.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && e.Timestamp.After(q.End) {
			continue
		}
		out = append(out, e)
		if q.Count > 0 && len(out) == q.Count {
			break
		}
	}
	return out, nil
}

// GetBars serves the scripted history, most recent count bars.
func (v *Venue) GetBars(ctx context.Context, timeframe, symbol string, count int) ([]types.Bar, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	bars := v.bars[timeframe+"/"+symbol]
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// SubscribeTrades returns the tick channel fed by PushTick.
func (v *Venue) SubscribeTrades(ctx context.Context, symbols []string) (<-chan types.Tick, error) {
	v.ticksMu.Lock()
	defer v.ticksMu.Unlock()

	if v.ticks == nil {
		v.ticks = make(chan types.Tick, 1024)
	}
	return v.ticks, nil
}

// PushTick injects a tick into the subscribed stream.
func (v *Venue) PushTick(t types.Tick) {
	v.ticksMu.Lock()
	defer v.ticksMu.Unlock()

	if v.ticks != nil {
		v.ticks <- t
	}
}

// Close closes the tick stream.
func (v *Venue) Close() error {
	v.ticksMu.Lock()
	defer v.ticksMu.Unlock()

	if v.ticks != nil {
		close(v.ticks)
		v.ticks = nil
	}
	return nil
}

var _ venue.Venue = (*Venue)(nil)
