// Package reconcile merges locally tracked order state with venue-reported
// state under eventual consistency. Local records only ever move forward
// through the order lifecycle; the venue is authoritative for everything a
// monotonic transition allows.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// Store is the audit sink for confirmed state. Implementations must tolerate
// repeated saves of the same order id.
type Store interface {
	SaveOrder(ctx context.Context, rec types.OrderRecord) error
	SaveExecution(ctx context.Context, exec types.Execution) error
}

// DefaultGraceCycles is how many consecutive sync cycles a tracked
// non-terminal order may be absent from the venue snapshot before it is
// flagged as divergence.
const DefaultGraceCycles = 2

// Engine reconciles one venue's orders and positions.
type Engine struct {
	venue       venue.Venue
	store       Store
	logger      *slog.Logger
	graceCycles int

	mu        sync.RWMutex
	orders    map[string]*types.OrderRecord // keyed by client order id
	missing   map[string]int                // consecutive cycles absent from snapshot
	position  map[string]types.Position
	seenExecs map[string]struct{} // venue exec ids already persisted
}

// New creates a reconciliation engine for one venue. store may be nil when
// auditing is disabled.
func New(v venue.Venue, store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		venue:       v,
		store:       store,
		logger:      logger,
		graceCycles: DefaultGraceCycles,
		orders:      make(map[string]*types.OrderRecord),
		missing:     make(map[string]int),
		position:    make(map[string]types.Position),
		seenExecs:   make(map[string]struct{}),
	}
}

// SetGraceCycles overrides the divergence grace window.
func (e *Engine) SetGraceCycles(n int) {
	if n > 0 {
		e.graceCycles = n
	}
}

// TrackSubmitted registers router output for reconciliation. Records already
// tracked are left untouched.
func (e *Engine) TrackSubmitted(records []types.OrderRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range records {
		rec := records[i]
		if _, exists := e.orders[rec.OrderID]; exists {
			e.logger.Warn("order already tracked", "order_id", rec.OrderID)
			continue
		}
		e.orders[rec.OrderID] = &rec
	}
}

// Order returns a copy of the tracked record for a client order id.
func (e *Engine) Order(orderID string) (types.OrderRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rec, ok := e.orders[orderID]
	if !ok {
		return types.OrderRecord{}, false
	}
	return *rec, true
}

// Orders returns a copy of every tracked record.
func (e *Engine) Orders() []types.OrderRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]types.OrderRecord, 0, len(e.orders))
	for _, rec := range e.orders {
		out = append(out, *rec)
	}
	return out
}

// Position returns the last reconciled position for a symbol.
func (e *Engine) Position(symbol string) (types.Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos, ok := e.position[symbol]
	return pos, ok
}

// ApplyCancellations folds terminal cancel confirmations into tracked state.
func (e *Engine) ApplyCancellations(ctx context.Context, confirmed map[string]types.CancelConfirmation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, conf := range confirmed {
		rec, ok := e.orders[conf.OrderID]
		if !ok {
			continue
		}
		e.applyStatus(ctx, rec, conf.Status)
	}
}

// Sync queries the venue for one symbol and merges orders, executions and
// position into local state.
func (e *Engine) Sync(ctx context.Context, symbol string) error {
	venueOrders, err := e.venue.GetOrders(ctx, venue.OrderQuery{Symbol: symbol})
	if err != nil {
		return fmt.Errorf("sync orders: %w", err)
	}
	execs, err := e.venue.GetExecutions(ctx, venue.ExecutionQuery{Symbol: symbol})
	if err != nil {
		return fmt.Errorf("sync executions: %w", err)
	}
	pos, err := e.venue.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("sync position: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]struct{}, len(venueOrders))
	for _, vo := range venueOrders {
		seen[vo.OrderID] = struct{}{}

		rec, tracked := e.orders[vo.OrderID]
		if !tracked {
			// The venue knows an order we never placed this session, e.g.
			// one surviving a restart. Adopt it rather than fight it.
			adopted := vo
			e.orders[vo.OrderID] = &adopted
			e.logger.Warn("adopted venue order unknown locally",
				"venue", e.venue.Name(), "order_id", vo.OrderID, "venue_id", vo.VenueID,
				"status", vo.Status.String())
			e.persistOrder(ctx, adopted)
			continue
		}

		delete(e.missing, vo.OrderID)

		if rec.VenueID == "" {
			rec.VenueID = vo.VenueID
		}
		if !vo.AvgFillPrice.IsZero() {
			rec.AvgFillPrice = vo.AvgFillPrice
		}
		e.applyStatus(ctx, rec, vo.Status)
	}

	// Tracked non-terminal orders absent from the snapshot: allow a grace
	// window for venue-side lag, then flag divergence.
	for id, rec := range e.orders {
		if rec.Symbol != symbol && symbol != "" {
			continue
		}
		if rec.Status.IsTerminal() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		e.missing[id]++
		if e.missing[id] > e.graceCycles {
			e.logger.Error("tracked order missing from venue snapshot",
				"venue", e.venue.Name(), "order_id", id,
				"cycles", e.missing[id], "status", rec.Status.String())
		}
	}

	// The venue reports the full execution history for the query window on
	// every cycle; each fill is persisted once, keyed by its exec id.
	for _, exec := range execs {
		if exec.ExecID != "" {
			if _, done := e.seenExecs[exec.ExecID]; done {
				continue
			}
			e.seenExecs[exec.ExecID] = struct{}{}
		}
		e.persistExecution(ctx, exec)
	}

	if pos != nil {
		e.position[symbol] = *pos
	} else {
		delete(e.position, symbol)
	}
	return nil
}

// Diverged returns the ids of tracked orders absent from venue snapshots past
// the grace window.
func (e *Engine) Diverged() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []string
	for id, n := range e.missing {
		if n > e.graceCycles {
			out = append(out, id)
		}
	}
	return out
}

// applyStatus moves a record forward when the transition is monotonic.
// Terminal records never mutate; late or duplicate confirmations are logged
// and ignored. Caller holds the write lock.
func (e *Engine) applyStatus(ctx context.Context, rec *types.OrderRecord, next types.OrderStatus) {
	if rec.Status == next {
		return
	}
	if !rec.Status.CanTransition(next) {
		e.logger.Info("ignoring non-monotonic status report",
			"order_id", rec.OrderID, "current", rec.Status.String(), "reported", next.String())
		return
	}
	rec.Status = next
	e.persistOrder(ctx, *rec)
}

// ResolveAmbiguous settles an order whose submission outcome was never
// observed, e.g. after a request timeout. If the venue knows the order its
// state is adopted and resubmission would be a duplicate; if the venue does
// not, the intent is safe to resubmit. Resubmission itself is left to the
// caller.
func (e *Engine) ResolveAmbiguous(ctx context.Context, orderID string) (safeToResubmit bool, err error) {
	e.mu.RLock()
	rec, tracked := e.orders[orderID]
	var symbol string
	if tracked {
		symbol = rec.Symbol
	}
	e.mu.RUnlock()

	venueOrders, err := e.venue.GetOrders(ctx, venue.OrderQuery{Symbol: symbol})
	if err != nil {
		return false, fmt.Errorf("%w: resolve %q: %v", types.ErrAmbiguousOutcome, orderID, err)
	}

	for _, vo := range venueOrders {
		if vo.OrderID != orderID {
			continue
		}

		e.mu.Lock()
		if rec, ok := e.orders[orderID]; ok {
			if rec.VenueID == "" {
				rec.VenueID = vo.VenueID
			}
			e.applyStatus(ctx, rec, vo.Status)
		} else {
			adopted := vo
			e.orders[orderID] = &adopted
			e.persistOrder(ctx, adopted)
		}
		e.mu.Unlock()

		e.logger.Info("ambiguous order found at venue",
			"order_id", orderID, "venue_id", vo.VenueID, "status", vo.Status.String())
		return false, nil
	}

	e.logger.Info("ambiguous order unknown at venue, safe to resubmit", "order_id", orderID)
	return true, nil
}

func (e *Engine) persistOrder(ctx context.Context, rec types.OrderRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, rec); err != nil {
		e.logger.Error("persist order failed", "order_id", rec.OrderID, "err", err)
	}
}

func (e *Engine) persistExecution(ctx context.Context, exec types.Execution) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		e.logger.Error("persist execution failed", "order_id", exec.OrderID, "err", err)
	}
}
