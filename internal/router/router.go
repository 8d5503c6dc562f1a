// Package router converts strategy signals into venue orders and applies the
// platform's response-classification policy.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// Router submits orders to a single venue. Client order ids are assigned
// before submission and never reused; a duplicate submission for an id
// already seen is rejected locally.
type Router struct {
	venue  venue.Venue
	logger *slog.Logger

	mu        sync.Mutex
	submitted map[string]struct{}
}

// New creates a router for one venue.
func New(v venue.Venue, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		venue:     v,
		logger:    logger,
		submitted: make(map[string]struct{}),
	}
}

// BuildIntents expands a signal into its order intents: the entry, plus a
// protective stop and a final take-profit when the signal carries those
// prices. Exit intents are reduce-only and sided against the entry.
func (r *Router) BuildIntents(sig types.Signal) []types.OrderIntent {
	entry := types.OrderIntent{
		OrderID:   uuid.NewString(),
		TradeID:   sig.ID,
		Venue:     sig.Venue,
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Size:      sig.Size,
		OrderType: sig.OrderType,
		Price:     sig.EntryPrice,
		Metatype:  types.MetatypeEntry,
		Trail:     sig.Trail,
	}
	intents := []types.OrderIntent{entry}

	if !sig.StopPrice.IsZero() {
		intents = append(intents, types.OrderIntent{
			OrderID:    uuid.NewString(),
			TradeID:    sig.ID,
			Venue:      sig.Venue,
			Symbol:     sig.Symbol,
			Direction:  sig.Direction.Opposite(),
			Size:       sig.Size,
			OrderType:  types.OrderTypeStop,
			Price:      sig.StopPrice,
			Metatype:   types.MetatypeStop,
			ReduceOnly: true,
			Trail:      sig.Trail,
		})
	}

	if !sig.TargetPrice.IsZero() {
		intents = append(intents, types.OrderIntent{
			OrderID:    uuid.NewString(),
			TradeID:    sig.ID,
			Venue:      sig.Venue,
			Symbol:     sig.Symbol,
			Direction:  sig.Direction.Opposite(),
			Size:       sig.Size,
			OrderType:  types.OrderTypeLimit,
			Price:      sig.TargetPrice,
			Metatype:   types.MetatypeFinalTakeProfit,
			ReduceOnly: true,
		})
	}

	for i := range intents {
		intents[i].BatchSize = len(intents)
	}
	return intents
}

// Submit places the given intents on the venue. Market orders go out one
// request each; everything else goes in a single batch. The returned records
// contain only accepted orders, matched to intents solely by client order id.
//
// A venue rejection (status 401-404) aborts immediately. An overloaded venue
// (residual 503) drops the affected orders with a warning; they are expected
// to be regenerated from strategy state on a later cycle.
func (r *Router) Submit(ctx context.Context, intents []types.OrderIntent) ([]types.OrderRecord, error) {
	if len(intents) == 0 {
		return nil, nil
	}
	if err := r.markSubmitted(intents); err != nil {
		return nil, err
	}

	var market, rest []types.OrderIntent
	for _, intent := range intents {
		if intent.OrderType == types.OrderTypeMarket {
			market = append(market, intent)
		} else {
			rest = append(rest, intent)
		}
	}

	byID := make(map[string]types.OrderIntent, len(intents))
	for _, intent := range intents {
		byID[intent.OrderID] = intent
	}

	var records []types.OrderRecord

	for _, intent := range market {
		resp, err := r.venue.PlaceOrder(ctx, intent)
		if err != nil {
			return records, err
		}
		recs, err := r.classify(resp, byID, 1)
		if err != nil {
			return records, err
		}
		records = append(records, recs...)
	}

	if len(rest) > 0 {
		resp, err := r.venue.PlaceBulkOrders(ctx, rest)
		if err != nil {
			return records, err
		}
		recs, err := r.classify(resp, byID, len(rest))
		if err != nil {
			return records, err
		}
		records = append(records, recs...)
	}

	return records, nil
}

func (r *Router) markSubmitted(intents []types.OrderIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, intent := range intents {
		if _, seen := r.submitted[intent.OrderID]; seen {
			return fmt.Errorf("%w: order_id %q", types.ErrDuplicateOrder, intent.OrderID)
		}
	}
	for _, intent := range intents {
		r.submitted[intent.OrderID] = struct{}{}
	}
	return nil
}

// classify applies the response policy to one venue reply. A nil response is
// possible when nothing was sent and is skipped, never dereferenced.
func (r *Router) classify(resp *venue.Response, byID map[string]types.OrderIntent, dropped int) ([]types.OrderRecord, error) {
	if resp == nil {
		return nil, nil
	}

	switch {
	case resp.OK():
		return r.recordsFromConfirmations(resp.Confirmations, byID), nil

	case resp.StatusCode >= 401 && resp.StatusCode <= 404:
		return nil, fmt.Errorf("%w: status %d: %s",
			types.ErrVenueRejected, resp.StatusCode, resp.ErrorMessage)

	case resp.StatusCode == 503:
		r.logger.Warn("venue overloaded, orders dropped",
			"venue", r.venue.Name(), "dropped", dropped, "message", resp.ErrorMessage)
		return nil, nil

	default:
		r.logger.Warn("unexpected venue response, orders dropped",
			"venue", r.venue.Name(), "status", resp.StatusCode,
			"dropped", dropped, "message", resp.ErrorMessage)
		return nil, nil
	}
}

func (r *Router) recordsFromConfirmations(confs []venue.Confirmation, byID map[string]types.OrderIntent) []types.OrderRecord {
	var records []types.OrderRecord
	for _, conf := range confs {
		intent, ok := byID[conf.OrderID]
		if !ok {
			r.logger.Warn("confirmation for unknown order_id ignored",
				"venue", r.venue.Name(), "order_id", conf.OrderID, "venue_id", conf.VenueID)
			continue
		}

		rec := types.OrderRecord{
			OrderIntent:  intent,
			VenueID:      conf.VenueID,
			Timestamp:    conf.Timestamp,
			AvgFillPrice: conf.AvgFillPrice,
			Currency:     conf.Currency,
			Status:       conf.Status,
		}
		// A stop's working price is its trigger when the venue echoes one.
		if !conf.StopPrice.IsZero() {
			rec.Price = conf.StopPrice
		} else if !conf.Price.IsZero() {
			rec.Price = conf.Price
		}
		records = append(records, rec)
	}
	return records
}

// Cancel requests cancellation of the given venue order ids and returns one
// terminal confirmation per order, keyed by venue id. An order the venue
// reports already filled or already cancelled is a successful confirmation at
// that terminal status. Unrecognized venue vocabulary aborts with the payload
// attached.
func (r *Router) Cancel(ctx context.Context, venueIDs []string) (map[string]types.CancelConfirmation, error) {
	confirmed := make(map[string]types.CancelConfirmation)
	if len(venueIDs) == 0 {
		return confirmed, nil
	}

	replies, err := r.venue.CancelOrders(ctx, venueIDs)
	if err != nil {
		return confirmed, err
	}

	for _, reply := range replies {
		conf := types.CancelConfirmation{
			VenueID:   reply.VenueID,
			OrderID:   reply.OrderID,
			OrderType: reply.OrderType,
			Price:     reply.Price,
		}

		switch reply.Outcome {
		case venue.CancelOutcomeCancelled, venue.CancelOutcomeAlreadyCancelled:
			conf.Status = types.OrderStatusCancelled
		case venue.CancelOutcomeAlreadyFilled:
			conf.Status = types.OrderStatusFilled
			r.logger.Info("cancel raced with fill",
				"venue", r.venue.Name(), "venue_id", reply.VenueID, "order_id", reply.OrderID)
		default:
			return confirmed, fmt.Errorf("%w: venue_id %q: %s",
				types.ErrUnhandledCancelCase, reply.VenueID, reply.Raw)
		}

		confirmed[reply.VenueID] = conf
	}
	return confirmed, nil
}
