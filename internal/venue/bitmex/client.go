// Package bitmex implements the venue adapter for BitMEX.
package bitmex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// Venue paths.
const (
	ordersPath     = "/order"
	bulkOrdersPath = "/order/bulk"
	positionsPath  = "/position"
	barsPath       = "/trade/bucketed"
	ticksPath      = "/trade"
	tradeHistPath  = "/execution/tradeHistory"
)

const venueName = "BitMEX"

// Known cancel-race error strings reported by the venue.
const (
	cancelRaceFilled    = "Unable to cancel order due to existing state: Filled"
	cancelRaceCancelled = "Unable to cancel order due to existing state: Canceled"
)

// Client is the BitMEX venue adapter. One Client owns one authenticated HTTP
// session; header generation is serialized per request while requests
// themselves may pipeline.
type Client struct {
	cfg    Config
	logger *slog.Logger

	signer     *Signer
	signMu     sync.Mutex
	httpClient *http.Client
	limiter    *rate.Limiter

	feedMu sync.Mutex
	feed   *tradeFeed
}

// NewClient creates a BitMEX adapter from config.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = DefaultConfig().MaxRequestsPerSecond
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		signer:     NewSigner(cfg.APIKey, cfg.APISecret, cfg.ExpiryWindow),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), cfg.MaxRequestsPerSecond),
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return venueName }

// MinIncrement returns the minimum price increment for a symbol.
func (c *Client) MinIncrement(symbol string) decimal.Decimal {
	return c.cfg.MinIncrements[symbol]
}

// Close stops the trade feed and wipes key material.
func (c *Client) Close() error {
	c.feedMu.Lock()
	if c.feed != nil {
		c.feed.stop()
		c.feed = nil
	}
	c.feedMu.Unlock()

	c.signer.Wipe()
	return nil
}

// retryable reports whether a status code is a transient transport failure.
// These are retried with bounded exponential backoff, invisibly to callers;
// an exhausted 503 is still returned so the caller can classify overload.
func retryable(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// do sends one signed request. Gateway errors (502/503/504) are retried with
// backoff for every method; request-level failures such as timeouts are only
// retried for GET, since a mutating request may already have landed at the
// venue. Application-level errors are never retried here.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (int, []byte, error) {
	u, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return 0, nil, fmt.Errorf("parse url: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	backoff := c.cfg.RetryBackoff
	attempts := c.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastStatus int
	var lastBody []byte
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}

		c.signMu.Lock()
		c.signer.Apply(req, string(body))
		c.signMu.Unlock()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// A mutating request that errored mid-flight may nonetheless have
			// reached the venue. Retrying could double-submit, so the error
			// goes straight back to the caller for reconciliation.
			if method != http.MethodGet {
				return 0, nil, fmt.Errorf("venue request: %w", err)
			}
			lastErr = err
			c.logger.Warn("venue request failed",
				"venue", venueName, "path", path, "attempt", attempt+1, "err", err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			if method != http.MethodGet {
				return 0, nil, fmt.Errorf("venue request: %w", readErr)
			}
			lastErr = readErr
			continue
		}

		lastStatus, lastBody, lastErr = resp.StatusCode, respBody, nil
		if !retryable(resp.StatusCode) {
			return resp.StatusCode, respBody, nil
		}

		c.logger.Warn("venue transport error, retrying",
			"venue", venueName, "path", path, "status", resp.StatusCode, "attempt", attempt+1)
	}

	if lastErr != nil {
		return 0, nil, fmt.Errorf("venue request: %w", lastErr)
	}
	return lastStatus, lastBody, nil
}

// errorMessage extracts the venue error text from a failure body.
func errorMessage(body []byte) string {
	var we wireError
	if err := json.Unmarshal(body, &we); err != nil || we.Error.Message == "" {
		return string(body)
	}
	return we.Error.Message
}

// PlaceOrder submits a single order, one request per order.
func (c *Client) PlaceOrder(ctx context.Context, intent types.OrderIntent) (*venue.Response, error) {
	w, err := formatOrder(intent, c.MinIncrement(intent.Symbol))
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, http.MethodPost, ordersPath, nil, w)
	if err != nil {
		return nil, err
	}

	resp := &venue.Response{StatusCode: status}
	if status < 200 || status >= 300 {
		resp.ErrorMessage = errorMessage(body)
		return resp, nil
	}

	var wo wireOrder
	if err := json.Unmarshal(body, &wo); err != nil {
		return nil, fmt.Errorf("decode order confirmation: %w", err)
	}
	conf, err := confirmationFromWire(wo)
	if err != nil {
		return nil, err
	}
	resp.Confirmations = []venue.Confirmation{conf}
	return resp, nil
}

// PlaceBulkOrders submits non-market orders as a single batch request.
func (c *Client) PlaceBulkOrders(ctx context.Context, intents []types.OrderIntent) (*venue.Response, error) {
	formatted := make([]wireNewOrder, 0, len(intents))
	for _, intent := range intents {
		w, err := formatOrder(intent, c.MinIncrement(intent.Symbol))
		if err != nil {
			return nil, err
		}
		formatted = append(formatted, w)
	}

	payload := map[string][]wireNewOrder{"orders": formatted}
	status, body, err := c.do(ctx, http.MethodPost, bulkOrdersPath, nil, payload)
	if err != nil {
		return nil, err
	}

	resp := &venue.Response{StatusCode: status}
	if status < 200 || status >= 300 {
		resp.ErrorMessage = errorMessage(body)
		return resp, nil
	}

	var orders []wireOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		// Some venues answer a single object for a one-order batch.
		var single wireOrder
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("decode bulk confirmation: %w", err)
		}
		orders = []wireOrder{single}
	}

	for _, wo := range orders {
		conf, err := confirmationFromWire(wo)
		if err != nil {
			return nil, err
		}
		resp.Confirmations = append(resp.Confirmations, conf)
	}
	return resp, nil
}

// CancelOrders requests cancellation of the given venue order ids and
// normalizes each reply. Cancel-after-fill and cancel-after-cancel races are
// reported as terminal outcomes; unknown vocabulary is flagged unhandled with
// the offending payload preserved.
func (c *Client) CancelOrders(ctx context.Context, venueIDs []string) ([]venue.CancelReply, error) {
	if len(venueIDs) == 0 {
		return nil, nil
	}

	payload := map[string][]string{"orderID": venueIDs}
	status, body, err := c.do(ctx, http.MethodDelete, ordersPath, nil, payload)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: cancel status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
	}

	var orders []wireOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		var single wireOrder
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("decode cancel response: %w", err)
		}
		orders = []wireOrder{single}
	}

	replies := make([]venue.CancelReply, 0, len(orders))
	for _, wo := range orders {
		replies = append(replies, cancelReplyFromWire(wo))
	}
	return replies, nil
}

func cancelReplyFromWire(wo wireOrder) venue.CancelReply {
	reply := venue.CancelReply{
		VenueID: wo.OrderID,
		OrderID: wo.ClOrdID,
	}

	ordType, err := orderTypeFromWire(wo.OrdType)
	if err != nil {
		reply.Outcome = venue.CancelOutcomeUnhandled
		reply.Raw = fmt.Sprintf("ordType=%q", wo.OrdType)
		return reply
	}
	reply.OrderType = ordType

	// Price is the stop trigger for stop orders, the limit price otherwise.
	if ordType == types.OrderTypeStop {
		if wo.StopPx != nil {
			reply.Price = *wo.StopPx
		}
	} else if wo.Price != nil {
		reply.Price = *wo.Price
	}

	if wo.Error != nil {
		switch *wo.Error {
		case cancelRaceFilled:
			reply.Outcome = venue.CancelOutcomeAlreadyFilled
		case cancelRaceCancelled:
			reply.Outcome = venue.CancelOutcomeAlreadyCancelled
		default:
			reply.Outcome = venue.CancelOutcomeUnhandled
			reply.Raw = *wo.Error
		}
		return reply
	}

	if wo.OrdStatus == "Canceled" {
		reply.Outcome = venue.CancelOutcomeCancelled
		return reply
	}

	reply.Outcome = venue.CancelOutcomeUnhandled
	reply.Raw = fmt.Sprintf("ordStatus=%q", wo.OrdStatus)
	return reply
}

// GetPosition returns the venue position for a symbol, nil when none is held.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*types.Position, error) {
	status, body, err := c.do(ctx, http.MethodGet, positionsPath, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: position query status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
	}

	var positions []wirePosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}

		direction := types.SideLong
		if p.CurrentQty.IsNegative() {
			direction = types.SideShort
		}
		posStatus := types.PositionClosed
		if p.IsOpen {
			posStatus = types.PositionOpen
		}

		return &types.Position{
			Symbol:           symbol,
			Size:             p.CurrentQty,
			AvgEntryPrice:    p.AvgEntryPrice,
			Direction:        direction,
			Currency:         p.QuoteCurrency,
			OpeningTimestamp: p.OpeningTimestamp,
			OpeningSize:      p.OpeningQty,
			Status:           posStatus,
		}, nil
	}
	return nil, nil
}

// GetOrders returns venue-reported order state in canonical form. Orders
// without a client order id were not placed by this system and are skipped.
func (c *Client) GetOrders(ctx context.Context, q venue.OrderQuery) ([]types.OrderRecord, error) {
	query := url.Values{}
	if q.Symbol != "" {
		query.Set("symbol", q.Symbol)
	}
	if q.Count > 0 {
		query.Set("count", strconv.Itoa(q.Count))
	}
	if !q.Start.IsZero() {
		query.Set("startTime", q.Start.UTC().Format(time.RFC3339))
	}
	query.Set("reverse", "true")

	status, body, err := c.do(ctx, http.MethodGet, ordersPath, query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: order query status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
	}

	var wireOrders []wireOrder
	if err := json.Unmarshal(body, &wireOrders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}

	records := make([]types.OrderRecord, 0, len(wireOrders))
	for _, wo := range wireOrders {
		if wo.ClOrdID == "" {
			continue
		}

		ordStatus, err := statusFromWire(wo.OrdStatus)
		if err != nil {
			return nil, err
		}
		ordType, err := orderTypeFromWire(wo.OrdType)
		if err != nil {
			return nil, err
		}

		rec := types.OrderRecord{
			OrderIntent: types.OrderIntent{
				OrderID:   wo.ClOrdID,
				Venue:     venueName,
				Symbol:    wo.Symbol,
				Direction: sideFromWire(wo.Side),
				OrderType: ordType,
				Metatype:  metatypeFromText(wo.Text),
			},
			VenueID:   wo.OrderID,
			Timestamp: wo.Timestamp,
			Currency:  wo.Currency,
			Status:    ordStatus,
		}
		if wo.OrderQty != nil {
			rec.Size = *wo.OrderQty
		}
		if wo.Price != nil {
			rec.Price = *wo.Price
		}
		if wo.StopPx != nil {
			rec.VoidPrice = *wo.StopPx
		}
		if wo.AvgPx != nil {
			rec.AvgFillPrice = *wo.AvgPx
		}
		records = append(records, rec)
	}
	return records, nil
}

// GetExecutions returns venue-reported fills in canonical form.
func (c *Client) GetExecutions(ctx context.Context, q venue.ExecutionQuery) ([]types.Execution, error) {
	query := url.Values{}
	if q.Symbol != "" {
		query.Set("symbol", q.Symbol)
	}
	if q.Count > 0 {
		query.Set("count", strconv.Itoa(q.Count))
	}
	if !q.Start.IsZero() {
		query.Set("startTime", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		query.Set("endTime", q.End.UTC().Format(time.RFC3339))
	}
	query.Set("reverse", "true")

	status, body, err := c.do(ctx, http.MethodGet, tradeHistPath, query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: execution query status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
	}

	var wireExecs []wireExecution
	if err := json.Unmarshal(body, &wireExecs); err != nil {
		return nil, fmt.Errorf("decode executions: %w", err)
	}

	executions := make([]types.Execution, 0, len(wireExecs))
	for _, we := range wireExecs {
		execStatus, err := statusFromWire(we.OrdStatus)
		if err != nil {
			return nil, err
		}
		ordType, err := orderTypeFromWire(we.OrdType)
		if err != nil {
			return nil, err
		}

		totalFee := decimal.Zero
		if !we.AvgPx.IsZero() {
			totalFee = we.ExecComm.Div(we.AvgPx)
		}

		executions = append(executions, types.Execution{
			ExecID:       we.ExecID,
			OrderID:      we.ClOrdID,
			VenueID:      we.OrderID,
			Symbol:       we.Symbol,
			Timestamp:    we.Timestamp,
			Direction:    sideFromWire(we.Side),
			AvgExecPrice: we.AvgPx,
			Size:         we.LastQty,
			OrderType:    ordType,
			FeeType:      feeTypeFromWire(we.LastLiquidityInd),
			FeeAmount:    we.Commission,
			TotalFee:     totalFee,
			Currency:     we.Currency,
			Status:       execStatus,
		})
	}
	return executions, nil
}

// binSize converts a canonical timeframe into the venue's bin size notation.
func binSize(timeframe string) (string, error) {
	switch {
	case len(timeframe) > 3 && timeframe[len(timeframe)-3:] == "Min":
		return timeframe[:len(timeframe)-3] + "m", nil
	case len(timeframe) > 1 && timeframe[len(timeframe)-1] == 'H':
		return timeframe[:len(timeframe)-1] + "h", nil
	case len(timeframe) > 1 && timeframe[len(timeframe)-1] == 'D':
		return timeframe[:len(timeframe)-1] + "d", nil
	default:
		return "", fmt.Errorf("%w: %q", types.ErrInvalidTimeframe, timeframe)
	}
}

// GetBars returns the most recent count completed bars in chronological
// order. The venue caps one request at MaxBarsPerRequest.
func (c *Client) GetBars(ctx context.Context, timeframe, symbol string, count int) ([]types.Bar, error) {
	bin, err := binSize(timeframe)
	if err != nil {
		return nil, err
	}
	if count > MaxBarsPerRequest {
		count = MaxBarsPerRequest
	}

	query := url.Values{}
	query.Set("binSize", bin)
	query.Set("partial", "false")
	query.Set("symbol", symbol)
	query.Set("count", strconv.Itoa(count))
	query.Set("reverse", "true")

	status, body, err := c.do(ctx, http.MethodGet, barsPath, query, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: bar query status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
	}

	var wireBars []wireBar
	if err := json.Unmarshal(body, &wireBars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}

	bars := make([]types.Bar, len(wireBars))
	for i, wb := range wireBars {
		// Newest-first from the venue; flip to chronological.
		bars[len(wireBars)-1-i] = types.Bar{
			Symbol:    wb.Symbol,
			Timestamp: wb.Timestamp,
			Open:      wb.Open,
			High:      wb.High,
			Low:       wb.Low,
			Close:     wb.Close,
			Volume:    wb.Volume,
		}
	}
	return bars, nil
}

// GetRecentTicks fetches the previous whole minute of ticks for a symbol,
// paging until the venue returns a short response. The median tick timestamp
// must fall inside the requested minute; a mismatch indicates a bad fetch
// window and aborts.
func (c *Client) GetRecentTicks(ctx context.Context, symbol string) ([]types.Tick, error) {
	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Minute)

	const pageSize = 1000
	var trades []wireTrade

	// Page with a result offset rather than a timestamp cursor: a burst of
	// ticks sharing one timestamp can span whole pages, and re-querying from
	// that timestamp would fetch the same page forever.
	for offset := 0; ; offset += pageSize {
		query := url.Values{}
		query.Set("symbol", symbol)
		query.Set("count", strconv.Itoa(pageSize))
		query.Set("reverse", "false")
		query.Set("startTime", start.Format(time.RFC3339))
		query.Set("start", strconv.Itoa(offset))

		status, body, err := c.do(ctx, http.MethodGet, ticksPath, query, nil)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: tick query status %d: %s", types.ErrVenueRejected, status, errorMessage(body))
		}

		var page []wireTrade
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decode ticks: %w", err)
		}
		trades = append(trades, page...)

		if len(page) < pageSize {
			break
		}
	}

	if len(trades) == 0 {
		return nil, nil
	}

	median := trades[len(trades)/2].Timestamp.UTC()
	if !median.Truncate(time.Minute).Equal(start) {
		return nil, fmt.Errorf("%w: median %s outside window starting %s",
			types.ErrTickIntegrity, median.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	ticks := make([]types.Tick, 0, len(trades))
	for _, tr := range trades {
		if !tr.Timestamp.UTC().Truncate(time.Minute).Equal(start) {
			continue
		}
		ticks = append(ticks, types.Tick{
			Symbol:    tr.Symbol,
			Timestamp: tr.Timestamp,
			Price:     tr.Price,
			Size:      tr.Size,
			Side:      sideFromWire(tr.Side),
		})
	}
	return ticks, nil
}

// ClosePosition submits an offsetting market order for the current position,
// or for an explicit size and direction. Returns true when the venue reports
// the close filled. A zero-size close is a no-op.
func (c *Client) ClosePosition(ctx context.Context, symbol string, size decimal.Decimal, direction types.Side) (bool, error) {
	pos, err := c.GetPosition(ctx, symbol)
	if err != nil {
		return false, err
	}
	if pos == nil || pos.Size.IsZero() {
		return false, nil
	}

	qty := pos.Size.Neg()
	if !size.IsZero() {
		switch direction {
		case types.SideLong:
			qty = size.Neg()
		case types.SideShort:
			qty = size
		default:
			return false, fmt.Errorf("close position: direction required with explicit size")
		}
	}
	if qty.IsZero() {
		return false, nil
	}

	side := types.SideLong
	if qty.IsNegative() {
		side = types.SideShort
		qty = qty.Abs()
	}

	resp, err := c.PlaceOrder(ctx, types.OrderIntent{
		Symbol:    symbol,
		Direction: side,
		Size:      qty,
		OrderType: types.OrderTypeMarket,
	})
	if err != nil {
		return false, err
	}
	if !resp.OK() || len(resp.Confirmations) == 0 {
		return false, nil
	}
	return resp.Confirmations[0].Status == types.OrderStatusFilled, nil
}

// Ensure Client implements venue.Venue.
var _ venue.Venue = (*Client)(nil)
