// Package engine wires configuration, venues, market data, strategies,
// routing and reconciliation into the server's main loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kaigouthro/trading-server/internal/alerting"
	"github.com/kaigouthro/trading-server/internal/config"
	"github.com/kaigouthro/trading-server/internal/market"
	"github.com/kaigouthro/trading-server/internal/metrics"
	"github.com/kaigouthro/trading-server/internal/reconcile"
	"github.com/kaigouthro/trading-server/internal/router"
	"github.com/kaigouthro/trading-server/internal/strategy"
	"github.com/kaigouthro/trading-server/internal/timeframe"
	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// baseTimeframe is the resolution the tick scraper produces; every other
// timeframe is fetched from the venue when it closes.
const baseTimeframe = "1Min"

// venueRuntime groups the per-venue collaborators. One is built per
// configured venue at construction time.
type venueRuntime struct {
	venue      venue.Venue
	session    *market.Session
	router     *router.Router
	reconciler *reconcile.Engine
	symbols    []string
	triggers   []string

	// windows holds the locally maintained base-timeframe bar series per
	// symbol, seeded from venue history and extended by the scraper.
	windows map[string][]types.Bar
}

// Engine coordinates the minute loop and the reconciliation loop across all
// configured venues.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	runner   *strategy.Runner
	alerter  alerting.Alerter
	recorder *metrics.Recorder

	runtimes map[string]*venueRuntime

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// cycleMu serializes minute cycles; windows are only touched under it.
	cycleMu sync.Mutex
}

// New builds an engine from validated configuration. venues maps venue names
// to live adapters; every configured venue must be present. Strategy names in
// the configuration must resolve in the registry.
func New(
	cfg *config.Config,
	venues map[string]venue.Venue,
	registry *strategy.Registry,
	store reconcile.Store,
	alerter alerting.Alerter,
	logger *slog.Logger,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, sc := range cfg.Strategies {
		if _, err := registry.Get(sc.Name); err != nil {
			return nil, err
		}
	}

	recorder := metrics.NewRecorder()

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		runner:   strategy.NewRunner(registry, logger),
		alerter:  alerter,
		recorder: recorder,
		runtimes: make(map[string]*venueRuntime),
	}

	for _, vcfg := range cfg.Venues {
		v, ok := venues[vcfg.Name]
		if !ok {
			return nil, fmt.Errorf("%w: no adapter for venue %q", types.ErrInvalidConfig, vcfg.Name)
		}

		triggers, err := venueTriggers(cfg, vcfg.Name)
		if err != nil {
			return nil, err
		}

		e.runtimes[vcfg.Name] = &venueRuntime{
			venue:      v,
			session:    market.NewSession(v, vcfg.Symbols(), recorder, logger),
			router:     router.New(v, logger),
			reconciler: reconcile.New(v, store, logger),
			symbols:    vcfg.Symbols(),
			triggers:   triggers,
			windows:    make(map[string][]types.Bar),
		}
	}

	return e, nil
}

// venueTriggers collects every timeframe any strategy operates on this venue
// and extends the set with its derived triggers.
func venueTriggers(cfg *config.Config, venueName string) ([]string, error) {
	var tfs []string
	seen := make(map[string]bool)
	for _, sc := range cfg.Strategies {
		if _, ok := sc.Instruments[venueName]; !ok {
			continue
		}
		for _, tf := range sc.Timeframes {
			if seen[tf] {
				continue
			}
			seen[tf] = true
			tfs = append(tfs, tf)
		}
	}
	if len(tfs) == 0 {
		tfs = []string{baseTimeframe}
	}
	return timeframe.DeriveTriggers(tfs)
}

// Start seeds bar windows, opens the trade feeds and launches the minute and
// reconciliation loops. It returns once the loops are running.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("starting trading server",
		"venues", len(e.runtimes),
		"reconcile_interval", e.cfg.ReconcileInterval(),
	)

	for name, rt := range e.runtimes {
		if err := e.seedWindows(runCtx, rt); err != nil {
			cancel()
			return fmt.Errorf("seed bars for %s: %w", name, err)
		}
		if err := rt.session.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start market session for %s: %w", name, err)
		}
	}

	e.wg.Add(2)
	go e.minuteLoop(runCtx)
	go e.reconcileLoop(runCtx)

	e.notify(runCtx, alerting.EventServerStarted, "Trading server started",
		"venues", len(e.runtimes))

	return nil
}

func (e *Engine) seedWindows(ctx context.Context, rt *venueRuntime) error {
	for _, symbol := range rt.symbols {
		bars, err := rt.venue.GetBars(ctx, baseTimeframe, symbol, e.cfg.Engine.BarFetchCount)
		if err != nil {
			return err
		}
		rt.windows[symbol] = bars
	}
	return nil
}

// minuteLoop wakes at every minute boundary, scrapes the closed minute and
// runs whichever models close a bar at that boundary.
func (e *Engine) minuteLoop(ctx context.Context) {
	defer e.wg.Done()

	e.logger.Info("minute loop started")

	for {
		boundary, err := market.WaitBoundary(ctx)
		if err != nil {
			e.logger.Info("minute loop stopped", "reason", err)
			return
		}
		e.RunCycle(ctx, boundary)
	}
}

// RunCycle executes one full scrape-and-evaluate pass for the minute ending
// at boundary. Exposed so operators and tests can drive the engine without
// waiting on the wall clock.
func (e *Engine) RunCycle(ctx context.Context, boundary time.Time) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	for _, rt := range e.runtimes {
		e.cycleVenue(ctx, rt, boundary)
	}
}

func (e *Engine) cycleVenue(ctx context.Context, rt *venueRuntime, boundary time.Time) {
	scraped := rt.session.ScrapeMinute(boundary)
	for symbol, bar := range scraped {
		w := append(rt.windows[symbol], bar)
		if max := e.cfg.Engine.BarFetchCount; len(w) > max {
			w = w[len(w)-max:]
		}
		rt.windows[symbol] = w
	}

	closing, err := timeframe.ClosingAt(rt.triggers, boundary)
	if err != nil {
		e.logger.Error("cannot resolve closing timeframes", "err", err)
		return
	}

	for _, tf := range closing {
		for _, symbol := range rt.symbols {
			bars := rt.windows[symbol]
			if tf != baseTimeframe {
				bars, err = rt.venue.GetBars(ctx, tf, symbol, e.cfg.Engine.BarFetchCount)
				if err != nil {
					e.logger.Warn("bar fetch failed",
						"venue", rt.venue.Name(), "symbol", symbol, "timeframe", tf, "err", err)
					continue
				}
			}

			signals, err := e.runner.RunClosed(rt.venue.Name(), symbol, tf, bars, e.barSource(ctx, rt))
			if err != nil {
				e.logger.Warn("strategy run failed",
					"venue", rt.venue.Name(), "symbol", symbol, "timeframe", tf, "err", err)
				continue
			}
			for _, sig := range signals {
				e.dispatch(ctx, rt, sig)
			}
		}
	}
}

// barSource serves a model's extra-timeframe bar needs during a cycle: the
// locally maintained window for the base timeframe, a venue fetch otherwise.
func (e *Engine) barSource(ctx context.Context, rt *venueRuntime) strategy.BarSource {
	return func(tf, symbol string) ([]types.Bar, error) {
		if tf == baseTimeframe {
			return rt.windows[symbol], nil
		}
		return rt.venue.GetBars(ctx, tf, symbol, e.cfg.Engine.BarFetchCount)
	}
}

// dispatch turns one signal into orders, submits them and hands the
// confirmed records to the reconciler.
func (e *Engine) dispatch(ctx context.Context, rt *venueRuntime, sig types.Signal) {
	e.recorder.RecordSignal(sig.StrategyName, sig.Direction)

	intents := rt.router.BuildIntents(sig)
	records, err := rt.router.Submit(ctx, intents)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrVenueRejected):
			e.logger.Error("order batch rejected",
				"signal_id", sig.ID, "symbol", sig.Symbol, "err", err)
			e.notify(ctx, alerting.EventOrderRejected, "Order rejected",
				"signal_id", sig.ID, "symbol", sig.Symbol, "error", err.Error())
		case errors.Is(err, types.ErrDuplicateOrder):
			e.logger.Error("duplicate order id in batch", "signal_id", sig.ID, "err", err)
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, types.ErrAmbiguousOutcome):
			e.logger.Warn("submission outcome ambiguous, reconciling before resubmit",
				"signal_id", sig.ID, "err", err)
			e.resolveAmbiguous(ctx, rt, unconfirmedIntents(intents, records))
		default:
			e.logger.Error("order submission failed",
				"signal_id", sig.ID, "symbol", sig.Symbol, "err", err)
		}
	}

	for _, rec := range records {
		e.recorder.RecordOrderSubmitted(rt.venue.Name(), rec.Symbol, rec.OrderType)
	}
	rt.reconciler.TrackSubmitted(records)
}

// unconfirmedIntents filters out intents the router already confirmed. A
// partial batch failure can leave some orders acknowledged; only the rest have
// an unknown outcome.
func unconfirmedIntents(intents []types.OrderIntent, records []types.OrderRecord) []types.OrderIntent {
	confirmed := make(map[string]struct{}, len(records))
	for _, rec := range records {
		confirmed[rec.OrderID] = struct{}{}
	}
	out := intents[:0:0]
	for _, intent := range intents {
		if _, ok := confirmed[intent.OrderID]; !ok {
			out = append(out, intent)
		}
	}
	return out
}

// resolveAmbiguous asks the venue about every intent whose outcome was never
// observed. Intents the venue knows are adopted by the reconciler; the rest
// are safe to regenerate on a later cycle.
func (e *Engine) resolveAmbiguous(ctx context.Context, rt *venueRuntime, intents []types.OrderIntent) {
	for _, intent := range intents {
		safe, err := rt.reconciler.ResolveAmbiguous(ctx, intent.OrderID)
		if err != nil {
			e.logger.Error("ambiguity resolution failed", "order_id", intent.OrderID, "err", err)
			e.notify(ctx, alerting.EventAmbiguousOrder, "Order outcome unresolved",
				"order_id", intent.OrderID, "symbol", intent.Symbol, "error", err.Error())
			continue
		}
		if !safe {
			e.notify(ctx, alerting.EventAmbiguousOrder, "Ambiguous order found live at venue",
				"order_id", intent.OrderID, "symbol", intent.Symbol)
		}
	}
}

// reconcileLoop periodically merges venue state into local records.
func (e *Engine) reconcileLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ReconcileInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Reconcile(ctx)
		}
	}
}

// Reconcile runs one reconciliation pass over every venue. Exposed for the
// same reason as RunCycle.
func (e *Engine) Reconcile(ctx context.Context) {
	for _, rt := range e.runtimes {
		for _, symbol := range rt.symbols {
			if err := rt.reconciler.Sync(ctx, symbol); err != nil {
				e.logger.Error("reconcile sync failed",
					"venue", rt.venue.Name(), "symbol", symbol, "err", err)
			}
			if pos, ok := rt.reconciler.Position(symbol); ok {
				e.recorder.RecordPosition(rt.venue.Name(), symbol, pos.Size)
			}
		}

		diverged := rt.reconciler.Diverged()
		e.recorder.RecordDivergence(rt.venue.Name(), len(diverged))
		if len(diverged) > 0 {
			e.notify(ctx, alerting.EventReconcileDivergence, "Orders lost at venue",
				"venue", rt.venue.Name(), "order_ids", diverged)
		}

		open := 0
		for _, rec := range rt.reconciler.Orders() {
			if !rec.Status.IsTerminal() {
				open++
			}
		}
		e.recorder.RecordOpenOrders(rt.venue.Name(), open)
	}
}

// Stop shuts the loops down, optionally cancels resting orders and closes
// the market sessions. ctx bounds the shutdown work, not the loops.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("stopping trading server")

	cancel()
	e.wg.Wait()

	if e.cfg.Engine.CancelOnShutdown {
		e.cancelOpenOrders(ctx)
	}

	for _, rt := range e.runtimes {
		rt.session.Stop()
	}

	e.notify(ctx, alerting.EventServerStopped, "Trading server stopped")
	e.logger.Info("trading server stopped")
	return nil
}

// cancelOpenOrders cancels every tracked non-terminal order that holds a
// venue id and applies the confirmations locally.
func (e *Engine) cancelOpenOrders(ctx context.Context) {
	for _, rt := range e.runtimes {
		var venueIDs []string
		for _, rec := range rt.reconciler.Orders() {
			if rec.Status.IsTerminal() || rec.VenueID == "" {
				continue
			}
			venueIDs = append(venueIDs, rec.VenueID)
		}

		confirmed, err := rt.router.Cancel(ctx, venueIDs)
		if err != nil {
			e.logger.Error("shutdown cancel failed", "venue", rt.venue.Name(), "err", err)
			continue
		}
		rt.reconciler.ApplyCancellations(ctx, confirmed)
		for _, conf := range confirmed {
			e.recorder.RecordCancel(rt.venue.Name(), conf.Status)
		}
	}
}

// IsRunning reports whether the loops are live.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Reconciler exposes a venue's reconciliation engine for inspection.
func (e *Engine) Reconciler(venueName string) (*reconcile.Engine, bool) {
	rt, ok := e.runtimes[venueName]
	if !ok {
		return nil, false
	}
	return rt.reconciler, true
}

// notify sends an alert if alerting is configured and the event is enabled.
func (e *Engine) notify(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if e.alerter == nil || !e.cfg.IsAlertEventEnabled(string(event)) {
		return
	}
	if err := e.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		e.logger.Warn("alert delivery failed", "event", string(event), "err", err)
	}
}
