// Package strategy defines the model interface, the model registry and the
// runner that executes models at bar closes.
package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

// FeatureKind categorizes a feature function.
type FeatureKind int

const (
	FeatureIndicator FeatureKind = iota
)

// Feature is one derived series a model consumes. Fn receives the window's
// bars and the parameter and returns a series aligned by index with the bars;
// warmup positions are zero.
type Feature struct {
	Kind  FeatureKind
	Name  string
	Fn    func(bars []types.Bar, param int) []decimal.Decimal
	Param int
}

// Window is the data a model sees at one bar close: the rolling bar slice for
// its operating timeframe and every feature series computed over it, aligned
// by index.
type Window struct {
	Timeframe string
	Symbol    string
	Bars      []types.Bar
	Series    map[string][]decimal.Decimal
}

// Model is a strategy. Implementations must be stateless across Run calls;
// all state a model needs is in the window.
type Model interface {
	Name() string

	// OperatingTimeframes lists the timeframes the model emits signals on.
	OperatingTimeframes() []string

	// Lookback is the minimum bar count the model needs for a timeframe.
	Lookback(timeframe string) int

	Features() []Feature

	// Instruments maps venue name to the model's symbols on that venue,
	// keyed by canonical symbol with the venue-native symbol as value.
	Instruments() map[string]map[string]string

	// RequiredTimeframes returns additional timeframes whose bars the model
	// wants alongside its operating timeframe.
	RequiredTimeframes(tfs []string) []string

	// Run inspects the window and returns at most one signal, nil when the
	// model sees nothing. required carries bars for each timeframe named by
	// RequiredTimeframes, keyed by timeframe.
	Run(w Window, required map[string][]types.Bar, timeframe, symbol, venueName string) (*types.Signal, error)
}

// BarSource fetches the bar window for a timeframe and symbol. The runner
// uses it to supply bars for a model's RequiredTimeframes.
type BarSource func(timeframe, symbol string) ([]types.Bar, error)

// Registry maps model names to models. Built once at startup; a config
// referencing an unknown name is a fatal error, not a silent skip.
type Registry struct {
	models map[string]Model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds a model. Re-registering a name replaces the model.
func (r *Registry) Register(m Model) {
	r.models[m.Name()] = m
}

// Get returns the model for a name.
func (r *Registry) Get(name string) (Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownStrategy, name)
	}
	return m, nil
}

// Names returns registered model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runner executes every applicable model at a bar close.
type Runner struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRunner creates a runner over a registry.
func NewRunner(registry *Registry, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, logger: logger}
}

// RunClosed runs all models operating on (venueName, symbol, timeframe) with
// the closed window and collects their signals. The window must satisfy each
// model's lookback; an undersupplied window is a configuration or data fault
// surfaced here, never inside a model. source supplies bars for any extra
// timeframes a model requires; it may be nil when no registered model
// requires one.
func (r *Runner) RunClosed(venueName, symbol, timeframe string, bars []types.Bar, source BarSource) ([]types.Signal, error) {
	var signals []types.Signal

	for _, name := range r.registry.Names() {
		model, err := r.registry.Get(name)
		if err != nil {
			return nil, err
		}
		if !applies(model, venueName, symbol, timeframe) {
			continue
		}

		if need := model.Lookback(timeframe); len(bars) < need {
			return nil, fmt.Errorf("%w: model %q needs %d bars on %s, have %d",
				types.ErrInsufficientLookback, name, need, timeframe, len(bars))
		}

		window := Window{
			Timeframe: timeframe,
			Symbol:    symbol,
			Bars:      bars,
			Series:    make(map[string][]decimal.Decimal),
		}
		for _, feat := range model.Features() {
			window.Series[feat.Name] = feat.Fn(bars, feat.Param)
		}

		var required map[string][]types.Bar
		for _, rtf := range model.RequiredTimeframes([]string{timeframe}) {
			if rtf == timeframe {
				continue
			}
			if source == nil {
				return nil, fmt.Errorf("model %q requires %s bars but no bar source is wired", name, rtf)
			}
			extra, err := source(rtf, symbol)
			if err != nil {
				return nil, fmt.Errorf("model %q: fetch %s bars: %w", name, rtf, err)
			}
			if required == nil {
				required = make(map[string][]types.Bar)
			}
			required[rtf] = extra
		}

		sig, err := model.Run(window, required, timeframe, symbol, venueName)
		if err != nil {
			return signals, fmt.Errorf("model %q: %w", name, err)
		}
		if sig == nil {
			continue
		}

		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}
		if sig.Timestamp.IsZero() {
			sig.Timestamp = time.Now().UTC()
		}
		signals = append(signals, *sig)

		r.logger.Info("signal generated",
			"strategy", name, "venue", venueName, "symbol", symbol,
			"timeframe", timeframe, "direction", sig.Direction.String())
	}

	return signals, nil
}

func applies(m Model, venueName, symbol, timeframe string) bool {
	symbols, ok := m.Instruments()[venueName]
	if !ok {
		return false
	}
	if _, ok := symbols[symbol]; !ok {
		return false
	}
	for _, tf := range m.OperatingTimeframes() {
		if tf == timeframe {
			return true
		}
	}
	return false
}
