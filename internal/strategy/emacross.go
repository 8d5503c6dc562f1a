package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/pkg/indicator"
)

// Default EMA cross parameters.
const (
	emaFastPeriod   = 10
	emaSlowPeriod   = 20
	emaCrossName    = "ema-cross"
	defaultLookback = 150
)

// EMACross trades fast/slow EMA crossovers. A cross fires when the fast EMA
// sits on the opposite side of the slow EMA from where it was on both of the
// two prior bars; a signal is emitted only when the cross lands on the
// window's latest bar, with a market entry at that bar's open. Opposing
// signals close and reverse the position; the model sets no stop.
type EMACross struct {
	timeframes  []string
	instruments map[string]map[string]string
	lookback    int
}

// NewEMACross creates the model operating on the given timeframes and
// instruments. Lookback defaults for every timeframe.
func NewEMACross(timeframes []string, instruments map[string]map[string]string) *EMACross {
	if len(timeframes) == 0 {
		timeframes = []string{"1Min"}
	}
	return &EMACross{
		timeframes:  timeframes,
		instruments: instruments,
		lookback:    defaultLookback,
	}
}

func (m *EMACross) Name() string                  { return emaCrossName }
func (m *EMACross) OperatingTimeframes() []string { return m.timeframes }
func (m *EMACross) Lookback(string) int           { return m.lookback }

func (m *EMACross) Instruments() map[string]map[string]string { return m.instruments }

// RequiredTimeframes: none beyond the operating timeframe.
func (m *EMACross) RequiredTimeframes([]string) []string { return nil }

func (m *EMACross) Features() []Feature {
	return []Feature{
		{Kind: FeatureIndicator, Name: "EMA10", Fn: indicator.EMASeries, Param: emaFastPeriod},
		{Kind: FeatureIndicator, Name: "EMA20", Fn: indicator.EMASeries, Param: emaSlowPeriod},
	}
}

// Run scans the window for crosses and signals when the latest bar is one.
func (m *EMACross) Run(w Window, _ map[string][]types.Bar, timeframe, symbol, venueName string) (*types.Signal, error) {
	fast := w.Series["EMA10"]
	slow := w.Series["EMA20"]
	n := len(w.Bars)
	if n == 0 || len(fast) != n || len(slow) != n {
		return nil, nil
	}

	lastCross := -1
	var lastDirection types.Side

	for i := 2; i < n; i++ {
		if !ready(fast[i], slow[i], fast[i-1], slow[i-1], fast[i-2], slow[i-2]) {
			continue
		}

		switch {
		case slow[i].GreaterThan(fast[i]) &&
			slow[i-1].LessThan(fast[i-1]) && slow[i-2].LessThan(fast[i-2]):
			lastCross, lastDirection = i, types.SideShort

		case slow[i].LessThan(fast[i]) &&
			slow[i-1].GreaterThan(fast[i-1]) && slow[i-2].GreaterThan(fast[i-2]):
			lastCross, lastDirection = i, types.SideLong
		}
	}

	if lastCross != n-1 {
		return nil, nil
	}

	bar := w.Bars[lastCross]
	return &types.Signal{
		Symbol:       symbol,
		Timestamp:    bar.Timestamp,
		Direction:    lastDirection,
		Timeframe:    timeframe,
		StrategyName: m.Name(),
		Venue:        venueName,
		EntryPrice:   bar.Open,
		OrderType:    types.OrderTypeMarket,
	}, nil
}

// ready reports whether every value is past EMA warmup. Warmup positions are
// zero, which a price EMA can never legitimately be.
func ready(vals ...decimal.Decimal) bool {
	for _, v := range vals {
		if v.IsZero() {
			return false
		}
	}
	return true
}
