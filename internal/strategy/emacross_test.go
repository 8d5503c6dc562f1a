package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// crossWindow builds a window whose EMA series are scripted directly, so the
// cross logic is tested independently of EMA arithmetic.
func crossWindow(fast, slow []float64) Window {
	n := len(fast)
	bars := make([]types.Bar, n)
	fastS := make([]decimal.Decimal, n)
	slowS := make([]decimal.Decimal, n)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Symbol:    "XBTUSD",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      dec(100 + float64(i)),
			Close:     dec(100 + float64(i)),
		}
		fastS[i] = dec(fast[i])
		slowS[i] = dec(slow[i])
	}

	return Window{
		Timeframe: "1Min",
		Symbol:    "XBTUSD",
		Bars:      bars,
		Series:    map[string][]decimal.Decimal{"EMA10": fastS, "EMA20": slowS},
	}
}

func newTestModel() *EMACross {
	return NewEMACross([]string{"1Min"}, map[string]map[string]string{
		"BitMEX": {"XBTUSD": "XBTUSD"},
	})
}

func TestEMACrossLongOnLatestBar(t *testing.T) {
	// Fast below slow for two bars, then above on the last: long cross.
	w := crossWindow(
		[]float64{10, 10, 10, 12},
		[]float64{11, 11, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil {
		t.Fatal("no signal")
	}
	if sig.Direction != types.SideLong {
		t.Errorf("direction = %v", sig.Direction)
	}
	if sig.OrderType != types.OrderTypeMarket {
		t.Errorf("order type = %v", sig.OrderType)
	}
	if !sig.EntryPrice.Equal(w.Bars[3].Open) {
		t.Errorf("entry = %v, want crossing bar's open", sig.EntryPrice)
	}
	if !sig.Timestamp.Equal(w.Bars[3].Timestamp) {
		t.Errorf("timestamp = %v", sig.Timestamp)
	}
}

func TestEMACrossShortOnLatestBar(t *testing.T) {
	w := crossWindow(
		[]float64{12, 12, 12, 10},
		[]float64{11, 11, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Direction != types.SideShort {
		t.Fatalf("sig = %+v", sig)
	}
}

func TestEMACrossStaleCrossNoSignal(t *testing.T) {
	// Cross on bar 3, flat afterwards: nothing to act on now.
	w := crossWindow(
		[]float64{10, 10, 10, 12, 12, 12},
		[]float64{11, 11, 11, 11, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatalf("stale cross produced signal: %+v", sig)
	}
}

func TestEMACrossNoCross(t *testing.T) {
	w := crossWindow(
		[]float64{12, 12, 12, 12},
		[]float64{11, 11, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatalf("no cross but signal: %+v", sig)
	}
}

func TestEMACrossIgnoresWarmup(t *testing.T) {
	// Zeros are warmup; the apparent "cross" out of warmup must not fire.
	w := crossWindow(
		[]float64{0, 0, 10, 12},
		[]float64{0, 0, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig != nil {
		t.Fatalf("warmup produced signal: %+v", sig)
	}
}

func TestEMACrossReversalSignalsOpposite(t *testing.T) {
	// Long cross then a later short cross on the final bar: short wins, it
	// is the current state of the market.
	w := crossWindow(
		[]float64{10, 10, 10, 12, 12, 12, 10},
		[]float64{11, 11, 11, 11, 11, 11, 11},
	)

	sig, err := newTestModel().Run(w, nil, "1Min", "XBTUSD", "BitMEX")
	if err != nil {
		t.Fatal(err)
	}
	if sig == nil || sig.Direction != types.SideShort {
		t.Fatalf("sig = %+v", sig)
	}
}
