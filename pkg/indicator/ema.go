// Package indicator provides technical indicator calculations consumed by
// strategy models as opaque feature functions.
package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

// EMA calculates an Exponential Moving Average incrementally.
type EMA struct {
	period int
	mult   decimal.Decimal
	seed   []decimal.Decimal
	value  decimal.Decimal
	count  int
}

// NewEMA creates a new EMA calculator with the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	two := decimal.NewFromInt(2)
	return &EMA{
		period: period,
		mult:   two.Div(decimal.NewFromInt(int64(period) + 1)),
		seed:   make([]decimal.Decimal, 0, period),
	}
}

// Update adds a new value and returns the current EMA. The first `period`
// values seed the average with a plain mean; zero is returned until then.
func (e *EMA) Update(value decimal.Decimal) decimal.Decimal {
	e.count++

	if e.count <= e.period {
		e.seed = append(e.seed, value)
		if e.count < e.period {
			return decimal.Zero
		}
		sum := decimal.Zero
		for _, v := range e.seed {
			sum = sum.Add(v)
		}
		e.value = sum.Div(decimal.NewFromInt(int64(e.period)))
		return e.value
	}

	e.value = value.Sub(e.value).Mul(e.mult).Add(e.value)
	return e.value
}

// Current returns the current EMA value without adding new data.
func (e *EMA) Current() decimal.Decimal {
	if !e.Ready() {
		return decimal.Zero
	}
	return e.value
}

// Ready returns true if enough data points have been collected.
func (e *EMA) Ready() bool {
	return e.count >= e.period
}

// Period returns the EMA period.
func (e *EMA) Period() int {
	return e.period
}

// EMASeries computes the EMA of bar closes for an entire window, aligned by
// index with the input. Entries before the warmup period are zero.
func EMASeries(bars []types.Bar, period int) []decimal.Decimal {
	ema := NewEMA(period)
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = ema.Update(b.Close)
	}
	return out
}
