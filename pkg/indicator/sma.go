package indicator

import (
	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

// SMA calculates a Simple Moving Average incrementally.
type SMA struct {
	period int
	values []decimal.Decimal
	sum    decimal.Decimal
}

// NewSMA creates a new SMA calculator with the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{
		period: period,
		values: make([]decimal.Decimal, 0, period),
		sum:    decimal.Zero,
	}
}

// Update adds a new value and returns the current SMA.
// Returns zero until enough data points have been collected.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	s.values = append(s.values, value)
	s.sum = s.sum.Add(value)

	if len(s.values) > s.period {
		s.sum = s.sum.Sub(s.values[0])
		s.values = s.values[1:]
	}

	if len(s.values) < s.period {
		return decimal.Zero
	}

	return s.sum.Div(decimal.NewFromInt(int64(s.period)))
}

// Current returns the current SMA value without adding new data.
func (s *SMA) Current() decimal.Decimal {
	if len(s.values) < s.period {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.period)))
}

// Ready returns true if enough data points have been collected.
func (s *SMA) Ready() bool {
	return len(s.values) >= s.period
}

// Period returns the SMA period.
func (s *SMA) Period() int {
	return s.period
}

// SMASeries computes the SMA of bar closes for an entire window, aligned by
// index with the input. Entries before the warmup period are zero.
func SMASeries(bars []types.Bar, period int) []decimal.Decimal {
	sma := NewSMA(period)
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = sma.Update(b.Close)
	}
	return out
}
