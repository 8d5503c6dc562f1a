// Package market owns live market data for one venue: a bounded tick buffer
// fed from the venue's trade stream and minute-close bar construction.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/metrics"
	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

// DefaultBufferSize bounds the per-symbol tick buffer. At overflow the oldest
// tick is dropped and counted; the stream is never blocked.
const DefaultBufferSize = 20000

// Session owns the tick buffer for one venue. The engine polls it at minute
// boundaries instead of reacting per tick; there is no shared global state.
type Session struct {
	venue    venue.Venue
	symbols  []string
	logger   *slog.Logger
	recorder *metrics.Recorder
	bufSize  int

	mu        sync.Mutex
	ticks     map[string][]types.Tick
	lastPrice map[string]decimal.Decimal

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates a market session for the given symbols on one venue.
func NewSession(v venue.Venue, symbols []string, recorder *metrics.Recorder, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		venue:     v,
		symbols:   symbols,
		logger:    logger,
		recorder:  recorder,
		bufSize:   DefaultBufferSize,
		ticks:     make(map[string][]types.Tick),
		lastPrice: make(map[string]decimal.Decimal),
	}
}

// SetBufferSize overrides the per-symbol buffer bound.
func (s *Session) SetBufferSize(n int) {
	if n > 0 {
		s.bufSize = n
	}
}

// Start subscribes to the venue's trade stream and buffers ticks until Stop
// or context cancellation.
func (s *Session) Start(ctx context.Context) error {
	stream, err := s.venue.SubscribeTrades(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("subscribe trades: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-stream:
				if !ok {
					s.logger.Warn("trade stream closed", "venue", s.venue.Name())
					return
				}
				s.buffer(tick)
			}
		}
	}()
	return nil
}

// Stop halts buffering. The venue stream itself is owned by the venue.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Session) buffer(tick types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.ticks[tick.Symbol]
	if len(buf) >= s.bufSize {
		buf = buf[1:]
		if s.recorder != nil {
			s.recorder.RecordTickDropped(s.venue.Name())
		}
	}
	s.ticks[tick.Symbol] = append(buf, tick)
}

// ScrapeMinute extracts the minute ending at target for every symbol and
// builds one bar each. A bar's open is seeded from the last trade before the
// window so gaps between trades don't distort the series; a symbol with no
// trades and no prior price yields no bar. Consumed ticks leave the buffer.
func (s *Session) ScrapeMinute(target time.Time) map[string]types.Bar {
	start := target.Add(-time.Minute)
	bars := make(map[string]types.Bar)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, symbol := range s.symbols {
		buf := s.ticks[symbol]

		var window, rest []types.Tick
		for _, tick := range buf {
			switch {
			case tick.Timestamp.Before(start):
				s.lastPrice[symbol] = tick.Price
			case tick.Timestamp.Before(target):
				window = append(window, tick)
			default:
				rest = append(rest, tick)
			}
		}
		s.ticks[symbol] = rest

		bar, ok := buildBar(symbol, start, window, s.lastPrice[symbol])
		if !ok {
			continue
		}
		if n := len(window); n > 0 {
			s.lastPrice[symbol] = window[n-1].Price
		}
		bars[symbol] = bar

		if s.recorder != nil {
			s.recorder.RecordBarScraped(s.venue.Name(), symbol)
		}
	}
	return bars
}

// buildBar aggregates one minute of ticks into an OHLCV bar. prior seeds the
// open; with no ticks the bar is flat at prior.
func buildBar(symbol string, start time.Time, window []types.Tick, prior decimal.Decimal) (types.Bar, bool) {
	if len(window) == 0 {
		if prior.IsZero() {
			return types.Bar{}, false
		}
		return types.Bar{
			Symbol:    symbol,
			Timestamp: start,
			Open:      prior,
			High:      prior,
			Low:       prior,
			Close:     prior,
		}, true
	}

	open := prior
	if open.IsZero() {
		open = window[0].Price
	}

	high, low := open, open
	volume := decimal.Zero
	for _, tick := range window {
		if tick.Price.GreaterThan(high) {
			high = tick.Price
		}
		if tick.Price.LessThan(low) {
			low = tick.Price
		}
		volume = volume.Add(tick.Size)
	}

	return types.Bar{
		Symbol:    symbol,
		Timestamp: start,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     window[len(window)-1].Price,
		Volume:    volume,
	}, true
}
