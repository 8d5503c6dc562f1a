package market

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue/venuetest"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func tick(sym string, at time.Time, price, size string) types.Tick {
	return types.Tick{Symbol: sym, Timestamp: at, Price: dec(price), Size: dec(size)}
}

func startSession(t *testing.T, fake *venuetest.Venue, symbols []string) *Session {
	t.Helper()
	s := NewSession(fake, symbols, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

func waitBuffered(t *testing.T, s *Session, symbol string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.ticks[symbol])
		s.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d buffered ticks", n)
}

func TestScrapeMinuteBuildsOHLCV(t *testing.T) {
	fake := venuetest.New("")
	s := startSession(t, fake, []string{"XBTUSD"})

	target := time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC)
	start := target.Add(-time.Minute)

	// Prior-minute trade seeds the open.
	fake.PushTick(tick("XBTUSD", start.Add(-10*time.Second), "50000", "1"))
	fake.PushTick(tick("XBTUSD", start.Add(5*time.Second), "50100", "2"))
	fake.PushTick(tick("XBTUSD", start.Add(20*time.Second), "49900", "1"))
	fake.PushTick(tick("XBTUSD", start.Add(50*time.Second), "50050", "3"))
	// Next minute's trade must survive the scrape.
	fake.PushTick(tick("XBTUSD", target.Add(time.Second), "51000", "1"))
	waitBuffered(t, s, "XBTUSD", 5)

	bars := s.ScrapeMinute(target)
	bar, ok := bars["XBTUSD"]
	if !ok {
		t.Fatal("no bar built")
	}

	if !bar.Open.Equal(dec("50000")) {
		t.Errorf("open = %v, want prior minute's last price", bar.Open)
	}
	if !bar.High.Equal(dec("50100")) || !bar.Low.Equal(dec("49900")) {
		t.Errorf("high/low = %v/%v", bar.High, bar.Low)
	}
	if !bar.Close.Equal(dec("50050")) {
		t.Errorf("close = %v", bar.Close)
	}
	if !bar.Volume.Equal(dec("6")) {
		t.Errorf("volume = %v", bar.Volume)
	}
	if !bar.Timestamp.Equal(start) {
		t.Errorf("timestamp = %v", bar.Timestamp)
	}

	// The tick after the boundary is still buffered for the next scrape.
	next := s.ScrapeMinute(target.Add(time.Minute))
	if !next["XBTUSD"].Close.Equal(dec("51000")) {
		t.Errorf("next close = %v", next["XBTUSD"].Close)
	}
}

func TestScrapeMinuteQuietMinuteIsFlat(t *testing.T) {
	fake := venuetest.New("")
	s := startSession(t, fake, []string{"XBTUSD"})

	target := time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC)
	fake.PushTick(tick("XBTUSD", target.Add(-90*time.Second), "50000", "1"))
	waitBuffered(t, s, "XBTUSD", 1)

	bars := s.ScrapeMinute(target)
	bar, ok := bars["XBTUSD"]
	if !ok {
		t.Fatal("quiet minute with known prior price must still produce a bar")
	}
	if !bar.Open.Equal(bar.Close) || !bar.Open.Equal(dec("50000")) {
		t.Errorf("flat bar = %+v", bar)
	}
	if !bar.Volume.IsZero() {
		t.Errorf("volume = %v", bar.Volume)
	}
}

func TestScrapeMinuteNoHistoryNoBar(t *testing.T) {
	fake := venuetest.New("")
	s := startSession(t, fake, []string{"XBTUSD"})

	bars := s.ScrapeMinute(time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC))
	if len(bars) != 0 {
		t.Errorf("bars = %v", bars)
	}
}

func TestBufferDropsOldestAtCapacity(t *testing.T) {
	fake := venuetest.New("")
	s := NewSession(fake, []string{"XBTUSD"}, nil, nil)
	s.SetBufferSize(3)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)

	base := time.Date(2024, 6, 1, 12, 4, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		fake.PushTick(tick("XBTUSD", base.Add(time.Duration(i)*time.Second), "50000", "1"))
	}
	waitBuffered(t, s, "XBTUSD", 3)
	time.Sleep(10 * time.Millisecond)

	s.mu.Lock()
	buf := s.ticks["XBTUSD"]
	s.mu.Unlock()

	if len(buf) != 3 {
		t.Fatalf("buffer = %d, want capped at 3", len(buf))
	}
	if !buf[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("oldest surviving tick = %v, oldest not dropped", buf[0].Timestamp)
	}
}

func TestNextBoundary(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 4, 30, 0, time.UTC)
	want := time.Date(2024, 6, 1, 12, 5, 0, 0, time.UTC)
	if got := NextBoundary(at); !got.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", got, want)
	}
	// Exactly on a boundary rolls to the next one.
	if got := NextBoundary(want); !got.Equal(want.Add(time.Minute)) {
		t.Errorf("NextBoundary on boundary = %v", got)
	}
}
