package bitmex

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFormatOrderLimit(t *testing.T) {
	w, err := formatOrder(types.OrderIntent{
		OrderID:   "oid-1",
		Symbol:    "XBTUSD",
		Direction: types.SideLong,
		Size:      dec("100"),
		OrderType: types.OrderTypeLimit,
		Price:     dec("50000.3"),
		Metatype:  types.MetatypeEntry,
	}, dec("0.5"))
	if err != nil {
		t.Fatal(err)
	}

	if w.OrdType != "Limit" || w.TimeInForce != "GoodTillCancel" {
		t.Errorf("ordType=%s tif=%s", w.OrdType, w.TimeInForce)
	}
	if w.Price == nil || !w.Price.Equal(dec("50000.5")) {
		t.Errorf("price not rounded to increment: %v", w.Price)
	}
	if w.StopPx != nil {
		t.Error("limit order must not carry stopPx")
	}
	if w.Side != "Buy" {
		t.Errorf("side = %s", w.Side)
	}
	if w.Text != "ENTRY" {
		t.Errorf("text = %q", w.Text)
	}
}

func TestFormatOrderMarket(t *testing.T) {
	w, err := formatOrder(types.OrderIntent{
		OrderID:   "oid-2",
		Symbol:    "XBTUSD",
		Direction: types.SideShort,
		Size:      dec("50"),
		OrderType: types.OrderTypeMarket,
		Price:     dec("50000"),
	}, dec("0.5"))
	if err != nil {
		t.Fatal(err)
	}

	if w.OrdType != "Market" || w.TimeInForce != "ImmediateOrCancel" {
		t.Errorf("ordType=%s tif=%s", w.OrdType, w.TimeInForce)
	}
	if w.Price != nil {
		t.Error("market order must not carry a resting price")
	}
	if w.Side != "Sell" {
		t.Errorf("side = %s", w.Side)
	}
}

func TestFormatOrderStopRepurposesPrice(t *testing.T) {
	w, err := formatOrder(types.OrderIntent{
		OrderID:   "oid-3",
		Symbol:    "XBTUSD",
		Direction: types.SideShort,
		Size:      dec("100"),
		OrderType: types.OrderTypeStop,
		Price:     dec("49000"),
		Metatype:  types.MetatypeStop,
	}, dec("0.5"))
	if err != nil {
		t.Fatal(err)
	}

	if w.OrdType != "Stop" || w.TimeInForce != "ImmediateOrCancel" {
		t.Errorf("ordType=%s tif=%s", w.OrdType, w.TimeInForce)
	}
	if w.Price != nil {
		t.Error("stop order must not carry a limit price")
	}
	if w.StopPx == nil || !w.StopPx.Equal(dec("49000")) {
		t.Errorf("stopPx = %v, want trigger from intent price", w.StopPx)
	}
}

func TestFormatOrderStopLimit(t *testing.T) {
	w, err := formatOrder(types.OrderIntent{
		OrderID:   "oid-4",
		Symbol:    "XBTUSD",
		Direction: types.SideLong,
		Size:      dec("100"),
		OrderType: types.OrderTypeStopLimit,
		Price:     dec("51000"),
		VoidPrice: dec("50900"),
	}, dec("0.5"))
	if err != nil {
		t.Fatal(err)
	}

	if w.OrdType != "StopLimit" || w.TimeInForce != "GoodTillCancel" {
		t.Errorf("ordType=%s tif=%s", w.OrdType, w.TimeInForce)
	}
	if w.Price == nil || !w.Price.Equal(dec("51000")) {
		t.Errorf("price = %v", w.Price)
	}
	if w.StopPx == nil || !w.StopPx.Equal(dec("50900")) {
		t.Errorf("stopPx = %v", w.StopPx)
	}
}

func TestRoundIncrement(t *testing.T) {
	cases := []struct {
		v, inc, want string
	}{
		{"50000.3", "0.5", "50000.5"},
		{"50000.2", "0.5", "50000"},
		{"99.999", "0.01", "100"},
		{"7", "0", "7"},
	}
	for _, tc := range cases {
		got := roundIncrement(dec(tc.v), dec(tc.inc))
		if !got.Equal(dec(tc.want)) {
			t.Errorf("roundIncrement(%s, %s) = %s, want %s", tc.v, tc.inc, got, tc.want)
		}
	}
}

func TestStatusFromWireUnknownIsFatal(t *testing.T) {
	_, err := statusFromWire("Expired")
	if !errors.Is(err, types.ErrUnknownVenueStatus) {
		t.Fatalf("err = %v, want ErrUnknownVenueStatus", err)
	}
	// Offending vocabulary is preserved for the operator.
	if err != nil && !strings.Contains(err.Error(), "Expired") {
		t.Errorf("error does not carry payload: %v", err)
	}
}

func TestMetatypeFromText(t *testing.T) {
	cases := []struct {
		text string
		want types.Metatype
	}{
		{"ENTRY", types.MetatypeEntry},
		{"strategy note\nSTOP", types.MetatypeStop},
		{"strategy note\nTAKE_PROFIT\nignored", types.MetatypeTakeProfit},
		{"FINAL_TAKE_PROFIT", types.MetatypeFinalTakeProfit},
		{"entry", types.MetatypeNone},
		{"something else", types.MetatypeNone},
		{"", types.MetatypeNone},
	}
	for _, tc := range cases {
		if got := metatypeFromText(tc.text); got != tc.want {
			t.Errorf("metatypeFromText(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestConfirmationFromWire(t *testing.T) {
	price := dec("50000")
	stop := dec("49000")

	conf, err := confirmationFromWire(wireOrder{
		OrderID:   "venue-1",
		ClOrdID:   "client-1",
		OrdStatus: "New",
		OrdType:   "Limit",
		Price:     &price,
		StopPx:    &stop,
		Currency:  "XBt",
	})
	if err != nil {
		t.Fatal(err)
	}

	if conf.OrderID != "client-1" || conf.VenueID != "venue-1" {
		t.Errorf("ids = %q/%q", conf.OrderID, conf.VenueID)
	}
	if conf.Status != types.OrderStatusNew {
		t.Errorf("status = %v", conf.Status)
	}
	if !conf.Price.Equal(price) || !conf.StopPrice.Equal(stop) {
		t.Errorf("prices = %v/%v", conf.Price, conf.StopPrice)
	}
}

func TestCancelReplyFromWire(t *testing.T) {
	price := dec("50000")
	filledErr := cancelRaceFilled
	cancelledErr := cancelRaceCancelled
	weirdErr := "order locked by risk desk"

	t.Run("cancelled", func(t *testing.T) {
		r := cancelReplyFromWire(wireOrder{
			OrderID: "v1", ClOrdID: "c1", OrdType: "Limit", OrdStatus: "Canceled", Price: &price,
		})
		if r.Outcome != venue.CancelOutcomeCancelled {
			t.Errorf("outcome = %v", r.Outcome)
		}
		if !r.Price.Equal(price) {
			t.Errorf("price = %v", r.Price)
		}
	})

	t.Run("already filled", func(t *testing.T) {
		r := cancelReplyFromWire(wireOrder{
			OrderID: "v2", ClOrdID: "c2", OrdType: "Limit", Error: &filledErr,
		})
		if r.Outcome != venue.CancelOutcomeAlreadyFilled {
			t.Errorf("outcome = %v", r.Outcome)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		r := cancelReplyFromWire(wireOrder{
			OrderID: "v3", ClOrdID: "c3", OrdType: "Limit", Error: &cancelledErr,
		})
		if r.Outcome != venue.CancelOutcomeAlreadyCancelled {
			t.Errorf("outcome = %v", r.Outcome)
		}
	})

	t.Run("unknown error string", func(t *testing.T) {
		r := cancelReplyFromWire(wireOrder{
			OrderID: "v4", ClOrdID: "c4", OrdType: "Limit", Error: &weirdErr,
		})
		if r.Outcome != venue.CancelOutcomeUnhandled {
			t.Errorf("outcome = %v", r.Outcome)
		}
		if r.Raw != weirdErr {
			t.Errorf("raw = %q, payload not preserved", r.Raw)
		}
	})

	t.Run("stop order price comes from trigger", func(t *testing.T) {
		stop := dec("49000")
		r := cancelReplyFromWire(wireOrder{
			OrderID: "v5", ClOrdID: "c5", OrdType: "Stop", OrdStatus: "Canceled", StopPx: &stop,
		})
		if !r.Price.Equal(stop) {
			t.Errorf("price = %v, want stop trigger", r.Price)
		}
	})
}
