package router

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
	"github.com/kaigouthro/trading-server/internal/venue"
	"github.com/kaigouthro/trading-server/internal/venue/venuetest"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testSignal() types.Signal {
	return types.Signal{
		ID:           "sig-1",
		Symbol:       "XBTUSD",
		Direction:    types.SideLong,
		Timeframe:    "1H",
		StrategyName: "ema-cross",
		Venue:        "TestVenue",
		EntryPrice:   dec("50000"),
		OrderType:    types.OrderTypeLimit,
		StopPrice:    dec("49000"),
		TargetPrice:  dec("52000"),
		Size:         dec("100"),
	}
}

func TestBuildIntents(t *testing.T) {
	r := New(venuetest.New(""), nil)
	intents := r.BuildIntents(testSignal())

	if len(intents) != 3 {
		t.Fatalf("intents = %d, want entry+stop+target", len(intents))
	}

	entry, stop, target := intents[0], intents[1], intents[2]

	if entry.Metatype != types.MetatypeEntry || entry.Direction != types.SideLong {
		t.Errorf("entry = %+v", entry)
	}
	if stop.Metatype != types.MetatypeStop || stop.OrderType != types.OrderTypeStop {
		t.Errorf("stop = %+v", stop)
	}
	if stop.Direction != types.SideShort || !stop.ReduceOnly {
		t.Errorf("stop not an opposing reduce-only order: %+v", stop)
	}
	if !stop.Price.Equal(dec("49000")) {
		t.Errorf("stop price = %v", stop.Price)
	}
	if target.Metatype != types.MetatypeFinalTakeProfit || !target.Price.Equal(dec("52000")) {
		t.Errorf("target = %+v", target)
	}

	ids := map[string]bool{}
	for _, in := range intents {
		if in.OrderID == "" {
			t.Error("missing order id")
		}
		if ids[in.OrderID] {
			t.Errorf("duplicate order id %q", in.OrderID)
		}
		ids[in.OrderID] = true
		if in.TradeID != "sig-1" {
			t.Errorf("trade id = %q", in.TradeID)
		}
		if in.BatchSize != 3 {
			t.Errorf("batch size = %d", in.BatchSize)
		}
	}
}

func TestBuildIntentsEntryOnly(t *testing.T) {
	sig := testSignal()
	sig.StopPrice = decimal.Zero
	sig.TargetPrice = decimal.Zero

	r := New(venuetest.New(""), nil)
	intents := r.BuildIntents(sig)
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want entry only", len(intents))
	}
	if intents[0].BatchSize != 1 {
		t.Errorf("batch size = %d", intents[0].BatchSize)
	}
}

func TestSubmitSplitsMarketFromBatch(t *testing.T) {
	fake := venuetest.New("")
	r := New(fake, nil)

	intents := []types.OrderIntent{
		{OrderID: "m1", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeMarket},
		{OrderID: "l1", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeLimit, Price: dec("50000")},
		{OrderID: "s1", Symbol: "XBTUSD", Direction: types.SideShort, Size: dec("10"), OrderType: types.OrderTypeStop, Price: dec("49000")},
		{OrderID: "m2", Symbol: "XBTUSD", Direction: types.SideShort, Size: dec("10"), OrderType: types.OrderTypeMarket},
	}

	records, err := r.Submit(context.Background(), intents)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d", len(records))
	}

	// Output is bijective with the input by order id.
	got := map[string]types.OrderRecord{}
	for _, rec := range records {
		if rec.VenueID == "" {
			t.Errorf("record %q missing venue id", rec.OrderID)
		}
		if _, dup := got[rec.OrderID]; dup {
			t.Errorf("order id %q appears twice", rec.OrderID)
		}
		got[rec.OrderID] = rec
	}
	for _, intent := range intents {
		if _, ok := got[intent.OrderID]; !ok {
			t.Errorf("order id %q missing from output", intent.OrderID)
		}
	}
}

func TestSubmitEmptyIsNoop(t *testing.T) {
	r := New(venuetest.New(""), nil)
	records, err := r.Submit(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Errorf("records = %v", records)
	}
}

func TestSubmitAllMarketSkipsBatch(t *testing.T) {
	fake := venuetest.New("")
	r := New(fake, nil)

	records, err := r.Submit(context.Background(), []types.OrderIntent{
		{OrderID: "m1", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeMarket},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	if len(fake.Submitted) != 1 {
		t.Errorf("venue saw %d submissions", len(fake.Submitted))
	}
}

func TestSubmitRejectionIsFatal(t *testing.T) {
	fake := venuetest.New("")
	fake.FailNext(401)
	r := New(fake, nil)

	_, err := r.Submit(context.Background(), []types.OrderIntent{
		{OrderID: "m1", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeMarket},
	})
	if !errors.Is(err, types.ErrVenueRejected) {
		t.Fatalf("err = %v, want ErrVenueRejected", err)
	}
}

func TestSubmitOverloadDropsWithoutError(t *testing.T) {
	fake := venuetest.New("")
	fake.FailNext(503)
	r := New(fake, nil)

	records, err := r.Submit(context.Background(), []types.OrderIntent{
		{OrderID: "l1", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeLimit, Price: dec("50000")},
	})
	if err != nil {
		t.Fatalf("overload must not error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want dropped", len(records))
	}
}

func TestSubmitDuplicateOrderID(t *testing.T) {
	fake := venuetest.New("")
	r := New(fake, nil)

	intent := types.OrderIntent{
		OrderID: "dup", Symbol: "XBTUSD", Direction: types.SideLong,
		Size: dec("10"), OrderType: types.OrderTypeMarket,
	}
	if _, err := r.Submit(context.Background(), []types.OrderIntent{intent}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Submit(context.Background(), []types.OrderIntent{intent})
	if !errors.Is(err, types.ErrDuplicateOrder) {
		t.Fatalf("err = %v, want ErrDuplicateOrder", err)
	}
	if len(fake.Submitted) != 1 {
		t.Errorf("duplicate reached the venue")
	}
}

func TestCancelEmptyIsNoop(t *testing.T) {
	r := New(venuetest.New(""), nil)
	confirmed, err := r.Cancel(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(confirmed) != 0 {
		t.Errorf("confirmed = %v", confirmed)
	}
}

func TestCancelRacesAreTerminalConfirmations(t *testing.T) {
	fake := venuetest.New("")
	r := New(fake, nil)

	records, err := r.Submit(context.Background(), []types.OrderIntent{
		{OrderID: "a", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeLimit, Price: dec("50000")},
		{OrderID: "b", Symbol: "XBTUSD", Direction: types.SideLong, Size: dec("10"), OrderType: types.OrderTypeLimit, Price: dec("50100")},
	})
	if err != nil {
		t.Fatal(err)
	}

	// One order fills before the cancel arrives.
	if err := fake.Fill("a", dec("50000")); err != nil {
		t.Fatal(err)
	}

	ids := []string{records[0].VenueID, records[1].VenueID}
	confirmed, err := r.Cancel(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if len(confirmed) != 2 {
		t.Fatalf("confirmed = %d", len(confirmed))
	}

	var aID, bID string
	for _, rec := range records {
		if rec.OrderID == "a" {
			aID = rec.VenueID
		} else {
			bID = rec.VenueID
		}
	}
	if confirmed[aID].Status != types.OrderStatusFilled {
		t.Errorf("filled race status = %v", confirmed[aID].Status)
	}
	if confirmed[bID].Status != types.OrderStatusCancelled {
		t.Errorf("cancel status = %v", confirmed[bID].Status)
	}

	// Cancelling again is idempotent: already-cancelled is still terminal.
	again, err := r.Cancel(context.Background(), []string{bID})
	if err != nil {
		t.Fatal(err)
	}
	if again[bID].Status != types.OrderStatusCancelled {
		t.Errorf("repeat cancel status = %v", again[bID].Status)
	}
}

func TestCancelUnhandledVocabulary(t *testing.T) {
	fake := venuetest.New("")
	fake.ScriptCancel("v-weird", venue.CancelReply{
		OrderID: "c1",
		Outcome: venue.CancelOutcomeUnhandled,
		Raw:     "order locked by risk desk",
	})
	r := New(fake, nil)

	_, err := r.Cancel(context.Background(), []string{"v-weird"})
	if !errors.Is(err, types.ErrUnhandledCancelCase) {
		t.Fatalf("err = %v, want ErrUnhandledCancelCase", err)
	}
	if err != nil && !strings.Contains(err.Error(), "order locked by risk desk") {
		t.Errorf("payload not preserved: %v", err)
	}
}
