package config

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kaigouthro/trading-server/internal/types"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

const validYAML = `
venues:
  - name: BitMEX
    base_url: https://www.bitmex.com/api/v1
    ws_url: wss://www.bitmex.com/realtime
    api_key: ${TEST_BITMEX_KEY}
    api_secret: secret
    rate_limit_per_second: 5
    instruments:
      - symbol: XBTUSD
        min_increment: "0.5"
      - symbol: ETHUSD
        min_increment: "0.05"
strategies:
  - name: ema-cross
    timeframes: [1Min, 1H]
    instruments:
      BitMEX: [XBTUSD]
persistence:
  enabled: true
  path: /tmp/trading.db
metrics:
  enabled: true
`

func TestLoadValid(t *testing.T) {
	os.Setenv("TEST_BITMEX_KEY", "key-from-env")
	defer os.Unsetenv("TEST_BITMEX_KEY")

	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Venues[0].APIKey != "key-from-env" {
		t.Errorf("api key not env-expanded: %q", cfg.Venues[0].APIKey)
	}

	incs := cfg.Venues[0].MinIncrements()
	if !incs["XBTUSD"].Equal(dec("0.5")) {
		t.Errorf("increments = %v", incs)
	}
	if got := cfg.Venues[0].Symbols(); len(got) != 2 || got[0] != "XBTUSD" {
		t.Errorf("symbols = %v", got)
	}

	// Defaults filled during validation.
	if cfg.Engine.ReconcileIntervalSec != 30 {
		t.Errorf("reconcile default = %d", cfg.Engine.ReconcileIntervalSec)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("metrics port default = %d", cfg.Metrics.Port)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	bad := `
venues:
  - name: BitMEX
    instruments:
      - symbol: XBTUSD
        min_increment: "-1"
strategies:
  - name: ema-cross
    timeframes: [Wat]
    instruments:
      Binance: [BTCUSDT]
`
	_, err := LoadFromBytes([]byte(bad))
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	for _, want := range []string{
		"base_url is required",
		"min_increment",
		"invalid timeframe 'Wat'",
		"unknown venue 'Binance'",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidateUnknownSymbolOnVenue(t *testing.T) {
	bad := strings.Replace(validYAML, "BitMEX: [XBTUSD]", "BitMEX: [SOLUSD]", 1)
	_, err := LoadFromBytes([]byte(bad))
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "symbol 'SOLUSD' not configured on venue 'BitMEX'") {
		t.Errorf("err = %v", err)
	}
}

func TestVenueLookup(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cfg.Venue("BitMEX"); err != nil {
		t.Errorf("known venue: %v", err)
	}
	if _, err := cfg.Venue("FTX"); err == nil {
		t.Error("unknown venue did not error")
	}
}

func TestIsAlertEventEnabled(t *testing.T) {
	cfg := &Config{Alerting: AlertingConfig{Enabled: true, Events: []string{"fatal"}}}
	if !cfg.IsAlertEventEnabled("fatal") {
		t.Error("configured event disabled")
	}
	if cfg.IsAlertEventEnabled("startup") {
		t.Error("unconfigured event enabled")
	}

	cfg.Alerting.Events = nil
	if !cfg.IsAlertEventEnabled("anything") {
		t.Error("empty event list must enable all")
	}

	cfg.Alerting.Enabled = false
	if cfg.IsAlertEventEnabled("fatal") {
		t.Error("disabled alerting still enabled")
	}
}
