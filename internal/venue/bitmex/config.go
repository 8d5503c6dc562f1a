package bitmex

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds BitMEX connectivity settings.
type Config struct {
	BaseURL string
	WSURL   string

	APIKey    string
	APISecret string

	// RequestTimeout bounds every REST call.
	RequestTimeout time.Duration
	// ExpiryWindow is the request validity window sent in api-expires.
	ExpiryWindow time.Duration
	// MaxRetries bounds transport-level retries on 502/503/504.
	MaxRetries int
	// RetryBackoff is the initial backoff between transport retries.
	RetryBackoff time.Duration
	// MaxRequestsPerSecond feeds the outbound rate limiter.
	MaxRequestsPerSecond int

	// MinIncrements maps symbol to its minimum price increment.
	MinIncrements map[string]decimal.Decimal
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:              "https://www.bitmex.com/api/v1",
		WSURL:                "wss://www.bitmex.com/realtime",
		RequestTimeout:       10 * time.Second,
		ExpiryWindow:         10 * time.Second,
		MaxRetries:           5,
		RetryBackoff:         250 * time.Millisecond,
		MaxRequestsPerSecond: 10,
		MinIncrements: map[string]decimal.Decimal{
			"XBTUSD":   decimal.RequireFromString("0.5"),
			"ETHUSD":   decimal.RequireFromString("0.05"),
			"XRPUSD":   decimal.RequireFromString("0.0001"),
			"BCHUSD":   decimal.RequireFromString("0.05"),
			"LTCUSD":   decimal.RequireFromString("0.01"),
			"LINKUSDT": decimal.RequireFromString("0.0005"),
		},
	}
}

// MaxBarsPerRequest is the venue's cap on bars returned by one request.
const MaxBarsPerRequest = 750
