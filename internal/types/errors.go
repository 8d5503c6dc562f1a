package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Venue rejection errors: client-side mistakes, fatal, never retried.
	ErrVenueRejected   = errors.New("order rejected by venue")
	ErrVenueOverloaded = errors.New("venue overloaded")

	// Unknown venue vocabulary: a status or error string outside the known
	// enumeration. Fatal so new venue behavior gets explicit handling.
	ErrUnknownVenueStatus  = errors.New("unknown venue status")
	ErrUnhandledCancelCase = errors.New("unhandled cancellation case")

	// Order errors
	ErrDuplicateOrder   = errors.New("duplicate order id")
	ErrAmbiguousOutcome = errors.New("ambiguous order outcome: reconcile before resubmitting")
	ErrTerminalOrder    = errors.New("order already in terminal state")

	// Data integrity errors
	ErrTickIntegrity = errors.New("tick data timestamp mismatch")
	ErrStaleData     = errors.New("market data is stale")

	// Configuration errors
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrInvalidTimeframe     = errors.New("invalid timeframe")
	ErrUnknownInstrument    = errors.New("unknown venue/symbol pair")
	ErrUnknownStrategy      = errors.New("unknown strategy name")
	ErrInsufficientLookback = errors.New("bar window shorter than required lookback")

	// Connection errors
	ErrNotConnected      = errors.New("venue not connected")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
