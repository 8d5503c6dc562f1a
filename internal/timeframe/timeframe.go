// Package timeframe derives the aggregation timeframes required to support a
// set of operating timeframes. Every operating timeframe needs a larger
// "trigger" timeframe so its closing bar can be validated against the next
// level up.
package timeframe

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaigouthro/trading-server/internal/types"
)

// Unit is the time unit of a timeframe string.
type Unit string

const (
	UnitMinute Unit = "Min"
	UnitHour   Unit = "H"
	UnitDay    Unit = "D"
)

// Parse splits a timeframe string like "15Min", "4H" or "1D" into its numeric
// multiple and unit. A string with no numeric prefix is a fatal configuration
// error.
func Parse(tf string) (int, Unit, error) {
	idx := 0
	for idx < len(tf) && tf[idx] >= '0' && tf[idx] <= '9' {
		idx++
	}
	if idx == 0 {
		return 0, "", fmt.Errorf("%w: %q has no numeric prefix", types.ErrInvalidTimeframe, tf)
	}

	n, err := strconv.Atoi(tf[:idx])
	if err != nil || n <= 0 {
		return 0, "", fmt.Errorf("%w: %q", types.ErrInvalidTimeframe, tf)
	}

	switch Unit(tf[idx:]) {
	case UnitMinute:
		return n, UnitMinute, nil
	case UnitHour:
		return n, UnitHour, nil
	case UnitDay:
		return n, UnitDay, nil
	default:
		return 0, "", fmt.Errorf("%w: %q has unknown unit", types.ErrInvalidTimeframe, tf)
	}
}

// Duration converts a timeframe string to a time.Duration.
func Duration(tf string) (time.Duration, error) {
	n, unit, err := Parse(tf)
	if err != nil {
		return 0, err
	}
	switch unit {
	case UnitMinute:
		return time.Duration(n) * time.Minute, nil
	case UnitHour:
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

// trigger returns the trigger timeframe for a single operating timeframe.
// The small intraday steps follow a fixed table; everything else doubles
// within its own unit.
func trigger(tf string) (string, error) {
	switch tf {
	case "1Min":
		return "3Min", nil
	case "3Min":
		return "5Min", nil
	case "5Min":
		return "15Min", nil
	case "30Min":
		return "1H", nil
	case "12H", "16H":
		return "1D", nil
	}

	n, unit, err := Parse(tf)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d%s", 2*n, unit), nil
}

// DeriveTriggers extends tfs in place with the trigger timeframes required by
// its entries. Each derived timeframe is appended at most once, deduplicated
// against both the original set and previously derived entries, in input
// iteration order. The extended slice is returned.
func DeriveTriggers(tfs []string) ([]string, error) {
	seen := make(map[string]bool, len(tfs))
	for _, tf := range tfs {
		seen[tf] = true
	}

	// Only the original entries derive triggers; a derived entry does not
	// cascade into further derivations.
	n := len(tfs)
	for i := 0; i < n; i++ {
		tf := tfs[i]
		trig, err := trigger(tf)
		if err != nil {
			return nil, err
		}
		if seen[trig] {
			continue
		}
		seen[trig] = true
		tfs = append(tfs, trig)
	}

	return tfs, nil
}

// ClosingAt returns the subset of tfs whose bar closes at t. Used by the
// engine to decide which timeframes a minute boundary completes. Hour and day
// timeframes are anchored at midnight UTC.
func ClosingAt(tfs []string, t time.Time) ([]string, error) {
	t = t.UTC()
	var out []string
	for _, tf := range tfs {
		d, err := Duration(tf)
		if err != nil {
			return nil, err
		}
		if t.Truncate(d).Equal(t) {
			out = append(out, tf)
		}
	}
	return out, nil
}

// Normalize trims whitespace and validates every entry, returning a fatal
// error on the first malformed timeframe.
func Normalize(tfs []string) ([]string, error) {
	out := make([]string, 0, len(tfs))
	for _, tf := range tfs {
		tf = strings.TrimSpace(tf)
		if _, _, err := Parse(tf); err != nil {
			return nil, err
		}
		out = append(out, tf)
	}
	return out, nil
}
