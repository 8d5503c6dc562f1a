// Package alerting provides notification capabilities for the trading server.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// Field represents a key-value pair for structured alert data.
type Field struct {
	Key   string
	Value any
}

// FormatFields converts variadic fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventUnknownVenueVocabulary is sent when a venue reports a status or
	// error string outside the known set.
	EventUnknownVenueVocabulary AlertEvent = "unknown_venue_vocabulary"
	// EventReconcileDivergence is sent when a tracked order stays missing
	// from venue snapshots past the grace window.
	EventReconcileDivergence AlertEvent = "reconcile_divergence"
	// EventAmbiguousOrder is sent when a submission outcome was never
	// observed and needs resolution.
	EventAmbiguousOrder AlertEvent = "ambiguous_order"
	// EventOrderFilled is sent when an order is filled.
	EventOrderFilled AlertEvent = "order_filled"
	// EventOrderRejected is sent when a venue rejects an order.
	EventOrderRejected AlertEvent = "order_rejected"
	// EventVenueOverloaded is sent when orders are dropped on overload.
	EventVenueOverloaded AlertEvent = "venue_overloaded"
	// EventPositionOpened is sent when a position is opened.
	EventPositionOpened AlertEvent = "position_opened"
	// EventPositionClosed is sent when a position is closed.
	EventPositionClosed AlertEvent = "position_closed"
	// EventStreamLost is sent when the market data stream drops.
	EventStreamLost AlertEvent = "stream_lost"
	// EventStreamRestored is sent when the market data stream reconnects.
	EventStreamRestored AlertEvent = "stream_restored"
	// EventServerStarted is sent when the server starts.
	EventServerStarted AlertEvent = "server_started"
	// EventServerStopped is sent when the server stops.
	EventServerStopped AlertEvent = "server_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventUnknownVenueVocabulary:
		return SeverityCritical
	case EventReconcileDivergence, EventAmbiguousOrder:
		return SeverityHigh
	case EventOrderRejected, EventVenueOverloaded, EventStreamLost:
		return SeverityWarning
	case EventOrderFilled, EventPositionOpened, EventPositionClosed:
		return SeverityInfo
	case EventServerStarted, EventServerStopped, EventStreamRestored:
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
