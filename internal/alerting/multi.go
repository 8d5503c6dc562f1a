package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// MultiAlerter fans an alert out to every configured channel. Delivery is
// sequential; a failing channel never blocks the others from being tried.
type MultiAlerter struct {
	mu       sync.RWMutex
	alerters []Alerter
	logger   *slog.Logger
}

// NewMultiAlerter creates a fan-out alerter over the given channels.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{alerters: alerters, logger: logger}
}

func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter registers another delivery channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerters = append(m.alerters, alerter)
}

// Alert delivers to every channel and joins any failures into one error.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	var errs []error
	for _, a := range alerters {
		if err := a.Alert(ctx, severity, message, fields...); err != nil {
			m.logger.Error("alert delivery failed",
				"alerter", a.Name(),
				"severity", severity.String(),
				"err", err,
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertEvent delivers a predefined event at its default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}
