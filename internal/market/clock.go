package market

import (
	"context"
	"time"
)

// NextBoundary returns the first minute boundary strictly after t.
func NextBoundary(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

// WaitBoundary sleeps until the next minute boundary and returns it, so bar
// scraping and model runs stay aligned to wall-clock minutes regardless of
// when the process started.
func WaitBoundary(ctx context.Context) (time.Time, error) {
	boundary := NextBoundary(time.Now().UTC())

	timer := time.NewTimer(time.Until(boundary))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return time.Time{}, ctx.Err()
	case <-timer.C:
		return boundary, nil
	}
}
