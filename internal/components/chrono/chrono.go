package chrono

import (
	"context"
	"time"
)

// API is the clock used by components that wait, it exists so tests do not
// have to sleep for real.
type API interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

func (StandardImpl) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
