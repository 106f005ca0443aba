package crawler

import (
	"context"
	"fmt"
	"time"
)

// PauseController abstracts how callers wait out a retry backoff.
type PauseController interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPause sleeps on a timer and wakes early when ctx is done.
type TimerPause struct{}

// Pause blocks for delay. It returns the context error if ctx finishes first.
func (TimerPause) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
