package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds in-call retry configuration
type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	MaxTotalTimeout time.Duration
}

// DefaultConfig returns a retry configuration suited to short-lived calls (cache, search, pubsub)
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 10 * time.Second,
	}
}

// Do executes fn with exponential backoff. onRetry, if set, is called before each wait.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxTotalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxTotalTimeout)
		defer cancel()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt-1, err, lastErr)
			}
			return fmt.Errorf("retry aborted: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w (last error: %v)", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// StepSchedule maps the number of failures already recorded to the wait before
// the next attempt. Counts past the end of Steps reuse the last step.
type StepSchedule struct {
	Steps []time.Duration
}

// AIJobSchedule is the schedule used for failed AI summary jobs: 2m, 5m, then 10m.
var AIJobSchedule = StepSchedule{
	Steps: []time.Duration{2 * time.Minute, 5 * time.Minute, 10 * time.Minute},
}

// Delay returns the wait for a job that has already failed priorFailures times.
func (s StepSchedule) Delay(priorFailures int) time.Duration {
	if len(s.Steps) == 0 {
		return 0
	}
	if priorFailures < 0 {
		priorFailures = 0
	}
	if priorFailures >= len(s.Steps) {
		return s.Steps[len(s.Steps)-1]
	}
	return s.Steps[priorFailures]
}

// Next returns the time of the next attempt measured from now.
func (s StepSchedule) Next(now time.Time, priorFailures int) time.Time {
	return now.Add(s.Delay(priorFailures))
}
