package retry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Default extraction policy values
const (
	DefaultMaxAttempts   = 3
	DefaultFallbackDelay = 2 * time.Second
)

// DefaultOverloadSchedule is indexed by attempt number (1-based) for overload errors.
var DefaultOverloadSchedule = []time.Duration{1 * time.Second, 3 * time.Second, 10 * time.Second}

// ErrInvalidPolicy is returned when a policy cannot run any attempt.
var ErrInvalidPolicy = errors.New("retry policy needs at least one attempt")

// Policy describes how a call is retried.
type Policy struct {
	// MaxAttempts counts the first call.
	MaxAttempts int
	// Delay returns the wait after a failed attempt (1-based).
	Delay func(attempt int, err error) time.Duration
	// Retryable decides whether err deserves another attempt. Nil retries everything.
	Retryable func(err error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// NewSchedulePolicy builds the two-branch policy: errors classified as overload wait
// schedule[attempt-1], everything else waits fallback.
func NewSchedulePolicy(maxAttempts int, schedule []time.Duration, fallback time.Duration, overloaded func(error) bool) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       ScheduleDelay(schedule, fallback, overloaded),
	}
}

// DefaultPolicy is the extraction policy: 3 attempts, 1s/3s/10s on overload, 2s otherwise.
func DefaultPolicy() Policy {
	return NewSchedulePolicy(DefaultMaxAttempts, DefaultOverloadSchedule, DefaultFallbackDelay, IsOverloaded)
}

// ScheduleDelay returns a Delay function. Attempts beyond the schedule reuse its last entry.
func ScheduleDelay(schedule []time.Duration, fallback time.Duration, overloaded func(error) bool) func(int, error) time.Duration {
	return func(attempt int, err error) time.Duration {
		if overloaded == nil || !overloaded(err) || len(schedule) == 0 {
			return fallback
		}
		idx := attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(schedule) {
			idx = len(schedule) - 1
		}
		return schedule[idx]
	}
}

var overloadMarkers = []string{
	"overloaded",
	"resource exhausted",
	"resource_exhausted",
	"unavailable",
	"too many requests",
	"429",
	"503",
}

// IsOverloaded reports whether err says the remote service is saturated.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range overloadMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Do runs fn until it succeeds, the policy gives up or ctx is done.
// It returns the value, the number of attempts made and the last error.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T
	if p.MaxAttempts <= 0 {
		return zero, 0, ErrInvalidPolicy
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = timerSleep
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, attempt - 1, lastErr
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			return zero, attempt, lastErr
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, attempt, lastErr
		}

		var delay time.Duration
		if p.Delay != nil {
			delay = p.Delay(attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}

	return zero, p.MaxAttempts, lastErr
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
