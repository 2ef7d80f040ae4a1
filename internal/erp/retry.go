package erp

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryPolicy bounds how transport failures are retried. Remote rejections
// and authentication failures are never retried.
type RetryPolicy struct {
	// Attempts is the total number of tries; values below 1 mean 1.
	Attempts int
	// Delay is the wait after the first failed attempt.
	Delay time.Duration
	// Backoff multiplies the wait after each further failure.
	Backoff float64
	// MaxDelay caps any single wait. Zero means no cap.
	MaxDelay time.Duration
}

// NoRetry performs every call exactly once.
var NoRetry = RetryPolicy{Attempts: 1}

// Wait returns how long to sleep after the given failed attempt (1-based):
// Delay * Backoff^(attempt-1), capped at MaxDelay.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.Backoff
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.Delay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryable reports whether err is a transport failure worth another try.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return false
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// do runs fn until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made.
func (p RetryPolicy) do(ctx context.Context, sleep SleepFunc, onRetry func(attempt int, wait time.Duration, err error), fn func() error) (int, error) {
	limit := p.attempts()
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return attempt, nil
		}
		if attempt >= limit || !retryable(err) {
			return attempt, err
		}
		wait := p.Wait(attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}
