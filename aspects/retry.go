package aspects

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/goliatone/go-intercept/intercept"
)

// Entry keys written by RetryAspect.
const (
	KeyFailedCallRetry = "Failed call retry"
	KeyRetryExhausted  = "Retry limit reached"
	KeyRetrySkipped    = "Retry skipped"
	KeyRetryAborted    = "Retry aborted"
)

// jitterFraction is the maximum jitter as a fraction of the delay (±25%).
const jitterFraction = 0.25

// RetryAspect asks for another attempt after a failure until the call
// has been tried limit times.
type RetryAspect struct {
	name       string
	limit      int
	retryIf    func(error) bool
	initial    time.Duration
	max        time.Duration
	multiplier float64
	random     func() float64
}

// RetryOption configures a RetryAspect.
type RetryOption func(*RetryAspect)

// RetryIf restricts retries to errors accepted by classify.
func RetryIf(classify func(error) bool) RetryOption {
	return func(a *RetryAspect) {
		a.retryIf = classify
	}
}

// WithBackoff waits between attempts: initial, growing by multiplier up to
// max, with ±25% jitter.
func WithBackoff(initial, max time.Duration, multiplier float64) RetryOption {
	return func(a *RetryAspect) {
		a.initial = initial
		a.max = max
		if multiplier < 1 {
			multiplier = 1
		}
		a.multiplier = multiplier
	}
}

// WithRetryName overrides the aspect name shown in log entries.
func WithRetryName(name string) RetryOption {
	return func(a *RetryAspect) {
		if name != "" {
			a.name = name
		}
	}
}

func NewRetryAspect(limit int, opts ...RetryOption) *RetryAspect {
	if limit < 1 {
		limit = 1
	}
	a := &RetryAspect{
		name:       "retry",
		limit:      limit,
		retryIf:    Transient,
		multiplier: 2,
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ThreeStrikes retries a failed call until it was tried three times.
func ThreeStrikes(opts ...RetryOption) *RetryAspect {
	return NewRetryAspect(3, append([]RetryOption{WithRetryName("three_strikes")}, opts...)...)
}

// Transient accepts every error except context cancellation, deadline
// expiry and invalid call shapes.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, intercept.ErrInvalidCallShape):
		return false
	}
	return true
}

func (a *RetryAspect) Name() string { return a.name }

// Limit is the number of attempts the aspect allows.
func (a *RetryAspect) Limit() int { return a.limit }

func (a *RetryAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageAfterException: a.afterException,
	}
}

func (a *RetryAspect) afterException(ctx context.Context, ac *intercept.AspectContext) error {
	attempts := ac.AttemptsMade()
	err := ac.Err()

	if attempts >= a.limit {
		ac.LogWarning(KeyRetryExhausted, "giving up after %d attempts: %v", attempts, err)
		return nil
	}
	if a.retryIf != nil && !a.retryIf(err) {
		ac.LogInfo(KeyRetrySkipped, "%v is not retryable", err)
		return nil
	}

	ac.LogInfo(KeyFailedCallRetry, "%d attempt will be made due to %q.", attempts+1, err.Error())

	if delay := a.backoff(attempts); delay > 0 {
		if intercept.Sleep(ctx, delay, ac.ExitSignal()) == intercept.SleepAborted {
			ac.LogWarning(KeyRetryAborted, "wait of %s interrupted", delay)
			return nil
		}
	}
	ac.RequestRetry()
	return nil
}

// backoff returns the wait before the retry following attempt (1-indexed).
func (a *RetryAspect) backoff(attempt int) time.Duration {
	if a.initial <= 0 {
		return 0
	}
	delay := float64(a.initial) * math.Pow(a.multiplier, float64(attempt-1))
	if a.max > 0 && delay > float64(a.max) {
		delay = float64(a.max)
	}

	jitter := delay * jitterFraction
	delay += jitter * (2*a.random() - 1)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
