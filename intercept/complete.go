package intercept

import (
	"context"
	"time"
)

// Future is an operation running in the background whose result can be
// awaited with a timeout.
type Future[R any] struct {
	name  string
	done  chan struct{}
	value R
	err   error
}

// Go starts fn on a context that keeps ctx values but not its
// cancellation, so a caller giving up on the wait does not abort fn.
func Go[R any](ctx context.Context, name string, fn func(ctx context.Context) (R, error)) *Future[R] {
	f := &Future[R]{name: name, done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	go func() {
		defer close(f.done)
		f.value, f.err = fn(detached)
	}()
	return f
}

// Done is closed once the operation finished.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome of a finished operation. It blocks until
// then.
func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.value, f.err
}

// Complete waits up to timeout for the result. A negative timeout waits
// indefinitely. On timeout a *TimeoutError is returned and the operation
// keeps running.
func (f *Future[R]) Complete(timeout time.Duration) (R, error) {
	return f.CompleteContext(context.Background(), timeout, nil)
}

// CompleteContext is Complete that also gives up when ctx is done or sig
// is raised.
func (f *Future[R]) CompleteContext(ctx context.Context, timeout time.Duration, sig *ExitSignal) (R, error) {
	sig = exitOrDefault(sig)

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var zero R
	select {
	case <-f.done:
		return f.value, f.err
	case <-expired:
		select {
		case <-f.done:
			return f.value, f.err
		default:
		}
		return zero, &TimeoutError{Operation: f.name, After: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-sig.Done():
		return zero, ErrExiting
	}
}

// Complete runs fn and waits up to timeout for it.
func Complete[R any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (R, error)) (R, error) {
	return Go(ctx, "", fn).CompleteContext(ctx, timeout, nil)
}
