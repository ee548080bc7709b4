package intercept

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"
)

// ExitSignal is raised once when the process is shutting down. Bounded
// waits performed by the pipeline and by aspects observe it.
type ExitSignal struct {
	once sync.Once
	ch   chan struct{}
}

// ApplicationExiting is the process-wide exit signal used when a pipeline
// is not given its own.
var ApplicationExiting = NewExitSignal()

func NewExitSignal() *ExitSignal {
	return &ExitSignal{ch: make(chan struct{})}
}

// Raise fires the signal. Calling it more than once is harmless.
func (s *ExitSignal) Raise() {
	s.once.Do(func() { close(s.ch) })
}

// Raised reports whether Raise was called.
func (s *ExitSignal) Raised() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed when the signal is raised.
func (s *ExitSignal) Done() <-chan struct{} {
	return s.ch
}

// WithContext derives a context that is also cancelled by the signal.
func (s *ExitSignal) WithContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-s.ch:
			cancel(ErrExiting)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// NotifyOnSignals raises the signal when one of sigs is delivered. The
// returned function stops listening.
func (s *ExitSignal) NotifyOnSignals(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			s.Raise()
		case <-done:
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
		})
	}
}

func exitOrDefault(s *ExitSignal) *ExitSignal {
	if s == nil {
		return ApplicationExiting
	}
	return s
}

// SleepResult tells whether a Sleep ran its full duration.
type SleepResult int

const (
	SleepCompleted SleepResult = iota
	SleepAborted
)

func (r SleepResult) String() string {
	if r == SleepAborted {
		return "Aborted"
	}
	return "Completed"
}

// Sleep blocks for d unless ctx is done or sig is raised first. A nil sig
// means ApplicationExiting.
func Sleep(ctx context.Context, d time.Duration, sig *ExitSignal) SleepResult {
	sig = exitOrDefault(sig)
	if sig.Raised() || ctx.Err() != nil {
		return SleepAborted
	}
	if d <= 0 {
		return SleepCompleted
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return SleepCompleted
	case <-ctx.Done():
		return SleepAborted
	case <-sig.Done():
		return SleepAborted
	}
}
