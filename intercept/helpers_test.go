package intercept

import (
	"context"
	"sync"
	"testing"
	"time"
)

// stageRecorder counts every stage it sees and remembers the order.
type stageRecorder struct {
	name   string
	mu     sync.Mutex
	order  []Stage
	states map[Stage]State
}

func newStageRecorder(name string) *stageRecorder {
	return &stageRecorder{name: name, states: make(map[Stage]State)}
}

func (r *stageRecorder) Name() string { return r.name }

func (r *stageRecorder) Stages() Stages {
	stages := make(Stages)
	for _, stage := range AllStages() {
		stages[stage] = func(_ context.Context, ac *AspectContext) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.order = append(r.order, stage)
			r.states[stage] = ac.State()
			return nil
		}
	}
	return stages
}

func (r *stageRecorder) count(stage Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.order {
		if s == stage {
			n++
		}
	}
	return n
}

// lineSink collects the lines written at the end of each run.
type lineSink struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (s *lineSink) Write(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *lineSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// account is a stand-in for a data-engine-backed instance.
// Deposits stay pending until committed.
type account struct {
	mu        sync.Mutex
	balance   int
	pending   int
	commits   int
	tunes     int
	resets    int
	releases  int
	commitErr error
	resetErr  error
}

func (a *account) Deposit(amount int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending += amount
	return a.balance + a.pending, nil
}

func (a *account) CommitChanges(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.commitErr != nil {
		return 0, a.commitErr
	}
	a.balance += a.pending
	a.pending = 0
	a.commits++
	return 1, nil
}

func (a *account) ResetChanges(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets++
	a.pending = 0
	return a.resetErr
}

func (a *account) TuneConnection(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tunes++
	return nil
}

func (a *account) Release(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releases++
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2012, time.February, 29, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// retryUntil requests a retry while fewer than n attempts were made.
func retryUntil(n int) Aspect {
	return NewAspect("retry-until", On(StageAfterException, func(_ context.Context, ac *AspectContext) error {
		if ac.AttemptsMade() < n {
			ac.RequestRetry()
		}
		return nil
	}))
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func mustRunStatic(t *testing.T, p *Pipeline, fn func(ctx context.Context) (int, error), opts ...CallOption) (int, error) {
	t.Helper()
	return InvokeStatic(context.Background(), p.Static("calc").With(opts...), "Compute", fn, In("x", 1))
}
