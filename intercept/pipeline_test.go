package intercept

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInvokeStatic_NoAspectsWritesNoEntries(t *testing.T) {
	sink := &lineSink{}
	p := New(WithLogOutput(sink, LogFilter{Types: EntryAll}))

	leap, err := InvokeStatic(context.Background(), p.Static("time"), "IsLeapYear",
		func(context.Context) (bool, error) { return isLeapYear(2012), nil },
		In("year", 2012),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !leap {
		t.Errorf("expected 2012 to be a leap year")
	}
	if lines := sink.Lines(); len(lines) != 0 {
		t.Errorf("expected no log lines, got %v", lines)
	}
}

func TestRun_RetryInvokesMethodNPlusOneTimes(t *testing.T) {
	for _, retries := range []int{0, 1, 2, 4} {
		calls := 0
		boom := errors.New("boom")
		p := New(WithAspects(retryUntil(retries+1)), WithMaxAttempts(10))

		_, err := mustRunStatic(t, p, func(context.Context) (int, error) {
			calls++
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("retries=%d: expected boom, got %v", retries, err)
		}
		if calls != retries+1 {
			t.Errorf("retries=%d: expected %d invocations, got %d", retries, retries+1, calls)
		}
	}
}

func TestRun_MaxAttemptsBoundsRetries(t *testing.T) {
	calls := 0
	p := New(WithAspects(retryUntil(100)), WithMaxAttempts(3))

	_, err := mustRunStatic(t, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("always")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 invocations, got %d", calls)
	}
}

func TestRun_FinalExceptionReturnedUnchanged(t *testing.T) {
	boom := &customErr{code: 42}
	p := New(WithAspects(retryUntil(2)))

	_, err := mustRunStatic(t, p, func(context.Context) (int, error) {
		return 0, boom
	})
	if err != error(boom) {
		t.Fatalf("expected the same error value, got %#v", err)
	}
}

type customErr struct{ code int }

func (e *customErr) Error() string { return "custom" }

func TestRun_StageCoverage(t *testing.T) {
	boom := errors.New("boom")
	cacheHit := NewAspect("hit", On(StageBeforeMethodExec, func(_ context.Context, ac *AspectContext) error {
		ac.UseCachedResult(7)
		return nil
	}))

	tests := []struct {
		name    string
		aspects func(rec *stageRecorder) []Aspect
		fails   int
		wantErr bool
		want    map[Stage]int
		calls   int
	}{
		{
			name:    "success",
			aspects: func(rec *stageRecorder) []Aspect { return []Aspect{rec} },
			want: map[Stage]int{
				StageBeforeResolvingInstance: 1, StageBeforeMethodExec: 1, StageAfterSuccess: 1,
				StageAfterException: 0, StageFinally: 1, StageAfterInstanceCleanup: 0, StageDone: 1,
			},
			calls: 1,
		},
		{
			name:    "failure without retry",
			aspects: func(rec *stageRecorder) []Aspect { return []Aspect{rec} },
			fails:   10,
			wantErr: true,
			want: map[Stage]int{
				StageBeforeResolvingInstance: 1, StageBeforeMethodExec: 1, StageAfterSuccess: 0,
				StageAfterException: 1, StageFinally: 1, StageAfterInstanceCleanup: 0, StageDone: 1,
			},
			calls: 1,
		},
		{
			name:    "two failures then success",
			aspects: func(rec *stageRecorder) []Aspect { return []Aspect{retryUntil(3), rec} },
			fails:   2,
			want: map[Stage]int{
				StageBeforeResolvingInstance: 1, StageBeforeMethodExec: 3, StageAfterSuccess: 1,
				StageAfterException: 2, StageFinally: 1, StageAfterInstanceCleanup: 0, StageDone: 1,
			},
			calls: 3,
		},
		{
			name:    "cache hit",
			aspects: func(rec *stageRecorder) []Aspect { return []Aspect{cacheHit, rec} },
			want: map[Stage]int{
				StageBeforeResolvingInstance: 1, StageBeforeMethodExec: 1, StageAfterSuccess: 1,
				StageAfterException: 0, StageFinally: 1, StageAfterInstanceCleanup: 0, StageDone: 1,
			},
			calls: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newStageRecorder("recorder")
			p := New(WithAspects(tt.aspects(rec)...))
			calls := 0

			_, err := mustRunStatic(t, p, func(context.Context) (int, error) {
				calls++
				if calls <= tt.fails {
					return 0, boom
				}
				return 1, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if calls != tt.calls {
				t.Errorf("expected %d method calls, got %d", tt.calls, calls)
			}
			for stage, want := range tt.want {
				if got := rec.count(stage); got != want {
					t.Errorf("%s fired %d times, want %d", stage, got, want)
				}
			}
		})
	}
}

func TestRun_StatesSeenByAspects(t *testing.T) {
	rec := newStageRecorder("recorder")
	p := New(WithAspects(rec))
	acct := &account{}
	proxy := NewProxy(p, func(context.Context) (*account, error) { return acct, nil })

	_, err := Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
		return a.Deposit(10)
	}, In("amount", 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[Stage]State{
		StageBeforeResolvingInstance: StateResolving,
		StageBeforeMethodExec:        StateExecuting,
		StageAfterSuccess:            StateExecuting,
		StageFinally:                 StateFinalizing,
		StageAfterInstanceCleanup:    StateCleaningUp,
		StageDone:                    StateDone,
	}
	for stage, state := range want {
		if got := rec.states[stage]; got != state {
			t.Errorf("%s saw state %s, want %s", stage, got, state)
		}
	}
}

func TestProxy_OwnedInstanceReleasedOnce(t *testing.T) {
	rec := newStageRecorder("recorder")
	p := New(WithAspects(rec))
	var created []*account
	proxy := NewProxy(p, func(context.Context) (*account, error) {
		a := &account{}
		created = append(created, a)
		return a, nil
	})

	for i := 0; i < 2; i++ {
		if _, err := Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
			return a.Deposit(5)
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(created) != 2 {
		t.Fatalf("expected an instance per run, got %d", len(created))
	}
	for i, a := range created {
		if a.releases != 1 {
			t.Errorf("instance %d released %d times", i, a.releases)
		}
	}
	if got := rec.count(StageAfterInstanceCleanup); got != 2 {
		t.Errorf("expected cleanup stage twice, got %d", got)
	}
}

func TestProxy_ExternalInstanceNeverReleased(t *testing.T) {
	rec := newStageRecorder("recorder")
	p := New(WithAspects(rec))
	acct := &account{}
	proxy := ProxyFor(p, acct)

	balance, err := Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
		return a.Deposit(15)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 15 {
		t.Errorf("expected balance 15, got %d", balance)
	}
	if acct.releases != 0 {
		t.Errorf("external instance released %d times", acct.releases)
	}
	if got := rec.count(StageAfterInstanceCleanup); got != 0 {
		t.Errorf("cleanup stage fired %d times for external instance", got)
	}
}

func TestCommit_OnceOnSuccessNeverOnFailure(t *testing.T) {
	sink := &lineSink{}
	p := New(WithAspects(retryUntil(3)), WithLogOutput(sink, LogFilter{Keys: []string{CommitResultKey}}))
	acct := &account{}
	proxy := ProxyFor(p, acct)

	calls := 0
	_, err := Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return a.Deposit(1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.commits != 1 {
		t.Errorf("expected one commit, got %d", acct.commits)
	}
	if lines := sink.Lines(); len(lines) != 1 || !strings.Contains(lines[0], CommitResultKey+" = 1") {
		t.Errorf("expected a commit result line, got %v", lines)
	}

	failing := &account{}
	_, err = Invoke(context.Background(), ProxyFor(New(), failing), "Deposit", func(context.Context, *account) (int, error) {
		return 0, errors.New("fatal")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if failing.commits != 0 {
		t.Errorf("failed call committed %d times", failing.commits)
	}
}

func TestCommit_ErrorIsExecutionException(t *testing.T) {
	commitErr := errors.New("constraint violated")
	acct := &account{commitErr: commitErr}
	rec := newStageRecorder("recorder")

	_, err := Invoke(context.Background(), ProxyFor(New(WithAspects(rec)), acct), "Deposit",
		func(_ context.Context, a *account) (int, error) { return a.Deposit(1) })
	if !errors.Is(err, commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if rec.count(StageAfterSuccess) != 0 || rec.count(StageAfterException) != 1 {
		t.Errorf("commit failure should route to AfterException")
	}
}

func TestCommit_SkippedOnCacheHit(t *testing.T) {
	acct := &account{}
	hit := NewAspect("hit", On(StageBeforeMethodExec, func(_ context.Context, ac *AspectContext) error {
		ac.UseCachedResult(99)
		return nil
	}))

	got, err := Invoke(context.Background(), ProxyFor(New(WithAspects(hit)), acct), "Deposit",
		func(_ context.Context, a *account) (int, error) { return a.Deposit(1) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 99 {
		t.Errorf("expected cached value, got %d", got)
	}
	if acct.commits != 0 || acct.balance != 0 {
		t.Errorf("cache hit must not execute or commit: %+v", acct)
	}
}

func TestConnectionTuning(t *testing.T) {
	acct := &account{}
	p := New(WithAspects(retryUntil(2)), WithConnectionTuning(true))
	calls := 0

	_, err := Invoke(context.Background(), ProxyFor(p, acct), "Deposit", func(_ context.Context, a *account) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("first")
		}
		return a.Deposit(1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.tunes != 2 {
		t.Errorf("expected tuning before each attempt, got %d", acct.tunes)
	}

	untuned := &account{}
	if _, err := Invoke(context.Background(), ProxyFor(New(), untuned), "Deposit",
		func(_ context.Context, a *account) (int, error) { return a.Deposit(1) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if untuned.tunes != 0 {
		t.Errorf("tuning must be opt-in, got %d", untuned.tunes)
	}
}

func TestReset_FailedAttemptsNeverReachCommit(t *testing.T) {
	acct := &account{}
	calls := 0

	balance, err := Invoke(context.Background(), ProxyFor(New(WithAspects(retryUntil(3))), acct), "Deposit",
		func(_ context.Context, a *account) (int, error) {
			calls++
			total, err := a.Deposit(10)
			if err != nil || calls < 3 {
				return 0, errors.Join(err, errors.New("lock timeout"))
			}
			return total, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 10 || acct.balance != 10 {
		t.Errorf("only the successful attempt may be committed, got result %d and balance %d", balance, acct.balance)
	}
	if acct.resets != 2 || acct.tunes != 0 {
		t.Errorf("expected a reset per failed attempt without tuning, got %d resets and %d tunes", acct.resets, acct.tunes)
	}

	final := &account{}
	if _, err := Invoke(context.Background(), ProxyFor(New(), final), "Deposit",
		func(_ context.Context, a *account) (int, error) {
			_, _ = a.Deposit(5)
			return 0, errors.New("fatal")
		}); err == nil {
		t.Fatal("expected error")
	}
	if final.resets != 1 || final.pending != 0 {
		t.Errorf("a final failure must discard staged changes: %+v", final)
	}
}

func TestReset_FailureStopsRetrying(t *testing.T) {
	sink := &lineSink{}
	acct := &account{resetErr: errors.New("connection lost")}
	p := New(WithAspects(retryUntil(3)), WithLogOutput(sink, LogFilter{Keys: []string{ResetFailureKey}}))
	calls := 0

	_, err := Invoke(context.Background(), ProxyFor(p, acct), "Deposit", func(_ context.Context, a *account) (int, error) {
		calls++
		return 0, errors.New("lock timeout")
	})
	if err == nil || err.Error() != "lock timeout" {
		t.Fatalf("expected the attempt error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("a run that cannot reset must not retry, got %d calls", calls)
	}
	if lines := sink.Lines(); len(lines) != 1 || !strings.Contains(lines[0], "connection lost") {
		t.Errorf("expected a reset failure line, got %v", lines)
	}
}

func TestShortCircuit_BeforeResolvingSkipsInstance(t *testing.T) {
	acquired := 0
	skip := NewAspect("skip", On(StageBeforeResolvingInstance, func(_ context.Context, ac *AspectContext) error {
		ac.ShortCircuit(3)
		return nil
	}))
	proxy := NewProxy(New(WithAspects(skip)), func(context.Context) (*account, error) {
		acquired++
		return &account{}, nil
	})

	got, err := Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
		return a.Deposit(1)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3 {
		t.Errorf("expected short-circuit value 3, got %d", got)
	}
	if acquired != 0 {
		t.Errorf("instance acquired %d times", acquired)
	}
}

func TestRun_ShapeErrorsRunNoHooks(t *testing.T) {
	rec := newStageRecorder("recorder")
	p := New(WithAspects(rec))
	noop := func(context.Context, any) (any, error) { return nil, nil }

	tests := []struct {
		name string
		req  *Request
		opts []CallOption
	}{
		{name: "nil request"},
		{name: "missing method", req: &Request{Static: true, Invoke: noop}},
		{name: "missing invocation", req: &Request{Static: true, Method: "M"}},
		{name: "instance call without type", req: &Request{Method: "M", Invoke: noop}, opts: []CallOption{WithInstance(1)}},
		{name: "instance call without instance", req: &Request{TypeName: "T", Method: "M", Invoke: noop}},
		{name: "duplicate params", req: &Request{Static: true, Method: "M", Invoke: noop, Params: []Param{In("a", 1), In("a", 2)}}},
		{name: "unnamed param", req: &Request{Static: true, Method: "M", Invoke: noop, Params: []Param{In("", 1)}}},
		{name: "capture on input", req: &Request{Static: true, Method: "M", Invoke: noop, Params: []Param{{Name: "a", Capture: func() any { return 1 }}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Run(context.Background(), tt.req, tt.opts...)
			if !errors.Is(err, ErrInvalidCallShape) {
				t.Fatalf("expected ErrInvalidCallShape, got %v", err)
			}
		})
	}
	if len(rec.order) != 0 {
		t.Errorf("expected no stage to run, got %v", rec.order)
	}
}

func TestRun_LateHandlerErrorsAreSwallowed(t *testing.T) {
	failing := NewAspect("broken",
		On(StageFinally, func(context.Context, *AspectContext) error { return errors.New("finally broke") }),
		On(StageDone, func(context.Context, *AspectContext) error { return errors.New("done broke") }),
	)
	sink := &lineSink{}
	p := New(WithAspects(failing), WithLogOutput(sink, LogFilter{Types: EntryError}))

	got, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 5, nil })
	if err != nil {
		t.Fatalf("late handler errors must not fail the call: %v", err)
	}
	if got != 5 {
		t.Errorf("expected 5, got %d", got)
	}

	lines := sink.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected two aspect failure lines, got %v", lines)
	}
	for _, line := range lines {
		if !strings.Contains(line, AspectFailureKey) {
			t.Errorf("unexpected line %q", line)
		}
	}
}

func TestRun_EarlyHandlerErrorIsRetryEligible(t *testing.T) {
	gateErr := errors.New("gate closed")
	opened := false
	gate := NewAspect("gate", On(StageBeforeMethodExec, func(context.Context, *AspectContext) error {
		if !opened {
			opened = true
			return gateErr
		}
		return nil
	}))
	p := New(WithAspects(gate, retryUntil(2)))

	got, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 8, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 8 {
		t.Errorf("expected 8, got %d", got)
	}
}

func TestRun_StepOneFailureRetriesIntoExecution(t *testing.T) {
	p := New(WithAspects(
		NewAspect("once", On(StageBeforeResolvingInstance, func(context.Context, *AspectContext) error {
			return errors.New("not yet")
		})),
		retryUntil(2),
	))

	got, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 2, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestRun_OutParametersCapturedAfterSuccess(t *testing.T) {
	var seen []Param
	spy := NewAspect("spy", On(StageAfterSuccess, func(_ context.Context, ac *AspectContext) error {
		seen = ac.Metadata().Params()
		return nil
	}))
	var quotient, remainder int

	_, err := InvokeStatic(context.Background(), New(WithAspects(spy)).Static("math"), "DivMod",
		func(context.Context) (bool, error) {
			quotient, remainder = 17/5, 17%5
			return true, nil
		},
		In("a", 17), In("b", 5),
		Out("q", func() any { return quotient }),
		RefInOut("r", remainder, func() any { return remainder }),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 params, got %d", len(seen))
	}
	if seen[2].Value != 3 || seen[3].Value != 2 {
		t.Errorf("expected captured outputs 3 and 2, got %v and %v", seen[2].Value, seen[3].Value)
	}
}

func TestRun_RecoverPanics(t *testing.T) {
	p := New(WithRecoverPanics(true))
	_, err := mustRunStatic(t, p, func(context.Context) (int, error) { panic("kaboom") })

	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PanicError, got %v", err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("unexpected panic value %v", pe.Value)
	}
}

func TestRun_EscapingPanicStillFinalizes(t *testing.T) {
	rec := newStageRecorder("recorder")
	crash := NewAspect("crash", On(StageAfterSuccess, func(context.Context, *AspectContext) error {
		panic("bookkeeping bug")
	}))
	var owned *account
	proxy := NewProxy(New(WithAspects(rec, crash)), func(context.Context) (*account, error) {
		owned = &account{}
		return owned, nil
	})

	func() {
		defer func() {
			if got := recover(); got != "bookkeeping bug" {
				t.Errorf("expected the handler panic, got %v", got)
			}
		}()
		_, _ = Invoke(context.Background(), proxy, "Deposit", func(_ context.Context, a *account) (int, error) {
			return a.Deposit(1)
		})
	}()

	if got := rec.count(StageFinally); got != 1 {
		t.Errorf("expected finally handlers once, got %d", got)
	}
	if owned == nil || owned.releases != 1 {
		t.Errorf("owned instance must be released after a panic: %+v", owned)
	}
	if got := rec.count(StageDone); got != 0 {
		t.Errorf("done handlers must not run for a panicking call, got %d", got)
	}
}

func TestRun_CallAspectsReplaceOrUnion(t *testing.T) {
	base := newStageRecorder("base")
	extra := newStageRecorder("extra")
	p := New(WithAspects(base))

	if _, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 1, nil }, WithCallAspects(extra)); err != nil {
		t.Fatal(err)
	}
	if base.count(StageDone) != 0 || extra.count(StageDone) != 1 {
		t.Errorf("call aspects should replace the pipeline list")
	}

	if _, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 1, nil }, WithExtraAspects(extra, base)); err != nil {
		t.Fatal(err)
	}
	if base.count(StageDone) != 1 || extra.count(StageDone) != 2 {
		t.Errorf("extra aspects should be unioned with the pipeline list")
	}
}

func TestRun_ProfileResolvedPerRun(t *testing.T) {
	built := 0
	p := New(WithProfile(Profile{
		Name: "fresh",
		Aspects: func() []Aspect {
			built++
			return []Aspect{newStageRecorder("fresh")}
		},
	}))
	for i := 0; i < 3; i++ {
		if _, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 1, nil }); err != nil {
			t.Fatal(err)
		}
	}
	if built != 3 {
		t.Errorf("expected profile to build aspects per run, got %d", built)
	}
}

func TestRun_SinkFailureIsSwallowed(t *testing.T) {
	sink := &lineSink{err: errors.New("disk full")}
	p := New(
		WithAspects(NewAspect("chatty", On(StageDone, func(_ context.Context, ac *AspectContext) error {
			ac.LogInfo("k", "v")
			return nil
		}))),
		WithLogOutput(sink, LogFilter{}),
	)

	if _, err := mustRunStatic(t, p, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("sink failure must not fail the call: %v", err)
	}
}

func TestInvoke_ResultTypeMismatch(t *testing.T) {
	hit := NewAspect("hit", On(StageBeforeMethodExec, func(_ context.Context, ac *AspectContext) error {
		ac.UseCachedResult("not an int")
		return nil
	}))

	_, err := mustRunStatic(t, New(WithAspects(hit)), func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrInvalidResultType) {
		t.Fatalf("expected ErrInvalidResultType, got %v", err)
	}
}

func TestAspectContext_EntriesCarrySourceAndAttempt(t *testing.T) {
	var entries []LogEntry
	p := New(
		WithClock(fixedClock()),
		WithAspects(
			retryUntil(2),
			NewAspect("writer", On(StageBeforeMethodExec, func(_ context.Context, ac *AspectContext) error {
				ac.LogWarning("attempt", "running attempt %d", ac.AttemptsMade())
				return nil
			})),
			NewAspect("reader", On(StageDone, func(_ context.Context, ac *AspectContext) error {
				entries = ac.Entries()
				return nil
			})),
		),
	)
	calls := 0
	if _, err := mustRunStatic(t, p, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("again")
		}
		return 1, nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	for i, e := range entries {
		if e.Source != "writer" || e.Type != EntryWarning || e.Attempt != i+1 {
			t.Errorf("unexpected entry %+v", e)
		}
	}
}
