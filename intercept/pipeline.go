package intercept

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

const (
	// CommitResultKey is the entry key recording the affected-row count of
	// a commit.
	CommitResultKey = "CommitChanges() result"
	// MainExceptionKey is the entry key recording the exception a run
	// ends with.
	MainExceptionKey = "Main exception"
	// AspectFailureKey is the entry key recording a discarded handler
	// error.
	AspectFailureKey = "Aspect failure"
	// ResetFailureKey records an instance that could not discard a failed
	// attempt's changes.
	ResetFailureKey = "ResetChanges() failed"

	DefaultMaxAttempts = 5
)

// Pipeline runs captured calls through an ordered list of aspects. It is
// safe for concurrent use; every Run gets its own AspectContext.
type Pipeline struct {
	aspects         []Aspect
	profile         *Profile
	maxAttempts     int
	sink            Sink
	filter          LogFilter
	logger          *slog.Logger
	now             func() time.Time
	exit            *ExitSignal
	formatters      *FormatterRegistry
	recoverPanics   bool
	tuneConnections bool
	newRunID        func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAspects sets the default aspect list, in execution order.
func WithAspects(aspects ...Aspect) Option {
	return func(p *Pipeline) {
		p.aspects = append([]Aspect(nil), aspects...)
		p.profile = nil
	}
}

// WithProfile resolves the aspect list from profile on every run.
func WithProfile(profile Profile) Option {
	return func(p *Pipeline) {
		if profile.Aspects == nil {
			return
		}
		p.profile = &profile
	}
}

// WithMaxAttempts bounds the retry loop. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithLogOutput sends the entries selected by filter to sink when a run
// ends. A nil sink drops entries.
func WithLogOutput(sink Sink, filter LogFilter) Option {
	return func(p *Pipeline) {
		p.sink = sink
		p.filter = filter
	}
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for log entries.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithExitSignal sets the signal observed by bounded waits.
func WithExitSignal(sig *ExitSignal) Option {
	return func(p *Pipeline) {
		if sig != nil {
			p.exit = sig
		}
	}
}

// WithFormatters sets the registry used to render values in entries.
func WithFormatters(r *FormatterRegistry) Option {
	return func(p *Pipeline) {
		p.formatters = r
	}
}

// WithRecoverPanics turns panics in the method into *PanicError.
func WithRecoverPanics(enabled bool) Option {
	return func(p *Pipeline) {
		p.recoverPanics = enabled
	}
}

// WithConnectionTuning calls TuneConnection on instances that support it
// before every attempt.
func WithConnectionTuning(enabled bool) Option {
	return func(p *Pipeline) {
		p.tuneConnections = enabled
	}
}

// New creates a pipeline. Without options it has no aspects, allows
// DefaultMaxAttempts attempts and discards log entries.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.New(slog.DiscardHandler),
		now:         time.Now,
		exit:        ApplicationExiting,
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// With returns a copy of p with opts applied on top.
func (p *Pipeline) With(opts ...Option) *Pipeline {
	cp := *p
	cp.aspects = append([]Aspect(nil), p.aspects...)
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// MaxAttempts returns the retry bound.
func (p *Pipeline) MaxAttempts() int { return p.maxAttempts }

// Aspects returns the aspect list a run without call options would use.
func (p *Pipeline) Aspects() []Aspect {
	return p.aspectsFor(callConfig{})
}

type callConfig struct {
	replace   bool
	aspects   []Aspect
	extra     []Aspect
	lifecycle Lifecycle
}

// CallOption adjusts a single run.
type CallOption func(*callConfig)

// WithCallAspects replaces the pipeline aspects for one run.
func WithCallAspects(aspects ...Aspect) CallOption {
	return func(c *callConfig) {
		c.replace = true
		c.aspects = append([]Aspect(nil), aspects...)
	}
}

// WithExtraAspects adds aspects after the pipeline ones for one run.
func WithExtraAspects(aspects ...Aspect) CallOption {
	return func(c *callConfig) {
		c.extra = append(c.extra, aspects...)
	}
}

// WithLifecycle sets how the instance is acquired and released.
func WithLifecycle(l Lifecycle) CallOption {
	return func(c *callConfig) {
		c.lifecycle = l
	}
}

// WithInstance runs the call against an instance owned by the caller.
func WithInstance(instance any) CallOption {
	return WithLifecycle(External(instance))
}

func (p *Pipeline) aspectsFor(cfg callConfig) []Aspect {
	var base []Aspect
	switch {
	case cfg.replace:
		base = cfg.aspects
	case p.profile != nil:
		base = p.profile.Aspects()
	default:
		base = p.aspects
	}
	return Union(base, cfg.extra...)
}

// Run executes req through the aspect pipeline and returns the method
// result, a cached or short-circuited value, or the final exception
// unchanged.
func (p *Pipeline) Run(ctx context.Context, req *Request, opts ...CallOption) (any, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if !req.Static && cfg.lifecycle == nil {
		return nil, &ShapeError{Method: req.Method, Reason: "instance call without an instance"}
	}

	r := &run{
		pipeline:  p,
		req:       req,
		lifecycle: cfg.lifecycle,
		table:     compile(p.aspectsFor(cfg)),
		ac: &AspectContext{
			runID:      p.newRunID(),
			meta:       newCallMetadata(req),
			state:      StateNotStarted,
			attempts:   1,
			now:        p.now,
			exit:       p.exit,
			formatters: p.formatters,
			runCtx:     ctx,
		},
	}
	return r.execute()
}

type run struct {
	pipeline  *Pipeline
	req       *Request
	lifecycle Lifecycle
	table     *dispatchTable
	ac        *AspectContext
	resolved  bool
	finalized bool
	released  bool
}

func (r *run) execute() (any, error) {
	ac := r.ac
	defer func() {
		if rec := recover(); rec != nil {
			r.unwind(rec)
			panic(rec)
		}
	}()
	ac.advance(StateResolving)

	err := r.fire(StageBeforeResolvingInstance)
	for {
		if err == nil {
			err = r.attempt()
		}
		if err == nil {
			ac.succeeded = true
			ac.advance(StateSucceeded)
			break
		}

		if ac.state == StateResolving || ac.state == StateExecuting {
			ac.advance(StateFailed)
		}
		ac.err = err
		ac.shouldRetry = false
		r.fireAll(StageAfterException)

		if err := r.reset(); err != nil {
			break
		}
		if !ac.shouldRetry || ac.attempts >= r.pipeline.maxAttempts {
			break
		}
		ac.advance(StateRetrying)
		ac.attempts++
		err = nil
	}

	if !ac.succeeded {
		ac.log(EntryError, MainExceptionKey, ac.err.Error())
	}

	ac.advance(StateFinalizing)
	r.finalized = true
	r.fireAll(StageFinally)

	ac.advance(StateCleaningUp)
	r.release()

	ac.advance(StateDone)
	r.fireAll(StageDone)
	r.flush()

	r.pipeline.logger.Debug("intercepted call finished",
		"run_id", ac.runID,
		"call", ac.meta.String(),
		"attempts", ac.attempts,
		"succeeded", ac.succeeded,
		"cache_hit", ac.cacheHit,
	)

	if !ac.succeeded {
		return nil, ac.err
	}
	v, _ := ac.meta.ReturnValue()
	return v, nil
}

func (r *run) attempt() error {
	ac := r.ac
	ac.advance(StateExecuting)
	ac.cacheHit = false
	ac.skipExec = false
	ac.executed = false
	ac.meta.clearReturn()
	if ac.supplied {
		ac.meta.setReturn(ac.suppliedValue)
		ac.skipExec = true
	}

	if !ac.skipExec && !r.req.Static && !r.resolved {
		instance, err := r.lifecycle.Acquire(ac.runCtx)
		if err != nil {
			return err
		}
		ac.instance = instance
		r.resolved = true
	}

	if r.resolved && r.pipeline.tuneConnections {
		if tuner, ok := ac.instance.(ConnectionTuner); ok {
			if err := tuner.TuneConnection(ac.runCtx); err != nil {
				return err
			}
		}
	}

	if err := r.fire(StageBeforeMethodExec); err != nil {
		return err
	}

	if !ac.skipExec {
		v, err := r.invoke()
		if err != nil {
			return err
		}
		if err := r.commit(); err != nil {
			return err
		}
		ac.meta.setReturn(v)
		ac.meta.captureOutputs()
		ac.executed = true
	}

	return r.fire(StageAfterSuccess)
}

func (r *run) invoke() (v any, err error) {
	if r.pipeline.recoverPanics {
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Call: r.ac.meta.String(), Value: rec, Stack: debug.Stack()}
			}
		}()
	}
	return r.req.Invoke(r.ac.runCtx, r.ac.instance)
}

func (r *run) commit() error {
	committer, ok := r.ac.instance.(Committer)
	if !ok {
		return nil
	}
	n, err := committer.CommitChanges(r.ac.runCtx)
	if err != nil {
		return err
	}
	r.ac.LogData(CommitResultKey, n)
	return nil
}

// reset discards what a failed attempt staged on the instance. A run whose
// instance cannot be reset is not retried.
func (r *run) reset() error {
	resetter, ok := r.ac.instance.(Resetter)
	if !r.resolved || !ok {
		return nil
	}
	err := resetter.ResetChanges(context.WithoutCancel(r.ac.runCtx))
	if err != nil {
		r.ac.LogError(ResetFailureKey, "%v", err)
		r.pipeline.logger.Warn("instance reset failed",
			"run_id", r.ac.runID,
			"call", r.ac.meta.String(),
			"error", err,
		)
	}
	return err
}

func (r *run) release() {
	if !r.resolved || !r.lifecycle.Owned() || r.released {
		return
	}
	r.released = true
	ctx := context.WithoutCancel(r.ac.runCtx)
	if err := r.lifecycle.Release(ctx, r.ac.instance); err != nil {
		r.ac.LogError("Instance release failed", "%v", err)
		r.pipeline.logger.Warn("instance release failed",
			"run_id", r.ac.runID,
			"call", r.ac.meta.String(),
			"error", err,
		)
	}
	r.fireAll(StageAfterInstanceCleanup)
}

// unwind runs the finally handlers and releases an owned instance when a
// panic escapes the run. Panics raised while unwinding are dropped; the
// caller re-raises the original one.
func (r *run) unwind(rec any) {
	r.pipeline.logger.Error("intercepted call panicked",
		"run_id", r.ac.runID,
		"call", r.ac.meta.String(),
		"panic", rec,
	)
	if !r.finalized {
		r.finalized = true
		for _, h := range r.table[StageFinally] {
			func() {
				defer func() { _ = recover() }()
				_ = r.call(h)
			}()
		}
	}
	func() {
		defer func() { _ = recover() }()
		r.release()
	}()
}

// fire runs the handlers of stage and stops at the first error.
func (r *run) fire(stage Stage) error {
	for _, h := range r.table[stage] {
		if err := r.call(h); err != nil {
			return err
		}
	}
	return nil
}

// fireAll runs every handler of stage, logging and discarding errors.
func (r *run) fireAll(stage Stage) {
	for _, h := range r.table[stage] {
		err := r.call(h)
		if err == nil {
			continue
		}
		failure := &AspectError{Aspect: h.aspect, Stage: stage, Err: err}
		r.ac.LogError(AspectFailureKey, "%v", failure)
		r.pipeline.logger.Warn("aspect handler failed",
			"run_id", r.ac.runID,
			"call", r.ac.meta.String(),
			"aspect", h.aspect,
			"stage", stage.String(),
			"error", err,
		)
	}
}

func (r *run) call(h boundHandler) error {
	r.ac.source = h.aspect
	defer func() { r.ac.source = "" }()
	return h.handler(r.ac.runCtx, r.ac)
}

func (r *run) flush() {
	sink := r.pipeline.sink
	if sink == nil {
		return
	}
	for _, e := range r.pipeline.filter.Select(r.ac.entries) {
		if err := sink.Write(FormatEntry(e)); err != nil {
			r.pipeline.logger.Warn("log sink write failed",
				"run_id", r.ac.runID,
				"call", r.ac.meta.String(),
				"error", err,
			)
			return
		}
	}
}
