package cache

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-intercept/intercept"
)

// Entry keys written by the caching aspect.
const (
	KeyCacheHit      = "Cache hit"
	KeyCacheMiss     = "Cache miss"
	KeyCacheBypassed = "Cache bypassed"
	KeyCacheFailure  = "Cache failure"
)

// DedupePolicy controls what happens when concurrent runs miss on the
// same fingerprint.
type DedupePolicy int

const (
	// BestEffort lets every concurrent miss compute; the last write wins.
	BestEffort DedupePolicy = iota
	// SingleFlight elects one run per fingerprint; the others wait for it
	// and then read its result from the store.
	SingleFlight
)

func (p DedupePolicy) String() string {
	if p == SingleFlight {
		return "single_flight"
	}
	return "best_effort"
}

// CachingAspect serves calls from a Store and records fresh results.
type CachingAspect struct {
	name          string
	store         Store
	fingerprinter Fingerprinter
	ttl           time.Duration
	policy        DedupePolicy
	flights       *flightGroup
}

// AspectOption configures a CachingAspect.
type AspectOption func(*CachingAspect)

// WithTTL bounds how long results are served. Zero keeps them until
// invalidated.
func WithTTL(ttl time.Duration) AspectOption {
	return func(a *CachingAspect) {
		if ttl >= 0 {
			a.ttl = ttl
		}
	}
}

// WithPolicy selects the dedupe policy.
func WithPolicy(p DedupePolicy) AspectOption {
	return func(a *CachingAspect) {
		a.policy = p
	}
}

// WithFingerprinter replaces the default fingerprinter.
func WithFingerprinter(f Fingerprinter) AspectOption {
	return func(a *CachingAspect) {
		if f != nil {
			a.fingerprinter = f
		}
	}
}

// WithName overrides the aspect name shown in log entries.
func WithName(name string) AspectOption {
	return func(a *CachingAspect) {
		if name != "" {
			a.name = name
		}
	}
}

// NewAspect creates a caching aspect over store.
func NewAspect(store Store, opts ...AspectOption) *CachingAspect {
	a := &CachingAspect{
		name:          "cache",
		store:         store,
		fingerprinter: NewFingerprinter(nil),
		flights:       newFlightGroup(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *CachingAspect) Name() string { return a.name }

func (a *CachingAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeMethodExec: a.lookup,
		intercept.StageAfterSuccess:     a.record,
		intercept.StageFinally:          a.finish,
	}
}

// Store returns the underlying store.
func (a *CachingAspect) Store() Store { return a.store }

// Invalidate drops one fingerprint.
func (a *CachingAspect) Invalidate(ctx context.Context, key string) error {
	return a.store.Delete(ctx, key)
}

// InvalidatePrefix drops every fingerprint starting with prefix, see
// TypePrefix and MethodPrefix.
func (a *CachingAspect) InvalidatePrefix(ctx context.Context, prefix string) error {
	return a.store.DeleteByPrefix(ctx, prefix)
}

type lookupState struct {
	key    string
	bypass bool
	leader bool
}

func (a *CachingAspect) state(ac *intercept.AspectContext) *lookupState {
	v, ok := ac.Value(a)
	if !ok {
		return nil
	}
	return v.(*lookupState)
}

func (a *CachingAspect) lookup(ctx context.Context, ac *intercept.AspectContext) error {
	st := a.state(ac)
	if st == nil {
		st = &lookupState{}
		key, err := a.fingerprinter.Fingerprint(ac.Metadata())
		if err != nil {
			st.bypass = true
			ac.Set(a, st)
			ac.LogWarning(KeyCacheBypassed, "%v", err)
			return nil
		}
		st.key = key
		ac.Set(a, st)
	}
	if st.bypass {
		return nil
	}

	if a.serve(ctx, ac, st.key) {
		return nil
	}

	if a.policy == SingleFlight && !st.leader {
		leader, wait := a.flights.join(st.key)
		if leader {
			st.leader = true
		} else if a.await(ctx, ac, wait) && a.serve(ctx, ac, st.key) {
			return nil
		}
	}

	ac.LogInfo(KeyCacheMiss, "%s", st.key)
	return nil
}

// serve answers the call from the store when possible.
func (a *CachingAspect) serve(ctx context.Context, ac *intercept.AspectContext, key string) bool {
	v, ok, err := a.store.Get(ctx, key)
	if err != nil {
		ac.LogWarning(KeyCacheFailure, "read %s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	decoded, err := Decode(v, ac.Metadata().ReturnType())
	if err != nil {
		ac.LogWarning(KeyCacheFailure, "decode %s: %v", key, err)
		return false
	}
	if !ac.UseCachedResult(decoded) {
		return false
	}
	ac.LogInfo(KeyCacheHit, "%s", key)
	return true
}

func (a *CachingAspect) await(ctx context.Context, ac *intercept.AspectContext, wait <-chan struct{}) bool {
	select {
	case <-wait:
		return true
	case <-ctx.Done():
		return false
	case <-ac.ExitSignal().Done():
		return false
	}
}

func (a *CachingAspect) record(ctx context.Context, ac *intercept.AspectContext) error {
	st := a.state(ac)
	if st == nil || st.bypass || ac.CacheHit() || !ac.Executed() {
		return nil
	}
	v, ok := ac.Metadata().ReturnValue()
	if !ok {
		return nil
	}
	if err := a.store.Set(ctx, st.key, v, a.ttl); err != nil {
		ac.LogWarning(KeyCacheFailure, "write %s: %v", st.key, err)
	}
	return nil
}

func (a *CachingAspect) finish(_ context.Context, ac *intercept.AspectContext) error {
	if st := a.state(ac); st != nil && st.leader {
		a.flights.done(st.key)
		st.leader = false
	}
	return nil
}

type flightGroup struct {
	mu      sync.Mutex
	flights map[string]chan struct{}
}

func newFlightGroup() *flightGroup {
	return &flightGroup{flights: make(map[string]chan struct{})}
}

// join makes the caller the leader for key, or returns the channel closed
// when the current leader finishes.
func (g *flightGroup) join(key string) (leader bool, wait <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.flights[key]; ok {
		return false, ch
	}
	g.flights[key] = make(chan struct{})
	return true, nil
}

func (g *flightGroup) done(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.flights[key]; ok {
		close(ch)
		delete(g.flights, key)
	}
}
