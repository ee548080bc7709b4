package aspects

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-intercept/intercept"
)

// MetricsAspect exports run counters and durations to Prometheus.
type MetricsAspect struct {
	runs      *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	cacheHits *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

type runStart struct{}

// Metrics registers the collectors on reg. Registering twice on the same
// registry reuses the collectors already there.
func Metrics(reg prometheus.Registerer) (*MetricsAspect, error) {
	a := &MetricsAspect{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intercept",
			Name:      "runs_total",
			Help:      "Intercepted calls by outcome.",
		}, []string{"call", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intercept",
			Name:      "attempts_total",
			Help:      "Execution attempts, including retries.",
		}, []string{"call"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intercept",
			Name:      "cache_hits_total",
			Help:      "Runs answered without executing the method.",
		}, []string{"call"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intercept",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a run from resolution to done.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call"}),
	}

	if reg == nil {
		return a, nil
	}
	var err error
	if a.runs, err = register(reg, a.runs); err != nil {
		return nil, err
	}
	if a.attempts, err = register(reg, a.attempts); err != nil {
		return nil, err
	}
	if a.cacheHits, err = register(reg, a.cacheHits); err != nil {
		return nil, err
	}
	if a.duration, err = register(reg, a.duration); err != nil {
		return nil, err
	}
	return a, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (a *MetricsAspect) Name() string { return "metrics" }

func (a *MetricsAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeResolvingInstance: a.begin,
		intercept.StageDone:                    a.observe,
	}
}

func (a *MetricsAspect) begin(_ context.Context, ac *intercept.AspectContext) error {
	ac.Set(runStart{}, ac.Now())
	return nil
}

func (a *MetricsAspect) observe(_ context.Context, ac *intercept.AspectContext) error {
	call := ac.Metadata().String()

	outcome := "failure"
	if ac.Succeeded() {
		outcome = "success"
	}
	a.runs.WithLabelValues(call, outcome).Inc()
	a.attempts.WithLabelValues(call).Add(float64(ac.AttemptsMade()))
	if ac.CacheHit() {
		a.cacheHits.WithLabelValues(call).Inc()
	}
	if v, ok := ac.Value(runStart{}); ok {
		if started, ok := v.(time.Time); ok {
			a.duration.WithLabelValues(call).Observe(ac.Now().Sub(started).Seconds())
		}
	}
	return nil
}
