package aspects

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/goliatone/go-intercept/intercept"
)

const KeyBreakerRejected = "Circuit open"

// BreakerSettings configures CircuitBreaker.
type BreakerSettings struct {
	Name          string
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenLimit int
	Logger        *slog.Logger
}

// CircuitBreakerAspect rejects attempts while the downstream keeps
// failing. Admission happens at BeforeMethodExec; the outcome is reported
// at AfterSuccess or AfterException.
type CircuitBreakerAspect struct {
	name    string
	breaker *gobreaker.TwoStepCircuitBreaker[struct{}]
}

type breakerTicket struct {
	done func(success bool)
}

func CircuitBreaker(s BreakerSettings) *CircuitBreakerAspect {
	if s.Name == "" {
		s.Name = "circuit_breaker"
	}
	if s.MaxFailures < 1 {
		s.MaxFailures = 5
	}
	if s.HalfOpenLimit < 1 {
		s.HalfOpenLimit = 1
	}
	logger := s.Logger
	maxFailures := s.MaxFailures

	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: uint32(s.HalfOpenLimit),
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger == nil {
				return
			}
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return &CircuitBreakerAspect{name: s.Name, breaker: cb}
}

func (a *CircuitBreakerAspect) Name() string { return a.name }

// State reports the breaker state.
func (a *CircuitBreakerAspect) State() gobreaker.State { return a.breaker.State() }

func (a *CircuitBreakerAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeMethodExec: a.admit,
		intercept.StageAfterSuccess:     a.report(true),
		intercept.StageAfterException:   a.report(false),
	}
}

func (a *CircuitBreakerAspect) admit(_ context.Context, ac *intercept.AspectContext) error {
	done, err := a.breaker.Allow()
	if err != nil {
		ac.Set(a, nil)
		ac.LogWarning(KeyBreakerRejected, "%s: %v", a.name, err)
		return err
	}
	ac.Set(a, &breakerTicket{done: done})
	return nil
}

func (a *CircuitBreakerAspect) report(success bool) intercept.Handler {
	return func(_ context.Context, ac *intercept.AspectContext) error {
		v, ok := ac.Value(a)
		if !ok {
			return nil
		}
		ticket, _ := v.(*breakerTicket)
		if ticket == nil {
			return nil
		}
		ticket.done(success)
		ac.Set(a, nil)
		return nil
	}
}
