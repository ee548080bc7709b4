package aspects

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/goliatone/go-intercept/intercept"
)

const KeyThrottled = "Throttled"

// ThrottleAspect waits for a rate limiter token before every attempt.
type ThrottleAspect struct {
	limiter *rate.Limiter
}

// Throttle waits on limiter, which may be shared by several pipelines.
func Throttle(limiter *rate.Limiter) *ThrottleAspect {
	return &ThrottleAspect{limiter: limiter}
}

// ThrottleRate limits attempts to rps per second with the given burst.
func ThrottleRate(rps float64, burst int) *ThrottleAspect {
	if burst < 1 {
		burst = 1
	}
	return Throttle(rate.NewLimiter(rate.Limit(rps), burst))
}

func (a *ThrottleAspect) Name() string { return "throttle" }

func (a *ThrottleAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeMethodExec: a.wait,
	}
}

func (a *ThrottleAspect) wait(ctx context.Context, ac *intercept.AspectContext) error {
	if a.limiter.Allow() {
		return nil
	}
	ctx, cancel := ac.ExitSignal().WithContext(ctx)
	defer cancel()

	ac.LogInfo(KeyThrottled, "waiting for rate limiter")
	if err := a.limiter.Wait(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return err
	}
	return nil
}
