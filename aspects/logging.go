package aspects

import (
	"context"
	"time"

	"github.com/goliatone/go-intercept/intercept"
)

const (
	KeyReturnValue     = "Returned value"
	KeyMethodSignature = "Method signature with parameters"
)

// ReturnValueLogger records the value returned by the call when the run
// finalizes. Large values are rendered in full, so register a formatter
// for them.
func ReturnValueLogger() intercept.Aspect {
	return intercept.NewAspect("return_value",
		intercept.On(intercept.StageFinally, func(_ context.Context, ac *intercept.AspectContext) error {
			ac.LogInfo(KeyReturnValue, "%s", ac.Metadata().FormatReturn(ac.Formatters()))
			return nil
		}),
	)
}

// MethodSignature records the call signature with parameter values before
// every attempt.
func MethodSignature() intercept.Aspect {
	return intercept.NewAspect("method_signature",
		intercept.On(intercept.StageBeforeMethodExec, func(_ context.Context, ac *intercept.AspectContext) error {
			ac.LogInfo(KeyMethodSignature, "%s", ac.Metadata().Signature(ac.Formatters()))
			return nil
		}),
	)
}

// TimestampsAspect records the clock reading before execution and once the
// run is done.
type TimestampsAspect struct {
	useUTC bool
}

func Timestamps(useUTC bool) *TimestampsAspect {
	return &TimestampsAspect{useUTC: useUTC}
}

func (a *TimestampsAspect) Name() string { return "timestamps" }

func (a *TimestampsAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeMethodExec: a.stamp(intercept.StageBeforeMethodExec),
		intercept.StageDone:             a.stamp(intercept.StageDone),
	}
}

func (a *TimestampsAspect) stamp(stage intercept.Stage) intercept.Handler {
	kind := "Local time"
	if a.useUTC {
		kind = "UTC time"
	}
	typeKey := "Timestamp type for " + stage.String()
	valueKey := "Timestamp for " + stage.String()

	return func(_ context.Context, ac *intercept.AspectContext) error {
		now := ac.Now()
		if a.useUTC {
			now = now.UTC()
		} else {
			now = now.Local()
		}
		ac.LogInfo(typeKey, "%s", kind)
		ac.LogInfo(valueKey, "%s", now.Format(time.RFC3339Nano))
		return nil
	}
}
