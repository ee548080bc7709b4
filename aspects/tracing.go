package aspects

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-intercept/intercept"
)

const tracerName = "github.com/goliatone/go-intercept/aspects"

// TracingAspect opens one span per run. The span becomes the run context,
// so the intercepted method sees it as its parent.
type TracingAspect struct {
	tracer trace.Tracer
}

// Tracing uses tracer, or the global provider's tracer when nil.
func Tracing(tracer trace.Tracer) *TracingAspect {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracingAspect{tracer: tracer}
}

func (a *TracingAspect) Name() string { return "tracing" }

func (a *TracingAspect) Stages() intercept.Stages {
	return intercept.Stages{
		intercept.StageBeforeResolvingInstance: a.start,
		intercept.StageAfterException:          a.failedAttempt,
		intercept.StageFinally:                 a.status,
		intercept.StageDone:                    a.end,
	}
}

func (a *TracingAspect) start(ctx context.Context, ac *intercept.AspectContext) error {
	meta := ac.Metadata()
	ctx, span := a.tracer.Start(ctx, meta.String(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("intercept.type", meta.TypeName()),
			attribute.String("intercept.method", meta.Method()),
			attribute.String("intercept.run_id", ac.RunID()),
			attribute.Bool("intercept.static", meta.IsStatic()),
		),
	)
	ac.Set(a, span)
	ac.SetContext(ctx)
	return nil
}

func (a *TracingAspect) span(ac *intercept.AspectContext) trace.Span {
	v, _ := ac.Value(a)
	span, _ := v.(trace.Span)
	return span
}

func (a *TracingAspect) failedAttempt(_ context.Context, ac *intercept.AspectContext) error {
	span := a.span(ac)
	if span == nil {
		return nil
	}
	span.AddEvent("attempt failed", trace.WithAttributes(
		attribute.Int("intercept.attempt", ac.AttemptsMade()),
		attribute.String("error", ac.Err().Error()),
	))
	return nil
}

func (a *TracingAspect) status(_ context.Context, ac *intercept.AspectContext) error {
	span := a.span(ac)
	if span == nil {
		return nil
	}
	span.SetAttributes(
		attribute.Int("intercept.attempts", ac.AttemptsMade()),
		attribute.Bool("intercept.cache_hit", ac.CacheHit()),
	)
	if ac.Succeeded() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	span.RecordError(ac.Err())
	span.SetStatus(codes.Error, ac.Err().Error())
	return nil
}

func (a *TracingAspect) end(_ context.Context, ac *intercept.AspectContext) error {
	if span := a.span(ac); span != nil {
		span.End()
		ac.Set(a, nil)
	}
	return nil
}
