// Package aspects holds ready-made intercept.Aspect implementations.
//
// Retry: NewRetryAspect and ThreeStrikes request another attempt from
// AfterException, optionally waiting with jittered exponential backoff.
// The wait observes the run context and the exit signal.
//
// Protection: CircuitBreaker admits attempts through a two-step gobreaker
// breaker, and Throttle waits on a rate.Limiter before each attempt.
//
// Observability: Tracing opens an OpenTelemetry span per run, Metrics
// exports Prometheus collectors, and ReturnValueLogger, MethodSignature and
// Timestamps add entries to the run log.
package aspects
