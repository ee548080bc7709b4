package intercept

import (
	"context"
	"fmt"
	"time"
)

const pipelineSource = "pipeline"

// AspectContext is the per-run state shared by every aspect of a call.
// It is confined to the goroutine executing the run.
type AspectContext struct {
	runID    string
	meta     *CallMetadata
	state    State
	attempts int
	err      error

	shouldRetry bool
	cacheHit    bool
	skipExec    bool
	executed    bool
	succeeded   bool

	supplied      bool
	suppliedValue any

	instance any
	entries  []LogEntry
	bag      map[any]any

	source     string
	now        func() time.Time
	exit       *ExitSignal
	formatters *FormatterRegistry
	runCtx     context.Context
}

func (c *AspectContext) RunID() string            { return c.runID }
func (c *AspectContext) Metadata() *CallMetadata  { return c.meta }
func (c *AspectContext) State() State             { return c.state }
func (c *AspectContext) AttemptsMade() int        { return c.attempts }
func (c *AspectContext) Err() error               { return c.err }
func (c *AspectContext) ShouldRetry() bool        { return c.shouldRetry }
func (c *AspectContext) CacheHit() bool           { return c.cacheHit }
func (c *AspectContext) Succeeded() bool          { return c.succeeded }
func (c *AspectContext) Executed() bool           { return c.executed }
func (c *AspectContext) Instance() any            { return c.instance }
func (c *AspectContext) ExitSignal() *ExitSignal  { return c.exit }
func (c *AspectContext) Now() time.Time           { return c.now() }
func (c *AspectContext) Formatters() *FormatterRegistry {
	return c.formatters
}

// ShortCircuited reports whether a value was supplied without executing
// the method.
func (c *AspectContext) ShortCircuited() bool { return c.supplied || c.skipExec }

// RequestRetry asks the pipeline to run another attempt. It is only
// honored from AfterException handlers.
func (c *AspectContext) RequestRetry() { c.shouldRetry = true }

// CancelRetry withdraws a retry requested by an earlier aspect.
func (c *AspectContext) CancelRetry() { c.shouldRetry = false }

// UseCachedResult fills the return slot and marks the attempt as a cache
// hit, so the method is not executed. It must be called before execution;
// it reports false otherwise.
func (c *AspectContext) UseCachedResult(v any) bool {
	if !c.beforeExecution() || !c.meta.setReturn(v) {
		return false
	}
	c.cacheHit = true
	c.skipExec = true
	return true
}

// ShortCircuit supplies the call result without running the method. From
// BeforeResolvingInstance it also skips instance resolution.
func (c *AspectContext) ShortCircuit(v any) bool {
	if !c.beforeExecution() {
		return false
	}
	if c.state == StateResolving {
		c.supplied = true
		c.suppliedValue = v
		return true
	}
	if !c.meta.setReturn(v) {
		return false
	}
	c.skipExec = true
	return true
}

func (c *AspectContext) beforeExecution() bool {
	switch c.state {
	case StateResolving:
		return true
	case StateExecuting:
		return !c.executed && !c.skipExec
	}
	return false
}

// SetContext replaces the context used for the rest of the run, e.g. to
// carry a tracing span into the method call.
func (c *AspectContext) SetContext(ctx context.Context) {
	if ctx != nil {
		c.runCtx = ctx
	}
}

// Context returns the run context.
func (c *AspectContext) Context() context.Context { return c.runCtx }

// Set stores per-run state for an aspect. Aspects should key by an
// unexported type or their own pointer.
func (c *AspectContext) Set(key, value any) {
	if c.bag == nil {
		c.bag = make(map[any]any)
	}
	c.bag[key] = value
}

// Value returns per-run state stored with Set.
func (c *AspectContext) Value(key any) (any, bool) {
	v, ok := c.bag[key]
	return v, ok
}

// Entries returns a copy of the buffered log entries.
func (c *AspectContext) Entries() []LogEntry {
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *AspectContext) LogInfo(key, format string, args ...any) {
	c.log(EntryInfo, key, fmt.Sprintf(format, args...))
}

func (c *AspectContext) LogWarning(key, format string, args ...any) {
	c.log(EntryWarning, key, fmt.Sprintf(format, args...))
}

func (c *AspectContext) LogError(key, format string, args ...any) {
	c.log(EntryError, key, fmt.Sprintf(format, args...))
}

// LogData records an informational entry whose message is value rendered
// through the formatter registry.
func (c *AspectContext) LogData(key string, value any) {
	c.log(EntryInfo, key, c.formatters.Format(value))
}

func (c *AspectContext) log(t EntryType, key, message string) {
	source := c.source
	if source == "" {
		source = pipelineSource
	}
	c.entries = append(c.entries, LogEntry{
		Time:    c.now(),
		Type:    t,
		Source:  source,
		Key:     key,
		Message: message,
		Attempt: c.attempts,
	})
}
