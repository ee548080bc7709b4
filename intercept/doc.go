// Package intercept threads method calls through an ordered pipeline of
// aspects without the target knowing about them.
//
// A call is described by a Request (or built by the typed helpers Invoke,
// Exec and InvokeStatic) and executed by a Pipeline in seven stages:
//
//	1. BeforeResolvingInstance  once, before the instance is acquired
//	2. BeforeMethodExec         per attempt, may record a cache hit
//	3. AfterSuccess             per successful attempt, after commit
//	4. AfterException           per failed attempt, may request a retry
//	5. Finally                  once, after the last attempt
//	6. AfterInstanceCleanup     once, after an owned instance is released
//	7. Done                     once, before buffered entries are written
//
// Aspects only see an AspectContext. They log through it, share per-run
// state through Set and Value, and steer the run with UseCachedResult,
// ShortCircuit and RequestRetry.
//
//	p := intercept.New(
//		intercept.WithAspects(aspects.ThreeStrikes()),
//		intercept.WithLogOutput(logsink.Stderr(), intercept.LogFilter{Types: intercept.EntryAll}),
//	)
//	leap, err := intercept.InvokeStatic(ctx, p.Static("calendar"), "IsLeapYear",
//		func(ctx context.Context) (bool, error) { return isLeap(2012), nil },
//		intercept.In("year", 2012),
//	)
//
// Instances that implement Committer are committed after every successful
// call, and instances that implement Resetter are reset after every failed
// attempt. Instances that implement ConnectionTuner are tuned before every
// attempt when WithConnectionTuning is set.
package intercept
