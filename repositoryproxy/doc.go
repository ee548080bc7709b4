// Package repositoryproxy runs go-repository-bun repositories through an
// interception pipeline.
//
// # Overview
//
// InterceptedRepository wraps a base Repository[T]. Every non-transactional
// call becomes a pipeline run, so the pipeline's aspects (retry, circuit
// breaking, tracing, run logging) apply to repository access without the
// repository knowing. Reads additionally carry the caching aspect.
//
// # Basic Usage
//
//	pipeline := intercept.New(intercept.WithAspects(aspects.ThreeStrikes()))
//	caching := cache.NewAspect(store, cache.WithTTL(5*time.Minute))
//
//	users := repositoryproxy.New(base, pipeline, caching)
//	user, err := users.GetByID(ctx, "user-123")
//
// # Operations
//
// Cached reads: Get, GetByID, GetByIdentifier, List and Count. A read that
// carries select criteria still runs through the pipeline but bypasses the
// cache, since criteria are closures with no stable key.
//
// Writes run through the pipeline and, on success, invalidate cached reads
// by method prefix. Creates drop List and Count; updates, upserts and
// deletes drop every cached read of the namespace.
//
// Transactional methods (the *Tx variants), Raw and Handlers go straight to
// the base repository. The caller owns the transaction and a cached value
// could leak uncommitted state.
//
// # Namespaces
//
// Cache keys start with the namespace, the snake_cased type name by
// default. Use WithNamespace when two repositories share a model type but
// not their data.
package repositoryproxy
