// Package cache provides the caching aspect, its store contract and the
// key serialization used to fingerprint calls.
//
// # Overview
//
// The package exports:
//
//   - CachingAspect: an intercept.Aspect that answers calls from a Store
//   - Store: the get/set/delete contract implemented by the adapters
//   - KeySerializer and Fingerprinter: build stable keys from call arguments
//
// # Basic Usage
//
//	store, err := cache.NewStore(cache.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	pipeline := intercept.New(intercept.WithAspects(
//		cache.NewAspect(store, cache.WithTTL(time.Minute)),
//	))
//
// At BeforeMethodExec the aspect fingerprints the call. A hit fills the
// return slot and the method is not executed. At AfterSuccess a freshly
// computed value is written back with the configured TTL.
//
// # Key Format
//
// Keys look like <type>::<method>::<xxhash of the serialized arguments>.
// The readable prefix lets callers drop every entry of a type or a method
// with InvalidatePrefix, TypePrefix and MethodPrefix.
//
// # Key Serialization Strategy
//
// The default key serializer uses reflection to handle various Go types:
//
//   - Basic types: Direct string representation
//   - Slices/arrays: Recursive serialization of elements
//   - Maps: Sorted key-value pairs for deterministic output
//   - Structs: Exported fields with name:value pairs
//   - encoding.TextMarshaler and json.Marshaler: their own encoding
//
// Functions, channels, unsafe pointers, structs without exported fields
// and values whose marshaling fails are rejected with ErrUnserializable.
// The aspect then bypasses the cache for that call and logs a warning, so
// a non-deterministic key can never serve a wrong value.
//
// # Stores
//
// NewStore selects an adapter from Config.Backend: sturdyc (default,
// in-process), memory, badger (embedded) or redis. Byte-oriented stores
// return Raw values which the aspect decodes with msgpack into the call's
// return type, so cached types must round-trip through msgpack.
//
// # Concurrency
//
// With the default BestEffort policy concurrent misses on one key all
// compute and the last write wins. SingleFlight lets one run compute while
// the others wait for it and read its result.
package cache
