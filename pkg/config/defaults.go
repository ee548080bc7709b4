package config

const (
	defaultMaxAttempts = 5

	defaultRetryMaxAttempts = 3
	defaultRetryMultiplier  = 2.0

	defaultBreakerMaxFailures = 5
	defaultBreakerHalfOpen    = 1

	defaultCacheCapacity   = 10000
	defaultCacheShards     = 256
	defaultCacheEvictPerc  = 10
	defaultThrottleRPS     = 100.0
	defaultThrottleBurst   = 10
	defaultDALMaxOpenConns = 10
)

// defaults returns the values loaded before any file or env layer.
func defaults() map[string]any {
	return map[string]any{
		"pipeline.max_attempts":      defaultMaxAttempts,
		"pipeline.recover_panics":    false,
		"pipeline.connection_tuning": false,

		"log.level":                  "info",
		"log.format":                 "json",
		"log.sink":                   "none",
		"log.file":                   "",
		"log.types":                  []string{"all"},
		"log.keys":                   []string{},
		"log.write_all_if_key_found": false,

		"cache.enabled":             true,
		"cache.backend":             "sturdyc",
		"cache.policy":              "best_effort",
		"cache.ttl":                 "5m",
		"cache.capacity":            defaultCacheCapacity,
		"cache.num_shards":          defaultCacheShards,
		"cache.eviction_percentage": defaultCacheEvictPerc,
		"cache.eviction_interval":   "0s",
		"cache.badger.path":         "",
		"cache.badger.in_memory":    true,
		"cache.redis.addr":          "localhost:6379",
		"cache.redis.password":      "",
		"cache.redis.db":            0,
		"cache.redis.prefix":        "intercept:",

		"retry.enabled":          true,
		"retry.max_attempts":     defaultRetryMaxAttempts,
		"retry.initial_interval": "100ms",
		"retry.max_interval":     "10s",
		"retry.multiplier":       defaultRetryMultiplier,

		"breaker.enabled":         false,
		"breaker.max_failures":    defaultBreakerMaxFailures,
		"breaker.timeout":         "30s",
		"breaker.half_open_limit": defaultBreakerHalfOpen,

		"throttle.enabled": false,
		"throttle.rps":     defaultThrottleRPS,
		"throttle.burst":   defaultThrottleBurst,

		"tracing.enabled": false,
		"metrics.enabled": false,

		"dal.driver":         "sqlite3",
		"dal.dsn":            "",
		"dal.max_open_conns": defaultDALMaxOpenConns,
		"dal.tune":           []string{},
	}
}
