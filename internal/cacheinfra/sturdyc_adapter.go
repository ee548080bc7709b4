package cacheinfra

import (
	"context"
	"strings"
	"time"

	"github.com/viccon/sturdyc"
)

// Backend names accepted by Config.Backend.
const (
	BackendSturdyc = "sturdyc"
	BackendMemory  = "memory"
	BackendBadger  = "badger"
	BackendRedis   = "redis"
)

// Store is the contract every adapter satisfies.
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Close() error
}

// Config holds the configuration for the cache store adapters.
type Config struct {
	// Backend selects the adapter. Default: sturdyc.
	Backend string

	// Capacity defines the maximum number of entries that the in-process
	// cache can store. Must be greater than 0.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Higher values improve concurrency but increase memory overhead.
	// Must be greater than 0. Default: 256
	NumShards int

	// TTL is the longest an entry may live in the in-process cache. Entries
	// stored with a shorter TTL expire earlier. Must be greater than 0.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	// Default: 10 (evict 10% of entries)
	EvictionPercentage int

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration

	Badger BadgerConfig
	Redis  RedisConfig
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendSturdyc,
		Capacity:           10000,
		NumShards:          256,
		TTL:                5 * time.Minute,
		EvictionPercentage: 10,
		EvictionInterval:   0, // Use default
		Badger:             BadgerConfig{InMemory: true},
		Redis:              RedisConfig{Addr: "localhost:6379", Prefix: "intercept:"},
	}
}

// ToSturdycOptions converts the Config to sturdyc.Option slice.
// Capacity, NumShards, TTL, and EvictionPercentage are passed directly
// to sturdyc.New() and are not included in the options.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendSturdyc, BackendMemory:
	case BackendBadger:
		if !c.Badger.InMemory && c.Badger.Path == "" {
			return &ConfigError{Field: "Badger.Path", Message: "required unless InMemory is set"}
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return &ConfigError{Field: "Redis.Addr", Message: "must not be empty"}
		}
	default:
		return &ConfigError{Field: "Backend", Message: "unknown backend " + c.Backend}
	}

	if c.Backend != "" && c.Backend != BackendSturdyc {
		return nil
	}

	if c.Capacity <= 0 {
		return &ConfigError{Field: "Capacity", Message: "must be greater than 0"}
	}

	if c.NumShards <= 0 {
		return &ConfigError{Field: "NumShards", Message: "must be greater than 0"}
	}

	if c.TTL <= 0 {
		return &ConfigError{Field: "TTL", Message: "must be greater than 0"}
	}

	if c.EvictionPercentage < 1 || c.EvictionPercentage > 100 {
		return &ConfigError{Field: "EvictionPercentage", Message: "must be between 1 and 100"}
	}

	if c.EvictionInterval < 0 {
		return &ConfigError{Field: "EvictionInterval", Message: "must be non-negative"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// Open builds the store selected by cfg.Backend.
func Open(cfg Config) (Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendBadger:
		return NewBadgerStore(cfg.Badger)
	case BackendRedis:
		return NewRedisStore(cfg.Redis)
	default:
		return NewSturdycStore(cfg)
	}
}

// envelope carries the per-entry deadline next to the value, since
// sturdyc only knows a single client-wide TTL.
type envelope struct {
	value     any
	expiresAt time.Time
}

// SturdycStore keeps entries in a sharded in-process sturdyc client.
type SturdycStore struct {
	client *sturdyc.Client[envelope]
	now    func() time.Time
}

// SturdycOption customizes a SturdycStore.
type SturdycOption func(*SturdycStore)

// WithSturdycClock overrides the clock used for per-entry deadlines.
func WithSturdycClock(now func() time.Time) SturdycOption {
	return func(s *SturdycStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSturdycStore creates a new sturdyc backed store.
// It validates the configuration and initializes a sturdyc client with the provided settings.
//
// Version compatibility note: This implementation assumes sturdyc v1.x API.
func NewSturdycStore(cfg Config, opts ...SturdycOption) (*SturdycStore, error) {
	cfg.Backend = BackendSturdyc
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[envelope](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	s := &SturdycStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get returns the live entry stored under key.
func (s *SturdycStore) Get(_ context.Context, key string) (any, bool, error) {
	env, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !env.expiresAt.IsZero() && !s.now().Before(env.expiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return env.value, true, nil
}

// Set stores value under key. A positive ttl shortens the client-wide TTL
// for this entry.
func (s *SturdycStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	env := envelope{value: value}
	if ttl > 0 {
		env.expiresAt = s.now().Add(ttl)
	}
	s.client.Set(key, env)
	return nil
}

// Delete removes a single entry from the cache using the provided key.
func (s *SturdycStore) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes all entries from the cache that have keys starting with the given prefix.
func (s *SturdycStore) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

func (s *SturdycStore) Close() error { return nil }
