package cache

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-intercept/internal/cacheinfra"
)

// Backend names accepted by Config.Backend.
const (
	BackendSturdyc = cacheinfra.BackendSturdyc
	BackendMemory  = cacheinfra.BackendMemory
	BackendBadger  = cacheinfra.BackendBadger
	BackendRedis   = cacheinfra.BackendRedis
)

// Config exposes store configuration options for consumers of the cache package.
type Config struct {
	Backend            string
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
	EvictionInterval   time.Duration

	BadgerPath     string
	BadgerInMemory bool
	BadgerLogger   *slog.Logger

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewStore constructs the store selected by cfg.Backend.
func NewStore(cfg Config) (ClosableStore, error) {
	return cacheinfra.Open(cfg.toInternal())
}

// NewMemoryStore returns an in-process store whose expiry follows now.
// It is meant for tests and single-process tools.
func NewMemoryStore(now func() time.Time) ClosableStore {
	return cacheinfra.NewMemoryStoreWithClock(now)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Backend:            c.Backend,
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		Badger: cacheinfra.BadgerConfig{
			Path:     c.BadgerPath,
			InMemory: c.BadgerInMemory,
			Logger:   c.BadgerLogger,
		},
		Redis: cacheinfra.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
			Prefix:   c.RedisPrefix,
		},
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Backend:            cfg.Backend,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
		BadgerPath:         cfg.Badger.Path,
		BadgerInMemory:     cfg.Badger.InMemory,
		BadgerLogger:       cfg.Badger.Logger,
		RedisAddr:          cfg.Redis.Addr,
		RedisPassword:      cfg.Redis.Password,
		RedisDB:            cfg.Redis.DB,
		RedisPrefix:        cfg.Redis.Prefix,
	}
}
