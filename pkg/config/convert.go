package config

import (
	"github.com/goliatone/go-intercept/cache"
	"github.com/goliatone/go-intercept/dal"
	"github.com/goliatone/go-intercept/intercept"
)

// Filter builds the run-log filter.
func (l LogConfig) Filter() (intercept.LogFilter, error) {
	types, err := intercept.ParseEntryTypes(l.Types)
	if err != nil {
		return intercept.LogFilter{}, err
	}
	return intercept.LogFilter{
		Types:              types,
		Keys:               append([]string(nil), l.Keys...),
		WriteAllIfKeyFound: l.WriteAllIfKeyFound,
	}, nil
}

// StoreConfig converts the section to the cache store configuration.
func (c CacheConfig) StoreConfig() cache.Config {
	return cache.Config{
		Backend:            c.Backend,
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
		BadgerPath:         c.Badger.Path,
		BadgerInMemory:     c.Badger.InMemory,
		RedisAddr:          c.Redis.Addr,
		RedisPassword:      c.Redis.Password,
		RedisDB:            c.Redis.DB,
		RedisPrefix:        c.Redis.Prefix,
	}
}

// DedupePolicy maps the policy name.
func (c CacheConfig) DedupePolicy() cache.DedupePolicy {
	if c.Policy == "single_flight" {
		return cache.SingleFlight
	}
	return cache.BestEffort
}

// Connection converts the section to a dal configuration.
func (d DALConfig) Connection() dal.Config {
	return dal.Config{
		Driver:       d.Driver,
		DSN:          d.DSN,
		MaxOpenConns: d.MaxOpenConns,
		Tune:         append([]string(nil), d.Tune...),
	}
}
