package config

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-intercept/intercept"
)

// Validate checks every section and returns the aggregated errors.
func (c *Config) Validate() error {
	return errors.Join(
		section("pipeline", c.Pipeline.validate()),
		section("log", c.Log.validate()),
		section("cache", c.Cache.validate()),
		section("retry", c.Retry.validate()),
		section("breaker", c.Breaker.validate()),
		section("throttle", c.Throttle.validate()),
		section("dal", c.DAL.validate()),
	)
}

func section(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (p PipelineConfig) validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Required, validation.Min(1)),
	)
}

func (l LogConfig) validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.Required, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.Required, validation.In("json", "text")),
		validation.Field(&l.Sink, validation.Required, validation.In("none", "stderr", "slog", "file")),
		validation.Field(&l.File, validation.When(l.Sink == "file", validation.Required)),
		validation.Field(&l.Types, validation.By(func(any) error {
			_, err := intercept.ParseEntryTypes(l.Types)
			return err
		})),
	)
}

func (c CacheConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In("sturdyc", "memory", "badger", "redis")),
		validation.Field(&c.Policy, validation.Required, validation.In("best_effort", "single_flight")),
		validation.Field(&c.TTL, validation.Min(0)),
		validation.Field(&c.Capacity, validation.When(c.Backend == "sturdyc", validation.Required, validation.Min(1))),
		validation.Field(&c.NumShards, validation.When(c.Backend == "sturdyc", validation.Required, validation.Min(1))),
		validation.Field(&c.EvictionPercentage, validation.When(c.Backend == "sturdyc", validation.Min(1), validation.Max(100))),
		validation.Field(&c.Badger, validation.By(func(any) error {
			if c.Backend == "badger" && !c.Badger.InMemory && c.Badger.Path == "" {
				return errors.New("path is required unless in_memory is set")
			}
			return nil
		})),
		validation.Field(&c.Redis, validation.By(func(any) error {
			if c.Backend == "redis" && c.Redis.Addr == "" {
				return errors.New("addr is required")
			}
			return nil
		})),
	)
}

func (r RetryConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&r.Multiplier, validation.Required, validation.Min(1.0)),
		validation.Field(&r.MaxInterval, validation.Min(r.InitialInterval)),
	)
}

func (b BreakerConfig) validate() error {
	if !b.Enabled {
		return nil
	}
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxFailures, validation.Required, validation.Min(1)),
		validation.Field(&b.HalfOpenLimit, validation.Required, validation.Min(1)),
	)
}

func (t ThrottleConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	return validation.ValidateStruct(&t,
		validation.Field(&t.RPS, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&t.Burst, validation.Required, validation.Min(1)),
	)
}

func (d DALConfig) validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.In("sqlite3", "postgres")),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
	)
}
