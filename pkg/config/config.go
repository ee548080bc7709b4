// Package config loads runtime settings for pipelines and their aspects.
// Values are layered: defaults, then an optional YAML file, then
// INTERCEPT_ environment variables.
package config

import "time"

// Config holds all settings.
type Config struct {
	Pipeline PipelineConfig `koanf:"pipeline"`
	Log      LogConfig      `koanf:"log"`
	Cache    CacheConfig    `koanf:"cache"`
	Retry    RetryConfig    `koanf:"retry"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Tracing  ToggleConfig   `koanf:"tracing"`
	Metrics  ToggleConfig   `koanf:"metrics"`
	DAL      DALConfig      `koanf:"dal"`
}

// PipelineConfig holds pipeline-wide settings.
type PipelineConfig struct {
	MaxAttempts      int  `koanf:"max_attempts"`
	RecoverPanics    bool `koanf:"recover_panics"`
	ConnectionTuning bool `koanf:"connection_tuning"`
}

// LogConfig holds diagnostics logging and run-log output settings.
type LogConfig struct {
	Level              string   `koanf:"level"`
	Format             string   `koanf:"format"`
	Sink               string   `koanf:"sink"`
	File               string   `koanf:"file"`
	Types              []string `koanf:"types"`
	Keys               []string `koanf:"keys"`
	WriteAllIfKeyFound bool     `koanf:"write_all_if_key_found"`
}

// CacheConfig holds caching aspect and store settings.
type CacheConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Backend            string        `koanf:"backend"`
	Policy             string        `koanf:"policy"`
	TTL                time.Duration `koanf:"ttl"`
	Capacity           int           `koanf:"capacity"`
	NumShards          int           `koanf:"num_shards"`
	EvictionPercentage int           `koanf:"eviction_percentage"`
	EvictionInterval   time.Duration `koanf:"eviction_interval"`
	Badger             BadgerConfig  `koanf:"badger"`
	Redis              RedisConfig   `koanf:"redis"`
}

type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

// RetryConfig holds retry policy settings with exponential backoff.
type RetryConfig struct {
	Enabled         bool          `koanf:"enabled"`
	MaxAttempts     int           `koanf:"max_attempts"`
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Enabled       bool          `koanf:"enabled"`
	MaxFailures   int           `koanf:"max_failures"`
	Timeout       time.Duration `koanf:"timeout"`
	HalfOpenLimit int           `koanf:"half_open_limit"`
}

// ThrottleConfig holds rate limiting settings.
type ThrottleConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

// ToggleConfig switches an aspect on or off.
type ToggleConfig struct {
	Enabled bool `koanf:"enabled"`
}

// DALConfig holds the data engine connection.
type DALConfig struct {
	Driver       string   `koanf:"driver"`
	DSN          string   `koanf:"dsn"`
	MaxOpenConns int      `koanf:"max_open_conns"`
	Tune         []string `koanf:"tune"`
}
