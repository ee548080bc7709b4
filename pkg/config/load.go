package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "INTERCEPT_"

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	file      string
	envPrefix string
}

// WithFile layers a YAML file over the defaults. A missing file is an
// error.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithEnvPrefix replaces the INTERCEPT_ prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	cfg, err := load(koanf.New("."), loadOptions{})
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads configuration (highest precedence last):
//
//  1. Defaults
//  2. YAML file given with WithFile
//  3. Environment variables (INTERCEPT_ prefix)
//
// Environment keys are matched against known keys so that underscores
// inside a field name survive:
//
//	INTERCEPT_CACHE_TTL                 -> cache.ttl
//	INTERCEPT_RETRY_INITIAL_INTERVAL    -> retry.initial_interval
//	INTERCEPT_LOG_TYPES=error,warning   -> log.types
func Load(opts ...Option) (*Config, error) {
	o := loadOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}
	return load(koanf.New("."), o)
}

func load(k *koanf.Koanf, o loadOptions) (*Config, error) {
	defs := defaults()
	for key, value := range defs {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("setting default %s: %w", key, err)
		}
	}

	if o.file != "" {
		if err := k.Load(file.Provider(o.file), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", o.file, err)
		}
	}

	if o.envPrefix != "" {
		lookup := buildEnvLookup(k.Keys())
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix: o.envPrefix,
			TransformFunc: func(key, value string) (string, any) {
				key = strings.ToLower(strings.TrimPrefix(key, o.envPrefix))
				koanfKey, ok := lookup[key]
				if !ok {
					koanfKey = strings.ReplaceAll(key, "_", ".")
				}
				if _, isList := defs[koanfKey].([]string); isList {
					return koanfKey, splitList(value)
				}
				return koanfKey, value
			},
		}), nil); err != nil {
			return nil, fmt.Errorf("loading env vars: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// buildEnvLookup maps env-style keys ("cache_badger_in_memory") to koanf
// keys ("cache.badger.in_memory").
func buildEnvLookup(keys []string) map[string]string {
	lookup := make(map[string]string, len(keys))
	for _, key := range keys {
		lookup[strings.ReplaceAll(key, ".", "_")] = key
	}
	return lookup
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
