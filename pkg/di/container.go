// Package di wires pipelines, aspects, cache stores and the data engine
// from a loaded configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-intercept/aspects"
	"github.com/goliatone/go-intercept/cache"
	"github.com/goliatone/go-intercept/dal"
	"github.com/goliatone/go-intercept/intercept"
	"github.com/goliatone/go-intercept/internal/logging"
	"github.com/goliatone/go-intercept/logsink"
	"github.com/goliatone/go-intercept/pkg/config"
	"github.com/goliatone/go-intercept/repositoryproxy"
)

// ErrNoDatabase is returned by DB when no DSN is configured.
var ErrNoDatabase = errors.New("di: no database configured")

// Option customizes a Container.
type Option func(*options)

type options struct {
	logOutput  io.Writer
	logger     *slog.Logger
	registerer prometheus.Registerer
	exit       *intercept.ExitSignal
	aspects    []intercept.Aspect
}

// WithLogOutput sets where the diagnostics logger writes. Defaults to stderr.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithSlogLogger replaces the diagnostics logger built from configuration.
func WithSlogLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer sets the Prometheus registerer used by the metrics aspect.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithExitSignal sets the exit signal shared by every pipeline.
func WithExitSignal(sig *intercept.ExitSignal) Option {
	return func(o *options) { o.exit = sig }
}

// WithAspects appends aspects after the configured ones.
func WithAspects(a ...intercept.Aspect) Option {
	return func(o *options) { o.aspects = append(o.aspects, a...) }
}

// Container resolves components lazily and keeps one instance of each.
type Container struct {
	injector *do.RootScope
	config   config.Config

	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewContainer validates cfg and registers the component providers.
// Nothing is opened until first use.
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("di: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logOutput: os.Stderr, registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{injector: do.New(), config: *cfg}
	do.ProvideValue(c.injector, cfg)
	c.register(o)
	return c, nil
}

// NewContainerWithDefaults creates a container from config.Default().
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

func (c *Container) register(o options) {
	do.Provide(c.injector, func(i do.Injector) (*slog.Logger, error) {
		if o.logger != nil {
			return o.logger, nil
		}
		cfg := do.MustInvoke[*config.Config](i)
		return logging.New(cfg.Log.Level, cfg.Log.Format, o.logOutput), nil
	})

	do.Provide(c.injector, func(i do.Injector) (*intercept.ExitSignal, error) {
		if o.exit != nil {
			return o.exit, nil
		}
		return intercept.ApplicationExiting, nil
	})

	do.Provide(c.injector, func(i do.Injector) (cache.ClosableStore, error) {
		cfg := do.MustInvoke[*config.Config](i)
		storeCfg := cfg.Cache.StoreConfig()
		storeCfg.BadgerLogger = do.MustInvoke[*slog.Logger](i)
		store, err := cache.NewStore(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("cache store: %w", err)
		}
		c.onClose(store.Close)
		return store, nil
	})

	do.Provide(c.injector, func(i do.Injector) (cache.Fingerprinter, error) {
		return cache.NewFingerprinter(cache.NewDefaultKeySerializer()), nil
	})

	do.Provide(c.injector, func(i do.Injector) (*cache.CachingAspect, error) {
		cfg := do.MustInvoke[*config.Config](i)
		store, err := do.Invoke[cache.ClosableStore](i)
		if err != nil {
			return nil, err
		}
		return cache.NewAspect(store,
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithPolicy(cfg.Cache.DedupePolicy()),
			cache.WithFingerprinter(do.MustInvoke[cache.Fingerprinter](i)),
		), nil
	})

	do.Provide(c.injector, func(i do.Injector) (intercept.Sink, error) {
		cfg := do.MustInvoke[*config.Config](i)
		switch cfg.Log.Sink {
		case "stderr":
			return logsink.Stderr(), nil
		case "slog":
			return logsink.Slog(do.MustInvoke[*slog.Logger](i)), nil
		case "file":
			sink, err := logsink.File(cfg.Log.File)
			if err != nil {
				return nil, fmt.Errorf("log sink: %w", err)
			}
			c.onClose(sink.Close)
			return sink, nil
		default:
			return logsink.Nop(), nil
		}
	})

	do.Provide(c.injector, func(i do.Injector) ([]intercept.Aspect, error) {
		cfg := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return configuredAspects(cfg, logger, o.registerer, o.aspects)
	})

	do.Provide(c.injector, func(i do.Injector) (*intercept.Pipeline, error) {
		cfg := do.MustInvoke[*config.Config](i)
		filter, err := cfg.Log.Filter()
		if err != nil {
			return nil, err
		}
		sink, err := do.Invoke[intercept.Sink](i)
		if err != nil {
			return nil, err
		}
		list, err := do.Invoke[[]intercept.Aspect](i)
		if err != nil {
			return nil, err
		}
		return intercept.New(
			intercept.WithAspects(list...),
			intercept.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
			intercept.WithLogOutput(sink, filter),
			intercept.WithLogger(do.MustInvoke[*slog.Logger](i)),
			intercept.WithExitSignal(do.MustInvoke[*intercept.ExitSignal](i)),
			intercept.WithRecoverPanics(cfg.Pipeline.RecoverPanics),
			intercept.WithConnectionTuning(cfg.Pipeline.ConnectionTuning),
		), nil
	})

	do.Provide(c.injector, func(i do.Injector) (*bun.DB, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if cfg.DAL.DSN == "" {
			return nil, ErrNoDatabase
		}
		db, err := dal.Open(context.Background(), cfg.DAL.Connection())
		if err != nil {
			return nil, err
		}
		c.onClose(db.Close)
		return db, nil
	})
}

// configuredAspects builds the enabled aspects, outermost first.
func configuredAspects(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, extra []intercept.Aspect) ([]intercept.Aspect, error) {
	var list []intercept.Aspect

	if cfg.Metrics.Enabled {
		m, err := aspects.Metrics(reg)
		if err != nil {
			return nil, fmt.Errorf("metrics aspect: %w", err)
		}
		list = append(list, m)
	}
	if cfg.Tracing.Enabled {
		list = append(list, aspects.Tracing(nil))
	}
	if cfg.Throttle.Enabled {
		list = append(list, aspects.ThrottleRate(cfg.Throttle.RPS, cfg.Throttle.Burst))
	}
	if cfg.Breaker.Enabled {
		list = append(list, aspects.CircuitBreaker(aspects.BreakerSettings{
			MaxFailures:   cfg.Breaker.MaxFailures,
			Timeout:       cfg.Breaker.Timeout,
			HalfOpenLimit: cfg.Breaker.HalfOpenLimit,
			Logger:        logger,
		}))
	}
	if cfg.Retry.Enabled {
		list = append(list, aspects.NewRetryAspect(cfg.Retry.MaxAttempts,
			aspects.WithBackoff(cfg.Retry.InitialInterval, cfg.Retry.MaxInterval, cfg.Retry.Multiplier),
		))
	}
	return append(list, extra...), nil
}

func (c *Container) onClose(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() config.Config {
	return c.config
}

// Injector exposes the underlying scope for callers registering their own
// providers.
func (c *Container) Injector() do.Injector {
	return c.injector
}

// Logger returns the diagnostics logger.
func (c *Container) Logger() *slog.Logger {
	return do.MustInvoke[*slog.Logger](c.injector)
}

// Store returns the cache store, opening it on first use.
func (c *Container) Store() (cache.ClosableStore, error) {
	return do.Invoke[cache.ClosableStore](c.injector)
}

// CachingAspect returns the caching aspect, or nil when caching is disabled.
func (c *Container) CachingAspect() (*cache.CachingAspect, error) {
	if !c.config.Cache.Enabled {
		return nil, nil
	}
	return do.Invoke[*cache.CachingAspect](c.injector)
}

// Pipeline returns the shared pipeline built from configuration.
func (c *Container) Pipeline() (*intercept.Pipeline, error) {
	return do.Invoke[*intercept.Pipeline](c.injector)
}

// Profile returns the configured aspect list as a named profile.
func (c *Container) Profile() (intercept.Profile, error) {
	list, err := do.Invoke[[]intercept.Aspect](c.injector)
	if err != nil {
		return intercept.Profile{}, err
	}
	return intercept.StaticProfile("configured", list...), nil
}

// CachedPipeline returns the shared pipeline with the caching aspect
// appended to every run. Without caching it is the shared pipeline.
func (c *Container) CachedPipeline() (*intercept.Pipeline, error) {
	p, err := c.Pipeline()
	if err != nil {
		return nil, err
	}
	caching, err := c.CachingAspect()
	if err != nil || caching == nil {
		return p, err
	}
	return p.With(intercept.WithAspects(intercept.Union(p.Aspects(), caching)...)), nil
}

// DB returns the data engine connection. It fails with ErrNoDatabase when
// no DSN is configured.
func (c *Container) DB() (*bun.DB, error) {
	if c.config.DAL.DSN == "" {
		return nil, ErrNoDatabase
	}
	return do.Invoke[*bun.DB](c.injector)
}

// UnitOfWorkProxy returns a proxy that opens a fresh unit of work per run
// and commits it when the run succeeds.
func (c *Container) UnitOfWorkProxy() (*intercept.Proxy[*dal.UnitOfWork], error) {
	p, err := c.Pipeline()
	if err != nil {
		return nil, err
	}
	db, err := c.DB()
	if err != nil {
		return nil, err
	}
	return intercept.NewProxy(p, dal.Factory(db, c.config.DAL.Tune...)), nil
}

// NewInterceptedRepository wraps base so reads and writes run through the
// container's pipeline. Reads are cached when caching is enabled.
// Example: NewInterceptedRepository[User](container, baseUserRepository)
func NewInterceptedRepository[T any](c *Container, base repository.Repository[T], opts ...repositoryproxy.Option) (*repositoryproxy.InterceptedRepository[T], error) {
	p, err := c.Pipeline()
	if err != nil {
		return nil, err
	}
	caching, err := c.CachingAspect()
	if err != nil {
		return nil, err
	}
	opts = append([]repositoryproxy.Option{repositoryproxy.WithLogger(c.Logger())}, opts...)
	return repositoryproxy.New(base, p, caching, opts...), nil
}

// Close releases everything the container opened, newest first. Calling
// it again is a no-op.
func (c *Container) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
