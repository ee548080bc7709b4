package repositoryproxy

import (
	"context"
	"log/slog"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-intercept/cache"
	"github.com/goliatone/go-intercept/intercept"
)

var _ repository.Repository[any] = (*InterceptedRepository[any])(nil)

// listResult carries the List tuple through the pipeline and the cache.
type listResult[T any] struct {
	Records []T `msgpack:"records"`
	Total   int `msgpack:"total"`
}

// InterceptedRepository routes every repository call through an intercept
// pipeline. Reads additionally run the caching aspect; successful writes
// drop the affected cache entries.
type InterceptedRepository[T any] struct {
	base      repository.Repository[T]
	proxy     *intercept.Proxy[repository.Repository[T]]
	reads     *intercept.Proxy[repository.Repository[T]]
	cache     *cache.CachingAspect
	namespace string
	logger    *slog.Logger
}

// Option configures an InterceptedRepository.
type Option func(*options)

type options struct {
	namespace string
	logger    *slog.Logger
}

// WithNamespace overrides the type name used in call metadata and cache
// keys. It defaults to the snake_case model name.
func WithNamespace(name string) Option {
	return func(o *options) {
		if name != "" {
			o.namespace = name
		}
	}
}

// WithLogger receives invalidation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New wraps base. A nil caching aspect disables read caching.
func New[T any](base repository.Repository[T], pipeline *intercept.Pipeline, caching *cache.CachingAspect, opts ...Option) *InterceptedRepository[T] {
	o := options{
		namespace: namespaceFor[T](),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	proxy := intercept.ProxyFor(pipeline, base).Named(o.namespace)
	reads := proxy
	if caching != nil {
		reads = proxy.With(intercept.WithExtraAspects(caching))
	}
	return &InterceptedRepository[T]{
		base:      base,
		proxy:     proxy,
		reads:     reads,
		cache:     caching,
		namespace: o.namespace,
		logger:    o.logger,
	}
}

// Namespace is the type name recorded for calls.
func (r *InterceptedRepository[T]) Namespace() string { return r.namespace }

// Unwrap returns the wrapped repository.
func (r *InterceptedRepository[T]) Unwrap() repository.Repository[T] { return r.base }

// criteriaParams appends criteria as a parameter only when present. Criteria
// are closures, so calls that carry them are never served from the cache.
func criteriaParams[C any](params []intercept.Param, criteria []C) []intercept.Param {
	if len(criteria) == 0 {
		return params
	}
	return append(params, intercept.In("criteria", criteria))
}

func (r *InterceptedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return intercept.Invoke(ctx, r.reads, "Get", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.Get(ctx, criteria...)
	}, criteriaParams(nil, criteria)...)
}

func (r *InterceptedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	params := criteriaParams([]intercept.Param{intercept.In("id", id)}, criteria)
	return intercept.Invoke(ctx, r.reads, "GetByID", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.GetByID(ctx, id, criteria...)
	}, params...)
}

func (r *InterceptedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := intercept.Invoke(ctx, r.reads, "List", func(ctx context.Context, repo repository.Repository[T]) (listResult[T], error) {
		records, total, err := repo.List(ctx, criteria...)
		return listResult[T]{Records: records, Total: total}, err
	}, criteriaParams(nil, criteria)...)
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

func (r *InterceptedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return intercept.Invoke(ctx, r.reads, "Count", func(ctx context.Context, repo repository.Repository[T]) (int, error) {
		return repo.Count(ctx, criteria...)
	}, criteriaParams(nil, criteria)...)
}

func (r *InterceptedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	params := criteriaParams([]intercept.Param{intercept.In("identifier", identifier)}, criteria)
	return intercept.Invoke(ctx, r.reads, "GetByIdentifier", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.GetByIdentifier(ctx, identifier, criteria...)
	}, params...)
}

// write runs a mutating call through the pipeline and invalidates the
// given methods once it succeeds.
func write[T, R any](ctx context.Context, r *InterceptedRepository[T], method string, fn func(context.Context, repository.Repository[T]) (R, error), invalidate []string) (R, error) {
	out, err := intercept.Invoke(ctx, r.proxy, method, fn)
	if err == nil {
		r.invalidate(ctx, invalidate...)
	}
	return out, err
}

func writeErr[T any](ctx context.Context, r *InterceptedRepository[T], method string, fn func(context.Context, repository.Repository[T]) error, invalidate []string) error {
	err := intercept.Exec(ctx, r.proxy, method, fn)
	if err == nil {
		r.invalidate(ctx, invalidate...)
	}
	return err
}

var (
	// Inserts change result sets and totals but never a cached single record.
	afterCreate = []string{"List", "Count"}
	// Updates and deletes may touch any cached read.
	afterChange = []string{"Get", "GetByID", "GetByIdentifier", "List", "Count"}
)

func (r *InterceptedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	return write(ctx, r, "Create", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.Create(ctx, record, criteria...)
	}, afterCreate)
}

func (r *InterceptedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	return write(ctx, r, "CreateTx", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.CreateTx(ctx, tx, record, criteria...)
	}, afterCreate)
}

func (r *InterceptedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return write(ctx, r, "CreateMany", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.CreateMany(ctx, records, criteria...)
	}, afterCreate)
}

func (r *InterceptedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	return write(ctx, r, "CreateManyTx", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.CreateManyTx(ctx, tx, records, criteria...)
	}, afterCreate)
}

// GetOrCreate may insert, so it invalidates like Create.
func (r *InterceptedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	return write(ctx, r, "GetOrCreate", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.GetOrCreate(ctx, record)
	}, afterCreate)
}

func (r *InterceptedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	return write(ctx, r, "GetOrCreateTx", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.GetOrCreateTx(ctx, tx, record)
	}, afterCreate)
}

func (r *InterceptedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(ctx, r, "Update", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.Update(ctx, record, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(ctx, r, "UpdateTx", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.UpdateTx(ctx, tx, record, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(ctx, r, "UpdateMany", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.UpdateMany(ctx, records, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(ctx, r, "UpdateManyTx", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.UpdateManyTx(ctx, tx, records, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(ctx, r, "Upsert", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.Upsert(ctx, record, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	return write(ctx, r, "UpsertTx", func(ctx context.Context, repo repository.Repository[T]) (T, error) {
		return repo.UpsertTx(ctx, tx, record, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(ctx, r, "UpsertMany", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.UpsertMany(ctx, records, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	return write(ctx, r, "UpsertManyTx", func(ctx context.Context, repo repository.Repository[T]) ([]T, error) {
		return repo.UpsertManyTx(ctx, tx, records, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) Delete(ctx context.Context, record T) error {
	return writeErr(ctx, r, "Delete", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.Delete(ctx, record)
	}, afterChange)
}

func (r *InterceptedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return writeErr(ctx, r, "DeleteTx", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteTx(ctx, tx, record)
	}, afterChange)
}

func (r *InterceptedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return writeErr(ctx, r, "DeleteMany", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteMany(ctx, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return writeErr(ctx, r, "DeleteManyTx", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteManyTx(ctx, tx, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	return writeErr(ctx, r, "DeleteWhere", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteWhere(ctx, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	return writeErr(ctx, r, "DeleteWhereTx", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.DeleteWhereTx(ctx, tx, criteria...)
	}, afterChange)
}

func (r *InterceptedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	return writeErr(ctx, r, "ForceDelete", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.ForceDelete(ctx, record)
	}, afterChange)
}

func (r *InterceptedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	return writeErr(ctx, r, "ForceDeleteTx", func(ctx context.Context, repo repository.Repository[T]) error {
		return repo.ForceDeleteTx(ctx, tx, record)
	}, afterChange)
}

// Reads inside a caller transaction must see uncommitted rows, so they
// bypass the pipeline and the cache.

func (r *InterceptedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetTx(ctx, tx, criteria...)
}

func (r *InterceptedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (r *InterceptedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return r.base.ListTx(ctx, tx, criteria...)
}

func (r *InterceptedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return r.base.CountTx(ctx, tx, criteria...)
}

func (r *InterceptedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return r.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

func (r *InterceptedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return r.base.Raw(ctx, sql, args...)
}

func (r *InterceptedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return r.base.RawTx(ctx, tx, sql, args...)
}

func (r *InterceptedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return r.base.Handlers()
}

// Invalidate drops every cached read of the repository.
func (r *InterceptedRepository[T]) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidatePrefix(ctx, cache.TypePrefix(r.namespace))
}

func (r *InterceptedRepository[T]) invalidate(ctx context.Context, methods ...string) {
	if r.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, method := range methods {
		if err := r.cache.InvalidatePrefix(ctx, cache.MethodPrefix(r.namespace, method)); err != nil {
			r.logger.Warn("cache invalidation failed",
				slog.String("namespace", r.namespace),
				slog.String("method", method),
				slog.Any("error", err),
			)
		}
	}
}
