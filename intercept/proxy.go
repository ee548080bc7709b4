package intercept

import (
	"context"
	"fmt"
	"io"
	"reflect"
)

// Lifecycle supplies the instance a call runs against.
type Lifecycle interface {
	Acquire(ctx context.Context) (any, error)
	Release(ctx context.Context, instance any) error
	// Owned reports whether the pipeline allocates and releases the
	// instance. External instances are never released.
	Owned() bool
}

// Releaser is implemented by instances that need cleanup after a run.
type Releaser interface {
	Release(ctx context.Context) error
}

// Committer is implemented by data-engine-backed instances. CommitChanges
// is called once after a successful method call and returns the number of
// affected records.
type Committer interface {
	CommitChanges(ctx context.Context) (int, error)
}

// Resetter is implemented by instances that stage changes. ResetChanges is
// called after every failed attempt, before any retry, and must discard
// what the attempt staged.
type Resetter interface {
	ResetChanges(ctx context.Context) error
}

// ConnectionTuner is implemented by instances that apply per-connection
// settings before each attempt.
type ConnectionTuner interface {
	TuneConnection(ctx context.Context) error
}

type externalLifecycle struct {
	instance any
}

// External wraps an instance owned by the caller.
func External(instance any) Lifecycle {
	return externalLifecycle{instance: instance}
}

func (l externalLifecycle) Acquire(context.Context) (any, error) {
	if l.instance == nil {
		return nil, fmt.Errorf("intercept: external instance is nil")
	}
	return l.instance, nil
}

func (externalLifecycle) Release(context.Context, any) error { return nil }
func (externalLifecycle) Owned() bool                        { return false }

// ReleaseInstance runs the cleanup capability of instance, if any.
func ReleaseInstance(ctx context.Context, instance any) error {
	switch x := instance.(type) {
	case Releaser:
		return x.Release(ctx)
	case io.Closer:
		return x.Close()
	}
	return nil
}

// Factory allocates a fresh instance for one run.
type Factory[T any] func(ctx context.Context) (T, error)

// Proxy binds a pipeline to a source of T instances.
type Proxy[T any] struct {
	pipeline *Pipeline
	factory  Factory[T]
	instance T
	owned    bool
	typeName string
	opts     []CallOption
}

// NewProxy creates a proxy that allocates an instance per run with
// factory and releases it afterwards.
func NewProxy[T any](p *Pipeline, factory Factory[T]) *Proxy[T] {
	return &Proxy[T]{
		pipeline: p,
		factory:  factory,
		owned:    true,
		typeName: typeNameFor[T](),
	}
}

// ProxyFor creates a proxy around an instance owned by the caller.
func ProxyFor[T any](p *Pipeline, instance T) *Proxy[T] {
	return &Proxy[T]{
		pipeline: p,
		instance: instance,
		typeName: typeNameFor[T](),
	}
}

func typeNameFor[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// Named returns a copy of the proxy reporting typeName in call metadata.
func (x *Proxy[T]) Named(typeName string) *Proxy[T] {
	cp := *x
	cp.typeName = typeName
	return &cp
}

// With returns a copy of the proxy applying opts to every call.
func (x *Proxy[T]) With(opts ...CallOption) *Proxy[T] {
	cp := *x
	cp.opts = append(append([]CallOption(nil), x.opts...), opts...)
	return &cp
}

// TypeName is the declaring type recorded for calls.
func (x *Proxy[T]) TypeName() string { return x.typeName }

// Pipeline returns the pipeline calls run through.
func (x *Proxy[T]) Pipeline() *Pipeline { return x.pipeline }

func (x *Proxy[T]) Owned() bool { return x.owned }

func (x *Proxy[T]) Acquire(ctx context.Context) (any, error) {
	if !x.owned {
		return x.instance, nil
	}
	if x.factory == nil {
		return nil, fmt.Errorf("intercept: proxy for %s has no factory", x.typeName)
	}
	return x.factory(ctx)
}

func (x *Proxy[T]) Release(ctx context.Context, instance any) error {
	if !x.owned {
		return nil
	}
	return ReleaseInstance(ctx, instance)
}

func (x *Proxy[T]) run(ctx context.Context, req *Request) (any, error) {
	opts := make([]CallOption, 0, len(x.opts)+1)
	opts = append(opts, WithLifecycle(x))
	opts = append(opts, x.opts...)
	return x.pipeline.Run(ctx, req, opts...)
}

// Invoke runs fn against the proxied instance through the pipeline.
func Invoke[T, R any](ctx context.Context, proxy *Proxy[T], method string, fn func(ctx context.Context, instance T) (R, error), params ...Param) (R, error) {
	req := &Request{
		TypeName:   proxy.typeName,
		Method:     method,
		Params:     params,
		ReturnType: reflect.TypeFor[R](),
	}
	if fn != nil {
		req.Invoke = func(ctx context.Context, instance any) (any, error) {
			typed, ok := instance.(T)
			if !ok {
				var zero R
				return zero, fmt.Errorf("intercept: instance is %T, want %s", instance, reflect.TypeFor[T]())
			}
			return fn(ctx, typed)
		}
	}
	v, err := proxy.run(ctx, req)
	return resultAs[R](v, err)
}

// Exec runs a method without a result through the pipeline.
func Exec[T any](ctx context.Context, proxy *Proxy[T], method string, fn func(ctx context.Context, instance T) error, params ...Param) error {
	req := &Request{
		TypeName: proxy.typeName,
		Method:   method,
		Params:   params,
	}
	if fn != nil {
		req.Invoke = func(ctx context.Context, instance any) (any, error) {
			typed, ok := instance.(T)
			if !ok {
				return nil, fmt.Errorf("intercept: instance is %T, want %s", instance, reflect.TypeFor[T]())
			}
			return nil, fn(ctx, typed)
		}
	}
	_, err := proxy.run(ctx, req)
	return err
}

// StaticProxy runs calls that need no instance.
type StaticProxy struct {
	pipeline *Pipeline
	typeName string
	opts     []CallOption
}

// Static creates a proxy for calls declared on typeName without a
// receiver.
func (p *Pipeline) Static(typeName string) *StaticProxy {
	return &StaticProxy{pipeline: p, typeName: typeName}
}

// With returns a copy applying opts to every call.
func (s *StaticProxy) With(opts ...CallOption) *StaticProxy {
	cp := *s
	cp.opts = append(append([]CallOption(nil), s.opts...), opts...)
	return &cp
}

// InvokeStatic runs fn through the pipeline without resolving an
// instance.
func InvokeStatic[R any](ctx context.Context, proxy *StaticProxy, method string, fn func(ctx context.Context) (R, error), params ...Param) (R, error) {
	req := &Request{
		TypeName:   proxy.typeName,
		Method:     method,
		Params:     params,
		ReturnType: reflect.TypeFor[R](),
		Static:     true,
	}
	if fn != nil {
		req.Invoke = func(ctx context.Context, _ any) (any, error) {
			return fn(ctx)
		}
	}
	v, err := proxy.pipeline.Run(ctx, req, proxy.opts...)
	return resultAs[R](v, err)
}

func resultAs[R any](v any, err error) (R, error) {
	var zero R
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %s", ErrInvalidResultType, v, reflect.TypeFor[R]())
	}
	return r, nil
}
