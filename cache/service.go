package cache

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/goliatone/go-intercept/internal/cacheinfra"
	"github.com/vmihailenco/msgpack/v5"
)

// Store is the collaborator the caching aspect reads from and writes to.
// It is exported so that other packages can provide alternate cache backends.
type Store interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ClosableStore is a Store holding resources that must be released.
type ClosableStore interface {
	Store
	io.Closer
}

// Raw is an msgpack-encoded value returned by byte-oriented stores.
type Raw = cacheinfra.Raw

// Decode turns a value read from a Store into a value of type t. Raw
// values are msgpack-decoded; other values are returned unchanged. A nil
// t decodes Raw into a generic value.
func Decode(v any, t reflect.Type) (any, error) {
	raw, ok := v.(Raw)
	if !ok {
		return v, nil
	}
	if t == nil {
		var out any
		if err := msgpack.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("cache: decode: %w", err)
		}
		return out, nil
	}
	ptr := reflect.New(t)
	if err := msgpack.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", t, err)
	}
	return ptr.Elem().Interface(), nil
}

// Lookup reads key from store and decodes it as T.
func Lookup[T any](ctx context.Context, store Store, key string) (T, bool, error) {
	var zero T
	v, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	decoded, err := Decode(v, reflect.TypeFor[T]())
	if err != nil {
		return zero, false, err
	}
	if decoded == nil {
		return zero, true, nil
	}
	typed, ok := decoded.(T)
	if !ok {
		return zero, false, fmt.Errorf("cache: %q holds %T, want %s", key, decoded, reflect.TypeFor[T]())
	}
	return typed, true, nil
}
