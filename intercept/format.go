package intercept

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"
)

// FormatterRegistry renders argument and return values for log entries.
// Basic kinds are printed as-is; any other type prints as its type name
// unless a formatter was registered for it. A nil registry uses the
// defaults.
type FormatterRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]func(any) string
}

func NewFormatterRegistry() *FormatterRegistry {
	return &FormatterRegistry{byType: make(map[reflect.Type]func(any) string)}
}

// RegisterFormatter opts a type into custom formatting.
func RegisterFormatter[T any](r *FormatterRegistry, format func(T) string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeFor[T]()] = func(v any) string {
		return format(v.(T))
	}
}

// Format renders v.
func (r *FormatterRegistry) Format(v any) string {
	if v == nil {
		return "null"
	}
	if r != nil {
		r.mu.RLock()
		f, ok := r.byType[reflect.TypeOf(v)]
		r.mu.RUnlock()
		if ok {
			return f(v)
		}
	}

	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case error:
		return strconv.Quote(x.Error())
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case []byte:
		return fmt.Sprintf("[%d bytes]", len(x))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v)
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		if rv.IsNil() {
			return "null"
		}
	}
	return "{" + rv.Type().String() + "}"
}
