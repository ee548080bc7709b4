package cache

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// ErrUnserializable is returned for arguments that have no stable
// representation. Callers must not cache such calls.
var ErrUnserializable = errors.New("cache: argument cannot be serialized deterministically")

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls and must fail
// rather than produce a key that could collide.
type KeySerializer interface {
	SerializeKey(method string, args ...any) (string, error)
}

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
// Functions, channels and unsafe pointers are rejected.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds a cache key from method name and args using reflection.
func (s *defaultKeySerializer) SerializeKey(method string, args ...any) (string, error) {
	if len(args) == 0 {
		return method, nil
	}

	parts := make([]string, 0, len(args)+1)
	parts = append(parts, method)

	for i, arg := range args {
		serialized, err := s.serializeValue(arg)
		if err != nil {
			return "", fmt.Errorf("%s argument %d: %w", method, i, err)
		}
		parts = append(parts, serialized)
	}

	return strings.Join(parts, KeySeparator), nil
}

var (
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
)

// serializeValue handles individual argument serialization based on type.
// Every value is rendered with its type and every string is quoted, so a
// serialized value never reads as the start of another.
func (s *defaultKeySerializer) serializeValue(v any) (string, error) {
	if v == nil {
		return "nil", nil
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", fmt.Errorf("%w: %s", ErrUnserializable, rt)
	case reflect.Pointer:
		if rv.IsNil() {
			return rt.String() + "(nil)", nil
		}
	}

	// Types that know how to render themselves win over reflection, so
	// values such as time.Time do not collapse to an empty struct.
	if rt.Implements(textMarshalerType) {
		text, err := v.(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnserializable, rt, err)
		}
		return rt.String() + "(" + strconv.Quote(string(text)) + ")", nil
	}
	if rt.Implements(jsonMarshalerType) {
		return s.jsonFallback(v)
	}

	switch rt.Kind() {
	case reflect.Pointer:
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return rt.String() + "(nil)", nil
		}
		return s.serializeList(rt.String()+"["+strconv.Itoa(rv.Len())+"]", rv)
	case reflect.Array:
		return s.serializeList(rt.String(), rv)
	case reflect.Map:
		if rv.IsNil() {
			return rt.String() + "(nil)", nil
		}
		return s.serializeMap(rv, rt)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	case reflect.Interface:
		if rv.IsNil() {
			return "nil", nil
		}
		return s.serializeValue(rv.Elem().Interface())
	}

	if basic, ok := s.serializeBasic(rv); ok {
		return rt.String() + "(" + basic + ")", nil
	}

	return s.jsonFallback(v)
}

// serializeBasic renders scalars without going through fmt, so a String
// method on a named type cannot change the key.
func (s *defaultKeySerializer) serializeBasic(rv reflect.Value) (string, bool) {
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, rv.Type().Bits()), true
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, rv.Type().Bits()), true
	case reflect.String:
		return strconv.Quote(rv.String()), true
	default:
		return "", false
	}
}

// serializeList handles slices and arrays recursively.
func (s *defaultKeySerializer) serializeList(head string, rv reflect.Value) (string, error) {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		part, err := s.serializeValue(rv.Index(i).Interface())
		if err != nil {
			return "", err
		}
		parts[i] = part
	}

	return head + "{" + strings.Join(parts, ",") + "}", nil
}

// serializeMap handles map serialization with sorted keys for determinism.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value, rt reflect.Type) (string, error) {
	pairs := make([]string, 0, rv.Len())

	iter := rv.MapRange()
	for iter.Next() {
		key, err := s.serializeValue(iter.Key().Interface())
		if err != nil {
			return "", err
		}
		value, err := s.serializeValue(iter.Value().Interface())
		if err != nil {
			return "", err
		}
		pairs = append(pairs, key+"="+value)
	}
	sort.Strings(pairs)

	return fmt.Sprintf("%s[%d]{%s}", rt, len(pairs), strings.Join(pairs, ",")), nil
}

// serializeStruct handles struct serialization with field names.
// Unexported fields are skipped; a struct made only of unexported fields
// is rejected since every value would share one key.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) (string, error) {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)
	hidden := 0

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			hidden++
			continue
		}

		serializedValue, err := s.serializeValue(rv.Field(i).Interface())
		if err != nil {
			return "", fmt.Errorf("field %s: %w", field.Name, err)
		}
		parts = append(parts, field.Name+":"+serializedValue)
	}

	if len(parts) == 0 && hidden > 0 {
		return "", fmt.Errorf("%w: %s has no exported fields", ErrUnserializable, rt)
	}

	return rt.String() + "{" + strings.Join(parts, ",") + "}", nil
}

// jsonFallback provides JSON serialization as a last resort.
func (s *defaultKeySerializer) jsonFallback(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %T: %v", ErrUnserializable, v, err)
	}
	return fmt.Sprintf("%T(json:%s)", v, strconv.Quote(string(data))), nil
}
