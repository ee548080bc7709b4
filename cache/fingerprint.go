package cache

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/goliatone/go-intercept/intercept"
)

// Fingerprinter derives the cache key of a call.
type Fingerprinter interface {
	Fingerprint(meta *intercept.CallMetadata) (string, error)
}

// FingerprinterFunc adapts a function to Fingerprinter.
type FingerprinterFunc func(meta *intercept.CallMetadata) (string, error)

func (f FingerprinterFunc) Fingerprint(meta *intercept.CallMetadata) (string, error) {
	return f(meta)
}

type hashFingerprinter struct {
	serializer KeySerializer
}

// NewFingerprinter builds keys of the form <type>::<method>::<xxhash> from
// the serialized input arguments. A nil serializer uses the default one.
func NewFingerprinter(serializer KeySerializer) Fingerprinter {
	if serializer == nil {
		serializer = NewDefaultKeySerializer()
	}
	return &hashFingerprinter{serializer: serializer}
}

func (f *hashFingerprinter) Fingerprint(meta *intercept.CallMetadata) (string, error) {
	serialized, err := f.serializer.SerializeKey(meta.Method(), meta.Arguments()...)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", meta, err)
	}
	return MethodPrefix(meta.TypeName(), meta.Method()) + strconv.FormatUint(xxhash.Sum64String(serialized), 16), nil
}

// TypePrefix is the key prefix shared by every method of typeName.
func TypePrefix(typeName string) string {
	return typeName + KeySeparator
}

// MethodPrefix is the key prefix shared by every call of one method.
func MethodPrefix(typeName, method string) string {
	return typeName + KeySeparator + method + KeySeparator
}
