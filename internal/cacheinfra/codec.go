package cacheinfra

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Raw is an msgpack-encoded value returned by byte-oriented stores. The
// reader decodes it into the type it expects.
type Raw []byte

func encode(value any) ([]byte, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("cacheinfra: encode %T: %w", value, err)
	}
	return data, nil
}
