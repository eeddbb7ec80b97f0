package codec

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errTrailing = errors.New("codec: trailing data after JSON value")

// JSON is the usual payload codec for origins that serve HTTP APIs. Decode
// rejects anything after the first value, so a truncated or concatenated
// download fails instead of decoding a prefix.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	if dec.More() {
		var zero V
		return zero, errTrailing
	}
	return v, nil
}

// Bytes stores payloads verbatim.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String is Bytes for text; no UTF-8 validation.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
