// Package codec turns document values into bytes for the origin payload and
// the disk tier, and back.
package codec

import (
	"errors"
	"fmt"
	"io"
)

var ErrTooLarge = errors.New("codec: payload too large")

type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Write encodes v and writes the result to w.
func Write[V any](w io.Writer, c Codec[V], v V) (int, error) {
	b, err := c.Encode(v)
	if err != nil {
		return 0, fmt.Errorf("codec: encode: %w", err)
	}
	return w.Write(b)
}

// Read decodes everything r yields. max > 0 bounds the payload; a longer
// stream fails with ErrTooLarge before Decode runs.
func Read[V any](r io.Reader, c Codec[V], max int64) (V, error) {
	var zero V
	if max > 0 {
		r = io.LimitReader(r, max+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return zero, err
	}
	if max > 0 && int64(len(b)) > max {
		return zero, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, max)
	}
	v, err := c.Decode(b)
	if err != nil {
		return zero, fmt.Errorf("codec: decode: %w", err)
	}
	return v, nil
}
