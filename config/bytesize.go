package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a byte count that config files may spell as "64MiB" or "10MB".
// Unit suffixes follow go-humanize: k, MB, GB are decimal; KiB, MiB, GiB binary.
type ByteSize int64

func ParseByteSize(s string) (ByteSize, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("config: invalid byte size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("config: byte size %q out of range", s)
	}
	return ByteSize(n), nil
}

func byteSizeOf(f float64) (ByteSize, error) {
	if f < 0 || f >= math.MaxInt64 || math.IsNaN(f) {
		return 0, fmt.Errorf("config: byte size %v out of range", f)
	}
	return ByteSize(f), nil
}
