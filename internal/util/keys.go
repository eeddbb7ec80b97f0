package util

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// FileKey maps an arbitrary key to a fixed-width, filesystem-safe name.
// Collisions are possible; callers that care store the original key next to
// the data and compare on read.
func FileKey(key string) string {
	const width = 16
	s := strconv.FormatUint(xxhash.Sum64String(key), 16)
	if len(s) < width {
		s = "0000000000000000"[:width-len(s)] + s
	}
	return s
}
