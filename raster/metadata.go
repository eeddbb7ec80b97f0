package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MetadataSize is the encoded size of Metadata: two big-endian int32.
const MetadataSize = 8

var ErrMetadata = errors.New("raster: invalid metadata")

// Metadata records the drawn size of a variable-size bitmap. It is stored
// in its own slot next to the pixel rows.
type Metadata struct {
	Width  int32
	Height int32
}

func (m Metadata) MarshalBinary() ([]byte, error) {
	b := make([]byte, MetadataSize)
	binary.BigEndian.PutUint32(b[0:4], uint32(m.Width))
	binary.BigEndian.PutUint32(b[4:8], uint32(m.Height))
	return b, nil
}

func (m *Metadata) UnmarshalBinary(b []byte) error {
	if len(b) != MetadataSize {
		return fmt.Errorf("%w: %d bytes", ErrMetadata, len(b))
	}
	m.Width = int32(binary.BigEndian.Uint32(b[0:4]))
	m.Height = int32(binary.BigEndian.Uint32(b[4:8]))
	return nil
}

func (m Metadata) WriteTo(w io.Writer) (int64, error) {
	b, _ := m.MarshalBinary()
	n, err := w.Write(b)
	return int64(n), err
}

// ReadMetadata reads one record and rejects non-positive dimensions.
func ReadMetadata(r io.Reader) (Metadata, error) {
	var b [MetadataSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrMetadata, err)
	}
	var m Metadata
	_ = m.UnmarshalBinary(b[:])
	if m.Width < 1 || m.Height < 1 {
		return Metadata{}, fmt.Errorf("%w: %dx%d", ErrMetadata, m.Width, m.Height)
	}
	return m, nil
}
