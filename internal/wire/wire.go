package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindEntry  byte = 1
	kindHeader byte = 2

	maxSlots = 0xFF
)

var (
	ErrCorrupt   = errors.New("tiercache: corrupt entry")
	ErrKeyLength = errors.New("tiercache: invalid key length in entry")
	ErrSlots     = errors.New("tiercache: too many slots in entry")
	magic4       = [...]byte{'T', 'I', 'E', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is one persisted artifact: a key, the schema and generation it was
// written under, and a fixed number of payload slots.
type Entry struct {
	Schema uint32
	Gen    uint64
	Key    string
	Slots  [][]byte
}

// Entry:
//
//	magic(4) | ver(1) | kind(1=entry) | schema(u32 be) | gen(u64 be)
//	keyLen(u16 be) | key(keyLen) | n(u8)
//	vlen(u32 be) | payload(vlen) * n
func EncodeEntry(e Entry) ([]byte, error) {
	if l := len(e.Key); l == 0 || l > 0xFFFF {
		return nil, ErrKeyLength
	}
	if len(e.Slots) > maxSlots {
		return nil, ErrSlots
	}

	total := 4 + 1 + 1 + 4 + 8 + 2 + len(e.Key) + 1
	for _, s := range e.Slots {
		total += 4 + len(s)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], e.Schema)
	buf.Write(u4[:])
	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(e.Key)))
	buf.Write(u2[:])
	buf.WriteString(e.Key)

	buf.WriteByte(byte(len(e.Slots)))
	for _, s := range e.Slots {
		binary.BigEndian.PutUint32(u4[:], uint32(len(s)))
		buf.Write(u4[:])
		buf.Write(s)
	}
	return buf.Bytes(), nil
}

// DecodeEntry is strict: any truncation, unknown header or trailing byte is
// ErrCorrupt. Slots alias b.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 4 + 8 + 2
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6
	var e Entry

	e.Schema = binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	e.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen == 0 || klen > len(b)-off {
		return Entry{}, ErrCorrupt
	}
	e.Key = string(b[off : off+klen])
	off += klen

	if off+1 > len(b) {
		return Entry{}, ErrCorrupt
	}
	n := int(b[off])
	off++

	e.Slots = make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if off+4 > len(b) {
			return Entry{}, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		e.Slots = append(e.Slots, b[off:off+vlen])
		off += vlen
	}

	if off != len(b) {
		return Entry{}, ErrCorrupt
	}
	return e, nil
}

// Header describes a whole store: the schema version entries were written
// with and the number of slots each entry carries.
//
//	magic(4) | ver(1) | kind(2=header) | schema(u32 be) | slots(u8)
type Header struct {
	Schema uint32
	Slots  int
}

func EncodeHeader(h Header) []byte {
	if h.Slots < 0 || h.Slots > maxSlots {
		panic("tiercache: invalid slot count in header")
	}
	b := make([]byte, 0, 4+1+1+4+1)
	b = append(b, magic4[:]...)
	b = append(b, version, kindHeader)
	b = binary.BigEndian.AppendUint32(b, h.Schema)
	b = append(b, byte(h.Slots))
	return b
}

func DecodeHeader(b []byte) (Header, error) {
	const size = 4 + 1 + 1 + 4 + 1
	if len(b) != size || !hasMagic(b) || b[4] != version || b[5] != kindHeader {
		return Header{}, ErrCorrupt
	}
	return Header{
		Schema: binary.BigEndian.Uint32(b[6:10]),
		Slots:  int(b[10]),
	}, nil
}
