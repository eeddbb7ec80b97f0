package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func mustEncode(t *testing.T, e Entry) []byte {
	t.Helper()
	b, err := EncodeEntry(e)
	if err != nil {
		t.Fatalf("EncodeEntry error: %v", err)
	}
	return b
}

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	cases := []Entry{
		{Schema: 0, Gen: 0, Key: "k"},
		{Schema: 3, Gen: 42, Key: "img:1", Slots: [][]byte{[]byte("pixels")}},
		{Schema: math.MaxUint32, Gen: math.MaxUint64, Key: "a", Slots: [][]byte{nil, {0, 0, 0, 7, 0, 0, 0, 9}}},
	}
	for _, tc := range cases {
		got := mustDecode(t, mustEncode(t, tc))
		if got.Schema != tc.Schema || got.Gen != tc.Gen || got.Key != tc.Key {
			t.Fatalf("header mismatch: got=%+v want=%+v", got, tc)
		}
		if len(got.Slots) != len(tc.Slots) {
			t.Fatalf("slot count: got %d want %d", len(got.Slots), len(tc.Slots))
		}
		for i := range tc.Slots {
			if !bytes.Equal(got.Slots[i], tc.Slots[i]) {
				t.Fatalf("slot %d: got %x want %x", i, got.Slots[i], tc.Slots[i])
			}
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := mustEncode(t, Entry{Gen: 7, Key: "k", Slots: [][]byte{[]byte("x")}})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncode(t, Entry{Schema: 1, Gen: 1, Key: "k", Slots: [][]byte{[]byte("abc")}})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindHeader
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// header: 4 magic +1 ver +1 kind +4 schema +8 gen = 18; klen at 18..20
	badKlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(badKlen[18:20], 200)
	if _, err := DecodeEntry(badKlen); err == nil {
		t.Fatalf("expected error on klen beyond buffer")
	}

	// n at 21, first vlen at 22..26
	badVlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(badVlen[22:26], uint32(len("abc")+1))
	if _, err := DecodeEntry(badVlen); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	badN := append([]byte(nil), enc...)
	badN[21] = 2
	if _, err := DecodeEntry(badN); err == nil {
		t.Fatalf("expected error on slot count beyond buffer")
	}

	if _, err := DecodeEntry(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
}

func TestEntryKeyLengthValidation(t *testing.T) {
	if _, err := EncodeEntry(Entry{Key: ""}); err == nil {
		t.Fatalf("expected error on empty key")
	}
	if _, err := EncodeEntry(Entry{Key: strings.Repeat("a", 0x10000)}); err == nil {
		t.Fatalf("expected error on key length > 0xFFFF")
	}
	if _, err := EncodeEntry(Entry{Key: strings.Repeat("b", 0xFFFF)}); err != nil {
		t.Fatalf("boundary key length should succeed: %v", err)
	}
	if _, err := EncodeEntry(Entry{Key: "k", Slots: make([][]byte, 256)}); err == nil {
		t.Fatalf("expected error on too many slots")
	}
}

func TestEntryZeroCopySlots(t *testing.T) {
	enc := mustEncode(t, Entry{Key: "k", Slots: [][]byte{[]byte("Z")}})
	got := mustDecode(t, enc)
	got.Slots[0][0] = 'Q'
	if again := mustDecode(t, enc); again.Slots[0][0] != 'Q' {
		t.Fatalf("expected zero-copy slot into enc buffer")
	}
}

func TestHeaderRoundTripAndStrictness(t *testing.T) {
	h := Header{Schema: 9, Slots: 2}
	enc := EncodeHeader(h)
	got, err := DecodeHeader(enc)
	if err != nil || got != h {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	if _, err := DecodeHeader(append(enc, 0)); err == nil {
		t.Fatalf("expected error on trailing byte")
	}
	entry := mustEncode(t, Entry{Key: "k"})
	if _, err := DecodeHeader(entry); err == nil {
		t.Fatalf("entry bytes must not decode as header")
	}
}
