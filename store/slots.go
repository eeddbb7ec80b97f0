package store

import (
	"bytes"
	"io"
)

// SlotSnapshot is a Snapshot over already-loaded slot bytes.
type SlotSnapshot struct {
	Slots [][]byte
}

func (s *SlotSnapshot) Reader(slot int) (io.Reader, error) {
	if slot < 0 || slot >= len(s.Slots) {
		return nil, ErrSlot
	}
	return bytes.NewReader(s.Slots[slot]), nil
}

func (s *SlotSnapshot) Close() error { return nil }

// SlotBuffers collects the slot writes of an editor in memory.
type SlotBuffers struct {
	bufs []bytes.Buffer
	done bool
}

func NewSlotBuffers(n int) *SlotBuffers {
	return &SlotBuffers{bufs: make([]bytes.Buffer, n)}
}

func (b *SlotBuffers) Writer(slot int) (io.Writer, error) {
	if b.done {
		return nil, ErrDone
	}
	if slot < 0 || slot >= len(b.bufs) {
		return nil, ErrSlot
	}
	b.bufs[slot].Reset()
	return &b.bufs[slot], nil
}

// Finish marks the buffers as consumed and returns the slot bytes. The second
// call returns ErrDone.
func (b *SlotBuffers) Finish() ([][]byte, error) {
	if b.done {
		return nil, ErrDone
	}
	b.done = true
	out := make([][]byte, len(b.bufs))
	for i := range b.bufs {
		out[i] = b.bufs[i].Bytes()
	}
	return out, nil
}
