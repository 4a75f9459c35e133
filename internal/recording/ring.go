// Package recording implements the PreEventRingBuffer and Recorder (C8):
// a bounded pre-roll buffer and trigger-activated clip writer.
package recording

import (
	"github.com/edgevision/aibox/internal/model"
)

// Ring is a fixed-capacity FIFO of recent post-analysis frames, capacity
// preRollSeconds*fps. Append drops the oldest entry once full.
type Ring struct {
	entries []model.RingBufferEntry
	cap     int
	head    int // index of the oldest entry
	size    int
}

// NewRing returns a Ring sized for preRollSeconds at fps. Capacity is always
// at least 1.
func NewRing(preRollSeconds float64, fps float64) *Ring {
	cap := int(preRollSeconds * fps)
	if cap < 1 {
		cap = 1
	}
	return &Ring{entries: make([]model.RingBufferEntry, cap), cap: cap}
}

// Append adds one entry, evicting the oldest if the ring is full.
func (r *Ring) Append(e model.RingBufferEntry) {
	idx := (r.head + r.size) % r.cap
	if r.size < r.cap {
		r.entries[idx] = e
		r.size++
		return
	}
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.cap
}

// Snapshot returns the buffered entries in FIFO order (oldest first).
func (r *Ring) Snapshot() []model.RingBufferEntry {
	out := make([]model.RingBufferEntry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%r.cap]
	}
	return out
}

// Len returns the number of entries currently buffered.
func (r *Ring) Len() int { return r.size }
