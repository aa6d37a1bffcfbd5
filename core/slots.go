package core

import "math/bits"

// Slots is a fixed-capacity slot allocator backed by a free-slot bitmap.
// Acquire always hands out the lowest free index. Not safe for concurrent use.
type Slots struct {
	words []uint64
	cap   int
	used  int
}

// NewSlots creates a slot table with room for capacity entries.
func NewSlots(capacity int) *Slots {
	if capacity < 0 {
		capacity = 0
	}
	return &Slots{
		words: make([]uint64, (capacity+63)/64),
		cap:   capacity,
	}
}

// Acquire reserves the lowest free slot. It returns false when the table is full.
func (s *Slots) Acquire() (int, bool) {
	if s.used >= s.cap {
		return -1, false
	}
	for w, word := range s.words {
		if word == ^uint64(0) {
			continue
		}
		bit := bits.TrailingZeros64(^word)
		idx := w*64 + bit
		if idx >= s.cap {
			break
		}
		s.words[w] |= 1 << uint(bit)
		s.used++
		return idx, true
	}
	return -1, false
}

// Release frees slot i. It reports false if i was out of range or not in use.
func (s *Slots) Release(i int) bool {
	if !s.InUse(i) {
		return false
	}
	s.words[i/64] &^= 1 << uint(i%64)
	s.used--
	return true
}

// InUse reports whether slot i is currently reserved.
func (s *Slots) InUse(i int) bool {
	if i < 0 || i >= s.cap {
		return false
	}
	return s.words[i/64]&(1<<uint(i%64)) != 0
}

// Len returns the number of reserved slots.
func (s *Slots) Len() int { return s.used }

// Cap returns the fixed capacity.
func (s *Slots) Cap() int { return s.cap }

// Free returns the number of unreserved slots.
func (s *Slots) Free() int { return s.cap - s.used }
