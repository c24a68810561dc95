// Package handshake implements the fixed-capacity slot arrays spec.md §3
// calls for: the registration-handshake array and the request-handshake
// array. Both are bounded, index-addressed collections of pending
// three-party-rendezvous state; the only access patterns are "find a free
// slot", "iterate active slots", and "free a slot" — a slice of optional
// values serves that better than an intrusive linked list
// (spec.md §9's guidance to replace the C source's lists with owned,
// capacity-bounded storage).
package handshake

import "errors"

// ErrFull is returned by Alloc when every slot is occupied.
var ErrFull = errors.New("handshake: slot array full")

// Slots is a fixed-capacity array of optional T values, addressed by index.
// It is not safe for concurrent use — the broker's single main-loop
// goroutine is the only owner, per spec.md §5's shared-resource policy.
type Slots[T any] struct {
	active []bool
	values []T
	count  int
}

// NewSlots creates a Slots with the given fixed capacity.
func NewSlots[T any](capacity int) *Slots[T] {
	return &Slots[T]{
		active: make([]bool, capacity),
		values: make([]T, capacity),
	}
}

// Cap returns the fixed capacity.
func (s *Slots[T]) Cap() int { return len(s.values) }

// Len returns the number of currently occupied slots.
func (s *Slots[T]) Len() int { return s.count }

// Alloc finds a free slot, stores value in it, and returns its index.
func (s *Slots[T]) Alloc(value T) (int, error) {
	for i, occupied := range s.active {
		if !occupied {
			s.active[i] = true
			s.values[i] = value
			s.count++
			return i, nil
		}
	}
	return -1, ErrFull
}

// Get returns the value at idx and whether it is occupied.
func (s *Slots[T]) Get(idx int) (*T, bool) {
	if idx < 0 || idx >= len(s.values) || !s.active[idx] {
		return nil, false
	}
	return &s.values[idx], true
}

// Free clears the slot at idx. Freeing an already-free or out-of-range
// index is a no-op.
func (s *Slots[T]) Free(idx int) {
	if idx < 0 || idx >= len(s.values) || !s.active[idx] {
		return
	}
	var zero T
	s.active[idx] = false
	s.values[idx] = zero
	s.count--
}

// ForEach calls fn with the index and value of every occupied slot, in
// index order. fn may call Free(idx) on the index it was given; it must
// not call Alloc, or mutate slots other than its own index, from within
// the callback.
func (s *Slots[T]) ForEach(fn func(idx int, value *T)) {
	for i := range s.values {
		if s.active[i] {
			fn(i, &s.values[i])
		}
	}
}

// Clear empties every slot, used for the Fatal "reaped pid absent from the
// array" recovery path in spec.md §4.4 step 4.
func (s *Slots[T]) Clear() {
	for i := range s.values {
		s.active[i] = false
		var zero T
		s.values[i] = zero
	}
	s.count = 0
}
