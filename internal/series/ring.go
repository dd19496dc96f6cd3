// Package series provides the fixed-capacity ring buffer behind the temperature history.
package series

// DefaultCapacity is the hard cap on retained samples.
const DefaultCapacity = 500

// Ring is a fixed-capacity FIFO. Pushing past capacity overwrites the oldest entry.
// Not safe for concurrent use; the owner serialises access.
type Ring[T any] struct {
	buf      []T
	capacity int
	head     int // next write position
	count    int
	evicted  uint64
}

// NewRing creates a ring holding at most capacity items. Capacity outside
// [1, DefaultCapacity] uses DefaultCapacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest item when full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % r.capacity
	if r.count == r.capacity {
		// head was pointing at the oldest item, which is now overwritten
		r.evicted++
		return
	}
	r.count++
}

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%r.capacity]
	}
	return out
}

// Len returns the number of retained items.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return r.capacity }

// Evicted returns how many items have been overwritten since creation.
func (r *Ring[T]) Evicted() uint64 { return r.evicted }
