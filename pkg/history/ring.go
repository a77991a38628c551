// Package history provides the fixed-size buffers the runtime uses to keep
// recent samples and failure events for diagnostics.
package history

import (
	"sync"
)

// Ring is a thread-safe fixed-size circular buffer with oldest-first eviction.
type Ring[T any] struct {
	items    []T
	head     int // Index of oldest element
	tail     int // Index where next element will be inserted
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a ring with the specified capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 10
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item, evicting the oldest if necessary.
// Returns true if an item was evicted to make room.
func (r *Ring[T]) Add(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity

	if r.size < r.capacity {
		r.size++
		return false
	}
	r.head = (r.head + 1) % r.capacity
	return true
}

// All returns the buffered items from oldest to newest.
func (r *Ring[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%r.capacity])
	}
	return out
}

// Last returns up to n of the newest items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, 0, n)
	start := r.size - n
	for i := start; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%r.capacity])
	}
	return out
}

// Newest returns the most recently added item.
func (r *Ring[T]) Newest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.tail-1+r.capacity)%r.capacity], true
}

// Find returns the newest item matching fn.
func (r *Ring[T]) Find(fn func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := r.size - 1; i >= 0; i-- {
		item := r.items[(r.head+i)%r.capacity]
		if fn(item) {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Size returns the current number of items.
func (r *Ring[T]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Capacity returns the maximum capacity.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}
