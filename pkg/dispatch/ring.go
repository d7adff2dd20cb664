package dispatch

import "sync"

// Ring is a bounded FIFO. When full, the oldest item is dropped and counted.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	dropped int64
}

// NewRing creates a ring holding at most capacity items. A capacity below
// one is raised to one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v and reports whether an older item had to be dropped.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.items)
	if r.size == capacity {
		r.items[r.head] = v
		r.head = (r.head + 1) % capacity
		r.dropped++
		return true
	}
	r.items[(r.head+r.size)%capacity] = v
	r.size++
	return false
}

// Pop removes and returns the oldest item without blocking.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// PopNewest removes and returns the most recent item without blocking.
func (r *Ring[T]) PopNewest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := (r.head + r.size - 1) % len(r.items)
	v := r.items[idx]
	r.items[idx] = zero
	r.size--
	return v, true
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear drops every item. Cleared items are not counted as dropped.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.items)
	r.head = 0
	r.size = 0
}

// Dropped returns how many items were pushed out by newer ones.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
