package webui

import "sync"

// Ring is a fixed-size, thread-safe buffer that overwrites its oldest entry
// when full.
type Ring[T any] struct {
	mu   sync.RWMutex
	data []T
	head int
	size int
}

// NewRing panics if capacity is less than 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		panic("webui: ring capacity must be at least 1")
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Push adds item, overwriting the oldest one when full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.size < len(r.data) {
		r.size++
	}
}

// Newest returns up to n entries, newest first. n <= 0 returns all.
func (r *Ring[T]) Newest(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.data[r.index(i)]
	}
	return out
}

// Find returns the newest entry matching match.
func (r *Ring[T]) Find(match func(T) bool) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < r.size; i++ {
		if v := r.data[r.index(i)]; match(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Replace overwrites the newest entry matching match with item.
func (r *Ring[T]) Replace(match func(T) bool, item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.size; i++ {
		idx := r.index(i)
		if match(r.data[idx]) {
			r.data[idx] = item
			return true
		}
	}
	return false
}

// Len returns the number of stored items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// index maps age i (0 = newest) to a slot.
func (r *Ring[T]) index(i int) int {
	return (r.head - 1 - i + 2*len(r.data)) % len(r.data)
}
