// Package ringbuf provides a fixed-capacity FIFO buffer that evicts the oldest
// element when full.
package ringbuf

// Buffer holds at most Cap() elements in insertion order.
// It is not safe for concurrent use.
type Buffer[T any] struct {
	buf   []T
	start int
	count int
}

// New creates a Buffer with the given capacity. Capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element if the buffer is full.
// It reports whether an element was evicted.
func (r *Buffer[T]) Push(v T) bool {
	size := len(r.buf)
	idx := (r.start + r.count) % size
	evicted := false
	if r.count == size {
		r.start = (r.start + 1) % size
		r.count--
		evicted = true
	}
	r.buf[idx] = v
	r.count++
	return evicted
}

// Len returns the number of stored elements.
func (r *Buffer[T]) Len() int { return r.count }

// Cap returns the buffer capacity.
func (r *Buffer[T]) Cap() int { return len(r.buf) }

// At returns the i-th element counting from the oldest.
func (r *Buffer[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Set replaces the i-th element counting from the oldest.
func (r *Buffer[T]) Set(i int, v T) {
	r.buf[(r.start+i)%len(r.buf)] = v
}

// Last returns the newest element.
func (r *Buffer[T]) Last() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.At(r.count - 1), true
}

// Index returns the position of the first element matching fn, or -1.
func (r *Buffer[T]) Index(fn func(T) bool) int {
	for i := 0; i < r.count; i++ {
		if fn(r.At(i)) {
			return i
		}
	}
	return -1
}

// Snapshot copies the contents, oldest first.
func (r *Buffer[T]) Snapshot() []T {
	out := make([]T, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.At(i)
	}
	return out
}

// Each calls fn for every element, oldest first.
func (r *Buffer[T]) Each(fn func(T)) {
	for i := 0; i < r.count; i++ {
		fn(r.At(i))
	}
}
