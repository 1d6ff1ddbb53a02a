package groundtruth

// Ring is a fixed-capacity circular buffer. Once full, each Push overwrites
// the oldest element. Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	start int
	size  int
}

// NewRing returns an empty ring holding at most capacity elements.
// Capacities below 1 are raised to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Slice copies the contents out, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Reset empties the ring without reallocating.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.size = 0
}
