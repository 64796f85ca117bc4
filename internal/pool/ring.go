package pool

// Ring is a growable FIFO queue backed by a circular buffer. The zero
// value is not usable; use NewRing. Push and Pop are amortized O(1);
// the buffer doubles when full and never shrinks on its own.
type Ring[T any] struct {
	data  []T
	head  int // pop index
	tail  int // push index
	count int
}

const ringInitialCap = 16

// NewRing returns an empty ring with the initial capacity.
func NewRing[T any]() *Ring[T] {
	return &Ring[T]{data: make([]T, ringInitialCap)}
}

// Len reports the number of queued items.
func (r *Ring[T]) Len() int { return r.count }

// Cap reports the current buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.data) }

// grow doubles the capacity, linearizing items into [0..count).
func (r *Ring[T]) grow() {
	newCap := ringInitialCap
	if len(r.data) > 0 {
		newCap = len(r.data) * 2
	}
	tmp := make([]T, newCap)
	for i := 0; i < r.count; i++ {
		tmp[i] = r.data[(r.head+i)%len(r.data)]
	}
	r.data = tmp
	r.head = 0
	r.tail = r.count
}

// Push appends an item at the tail, growing the buffer if full.
func (r *Ring[T]) Push(item T) {
	if r.count == len(r.data) {
		r.grow()
	}
	r.data[r.tail] = item
	r.tail = (r.tail + 1) % len(r.data)
	r.count++
}

// Pop removes and returns the item at the head. The second return is
// false when the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	item := r.data[r.head]
	r.data[r.head] = zero // drop the reference
	r.head = (r.head + 1) % len(r.data)
	r.count--
	return item, true
}

// Shrink reallocates the buffer down to the current length, keeping at
// least the initial capacity.
func (r *Ring[T]) Shrink() {
	newCap := r.count
	if newCap < ringInitialCap {
		newCap = ringInitialCap
	}
	if newCap == len(r.data) {
		return
	}
	tmp := make([]T, newCap)
	for i := 0; i < r.count; i++ {
		tmp[i] = r.data[(r.head+i)%len(r.data)]
	}
	r.data = tmp
	r.head = 0
	r.tail = r.count % len(r.data)
}

// Reset discards all queued items.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.count = 0
}
