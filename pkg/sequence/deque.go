package sequence

const minDequeCapacity = 16

// Deque is a growable ring buffer with O(1) push and pop at both ends.
// It is not safe for concurrent use; callers serialize access.
type Deque[T any] struct {
	buf  []T
	head int
	size int
}

// NewDeque creates a deque with room for capacity items before it has to grow.
func NewDeque[T any](capacity int) *Deque[T] {
	if capacity < minDequeCapacity {
		capacity = minDequeCapacity
	}
	return &Deque[T]{buf: make([]T, capacity)}
}

// Len returns the number of items in the deque.
func (d *Deque[T]) Len() int {
	return d.size
}

// PushBack appends v after the newest item.
func (d *Deque[T]) PushBack(v T) {
	d.ensureRoom()
	d.buf[(d.head+d.size)%len(d.buf)] = v
	d.size++
}

// PushFront inserts v before the oldest item.
func (d *Deque[T]) PushFront(v T) {
	d.ensureRoom()
	d.head = (d.head - 1 + len(d.buf)) % len(d.buf)
	d.buf[d.head] = v
	d.size++
}

// PopFront removes and returns the oldest item.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	v := d.buf[d.head]
	d.buf[d.head] = zero
	d.head = (d.head + 1) % len(d.buf)
	d.size--
	return v, true
}

// PopBack removes and returns the newest item.
func (d *Deque[T]) PopBack() (T, bool) {
	var zero T
	if d.size == 0 {
		return zero, false
	}
	idx := (d.head + d.size - 1) % len(d.buf)
	v := d.buf[idx]
	d.buf[idx] = zero
	d.size--
	return v, true
}

// DropFront removes up to n of the oldest items and returns them oldest first.
func (d *Deque[T]) DropFront(n int) []T {
	if n > d.size {
		n = d.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, _ := d.PopFront()
		out = append(out, v)
	}
	return out
}

// Items returns a copy of the contents, oldest first.
func (d *Deque[T]) Items() []T {
	out := make([]T, d.size)
	for i := 0; i < d.size; i++ {
		out[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	return out
}

// Clear removes every item and keeps the allocated buffer.
func (d *Deque[T]) Clear() {
	var zero T
	for i := 0; i < d.size; i++ {
		d.buf[(d.head+i)%len(d.buf)] = zero
	}
	d.head = 0
	d.size = 0
}

func (d *Deque[T]) ensureRoom() {
	if len(d.buf) == 0 {
		d.buf = make([]T, minDequeCapacity)
		return
	}
	if d.size < len(d.buf) {
		return
	}
	grown := make([]T, len(d.buf)*2)
	for i := 0; i < d.size; i++ {
		grown[i] = d.buf[(d.head+i)%len(d.buf)]
	}
	d.buf = grown
	d.head = 0
}
