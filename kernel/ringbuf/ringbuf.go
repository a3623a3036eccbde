// Package ringbuf provides a fixed-capacity FIFO that overwrites its oldest
// element when full. It backs the early console buffer and the keyboard
// queue, both of which prefer losing stale data to blocking a producer that
// runs in interrupt context.
package ringbuf

import "io"

// Ring is a FIFO of at most Cap() elements. The zero value is not usable;
// use New.
type Ring[T any] struct {
	buf          []T
	rIndex, size int
}

// New returns a ring holding up to capacity elements. Capacity must be a
// power of 2.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ringbuf: capacity must be a power of 2")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int { return r.size }

// Push appends v. If the ring is full the oldest element is dropped and
// Push returns true.
func (r *Ring[T]) Push(v T) (overwrote bool) {
	mask := len(r.buf) - 1
	r.buf[(r.rIndex+r.size)&mask] = v
	if r.size == len(r.buf) {
		r.rIndex = (r.rIndex + 1) & mask
		return true
	}
	r.size++
	return false
}

// Pop removes and returns the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}

	v := r.buf[r.rIndex]
	r.buf[r.rIndex] = zero
	r.rIndex = (r.rIndex + 1) & (len(r.buf) - 1)
	r.size--
	return v, true
}

// Reset drops all queued elements.
func (r *Ring[T]) Reset() {
	for r.size != 0 {
		r.Pop()
	}
}

// Bytes adapts a byte ring to io.ReadWriter.
type Bytes struct {
	*Ring[byte]
}

// NewBytes returns a byte ring of the given capacity.
func NewBytes(capacity int) Bytes {
	return Bytes{New[byte](capacity)}
}

// Write queues p, dropping the oldest bytes on overflow. It never fails.
func (b Bytes) Write(p []byte) (int, error) {
	for _, c := range p {
		b.Push(c)
	}
	return len(p), nil
}

// Read dequeues up to len(p) bytes. It returns io.EOF once the ring is empty.
func (b Bytes) Read(p []byte) (int, error) {
	if b.Len() == 0 {
		return 0, io.EOF
	}

	n := 0
	for ; n < len(p); n++ {
		c, ok := b.Pop()
		if !ok {
			break
		}
		p[n] = c
	}
	return n, nil
}
