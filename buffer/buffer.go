// Package buffer implements the contiguous-region byte buffer owned by
// each Connection's read and write sides (spec.md §3 Buffer). It is a
// plain, non-circular region: consume advances head, commit advances
// tail, and clear resets both to zero. Commit never grows the region;
// Write compacts and, if that is not enough, grows it to fit, so a slice
// returned by Readable/Writable is invalidated by a Write as well as by
// an explicit Grow.
//
// Grounded on the teacher's chunk-management idiom in
// eventloop/ingress.go (ChunkedIngress), generalized from a
// task queue of fixed-size chunks to a single growable byte region, since
// no ring-buffer dependency appears anywhere in the retrieved pack (see
// DESIGN.md for why this component is implemented on the standard
// library).
package buffer

import "fmt"

// Ring is a contiguous byte buffer with head/tail indices, satisfying the
// invariant 0 ≤ head ≤ tail ≤ capacity. The readable span is [head, tail);
// the writable span is [tail, capacity).
type Ring struct {
	data []byte
	head int
	tail int
}

// New allocates a Ring with the given initial capacity.
func New(capacity int) *Ring {
	if capacity < 0 {
		panic("buffer: negative capacity")
	}
	return &Ring{data: make([]byte, capacity)}
}

// Len returns the number of readable bytes (tail - head).
func (r *Ring) Len() int { return r.tail - r.head }

// Cap returns the total capacity of the underlying region.
func (r *Ring) Cap() int { return len(r.data) }

// Available returns the number of bytes that can still be committed
// before the buffer is full (capacity - tail).
func (r *Ring) Available() int { return len(r.data) - r.tail }

// Readable returns the slice [head, tail) of unread bytes. The returned
// slice aliases the Ring's internal storage and is invalidated by the
// next Consume, Write (if it compacts or grows), Clear, or Grow.
func (r *Ring) Readable() []byte {
	return r.data[r.head:r.tail]
}

// Writable returns the slice [tail, capacity) available for writing. The
// returned slice aliases the Ring's internal storage and is invalidated
// by the next Commit, Clear, or Grow.
func (r *Ring) Writable() []byte {
	return r.data[r.tail:]
}

// Write copies p into the writable span, growing the buffer if necessary,
// and commits the written bytes. Returns the number of bytes written
// (always len(p), since Write grows rather than truncating).
func (r *Ring) Write(p []byte) (int, error) {
	if len(p) > r.Available() {
		r.compact()
		if len(p) > r.Available() {
			r.Grow(len(p) - r.Available())
		}
	}
	n := copy(r.data[r.tail:], p)
	r.tail += n
	return n, nil
}

// Consume advances head by n, shrinking the readable span. Panics if n is
// out of range [0, Len()] — a caller consuming more than was read back
// indicates a protocol bug, not a recoverable condition.
func (r *Ring) Consume(n int) {
	if n < 0 || r.head+n > r.tail {
		panic(fmt.Sprintf("buffer: Consume(%d) out of range [head=%d tail=%d]", n, r.head, r.tail))
	}
	r.head += n
	if r.head == r.tail {
		// Fully drained: reset to the start of the region so Writable
		// reports the full capacity again without requiring a Grow.
		r.head = 0
		r.tail = 0
	}
}

// Commit advances tail by n after the caller has written directly into
// the slice returned by Writable. Panics if n is out of range
// [0, Available()].
func (r *Ring) Commit(n int) {
	if n < 0 || r.tail+n > len(r.data) {
		panic(fmt.Sprintf("buffer: Commit(%d) out of range [tail=%d cap=%d]", n, r.tail, len(r.data)))
	}
	r.tail += n
}

// Clear resets head and tail to zero, discarding any readable bytes
// without releasing the underlying storage.
func (r *Ring) Clear() {
	r.head = 0
	r.tail = 0
}

// Grow ensures at least n additional bytes of writable space are
// available, compacting first and reallocating only if compaction alone
// is insufficient.
func (r *Ring) Grow(n int) {
	if n <= 0 {
		return
	}
	if r.Available() >= n {
		return
	}
	r.compact()
	if r.Available() >= n {
		return
	}
	needed := r.tail + n
	grown := make([]byte, needed)
	copy(grown, r.data[:r.tail])
	r.data = grown
}

// compact shifts the readable span down to index 0, reclaiming space
// consumed by earlier reads without reallocating.
func (r *Ring) compact() {
	if r.head == 0 {
		return
	}
	n := copy(r.data, r.data[r.head:r.tail])
	r.head = 0
	r.tail = n
}
