// Package queue implements a fixed-capacity ring of fixed-size byte elements.
//
// All storage is allocated by New. Push, Pop, Front and Back never allocate.
package queue

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	ErrFull        = errors.New("queue is full")
	ErrOverlap     = errors.New("source element overlaps destination slot")
	ErrElementSize = errors.New("element size mismatch")
	ErrClosed      = errors.New("queue is closed")
)

// Queue is a FIFO of capacity slots, each elemSize bytes wide.
//
// The valid region is the count slots starting at head, wrapping modulo
// capacity. Queue is not safe for concurrent use.
type Queue struct {
	buf      []byte
	capacity uint32
	elemSize uint32
	count    uint32
	head     uint32
}

// New allocates a queue of capacity elements of elemSize bytes.
func New(elemSize, capacity uint32) (*Queue, error) {
	if elemSize == 0 {
		return nil, fmt.Errorf("queue: element size must be non-zero")
	}
	if capacity == 0 {
		return nil, fmt.Errorf("queue: capacity must be non-zero")
	}
	total := uint64(elemSize) * uint64(capacity)
	if total > math.MaxUint32 || total > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("queue: %d elements of %d bytes exceeds 4 GiB", capacity, elemSize)
	}
	return &Queue{
		buf:      make([]byte, total),
		capacity: capacity,
		elemSize: elemSize,
	}, nil
}

// Close releases the backing storage. The queue is empty and unusable afterwards.
func (q *Queue) Close() {
	q.buf = nil
	q.capacity = 0
	q.elemSize = 0
	q.count = 0
	q.head = 0
}

// Size returns the number of stored elements.
func (q *Queue) Size() int { return int(q.count) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return int(q.capacity) }

// ElemSize returns the width of one slot in bytes.
func (q *Queue) ElemSize() int { return int(q.elemSize) }

func (q *Queue) Empty() bool { return q.count == 0 }

func (q *Queue) Full() bool { return q.count == q.capacity }

// advance returns (idx + n) mod capacity using a single conditional
// subtraction. idx must already be in range and n must not exceed capacity.
func (q *Queue) advance(idx, n uint32) uint32 {
	if n > q.capacity {
		panic(fmt.Sprintf("queue: advance by %d exceeds capacity %d", n, q.capacity))
	}
	v := idx + n
	if v >= q.capacity {
		v -= q.capacity
	}
	return v
}

func (q *Queue) slot(idx uint32) []byte {
	off := uint64(idx) * uint64(q.elemSize)
	end := off + uint64(q.elemSize)
	return q.buf[off:end:end]
}

// TryPush copies e into the tail slot.
func (q *Queue) TryPush(e []byte) error {
	if q.buf == nil {
		return ErrClosed
	}
	if uint32(len(e)) != q.elemSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrElementSize, len(e), q.elemSize)
	}
	if q.count == q.capacity {
		return ErrFull
	}
	dest := q.slot(q.advance(q.head, q.count))
	if overlaps(e, dest) {
		return ErrOverlap
	}
	copy(dest, e)
	q.count++
	return nil
}

// Push appends e and reports whether it was stored. Pushing onto a full
// queue, or pushing an element that aliases the destination slot, leaves
// the queue unchanged.
func (q *Queue) Push(e []byte) bool {
	return q.TryPush(e) == nil
}

// Pop discards the oldest element. It is a no-op on an empty queue.
func (q *Queue) Pop() {
	if q.count == 0 {
		return
	}
	q.count--
	q.head = q.advance(q.head, 1)
}

// Front returns the oldest element. The slice aliases queue storage and is
// only valid until the next Push.
func (q *Queue) Front() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.slot(q.head), true
}

// Back returns the newest element.
func (q *Queue) Back() ([]byte, bool) {
	if q.count == 0 {
		return nil, false
	}
	return q.slot(q.advance(q.head, q.count-1)), true
}

func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	aStart := uintptr(unsafe.Pointer(unsafe.SliceData(a)))
	bStart := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	return aStart < bStart+uintptr(len(b)) && bStart < aStart+uintptr(len(a))
}
