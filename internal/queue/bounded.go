// Package queue provides a fixed-capacity, non-blocking FIFO that is safe
// for any number of concurrent producers and consumers.
//
// The implementation is a ring of slots, each carrying a sequence number
// that tells producers and consumers whose turn it is. Head and tail are
// claimed with a single CAS, so neither Push nor Pop ever holds a lock or
// waits on another goroutine: when the ring is full or empty the call
// returns immediately.
package queue

import "sync/atomic"

// cacheLinePad separates hot atomics so producers and consumers do not
// contend on the same cache line.
type cacheLinePad [64]byte

type slot[T any] struct {
	seq  atomic.Uint64
	item T
}

// Bounded is a lock-free multi-producer/multi-consumer ring buffer.
// The zero value is not usable; create one with New.
type Bounded[T any] struct {
	_    cacheLinePad
	head atomic.Uint64 // next position to pop
	_    cacheLinePad
	tail atomic.Uint64 // next position to push
	_    cacheLinePad

	slots    []slot[T]
	mask     uint64
	capacity uint64
}

// New allocates a queue that holds at most capacity items.
// The ring is sized to the next power of two, but Push still rejects
// items once capacity of them are pending.
func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}

	size := 1
	for size < capacity {
		size <<= 1
	}

	q := &Bounded[T]{
		slots:    make([]slot[T], size),
		mask:     uint64(size - 1),
		capacity: uint64(capacity),
	}
	for i := range q.slots {
		q.slots[i].seq.Store(uint64(i))
	}
	return q
}

// Push appends item. It returns false without blocking if the queue is full;
// the caller owns the item in that case.
func (q *Bounded[T]) Push(item T) bool {
	pos := q.tail.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()

		switch dif := int64(seq) - int64(pos); {
		case dif == 0:
			// head only moves forward, so a stale read can only
			// overestimate the fill level.
			if pos-q.head.Load() >= q.capacity {
				return false
			}
			if q.tail.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1)
				return true
			}
			pos = q.tail.Load()
		case dif < 0:
			return false
		default:
			pos = q.tail.Load()
		}
	}
}

// Pop removes and returns the oldest item. ok is false if the queue is empty.
func (q *Bounded[T]) Pop() (item T, ok bool) {
	pos := q.head.Load()
	for {
		s := &q.slots[pos&q.mask]
		seq := s.seq.Load()

		switch dif := int64(seq) - int64(pos+1); {
		case dif == 0:
			if q.head.CompareAndSwap(pos, pos+1) {
				item = s.item
				var zero T
				s.item = zero
				s.seq.Store(pos + uint64(len(q.slots)))
				return item, true
			}
			pos = q.head.Load()
		case dif < 0:
			return item, false
		default:
			pos = q.head.Load()
		}
	}
}

// Len returns the number of pending items. Under concurrent use the value
// is a snapshot and may be stale by the time it is returned.
func (q *Bounded[T]) Len() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail <= head {
		return 0
	}
	n := tail - head
	if n > q.capacity {
		n = q.capacity
	}
	return int(n)
}

// Cap returns the fixed capacity given to New.
func (q *Bounded[T]) Cap() int {
	return int(q.capacity)
}
