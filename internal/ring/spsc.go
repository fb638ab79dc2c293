// Package ring implements the lock-free bounded queues used at every stage
// boundary of the pipeline: a single-producer/single-consumer ring for the
// hot path, and a multi-producer/single-consumer ring for the deterministic
// logger's writer threads.
//
// Both use cache-line-isolated counters and in-place storage — no
// allocation after construction. The SPSC ring is a Lamport-style ring
// with cached peer indices to cut cross-core traffic; the MPSC ring
// uses per-slot step stamps instead (see mpsc.go).
package ring

import (
	"sync/atomic"
)

// pad isolates a field to its own cache line, preventing false sharing
// between producer- and consumer-owned counters.
type pad [64]byte

// ErrWouldBlock is returned by TryPush when the ring is full and by TryPop
// when it is empty. It is a control-flow signal, not a failure: the caller
// retries or backs off, it never propagates as an error up the hot path.
type ErrWouldBlock struct{}

func (ErrWouldBlock) Error() string { return "ring: would block" }

// errWouldBlock is the shared instance returned from the hot path to avoid
// allocating an error value per call.
var errWouldBlock = ErrWouldBlock{}

func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// SPSC is a fixed-capacity single-producer/single-consumer ring.
//
// Head and tail are cache-line-isolated counters, each updated with
// release semantics on publish and observed with acquire semantics by the
// other side. Each side also caches its last observation of the other's
// counter, so the common case touches no cross-core-shared cache line.
//
// Full and empty are distinguished by counter inequality against the
// capacity, never by index equality: the ring uses a separate head/tail
// pair (not the "capacity-1 usable slots" sentinel trick), so the full
// capacity is usable.
type SPSC[T any] struct {
	_          pad
	head       atomic.Uint64 // consumer writes, producer reads
	_          pad
	cachedTail uint64 // consumer's cached view of tail (avoids re-reading tail every pop)
	_          pad
	tail       atomic.Uint64 // producer writes, consumer reads
	_          pad
	cachedHead uint64 // producer's cached view of head
	_          pad
	buffer     []T
	mask       uint64
}

// NewSPSC creates a ring with capacity rounded up to the next power of two.
func NewSPSC[T any](capacity int) *SPSC[T] {
	n := uint64(roundToPow2(capacity))
	return &SPSC[T]{
		buffer: make([]T, n),
		mask:   n - 1,
	}
}

// Cap returns the usable capacity.
func (q *SPSC[T]) Cap() int { return int(q.mask + 1) }

// Len returns a point-in-time estimate of queued elements. Not safe to use
// for full/empty decisions under concurrent access from both sides — use
// TryPush/TryPop's return values instead.
func (q *SPSC[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// TryPush adds elem to the queue. Producer-only. Returns ErrWouldBlock if
// the queue is full; the element is never overwritten.
func (q *SPSC[T]) TryPush(elem T) error {
	tail := q.tail.Load()
	if tail-q.cachedHead >= uint64(len(q.buffer)) {
		q.cachedHead = q.head.Load()
		if tail-q.cachedHead >= uint64(len(q.buffer)) {
			return errWouldBlock
		}
	}
	q.buffer[tail&q.mask] = elem
	q.tail.Store(tail + 1)
	return nil
}

// TryPop removes and returns the oldest element. Consumer-only. Returns
// ErrWouldBlock and the zero value if the queue is empty.
func (q *SPSC[T]) TryPop() (T, error) {
	head := q.head.Load()
	if head >= q.cachedTail {
		q.cachedTail = q.tail.Load()
		if head >= q.cachedTail {
			var zero T
			return zero, errWouldBlock
		}
	}
	elem := q.buffer[head&q.mask]
	var zero T
	q.buffer[head&q.mask] = zero // drop the reference so GC can reclaim it
	q.head.Store(head + 1)
	return elem, nil
}
