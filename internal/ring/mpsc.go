package ring

import "sync/atomic"

// MPSC is a multi-producer/single-consumer bounded queue used by the
// deterministic logger: every hot-path layer is a producer, and a single
// writer goroutine, which writes all the log files, is the consumer.
//
// Node-based design (1024cores bounded MPMC, restricted to a single
// consumer): each slot carries a "step" stamp so a producer can tell
// whether the slot it wants to claim has actually been drained by the
// consumer, and the consumer can tell whether a slot has actually been
// filled by a producer. This avoids the ABA problem without a second
// generation counter per element.
type MPSC[T any] struct {
	_        pad
	head     uint64 // consumer-owned; no other goroutine reads or writes it
	_        pad
	tail     atomic.Uint64 // producer claim index (CAS)
	_        pad
	draining atomic.Bool
	_        pad
	buffer   []mpscNode[T]
	capacity uint64
	mask     uint64
}

type mpscNode[T any] struct {
	step  atomic.Uint64
	value T
}

// NewMPSC creates a queue with capacity rounded up to the next power of 2.
func NewMPSC[T any](capacity int) *MPSC[T] {
	n := uint64(roundToPow2(capacity))
	q := &MPSC[T]{
		buffer:   make([]mpscNode[T], n),
		capacity: n,
		mask:     n - 1,
	}
	for i := uint64(0); i < n; i++ {
		q.buffer[i].step.Store(i)
	}
	return q
}

// Drain signals that no more producers will enqueue, letting the consumer
// keep draining without the caller racing a concurrent TryPush. The
// caller must guarantee no further TryPush occurs after calling Drain.
func (q *MPSC[T]) Drain() { q.draining.Store(true) }

// TryPush adds elem to the queue. Safe for concurrent producers. Returns
// ErrWouldBlock if the queue is full.
func (q *MPSC[T]) TryPush(elem T) error {
	for {
		tail := q.tail.Load()
		node := &q.buffer[tail&q.mask]
		step := node.step.Load()
		diff := int64(step - tail)
		switch {
		case diff == 0:
			if q.tail.CompareAndSwap(tail, tail+1) {
				node.value = elem
				node.step.Store(tail + 1)
				return nil
			}
		case diff < 0:
			return errWouldBlock
		}
		// diff > 0: another producer claimed this slot first, retry.
	}
}

// TryPop removes and returns the oldest element. Consumer-only. Returns
// ErrWouldBlock if the queue is empty.
func (q *MPSC[T]) TryPop() (T, error) {
	node := &q.buffer[q.head&q.mask]
	step := node.step.Load()
	diff := int64(step - (q.head + 1))
	if diff != 0 {
		var zero T
		return zero, errWouldBlock
	}
	val := node.value
	var zero T
	node.value = zero
	node.step.Store(q.head + q.capacity)
	q.head++
	return val, nil
}

// Cap returns the usable capacity.
func (q *MPSC[T]) Cap() int { return int(q.capacity) }
