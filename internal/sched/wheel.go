package sched

import "container/heap"

// Callback is invoked when a scheduled event comes due.
type Callback func()

// EventID identifies a scheduled event for cancellation.
type EventID uint64

type wheelEvent struct {
	id       EventID
	cb       Callback
	cancelled bool
}

// overflowEvent is a wheel event that lands beyond the wheel's span; it
// waits in the auxiliary heap until its due cycle falls inside the
// wheel's current window, at which point it is re-inserted into a slot.
type overflowEvent struct {
	id       EventID
	dueCycle uint64
	cb       Callback
	cancelled *bool
}

type overflowHeap []*overflowEvent

func (h overflowHeap) Len() int            { return len(h) }
func (h overflowHeap) Less(i, j int) bool  { return h[i].dueCycle < h[j].dueCycle }
func (h overflowHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *overflowHeap) Push(x interface{}) { *h = append(*h, x.(*overflowEvent)) }
func (h *overflowHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Wheel is a fixed-size timing wheel: S slots of duration d each,
// giving a span of S*d cycles. Events beyond the span sit in an
// auxiliary bounded binary heap until they fall inside the window
// (§4.9).
type Wheel struct {
	slotDuration uint64 // cycles per slot
	slots        [][]*wheelEvent
	cursor       int
	currentCycle uint64

	overflow     overflowHeap
	overflowCap  int
	nextID       EventID
	cancelledSet map[EventID]*bool
}

// NewWheel builds a wheel with S slots of slotDurationCycles cycles
// each. overflowCapacity bounds the auxiliary heap (§4.9: "bounded").
func NewWheel(slots int, slotDurationCycles uint64, overflowCapacity int) *Wheel {
	if slots <= 0 {
		slots = 1024
	}
	if slotDurationCycles == 0 {
		slotDurationCycles = 1
	}
	w := &Wheel{
		slotDuration: slotDurationCycles,
		slots:        make([][]*wheelEvent, slots),
		overflowCap:  overflowCapacity,
		cancelledSet: make(map[EventID]*bool),
	}
	heap.Init(&w.overflow)
	return w
}

// Span returns the wheel's total span in cycles (S*d).
func (w *Wheel) Span() uint64 {
	return uint64(len(w.slots)) * w.slotDuration
}

// ScheduleAt schedules cb to run at the first tick at or after
// atCycle. Returns an EventID usable with Cancel.
func (w *Wheel) ScheduleAt(atCycle uint64, cb Callback) EventID {
	w.nextID++
	id := w.nextID

	if atCycle <= w.currentCycle {
		atCycle = w.currentCycle + w.slotDuration
	}
	delta := atCycle - w.currentCycle
	// The slot at cursor+k runs on the (k+1)th Tick, at currentCycle+(k+1)*d.
	slotsAhead := (delta - 1) / w.slotDuration

	if slotsAhead < uint64(len(w.slots)) {
		idx := (w.cursor + int(slotsAhead)) % len(w.slots)
		ev := &wheelEvent{id: id, cb: cb}
		w.slots[idx] = append(w.slots[idx], ev)
		w.cancelledSet[id] = &ev.cancelled
		return id
	}

	cancelled := new(bool)
	heap.Push(&w.overflow, &overflowEvent{id: id, dueCycle: atCycle, cb: cb, cancelled: cancelled})
	if w.overflowCap > 0 && w.overflow.Len() > w.overflowCap {
		// Drop the furthest-out event rather than grow unbounded; the
		// wheel favors near-term scheduling accuracy over the tail.
		w.dropFarthest()
	}
	w.cancelledSet[id] = cancelled
	return id
}

// ScheduleAfter schedules cb to run delta cycles from now.
func (w *Wheel) ScheduleAfter(delta uint64, cb Callback) EventID {
	return w.ScheduleAt(w.currentCycle+delta, cb)
}

// Cancel marks id as cancelled; it is skipped when its slot comes due
// instead of being removed immediately (§4.9: "cancelled events are
// marked and skipped when due").
func (w *Wheel) Cancel(id EventID) bool {
	flag, ok := w.cancelledSet[id]
	if !ok {
		return false
	}
	*flag = true
	delete(w.cancelledSet, id)
	return true
}

// Tick advances the wheel by one slot duration, running every
// non-cancelled callback in the slot that just came due, then promotes
// any overflow events that now fall inside the wheel's span.
func (w *Wheel) Tick() {
	w.currentCycle += w.slotDuration
	idx := w.cursor
	events := w.slots[idx]
	w.slots[idx] = nil
	w.cursor = (w.cursor + 1) % len(w.slots)

	for _, ev := range events {
		if !ev.cancelled {
			ev.cb()
		}
	}

	w.promoteOverflow()
}

// promoteOverflow moves overflow events whose due cycle now falls
// inside the wheel's span back into a slot.
func (w *Wheel) promoteOverflow() {
	span := w.Span()
	for w.overflow.Len() > 0 {
		next := w.overflow[0]
		if next.dueCycle > w.currentCycle+span {
			return
		}
		heap.Pop(&w.overflow)
		if *next.cancelled {
			continue
		}
		delta := next.dueCycle - w.currentCycle
		slotsAhead := (delta - 1) / w.slotDuration
		idx := (w.cursor + int(slotsAhead)) % len(w.slots)
		ev := &wheelEvent{id: next.id, cb: next.cb}
		w.slots[idx] = append(w.slots[idx], ev)
		w.cancelledSet[next.id] = &ev.cancelled
	}
}

func (w *Wheel) dropFarthest() {
	farthest := 0
	for i := 1; i < len(w.overflow); i++ {
		if w.overflow[i].dueCycle > w.overflow[farthest].dueCycle {
			farthest = i
		}
	}
	heap.Remove(&w.overflow, farthest)
}
