// Package buffer provides the bounded event ring that hands decoded packets
// from the link callback to the main processing cycle. The producer never
// blocks: when the ring is full the oldest unread event is overwritten and an
// overflow counter records the loss.
package buffer

import (
	"sync"
	"sync/atomic"

	"alertcore/packet"
)

// EventKind tags the payload carried by an Event.
type EventKind uint8

const (
	AlertEvent EventKind = iota + 1
	OverflowEvent
	StateChangeEvent
)

func (k EventKind) String() string {
	switch k {
	case AlertEvent:
		return "AlertEvent"
	case OverflowEvent:
		return "OverflowEvent"
	case StateChangeEvent:
		return "StateChangeEvent"
	default:
		return "UnknownEvent"
	}
}

// StateChange reports a link or detector state transition. Display carries the
// detector's own panel when Source is "detector".
type StateChange struct {
	Source  string
	State   string
	Display packet.DisplayState
}

// Event is the tagged union stored in each slot. It is a plain value so that
// pushing copies into preallocated storage without touching the heap.
type Event struct {
	Kind    EventKind
	Alert   packet.Alert
	Dropped uint64 // OverflowEvent: frames lost upstream of the ring
	State   StateChange
}

// EventRing is a fixed-capacity single-producer/single-consumer FIFO.
type EventRing struct {
	mu       sync.Mutex
	slots    []Event
	head     int // next slot to read
	count    int // unread events
	capacity int

	overflows atomic.Uint64
	pushed    atomic.Uint64
}

// NewEventRing allocates a ring with the given capacity (minimum 1).
func NewEventRing(capacity int) *EventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &EventRing{
		slots:    make([]Event, capacity),
		capacity: capacity,
	}
}

// Push appends ev. When the ring is full the oldest unread event is dropped
// and the overflow counter advances; Push itself never fails.
func (r *EventRing) Push(ev Event) {
	r.mu.Lock()
	if r.count == r.capacity {
		// Oldest unread slot is the one at head; reuse it as the new tail.
		r.slots[r.head] = ev
		r.head = (r.head + 1) % r.capacity
		r.mu.Unlock()
		r.overflows.Add(1)
		r.pushed.Add(1)
		return
	}
	tail := (r.head + r.count) % r.capacity
	r.slots[tail] = ev
	r.count++
	r.mu.Unlock()
	r.pushed.Add(1)
}

// Pop removes and returns the oldest unread event. ok is false when the ring
// is empty.
func (r *EventRing) Pop() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Event{}, false
	}
	ev := r.slots[r.head]
	r.slots[r.head] = Event{}
	r.head = (r.head + 1) % r.capacity
	r.count--
	return ev, true
}

// Len returns the number of unread events.
func (r *EventRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the fixed slot count.
func (r *EventRing) Capacity() int {
	return r.capacity
}

// Overflows returns how many unread events were overwritten.
func (r *EventRing) Overflows() uint64 {
	return r.overflows.Load()
}

// Pushed returns the total number of events accepted (including overwrites).
func (r *EventRing) Pushed() uint64 {
	return r.pushed.Load()
}

// PendingKinds lists the kind names of unread events, oldest first, for
// diagnostics. It does not consume anything.
func (r *EventRing) PendingKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(r.head+i)%r.capacity].Kind.String())
	}
	return out
}
