// Package dispatch implements the coordinator: the priority event queue,
// per-zone assignment bookkeeping, the telemetry and fire-event handlers,
// the selection and redirection policy, and the periodic reconciliation
// loop described in spec §4.4.
package dispatch

import (
	"container/heap"
	"sync"

	"github.com/fireline/dispatch/internal/wire"
)

// queueItem wraps a FireEvent with its heap index, the representation
// container/heap needs for Fix/Remove (neither of which this queue uses
// yet, but the shape matches the corpus's one timer-heap implementation).
type queueItem struct {
	event wire.FireEvent
	index int
}

// eventHeap orders by severity weight descending, then by Time ascending,
// then by Seq ascending — the tuple (-severityWeight, time, sequenceNo)
// from spec §9, giving stable FIFO tie-breaking for equal-priority events.
type eventHeap []*queueItem

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	a, b := h[i].event, h[j].event
	if a.Weight() != b.Weight() {
		return a.Weight() > b.Weight()
	}
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	return a.Seq < b.Seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// EventQueue is the coordinator's thread-safe priority event queue.
// Fire events within a single zone are dequeued in priority order; between
// zones the order follows the same tuple, since the queue does not group
// by zone.
type EventQueue struct {
	mu  sync.Mutex
	h   eventHeap
	seq uint64
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Push enqueues e, stamping it with the next monotonic sequence number so
// that two events of equal weight and equal Time still dequeue in arrival
// order rather than starving one another.
func (q *EventQueue) Push(e wire.FireEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	e.Seq = q.seq
	heap.Push(&q.h, &queueItem{event: e})
}

// Pop removes and returns the highest-priority event, or (zero, false) if
// the queue is empty.
func (q *EventQueue) Pop() (wire.FireEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return wire.FireEvent{}, false
	}
	item := heap.Pop(&q.h).(*queueItem)
	return item.event, true
}

// Len returns the current queue depth.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// PurgeZone removes every queued event for zoneID, returning the count
// removed. Used by the cleanup timer and by a FIRE_OUT telemetry handler
// (spec I5: "queued events for z purged").
func (q *EventQueue) PurgeZone(zoneID int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := make(eventHeap, 0, len(q.h))
	purged := 0
	for _, item := range q.h {
		if item.event.ZoneID == zoneID {
			purged++
			continue
		}
		kept = append(kept, item)
	}
	q.h = kept
	heap.Init(&q.h)
	return purged
}
