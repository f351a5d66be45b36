// Package reorder restores a best-effort chronological order to progress
// events delivered by a queue that does not guarantee FIFO.
//
// Every pushed event is held until no message has arrived for longer than
// the delay window, then released in ascending logical timestamp order. An
// event that arrives more than the window after a logically later event has
// already been released is emitted late; that is expected, not a bug.
package reorder

import (
	"container/heap"
	"iter"
	"time"

	"abbey/event"
)

type Buffer struct {
	Delay time.Duration
	Now   func() time.Time

	pending eventHeap
	maxRecv time.Time
	seq     uint64
}

func New(delay time.Duration) *Buffer {
	return &Buffer{Delay: delay, Now: time.Now}
}

// Push classifies raw and holds it for release. A *event.DecodeError is
// returned for malformed messages, which are not held.
func (b *Buffer) Push(raw event.RawEvent) (event.Event, error) {
	evt, err := event.Classify(raw.Body)
	if err != nil {
		return event.Event{}, err
	}
	evt.ReceivedAt = raw.ReceivedAt
	b.Add(evt)
	return evt, nil
}

// Add holds an already classified event.
func (b *Buffer) Add(evt event.Event) {
	if evt.ReceivedAt.After(b.maxRecv) {
		b.maxRecv = evt.ReceivedAt
	}
	b.seq++
	heap.Push(&b.pending, item{evt: evt, seq: b.seq})
}

// Len reports how many events are held.
func (b *Buffer) Len() int { return b.pending.Len() }

// Ready reports whether the delay window has elapsed since the latest
// arrival.
func (b *Buffer) Ready() bool {
	return b.Len() > 0 && b.now().Sub(b.maxRecv) > b.Delay
}

// Drain yields held events oldest first for as long as the window has
// elapsed. It yields nothing when the buffer is empty or the window is still
// open; call it again after more pushes or after waiting.
func (b *Buffer) Drain() iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		for b.Ready() {
			it := heap.Pop(&b.pending).(item)
			if !yield(it.evt) {
				return
			}
		}
	}
}

// Flush yields every held event oldest first, ignoring the window.
func (b *Buffer) Flush() iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		for b.Len() > 0 {
			it := heap.Pop(&b.pending).(item)
			if !yield(it.evt) {
				return
			}
		}
	}
}

func (b *Buffer) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

type item struct {
	evt event.Event
	seq uint64
}

// eventHeap orders by logical timestamp, then by arrival.
type eventHeap []item

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].evt.TS != h[j].evt.TS {
		return h[i].evt.TS < h[j].evt.TS
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(item)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
