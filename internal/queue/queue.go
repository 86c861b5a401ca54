package queue

import (
	"container/heap"
	"errors"
)

var (
	ErrEmptyQueue      = errors.New("empty queue")
	ErrIndexOutOfRange = errors.New("index out of range")
)

// Entry pairs a payload with the priority it was inserted at.
type Entry[T any] struct {
	Priority uint64
	Payload  T
}

// backing is the implicit binary heap the container/heap machinery drives.
// The before comparator decides which of two priorities sits closer to the
// root, so the same implementation serves both bid and ask queues.
type backing[T any] struct {
	entries []Entry[T]
	before  func(a, b uint64) bool
}

func (b backing[T]) Len() int { return len(b.entries) }

func (b backing[T]) Less(i, j int) bool {
	return b.before(b.entries[i].Priority, b.entries[j].Priority)
}

func (b backing[T]) Swap(i, j int) {
	b.entries[i], b.entries[j] = b.entries[j], b.entries[i]
}

func (b *backing[T]) Push(x any) {
	b.entries = append(b.entries, x.(Entry[T]))
}

func (b *backing[T]) Pop() any {
	old := b.entries
	n := len(old)
	e := old[n-1]
	b.entries = old[:n-1]
	return e
}

// Queue is a priority queue over uint64 priorities. Entries with equal
// priority come out in no particular order.
type Queue[T any] struct {
	b backing[T]
}

// NewMax builds a queue that extracts the highest priority first. Used for
// the bid side, where the best price is the greatest.
func NewMax[T any]() *Queue[T] {
	return &Queue[T]{b: backing[T]{
		before: func(a, b uint64) bool { return a > b },
	}}
}

// NewMin builds a queue that extracts the lowest priority first. Used for
// the ask side, where the best price is the least.
func NewMin[T any]() *Queue[T] {
	return &Queue[T]{b: backing[T]{
		before: func(a, b uint64) bool { return a < b },
	}}
}

// Insert adds payload at the given priority.
func (q *Queue[T]) Insert(priority uint64, payload T) {
	heap.Push(&q.b, Entry[T]{Priority: priority, Payload: payload})
}

// Extract removes and returns the best entry per the queue's ordering.
func (q *Queue[T]) Extract() (uint64, T, error) {
	if len(q.b.entries) == 0 {
		var zero T
		return 0, zero, ErrEmptyQueue
	}
	e := heap.Pop(&q.b).(Entry[T])
	return e.Priority, e.Payload, nil
}

// PeekAt reads the entry at position i of the backing array. Heap order, not
// priority order; meant for inspection and tests only.
func (q *Queue[T]) PeekAt(i int) (uint64, T, error) {
	if i < 0 || i >= len(q.b.entries) {
		var zero T
		return 0, zero, ErrIndexOutOfRange
	}
	e := q.b.entries[i]
	return e.Priority, e.Payload, nil
}

func (q *Queue[T]) Size() int { return len(q.b.entries) }

func (q *Queue[T]) IsEmpty() bool { return len(q.b.entries) == 0 }

// Snapshot copies the backing array so the queue can be rolled back with
// Restore after a failed operation.
func (q *Queue[T]) Snapshot() []Entry[T] {
	s := make([]Entry[T], len(q.b.entries))
	copy(s, q.b.entries)
	return s
}

// Restore replaces the queue contents with a previous Snapshot. A snapshot
// is already heap ordered, so no reshuffle is needed.
func (q *Queue[T]) Restore(s []Entry[T]) {
	q.b.entries = s
}
