package delivery

import "github.com/zeusync/wsrelay/pkg/sequence"

// pendingQueue is a FIFO of states waiting for a usable transport.
// Capacity is enforced by the caller.
type pendingQueue struct {
	items *sequence.Deque[*MessageState]
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{items: sequence.NewDeque[*MessageState](capacity)}
}

func (q *pendingQueue) Len() int {
	return q.items.Len()
}

func (q *pendingQueue) Push(state *MessageState) {
	q.items.PushBack(state)
}

// PushFront puts states back at the head keeping their relative order.
func (q *pendingQueue) PushFront(states ...*MessageState) {
	for i := len(states) - 1; i >= 0; i-- {
		q.items.PushFront(states[i])
	}
}

func (q *pendingQueue) DrainAll() []*MessageState {
	return q.items.DropFront(q.items.Len())
}

func (q *pendingQueue) Snapshot() []*MessageState {
	items := q.items.Items()
	for i, s := range items {
		items[i] = s.clone()
	}
	return items
}

func (q *pendingQueue) Clear() int {
	n := q.items.Len()
	q.items.Clear()
	return n
}

// TrimTo drops the newest states until at most max remain and returns them.
func (q *pendingQueue) TrimTo(max int) []*MessageState {
	var dropped []*MessageState
	for q.items.Len() > max {
		s, _ := q.items.PopBack()
		dropped = append(dropped, s)
	}
	return dropped
}
