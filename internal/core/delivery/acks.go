package delivery

import (
	"slices"
	"time"
)

// ackTable holds ack-required states that were handed to the transport and
// are still waiting for the peer's acknowledgment.
type ackTable struct {
	entries map[string]*MessageState
}

func newAckTable() *ackTable {
	return &ackTable{entries: make(map[string]*MessageState)}
}

func (t *ackTable) Len() int {
	return len(t.entries)
}

func (t *ackTable) Put(state *MessageState) {
	t.entries[state.ID] = state
}

func (t *ackTable) Has(id string) bool {
	_, ok := t.entries[id]
	return ok
}

// Remove deletes id only when it still maps to state, so a failed send does
// not evict a newer state reusing the same id.
func (t *ackTable) Remove(id string, state *MessageState) {
	if cur, ok := t.entries[id]; ok && cur == state {
		delete(t.entries, id)
	}
}

// Acknowledge marks and removes id. It reports whether id was outstanding.
func (t *ackTable) Acknowledge(id string) (*MessageState, bool) {
	state, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	state.Acknowledged = true
	delete(t.entries, id)
	return state, true
}

// TakeAll empties the table and returns its states oldest first.
func (t *ackTable) TakeAll() []*MessageState {
	out := t.sorted(func(*MessageState) bool { return true })
	clear(t.entries)
	return out
}

func (t *ackTable) OlderThan(cutoff time.Time) []*MessageState {
	out := t.sorted(func(s *MessageState) bool { return s.CreatedAt.Before(cutoff) })
	for i, s := range out {
		out[i] = s.clone()
	}
	return out
}

func (t *ackTable) sorted(keep func(*MessageState) bool) []*MessageState {
	out := make([]*MessageState, 0, len(t.entries))
	for _, s := range t.entries {
		if keep(s) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *MessageState) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}
