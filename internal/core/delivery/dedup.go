package delivery

import "github.com/zeusync/wsrelay/pkg/sequence"

// DefaultDedupCapacity is the high-water mark of the duplicate filter.
const DefaultDedupCapacity = 10000

// duplicateFilter remembers inbound ids in arrival order. When an insertion
// would exceed capacity the oldest ids are evicted until capacity/2 remain.
type duplicateFilter struct {
	capacity int
	order    *sequence.Deque[string]
	index    map[string]struct{}
}

func newDuplicateFilter(capacity int) *duplicateFilter {
	if capacity < 2 {
		capacity = DefaultDedupCapacity
	}
	return &duplicateFilter{
		capacity: capacity,
		order:    sequence.NewDeque[string](capacity + 1),
		index:    make(map[string]struct{}, capacity+1),
	}
}

func (f *duplicateFilter) Len() int {
	return len(f.index)
}

func (f *duplicateFilter) Contains(id string) bool {
	_, ok := f.index[id]
	return ok
}

// Add records id and returns how many ids were evicted to make room.
func (f *duplicateFilter) Add(id string) int {
	if f.Contains(id) {
		return 0
	}

	evicted := 0
	if len(f.index)+1 > f.capacity {
		for _, old := range f.order.DropFront(len(f.index) - f.capacity/2) {
			delete(f.index, old)
			evicted++
		}
	}

	f.order.PushBack(id)
	f.index[id] = struct{}{}
	return evicted
}
