package timer

import (
	"container/heap"
	"time"

	"github.com/momentics/ioengine/taskqueue"
)

type item struct {
	deadline time.Time
	handle   taskqueue.Handle
	closure  taskqueue.Closure
}

// deadlineHeap is a container/heap.Interface ordered by deadline, tracking
// each item's current index so Cancel can locate and remove it in
// O(log n) instead of a linear scan, unlike a naive slice search.
type deadlineHeap struct {
	items []*item
	index map[taskqueue.Handle]int
}

func newDeadlineHeap() *deadlineHeap {
	return &deadlineHeap{index: make(map[taskqueue.Handle]int)}
}

func (h *deadlineHeap) Len() int { return len(h.items) }

func (h *deadlineHeap) Less(i, j int) bool {
	return h.items[i].deadline.Before(h.items[j].deadline)
}

func (h *deadlineHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.items[i].handle] = i
	h.index[h.items[j].handle] = j
}

func (h *deadlineHeap) Push(x any) {
	it := x.(*item)
	h.index[it.handle] = len(h.items)
	h.items = append(h.items, it)
}

func (h *deadlineHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	delete(h.index, it.handle)
	return it
}

// removeByHandle removes the item for h, if present, returning it.
func (h *deadlineHeap) removeByHandle(handle taskqueue.Handle) *item {
	idx, ok := h.index[handle]
	if !ok {
		return nil
	}
	removed := heap.Remove(h, idx)
	return removed.(*item)
}

func (h *deadlineHeap) peek() *item {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
