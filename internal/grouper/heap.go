package grouper

// groupHeap orders in-flight groups by close eligibility: the group
// whose first-seen-plus-window deadline comes soonest is always the
// root, so sweep can stop as soon as it finds one not yet eligible.
type groupHeap struct {
	items []*group
}

func newGroupHeap() *groupHeap {
	return &groupHeap{}
}

func (h *groupHeap) Len() int { return len(h.items) }

func (h *groupHeap) Less(i, j int) bool {
	return h.items[i].firstSeen.Before(h.items[j].firstSeen)
}

func (h *groupHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}

func (h *groupHeap) Push(x any) {
	gr := x.(*group)
	gr.heapIndex = len(h.items)
	h.items = append(h.items, gr)
}

func (h *groupHeap) Pop() any {
	old := h.items
	n := len(old)
	gr := old[n-1]
	old[n-1] = nil
	gr.heapIndex = -1
	h.items = old[:n-1]
	return gr
}

// Peek returns the root without removing it. Caller must ensure Len() > 0.
func (h *groupHeap) Peek() *group {
	return h.items[0]
}
