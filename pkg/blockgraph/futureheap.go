package blockgraph

import (
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// futureEntry is one block parked because its slot has not arrived yet.
type futureEntry struct {
	slot  slot.Slot
	block *types.Block
}

// futureHeap is a container/heap.Interface min-heap ordered by slot,
// bounded at max_future_processing_blocks by the caller (spec §4.E step
// 2).
type futureHeap []futureEntry

func (h futureHeap) Len() int { return len(h) }
func (h futureHeap) Less(i, j int) bool { return h[i].slot.Before(h[j].slot) }
func (h futureHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *futureHeap) Push(x interface{}) {
	*h = append(*h, x.(futureEntry))
}

func (h *futureHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h futureHeap) Peek() (futureEntry, bool) {
	if len(h) == 0 {
		return futureEntry{}, false
	}
	return h[0], true
}
