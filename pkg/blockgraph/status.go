package blockgraph

import (
	"sort"

	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// DiscardedBlockInfo summarizes one entry of the discard LRU for status
// reporting (spec §4.E GetBlockGraphStatus).
type DiscardedBlockInfo struct {
	Id      types.BlockId
	Invalid bool
	Detail  string
}

// Status is a point-in-time snapshot of the graph, the payload behind
// Controller's GetStatus request.
type Status struct {
	GenesisBlocks   []types.BlockId
	ActiveBlocks    int
	WaitingBlocks   int
	DiscardedBlocks []DiscardedBlockInfo
	Blockclique     []types.BlockId
	FinalTips       []types.BlockId
	MaxCliques      [][]types.BlockId
	CurrentSlot     slot.Slot
}

// Status returns a consistent snapshot of the graph's state.
func (g *Graph) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Status{
		GenesisBlocks: append([]types.BlockId(nil), g.genesis...),
		ActiveBlocks:  len(g.active),
		WaitingBlocks: len(g.waiting),
		CurrentSlot:   g.currentSlot,
	}

	for _, key := range g.discarded.Keys() {
		v, ok := g.discarded.Peek(key)
		if !ok {
			continue
		}
		entry := v.(discardEntry)
		s.DiscardedBlocks = append(s.DiscardedBlocks, DiscardedBlockInfo{
			Id:      key.(types.BlockId),
			Invalid: entry.reason == reasonInvalid,
			Detail:  entry.detail,
		})
	}

	if clique := g.computeBlockclique(); clique != nil {
		s.Blockclique = sortedIds(clique.Members)
	}

	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		s.FinalTips = append(s.FinalTips, g.finalTips[t])
	}

	for _, c := range g.cliques {
		s.MaxCliques = append(s.MaxCliques, sortedIds(c.Members))
	}

	return s
}

func sortedIds(set interface {
	ToSlice() []types.BlockId
}) []types.BlockId {
	ids := set.ToSlice()
	sort.Slice(ids, func(i, j int) bool {
		return types.BlockIdString(ids[i]) < types.BlockIdString(ids[j])
	})
	return ids
}

// GetSelectionDraws exposes the PoS draws for a slot range, delegating to
// the selector under the graph's lock so callers observe a state
// consistent with the currently admitted roll snapshots.
func (g *Graph) GetSelectionDraws(from, to slot.Slot) (map[slot.Slot]types.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sel.DrawRange(from, to, g.cfg.ThreadCount)
}
