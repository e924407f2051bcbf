package blockgraph

import (
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// ChosenParents returns the parent set BlockProducer should build on: for
// each thread, the highest-slot block belonging to that thread within the
// current blockclique, falling back to the thread's final tip when the
// clique carries no block of that thread yet.
func (g *Graph) ChosenParents() []types.BlockId {
	g.mu.Lock()
	defer g.mu.Unlock()

	clique := g.computeBlockclique()
	out := make([]types.BlockId, g.cfg.ThreadCount)
	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		var tip *ActiveBlock
		if clique != nil {
			for id := range clique.Members.Iter() {
				ab := g.active[id]
				if ab.Block.Header.Slot.Thread != t {
					continue
				}
				if tip == nil || ab.Block.Header.Slot.Period > tip.Block.Header.Slot.Period {
					tip = ab
				}
			}
		}
		if tip == nil {
			tip = g.active[g.finalTips[t]]
		}
		out[t] = tip.Id
	}
	return out
}

// ExcludedOperations returns the union of IncludedOps over the given
// parent set, the operation ids BlockProducer must not re-include (spec
// §4.F step 4).
func (g *Graph) ExcludedOperations(parents []types.BlockId) map[types.OperationId]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[types.OperationId]struct{})
	for _, p := range parents {
		ab, ok := g.active[p]
		if !ok {
			continue
		}
		for id := range ab.IncludedOps.Iter() {
			out[id] = struct{}{}
		}
	}
	return out
}

// Draw exposes the selector's creator draw for a slot under the graph's
// lock, so BlockProducer and callers never race the roll snapshot that
// CloseCycle commits.
func (g *Graph) Draw(s slot.Slot) (types.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sel.Draw(s)
}
