package blockgraph

import (
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// CloseCycle freezes the roll ledger's snapshot for cycle from the
// finalized blocks this graph has observed in it, seeded from their ids
// (spec §4.B/§4.C: a cycle's snapshot and seed become available once the
// cycle itself has finished finalizing), then retries any block parked
// on a MissingSnapshot error that this closure may now satisfy.
func (g *Graph) CloseCycle(cycle uint64) {
	g.mu.Lock()
	var ids []types.BlockId
	for id, ab := range g.active {
		if ab.IsFinal && ab.Block.Header.Slot.Cycle(g.cfg.PeriodsPerCycle) == cycle {
			ids = append(ids, id)
		}
	}
	seedMaterial := rollledger.SeedMaterialFromIds(ids)
	g.rollLedger.Snapshot(cycle, seedMaterial)
	g.mu.Unlock()

	g.RetryDeferred()
}
