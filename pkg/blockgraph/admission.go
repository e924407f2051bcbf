package blockgraph

import (
	"container/heap"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

func (g *Graph) parkWaiting(b *types.Block, missing mapset.Set[types.BlockId]) error {
	id := b.Id()
	if uint64(len(g.waiting)) >= g.cfg.MaxDependencyBlocks && g.cfg.MaxDependencyBlocks > 0 {
		oldest := g.waitingOrd[0]
		g.removeWaiting(oldest)
		g.markDiscarded(oldest, "dependency buffer full (max_dependency_blocks)")
	}
	g.waiting[id] = &waitingBlock{block: b, id: id, missing: missing.Clone(), seq: g.nextSeq()}
	g.waitingOrd = append(g.waitingOrd, id)
	g.recomputeAndPublishWishlist()
	return errs.Wrap(errs.MissingDependency, "block %s waiting on %d parents", types.BlockIdString(id), missing.Cardinality())
}

func (g *Graph) removeWaiting(id types.BlockId) {
	delete(g.waiting, id)
	for i, wid := range g.waitingOrd {
		if wid == id {
			g.waitingOrd = append(g.waitingOrd[:i], g.waitingOrd[i+1:]...)
			break
		}
	}
}

// activate runs the activation half of the pipeline (spec §4.E step 4)
// for a block whose dependencies are all known to be Active, then
// cascades to any waiting blocks this unblocks.
func (g *Graph) activate(b *types.Block) error {
	if err := g.activateCore(b); err != nil {
		return err
	}
	g.runCascade(b.Id())
	g.recomputeAndPublishWishlist()
	return nil
}

func (g *Graph) activateCore(b *types.Block) error {
	id := b.Id()

	if existing, ok := g.bySlot[b.Header.Slot]; ok && existing != id {
		err := errs.Wrap(errs.Invalid, "slot %s already occupied (I1)", b.Header.Slot)
		g.markInvalid(id, err.Error())
		return err
	}

	parentABs := make([]*ActiveBlock, len(b.Header.Parents))
	for i, p := range b.Header.Parents {
		ab, ok := g.active[p]
		if !ok {
			return errs.Wrap(errs.MissingDependency, "parent %s not active", types.BlockIdString(p))
		}
		if !ab.Block.Header.Slot.Before(b.Header.Slot) {
			e := errs.Wrap(errs.Invalid, "parent %s does not precede block slot (I2)", types.BlockIdString(p))
			g.markInvalid(id, e.Error())
			return e
		}
		parentABs[i] = ab
	}

	ancestorOps := mapset.NewSet[types.OperationId]()
	for _, ab := range parentABs {
		ancestorOps = ancestorOps.Union(ab.IncludedOps)
	}

	if err := g.validateOperations(b, ancestorOps); err != nil {
		g.markInvalid(id, err.Error())
		return err
	}
	for _, op := range b.Operations {
		ancestorOps.Add(op.Id)
	}

	fitness := uint64(1 + len(b.Header.Endorsements))
	ab := &ActiveBlock{
		Block:             b,
		Id:                id,
		Fitness:           fitness,
		ChildrenPerThread: newChildrenSlice(g.cfg.ThreadCount),
		IncludedOps:       ancestorOps,
		seq:               g.nextSeq(),
	}
	g.active[id] = ab
	g.bySlot[b.Header.Slot] = id
	for t, p := range b.Header.Parents {
		g.active[p].ChildrenPerThread[t].Add(id)
	}

	g.addToCliques(ab)
	g.updateFinality()

	g.proto.IntegratedBlock(id, b)
	if g.m != nil {
		g.m.BlocksIntegrated.Inc(1)
		g.m.ActiveBlockCount.Update(int64(len(g.active)))
	}
	return nil
}

func (g *Graph) validateOperations(b *types.Block, ancestorOps mapset.Set[types.OperationId]) error {
	if uint64(len(b.Operations)) > g.cfg.MaxOperationsPerBlock {
		return errs.Wrap(errs.Invalid, "block %s has %d operations, max %d", types.BlockIdString(b.Id()), len(b.Operations), g.cfg.MaxOperationsPerBlock)
	}
	if b.EncodedSize() > g.cfg.MaxBlockSize {
		return errs.Wrap(errs.Invalid, "block %s is %d bytes, max %d", types.BlockIdString(b.Id()), b.EncodedSize(), g.cfg.MaxBlockSize)
	}

	tracker := ledgerview.NewSpendTracker(g.ledger)
	seen := mapset.NewSet[types.OperationId]()
	for _, op := range b.Operations {
		if !op.ValidAt(b.Header.Slot.Period, g.cfg.OperationValidityPeriods) {
			return errs.Wrap(errs.Invalid, "operation %x outside validity window at period %d", op.Id[:4], b.Header.Slot.Period)
		}
		if ancestorOps.Contains(op.Id) || seen.Contains(op.Id) {
			return errs.Wrap(errs.Invalid, "operation %x included twice", op.Id[:4])
		}
		seen.Add(op.Id)
		if xcrypto.AddressOf(op.SenderPubKey).Thread(g.cfg.ThreadCount) != b.Header.Slot.Thread {
			return errs.Wrap(errs.Invalid, "operation %x sender not in block thread %d", op.Id[:4], b.Header.Slot.Thread)
		}
		cost := ledgerview.OperationCost(op)
		if !tracker.CanAfford(op.Sender, cost) {
			return errs.Wrap(errs.Invalid, "sender %s cannot afford operation %x", op.Sender.String(), op.Id[:4])
		}
		tracker.Commit(op.Sender, cost)
	}
	return nil
}

// runCascade activates every waiting block transitively unblocked by the
// activation of seedId, in slot order, mirroring the topological
// extension guarantee of property P5/S2.
func (g *Graph) runCascade(seedId types.BlockId) {
	pending := []types.BlockId{seedId}
	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]

		type readyItem struct {
			id types.BlockId
			b  *types.Block
		}
		var ready []readyItem
		for wid, w := range g.waiting {
			if w.missing.Contains(id) {
				w.missing.Remove(id)
				if w.missing.Cardinality() == 0 {
					ready = append(ready, readyItem{wid, w.block})
				}
			}
		}
		sort.Slice(ready, func(i, j int) bool {
			return ready[i].b.Header.Slot.Before(ready[j].b.Header.Slot)
		})
		for _, r := range ready {
			g.removeWaiting(r.id)
			if err := g.activateCore(r.b); err == nil {
				pending = append(pending, r.id)
			}
		}
	}
}

func (g *Graph) markInvalid(id types.BlockId, detail string) {
	g.discarded.Add(id, discardEntry{reason: reasonInvalid, detail: detail})
	if g.m != nil {
		g.m.BlocksInvalid.Inc(1)
	}
	g.proto.AttackAttempt(id)
	g.cascadeDiscardDependents(id)
}

func (g *Graph) markDiscarded(id types.BlockId, detail string) {
	g.discarded.Add(id, discardEntry{reason: reasonDiscarded, detail: detail})
	if g.m != nil {
		g.m.BlocksDiscarded.Inc(1)
	}
	g.cascadeDiscardDependents(id)
}

// cascadeDiscardDependents discards every waiting block that (transitively)
// depends on id, so an Invalid or Discarded block never leaves a
// dependent stuck forever (property P5) and so an invalid ancestor taints
// its descendants (spec S6).
func (g *Graph) cascadeDiscardDependents(id types.BlockId) {
	var toDiscard []types.BlockId
	for wid, w := range g.waiting {
		if w.missing.Contains(id) {
			toDiscard = append(toDiscard, wid)
		}
	}
	if len(toDiscard) == 0 {
		return
	}
	for _, wid := range toDiscard {
		g.removeWaiting(wid)
	}
	for _, wid := range toDiscard {
		g.markDiscarded(wid, fmt.Sprintf("dependency %s invalid/discarded", types.BlockIdString(id)))
	}
	g.recomputeAndPublishWishlist()
}

func (g *Graph) recomputeAndPublishWishlist() {
	newWanted := mapset.NewSet[types.BlockId]()
	for _, w := range g.waiting {
		newWanted = newWanted.Union(w.missing)
	}
	added := newWanted.Difference(g.wanted)
	removed := g.wanted.Difference(newWanted)
	g.wanted = newWanted
	if added.Cardinality() == 0 && removed.Cardinality() == 0 {
		return
	}
	g.proto.WishlistDelta(setToMap(added), setToMap(removed))
}

func setToMap(s mapset.Set[types.BlockId]) map[types.BlockId]struct{} {
	out := make(map[types.BlockId]struct{}, s.Cardinality())
	for id := range s.Iter() {
		out[id] = struct{}{}
	}
	return out
}

func (g *Graph) drainFutureHeap() {
	for {
		e, ok := g.futureHeap.Peek()
		if !ok || e.slot.After(g.currentSlot) {
			return
		}
		heap.Pop(&g.futureHeap)
		_ = g.admitNow(e.block)
		if g.m != nil {
			g.m.FutureHeapLen.Update(int64(g.futureHeap.Len()))
		}
	}
}

func (g *Graph) pruneStale() {
	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		tipAB, ok := g.active[g.finalTips[t]]
		if !ok || tipAB.Block.Header.Slot.Period < g.cfg.MaxDependencyBlocks {
			continue
		}
		cutoff := tipAB.Block.Header.Slot.Period - g.cfg.MaxDependencyBlocks

		var toPrune []types.BlockId
		for id, ab := range g.active {
			if g.genesisSet.Contains(id) || ab.IsFinal {
				continue
			}
			if ab.Block.Header.Slot.Thread != t || ab.Block.Header.Slot.Period >= cutoff {
				continue
			}
			if g.inAnyClique(id) {
				continue
			}
			toPrune = append(toPrune, id)
		}
		for _, id := range toPrune {
			g.removeActiveStale(id)
		}
	}
}

func (g *Graph) inAnyClique(id types.BlockId) bool {
	for _, c := range g.cliques {
		if c.Members.Contains(id) {
			return true
		}
	}
	return false
}

func (g *Graph) removeActiveStale(id types.BlockId) {
	ab, ok := g.active[id]
	if !ok {
		return
	}
	delete(g.active, id)
	if cur, ok := g.bySlot[ab.Block.Header.Slot]; ok && cur == id {
		delete(g.bySlot, ab.Block.Header.Slot)
	}
	for t, p := range ab.Block.Header.Parents {
		if pab, ok := g.active[p]; ok {
			pab.ChildrenPerThread[t].Remove(id)
		}
	}
	delete(g.incompat, id)
	for _, set := range g.incompat {
		set.Remove(id)
	}
	g.discarded.Add(id, discardEntry{reason: reasonDiscarded, detail: "stale: eliminated from every clique past the retention window"})
	if g.m != nil {
		g.m.BlocksStale.Inc(1)
	}
}

// RetryDeferred re-runs admission for every block parked on a
// MissingSnapshot error, called once a new roll snapshot closes (spec
// §4.C: draws "become available" after the lookback cycle closes).
func (g *Graph) RetryDeferred() {
	g.mu.Lock()
	defer g.mu.Unlock()
	pending := g.deferred
	g.deferred = nil
	for _, b := range pending {
		_ = g.receiveBlockLocked(b)
	}
}
