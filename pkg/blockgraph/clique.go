package blockgraph

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/massa-labs/consensus-engine/pkg/types"
)

// threadTipRef returns the block ab itself refers to as its thread-t tip:
// itself if it belongs to thread t, otherwise its chosen thread-t parent.
func (g *Graph) threadTipRef(ab *ActiveBlock, t uint8) types.BlockId {
	if ab.Block.Header.Slot.Thread == t {
		return ab.Id
	}
	return ab.Block.Header.Parents[t]
}

// ancestorInThread reports whether candidate lies on start's thread-t
// parent chain (start included).
func (g *Graph) ancestorInThread(candidate, start types.BlockId, t uint8) bool {
	cur := start
	for {
		if cur == candidate {
			return true
		}
		ab, ok := g.active[cur]
		if !ok {
			return false
		}
		if len(ab.Block.Header.Parents) == 0 {
			return false // genesis: chain ends here
		}
		next := ab.Block.Header.Parents[t]
		if next == cur {
			return false
		}
		cur = next
	}
}

// compatible implements the grandpa-incompatibility predicate: two active
// blocks conflict if they claim the same slot, or if for some thread their
// chosen thread-tip references have diverged onto branches neither of
// which is an ancestor of the other.
func (g *Graph) compatible(a, b *ActiveBlock) bool {
	if a.Id == b.Id {
		return true
	}
	if a.Block.Header.Slot == b.Block.Header.Slot {
		return false
	}
	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		ra := g.threadTipRef(a, t)
		rb := g.threadTipRef(b, t)
		if ra == rb {
			continue
		}
		if g.ancestorInThread(ra, rb, t) || g.ancestorInThread(rb, ra, t) {
			continue
		}
		return false
	}
	return true
}

// addToCliques wires a newly activated, non-final block into the
// incompatibility graph and recomputes the maximal cliques in its
// neighborhood (spec §4.E design note: clique recomputation is local to
// the block just added, not a full graph rescan of history).
func (g *Graph) addToCliques(ab *ActiveBlock) {
	if ab.IsFinal {
		return
	}
	set := mapset.NewSet[types.BlockId]()
	for id, other := range g.active {
		if id == ab.Id || other.IsFinal {
			continue
		}
		if !g.compatible(ab, other) {
			set.Add(id)
			if g.incompat[id] == nil {
				g.incompat[id] = mapset.NewSet[types.BlockId]()
			}
			g.incompat[id].Add(ab.Id)
		}
	}
	g.incompat[ab.Id] = set
	g.recomputeCliques()
}

func (g *Graph) finalFitnessBaseline() uint64 {
	var total uint64
	for _, ab := range g.active {
		if ab.IsFinal {
			total += ab.Fitness
		}
	}
	return total
}

func (g *Graph) compatNeighbors(id types.BlockId) mapset.Set[types.BlockId] {
	out := mapset.NewSet[types.BlockId]()
	excluded := g.incompat[id]
	for other, ab := range g.active {
		if other == id || ab.IsFinal {
			continue
		}
		if excluded != nil && excluded.Contains(other) {
			continue
		}
		out.Add(other)
	}
	return out
}

func (g *Graph) recomputeCliques() {
	vertices := mapset.NewSet[types.BlockId]()
	for id, ab := range g.active {
		if !ab.IsFinal {
			vertices.Add(id)
		}
	}
	baseline := g.finalFitnessBaseline()

	var out []*Clique
	g.bronKerbosch(mapset.NewSet[types.BlockId](), vertices, mapset.NewSet[types.BlockId](), baseline, &out)
	if len(out) == 0 {
		out = []*Clique{{Members: mapset.NewSet[types.BlockId](), Fitness: baseline}}
	}
	g.cliques = out
}

func (g *Graph) bronKerbosch(r, p, x mapset.Set[types.BlockId], baseline uint64, out *[]*Clique) {
	if p.Cardinality() == 0 && x.Cardinality() == 0 {
		*out = append(*out, &Clique{Members: r.Clone(), Fitness: g.sumFitness(r, baseline)})
		return
	}
	for v := range p.Clone().Iter() {
		nv := g.compatNeighbors(v)
		g.bronKerbosch(r.Clone().Union(mapset.NewSet(v)), p.Intersect(nv), x.Intersect(nv), baseline, out)
		p.Remove(v)
		x.Add(v)
	}
}

func (g *Graph) sumFitness(set mapset.Set[types.BlockId], baseline uint64) uint64 {
	total := baseline
	for id := range set.Iter() {
		if ab, ok := g.active[id]; ok {
			total += ab.Fitness
		}
	}
	return total
}

// computeBlockclique picks the clique the network would consider
// canonical: maximum fitness, ties broken by the lexicographically
// smallest sorted member-id digest so every node converges identically.
func (g *Graph) computeBlockclique() *Clique {
	if len(g.cliques) == 0 {
		return nil
	}
	best := g.cliques[0]
	bestKey := cliqueKey(best)
	for _, c := range g.cliques[1:] {
		if c.Fitness > best.Fitness {
			best, bestKey = c, cliqueKey(c)
			continue
		}
		if c.Fitness == best.Fitness {
			k := cliqueKey(c)
			if k < bestKey {
				best, bestKey = c, k
			}
		}
	}
	return best
}

func cliqueKey(c *Clique) string {
	ids := make([]string, 0, c.Members.Cardinality())
	for id := range c.Members.Iter() {
		ids = append(ids, types.BlockIdString(id))
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// updateFinality walks each thread's chain from the blockclique's current
// tip backward, accumulating fitness; a block becomes final once the
// fitness built on top of it exceeds delta_f0, the point past which no
// surviving competing branch could catch up.
func (g *Graph) updateFinality() {
	clique := g.computeBlockclique()
	if clique == nil {
		return
	}
	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		var tip *ActiveBlock
		for id := range clique.Members.Iter() {
			ab := g.active[id]
			if ab.Block.Header.Slot.Thread != t {
				continue
			}
			if tip == nil || ab.Block.Header.Slot.Period > tip.Block.Header.Slot.Period {
				tip = ab
			}
		}
		if tip == nil {
			continue
		}

		var chain []*ActiveBlock
		cur := tip
		for {
			chain = append(chain, cur)
			if cur.IsFinal || len(cur.Block.Header.Parents) == 0 {
				break
			}
			parent, ok := g.active[cur.Block.Header.Parents[t]]
			if !ok {
				break
			}
			cur = parent
		}

		// chain runs tip-first, so the first candidate that crosses the
		// threshold is the one closest to the tip; it becomes the new
		// final tip even though every candidate behind it also
		// finalizes in this same pass.
		var acc uint64
		var newTip *ActiveBlock
		for _, candidate := range chain {
			if candidate.IsFinal {
				break
			}
			if acc > g.cfg.DeltaF0 {
				g.finalizeBlock(candidate)
				if newTip == nil {
					newTip = candidate
				}
			}
			acc += candidate.Fitness
		}
		if newTip != nil {
			g.finalTips[t] = newTip.Id
		}
	}
}

func (g *Graph) finalizeBlock(ab *ActiveBlock) {
	ab.IsFinal = true
	delete(g.incompat, ab.Id)
	for _, set := range g.incompat {
		set.Remove(ab.Id)
	}
	if g.m != nil {
		g.m.BlocksFinalized.Inc(1)
	}
	g.recomputeCliques()
}
