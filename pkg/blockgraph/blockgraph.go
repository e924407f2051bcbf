// Package blockgraph implements BlockGraph (spec §4.E), the heart of the
// consensus engine: a per-thread DAG of blocks with compatibility
// cliques, fitness-based finality, stale pruning, and dependency-driven
// admission of out-of-order blocks.
package blockgraph

import (
	"container/heap"
	"context"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/internal/metrics"
	"github.com/massa-labs/consensus-engine/internal/xlog"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/protocol"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/selector"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

// ActiveBlock is a block accepted into the graph (spec §3).
type ActiveBlock struct {
	Block   *types.Block
	Id      types.BlockId
	Fitness uint64
	IsFinal bool

	// ChildrenPerThread[t] holds the ids of active blocks whose
	// Parents[t] is this block.
	ChildrenPerThread []mapset.Set[types.BlockId]

	// IncludedOps is this block's own operations unioned with every
	// parent's IncludedOps, used to reject duplicate operation
	// inclusion anywhere in a block's ancestry (spec §4.F step 4).
	IncludedOps mapset.Set[types.OperationId]

	seq uint64 // insertion order, used for deterministic iteration
}

type discardReason int

const (
	reasonDiscarded discardReason = iota
	reasonInvalid
)

type discardEntry struct {
	reason discardReason
	detail string
}

type waitingBlock struct {
	block   *types.Block
	id      types.BlockId
	missing mapset.Set[types.BlockId]
	seq     uint64
}

// Graph is the full BlockGraph state machine.
type Graph struct {
	mu sync.Mutex

	cfg        *config.Config
	sel        *selector.Selector
	ledger     ledgerview.LedgerView
	rollLedger *rollledger.RollLedger
	proto      protocol.Channel
	log        xlog.Logger
	m          *metrics.Registry

	genesis     []types.BlockId // one per thread
	genesisSet  mapset.Set[types.BlockId]
	active      map[types.BlockId]*ActiveBlock
	bySlot      map[slot.Slot]types.BlockId
	waiting     map[types.BlockId]*waitingBlock
	waitingOrd  []types.BlockId // arrival order, front = oldest
	discarded   *lru.Cache
	deferred    []*types.Block // parked on MissingSnapshot, retried on RetryDeferred

	futureHeap futureHeap
	wanted     mapset.Set[types.BlockId] // current wishlist contents

	incompat map[types.BlockId]mapset.Set[types.BlockId]
	cliques  []*Clique

	finalTips [32]types.BlockId // per-thread, up to 32 threads

	currentSlot slot.Slot
	seq         uint64
}

// Clique is a maximal set of pairwise-compatible ActiveBlocks.
type Clique struct {
	Members mapset.Set[types.BlockId]
	Fitness uint64
}

// New builds a Graph seeded with one genesis block per thread.
func New(cfg *config.Config, sel *selector.Selector, ledger ledgerview.LedgerView, rollLedger *rollledger.RollLedger, proto protocol.Channel, m *metrics.Registry) *Graph {
	discardCache, _ := lru.New(int(cfg.MaxDependencyBlocks) + 1024)

	g := &Graph{
		cfg:        cfg,
		sel:        sel,
		ledger:     ledger,
		rollLedger: rollLedger,
		proto:      proto,
		log:        xlog.New("module", "blockgraph"),
		m:          m,
		active:     make(map[types.BlockId]*ActiveBlock),
		bySlot:     make(map[slot.Slot]types.BlockId),
		waiting:    make(map[types.BlockId]*waitingBlock),
		discarded:  discardCache,
		wanted:     mapset.NewSet[types.BlockId](),
		incompat:   make(map[types.BlockId]mapset.Set[types.BlockId]),
	}
	g.seedGenesis()
	return g
}

func (g *Graph) seedGenesis() {
	g.genesis = make([]types.BlockId, g.cfg.ThreadCount)
	g.genesisSet = mapset.NewSet[types.BlockId]()
	for t := uint8(0); t < g.cfg.ThreadCount; t++ {
		h := types.BlockHeader{Slot: slot.New(0, t)}
		id := h.Hash()
		// Disambiguate genesis ids per thread deterministically.
		id[31] = t
		ab := &ActiveBlock{
			Id:                id,
			Block:             &types.Block{Header: h},
			Fitness:           0,
			IsFinal:           true,
			ChildrenPerThread: newChildrenSlice(g.cfg.ThreadCount),
			IncludedOps:       mapset.NewSet[types.OperationId](),
			seq:               g.nextSeq(),
		}
		g.active[id] = ab
		g.bySlot[h.Slot] = id
		g.genesis[t] = id
		g.genesisSet.Add(id)
		g.finalTips[t] = id
	}
	// Genesis blocks form the sole initial clique.
	members := mapset.NewSet[types.BlockId](g.genesis...)
	g.cliques = []*Clique{{Members: members, Fitness: 0}}
	for _, id := range g.genesis {
		g.incompat[id] = mapset.NewSet[types.BlockId]()
	}
}

func newChildrenSlice(tc uint8) []mapset.Set[types.BlockId] {
	s := make([]mapset.Set[types.BlockId], tc)
	for i := range s {
		s[i] = mapset.NewSet[types.BlockId]()
	}
	return s
}

func (g *Graph) nextSeq() uint64 { g.seq++; return g.seq }

// GenesisBlocks returns the per-thread genesis block ids.
func (g *Graph) GenesisBlocks() []types.BlockId {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]types.BlockId, len(g.genesis))
	copy(out, g.genesis)
	return out
}

// SetCurrentSlot advances the graph's notion of "now" (driven by Clock
// ticks via Controller) and processes the future-block heap and stale
// pruning (spec §4.G SlotTick).
func (g *Graph) SetCurrentSlot(s slot.Slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.currentSlot = s
	g.drainFutureHeap()
	g.pruneStale()
}

// ReceiveBlock runs the full admission pipeline for B (spec §4.E).
// It never returns CapacityExceeded or the silent future-drop as errors:
// those are intentionally silent per spec §7.
func (g *Graph) ReceiveBlock(ctx context.Context, b *types.Block) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.receiveBlockLocked(b)
}

func (g *Graph) receiveBlockLocked(b *types.Block) error {
	id := b.Id()

	if g.isKnown(id) {
		return nil // already active/waiting/discarded/invalid: ignore re-offer
	}

	// --- 1. Structural check -------------------------------------------------
	if err := g.structuralCheck(b); err != nil {
		if errs.Is(err, errs.MissingSnapshot) {
			g.deferred = append(g.deferred, b)
			return err
		}
		g.markInvalid(id, err.Error())
		return err
	}

	// --- 2. Future gate --------------------------------------------------------
	maxFuture := slot.Slot{Period: g.currentSlot.Period + g.cfg.FutureBlockProcessingMaxPeriods, Thread: g.currentSlot.Thread}
	if b.Header.Slot.After(maxFuture) {
		return nil // silently dropped, never marked Discarded (P7)
	}
	if b.Header.Slot.After(g.currentSlot) {
		if uint64(g.futureHeap.Len()) >= g.cfg.MaxFutureProcessingBlocks {
			return nil // CapacityExceeded: silent drop
		}
		heap.Push(&g.futureHeap, futureEntry{slot: b.Header.Slot, block: b})
		return nil
	}

	return g.admitNow(b)
}

// admitNow runs dependency resolution and activation for a block whose
// slot has already arrived.
func (g *Graph) admitNow(b *types.Block) error {
	missing := g.missingParents(b)
	if missing.Cardinality() > 0 {
		return g.parkWaiting(b, missing)
	}
	return g.activate(b)
}

func (g *Graph) missingParents(b *types.Block) mapset.Set[types.BlockId] {
	missing := mapset.NewSet[types.BlockId]()
	for _, p := range b.Header.Parents {
		if !g.isActive(p) {
			missing.Add(p)
		}
	}
	return missing
}

func (g *Graph) isActive(id types.BlockId) bool {
	_, ok := g.active[id]
	return ok
}

func (g *Graph) isKnown(id types.BlockId) bool {
	if g.isActive(id) {
		return true
	}
	if _, ok := g.waiting[id]; ok {
		return true
	}
	if _, ok := g.discarded.Get(id); ok {
		return true
	}
	return false
}

func (g *Graph) structuralCheck(b *types.Block) error {
	if len(b.Header.Parents) != int(g.cfg.ThreadCount) {
		return errs.Wrap(errs.Invalid, "block %s has %d parents, want %d", types.BlockIdString(b.Id()), len(b.Header.Parents), g.cfg.ThreadCount)
	}
	if b.Header.Slot.Thread >= g.cfg.ThreadCount {
		return errs.Wrap(errs.Invalid, "block %s has out-of-range thread %d", types.BlockIdString(b.Id()), b.Header.Slot.Thread)
	}
	if err := b.Header.VerifySignature(); err != nil {
		return errs.Wrap(errs.Invalid, "block %s bad signature: %v", types.BlockIdString(b.Id()), err)
	}

	cycle := b.Header.Slot.Cycle(g.cfg.PeriodsPerCycle)
	if cycle >= g.cfg.PosLookbackCycles {
		lookback := cycle - g.cfg.PosLookbackCycles
		if !g.rollLedger.HasSnapshot(lookback) {
			return errs.Wrap(errs.MissingSnapshot, "cycle %d", lookback)
		}
	}
	creator, err := g.sel.Draw(b.Header.Slot)
	if err != nil {
		return err
	}
	from := xcrypto.AddressOf(b.Header.CreatorPubKey)
	if from != creator {
		return errs.Wrap(errs.Invalid, "block %s creator mismatch: got %s want %s", types.BlockIdString(b.Id()), from.String(), creator.String())
	}
	return nil
}
