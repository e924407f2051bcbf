// Package selector implements the PoS Selector (spec §4.C): deterministic
// slot→address draws for a cycle, seeded from a lookback cycle's
// finalized block ids and weighted by that cycle's roll snapshot.
package selector

import (
	"sort"
	"sync"

	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

// Selector draws the single creator address for any slot, from the roll
// snapshot of its cycle's lookback cycle.
type Selector struct {
	threadCount     uint8
	periodsPerCycle uint64
	lookbackCycles  uint64
	ledger          *rollledger.RollLedger
	fallback        types.Address

	mu        sync.Mutex
	seedCache map[uint64]xcrypto.Hash
	drawCache map[uint64]map[slot.Slot]types.Address // cycle -> slot -> address
}

// New builds a Selector reading from ledger, falling back to
// fallbackAddress when a lookback cycle's total roll weight is zero
// (spec §4.C step 3) — notably true for the bootstrap cycles before any
// rolls have been purchased.
func New(threadCount uint8, periodsPerCycle, lookbackCycles uint64, ledger *rollledger.RollLedger, fallbackAddress types.Address) *Selector {
	return &Selector{
		threadCount:     threadCount,
		periodsPerCycle: periodsPerCycle,
		lookbackCycles:  lookbackCycles,
		ledger:          ledger,
		fallback:        fallbackAddress,
		seedCache:       make(map[uint64]xcrypto.Hash),
		drawCache:       make(map[uint64]map[slot.Slot]types.Address),
	}
}

// Draw returns the address selected to produce the block at s, or
// MissingSnapshot if s's lookback cycle has not yet closed (spec §4.C).
func (sel *Selector) Draw(s slot.Slot) (types.Address, error) {
	cycle := s.Cycle(sel.periodsPerCycle)

	sel.mu.Lock()
	if byCycle, ok := sel.drawCache[cycle]; ok {
		if addr, ok := byCycle[s]; ok {
			sel.mu.Unlock()
			return addr, nil
		}
	}
	sel.mu.Unlock()

	if cycle < sel.lookbackCycles {
		// Bootstrap period: no lookback cycle has ever closed yet.
		sel.cacheDraw(cycle, s, sel.fallback)
		return sel.fallback, nil
	}
	lookbackCycle := cycle - sel.lookbackCycles

	seed, err := sel.seedFor(lookbackCycle)
	if err != nil {
		return types.Address{}, err
	}

	snap, err := sel.ledger.GetSnapshot(lookbackCycle)
	if err != nil {
		return types.Address{}, err
	}

	addr := drawFromSnapshot(snap, s, seed)
	if addr == (types.Address{}) {
		addr = sel.fallback
	}
	sel.cacheDraw(cycle, s, addr)
	return addr, nil
}

func (sel *Selector) cacheDraw(cycle uint64, s slot.Slot, addr types.Address) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	byCycle, ok := sel.drawCache[cycle]
	if !ok {
		byCycle = make(map[slot.Slot]types.Address)
		sel.drawCache[cycle] = byCycle
	}
	byCycle[s] = addr
}

func (sel *Selector) seedFor(cycle uint64) (xcrypto.Hash, error) {
	sel.mu.Lock()
	if h, ok := sel.seedCache[cycle]; ok {
		sel.mu.Unlock()
		return h, nil
	}
	sel.mu.Unlock()

	snap, err := sel.ledger.GetSnapshot(cycle)
	if err != nil {
		return xcrypto.Hash{}, err
	}
	seed := xcrypto.Digest(snap.SeedMaterial)

	sel.mu.Lock()
	sel.seedCache[cycle] = seed
	sel.mu.Unlock()
	return seed, nil
}

// PurgeCycle drops the cached seed of lookback cycle cycle and the cached
// draws derived from it (those of cycle+lookbackCycles). No component of
// this module calls it: RollLedger's snapshot pruning leaves the selector
// caches in place.
func (sel *Selector) PurgeCycle(cycle uint64) {
	sel.mu.Lock()
	defer sel.mu.Unlock()
	delete(sel.drawCache, cycle+sel.lookbackCycles)
	delete(sel.seedCache, cycle)
}

func drawFromSnapshot(snap *rollledger.CycleSnapshot, s slot.Slot, seed xcrypto.Hash) types.Address {
	counts := snap.RollCounts[s.Thread]
	if len(counts) == 0 {
		return types.Address{}
	}

	addrs := make([]types.Address, 0, len(counts))
	for a := range counts {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return lessAddr(addrs[i], addrs[j])
	})

	var total uint64
	for _, a := range addrs {
		total += counts[a]
	}
	if total == 0 {
		return types.Address{}
	}

	r := xcrypto.PRF(seed, s.Period, s.Thread) % total
	var cum uint64
	for _, a := range addrs {
		cum += counts[a]
		if r < cum {
			return a
		}
	}
	return addrs[len(addrs)-1] // unreachable unless rounding, kept defensive
}

func lessAddr(a, b types.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// DrawRange returns the draws for every slot in [from, to) across all
// threads, for GetSelectionDraws range queries (spec §4.G).
func (sel *Selector) DrawRange(from, to slot.Slot, threadCount uint8) (map[slot.Slot]types.Address, error) {
	out := make(map[slot.Slot]types.Address)
	for s := from; s.Before(to); s = slot.Next(s, threadCount) {
		addr, err := sel.Draw(s)
		if err != nil {
			return nil, errs.Wrap(errs.MissingSnapshot, "draw range at %s: %v", s, err)
		}
		out[s] = addr
	}
	return out, nil
}
