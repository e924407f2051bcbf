// Package rollledger implements RollLedger (spec §4.B): per-thread,
// per-address roll counts, mutated by atomic purchase/sale updates and
// frozen into per-cycle snapshots consumed by the Selector.
package rollledger

import (
	"sort"
	"sync"

	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

// RollUpdate is an atomic purchase/sale delta for one address.
type RollUpdate struct {
	Purchases uint64
	Sales     uint64
}

// CycleSnapshot freezes the roll counts of every thread at the last slot
// of a cycle, plus the cycle seed material (spec §3: "Cycle snapshot").
type CycleSnapshot struct {
	Cycle        uint64
	RollCounts   []map[types.Address]uint64 // per thread
	SeedMaterial []byte                      // concatenated finalized block id bytes
}

// RollLedger holds the live per-thread roll counts and the retained
// history of per-cycle snapshots.
type RollLedger struct {
	mu           sync.RWMutex
	threadCount  uint8
	current      []map[types.Address]uint64 // per thread, live
	snapshots    map[uint64]*CycleSnapshot
	retainCycles uint64 // pos_lookback_cycles + pos_saved_cycles
}

// New creates an empty ledger for threadCount threads, retaining
// snapshots for retainCycles cycles (pos_lookback_cycles+pos_saved_cycles).
func New(threadCount uint8, retainCycles uint64) *RollLedger {
	current := make([]map[types.Address]uint64, threadCount)
	for t := range current {
		current[t] = make(map[types.Address]uint64)
	}
	return &RollLedger{
		threadCount:  threadCount,
		current:      current,
		snapshots:    make(map[uint64]*CycleSnapshot),
		retainCycles: retainCycles,
	}
}

// SeedInitial sets the starting roll count for an address on a thread,
// used to bootstrap genesis stakers before any cycle has closed.
func (l *RollLedger) SeedInitial(thread uint8, addr types.Address, count uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if count == 0 {
		delete(l.current[thread], addr)
		return
	}
	l.current[thread][addr] = count
}

// Count returns the live roll count of addr on thread.
func (l *RollLedger) Count(thread uint8, addr types.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current[thread][addr]
}

// Apply atomically applies updates to thread's live roll counts:
// purchases add, sales subtract; an entry reaching zero is removed.
// A sale exceeding current holdings for any address fails the whole
// batch without mutating anything (spec §4.B).
func (l *RollLedger) Apply(thread uint8, updates map[types.Address]RollUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := l.current[thread]
	// Pre-check so the batch is atomic.
	for addr, u := range updates {
		have := counts[addr]
		if u.Sales > have+u.Purchases {
			return errs.Wrap(errs.Invalid, "roll sale %d exceeds holdings %d for %s on thread %d", u.Sales, have, addr.String(), thread)
		}
	}
	for addr, u := range updates {
		next := counts[addr] + u.Purchases - u.Sales
		if next == 0 {
			delete(counts, addr)
		} else {
			counts[addr] = next
		}
	}
	return nil
}

// Snapshot freezes the current roll counts of every thread as the
// snapshot for cycle, attaching seedMaterial (the concatenated finalized
// block id bytes of that cycle), then prunes snapshots older than
// retainCycles.
func (l *RollLedger) Snapshot(cycle uint64, seedMaterial []byte) *CycleSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make([]map[types.Address]uint64, l.threadCount)
	for t := range counts {
		clone := make(map[types.Address]uint64, len(l.current[t]))
		for a, c := range l.current[t] {
			clone[a] = c
		}
		counts[t] = clone
	}
	snap := &CycleSnapshot{Cycle: cycle, RollCounts: counts, SeedMaterial: seedMaterial}
	l.snapshots[cycle] = snap

	if cycle >= l.retainCycles {
		threshold := cycle - l.retainCycles
		for c := range l.snapshots {
			if c < threshold {
				delete(l.snapshots, c)
			}
		}
	}
	return snap
}

// GetSnapshot returns the snapshot for cycle, or MissingSnapshot if it has
// not been committed yet (or was already pruned).
func (l *RollLedger) GetSnapshot(cycle uint64) (*CycleSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap, ok := l.snapshots[cycle]
	if !ok {
		return nil, errs.Wrap(errs.MissingSnapshot, "cycle %d", cycle)
	}
	return snap, nil
}

// HasSnapshot reports whether cycle's snapshot is available without
// constructing an error.
func (l *RollLedger) HasSnapshot(cycle uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.snapshots[cycle]
	return ok
}

// SeedMaterialFromIds concatenates block id bytes in a stable order,
// building the cycle seed material referenced by Snapshot.
func SeedMaterialFromIds(ids []xcrypto.Hash) []byte {
	sorted := append([]xcrypto.Hash(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		for k := range sorted[i] {
			if sorted[i][k] != sorted[j][k] {
				return sorted[i][k] < sorted[j][k]
			}
		}
		return false
	})
	out := make([]byte, 0, 32*len(sorted))
	for _, id := range sorted {
		out = append(out, id[:]...)
	}
	return out
}
