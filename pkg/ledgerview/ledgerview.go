// Package ledgerview implements LedgerView (spec §4.D): a read-only coin
// balance accessor consumed by BlockGraph and BlockProducer to check that
// a sender can cover the cumulative fee+amount of the operations a block
// includes under its chosen parent-set state. Balance mutation happens in
// execution/final state, which this module does not own (spec §1
// Non-goals).
package ledgerview

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/massa-labs/consensus-engine/pkg/types"
)

// LedgerView is the read-only capability BlockGraph and BlockProducer
// depend on; production and test doubles both satisfy it (spec §9,
// "Polymorphism").
type LedgerView interface {
	Balance(addr types.Address) *uint256.Int
}

// MapView is a simple in-memory LedgerView backed by a map, suitable for
// tests and for a standalone consensus engine run without a live
// execution sink.
type MapView struct {
	mu       sync.RWMutex
	balances map[types.Address]*uint256.Int
}

// NewMapView builds a MapView seeded with the given initial balances.
func NewMapView(initial map[types.Address]*uint256.Int) *MapView {
	v := &MapView{balances: make(map[types.Address]*uint256.Int, len(initial))}
	for a, b := range initial {
		v.balances[a] = new(uint256.Int).Set(b)
	}
	return v
}

// Balance returns addr's balance, or zero if unknown.
func (v *MapView) Balance(addr types.Address) *uint256.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if b, ok := v.balances[addr]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

// Set overwrites addr's balance; used by tests and by the execution sink
// adapter to publish newly finalized balances.
func (v *MapView) Set(addr types.Address, balance *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[addr] = new(uint256.Int).Set(balance)
}

// SpendTracker accumulates the fee+amount a sender commits across the
// operations selected so far for one candidate block, so BlockGraph
// admission and BlockProducer assembly can both enforce "sender balance
// under the parent-set ledger covers cumulative (fee + amount)" (spec
// §4.F step 4) without re-scanning prior operations on every check.
type SpendTracker struct {
	view  LedgerView
	spent map[types.Address]*uint256.Int
}

// NewSpendTracker builds a tracker reading initial balances from view.
func NewSpendTracker(view LedgerView) *SpendTracker {
	return &SpendTracker{view: view, spent: make(map[types.Address]*uint256.Int)}
}

// CanAfford reports whether sender can cover an additional cost on top of
// everything already committed via Commit.
func (s *SpendTracker) CanAfford(sender types.Address, cost *uint256.Int) bool {
	balance := s.view.Balance(sender)
	already := s.spentSoFar(sender)
	total := new(uint256.Int).Add(already, cost)
	return total.Cmp(balance) <= 0
}

// Commit records cost as spent by sender; call only after CanAfford
// returned true for the same cost.
func (s *SpendTracker) Commit(sender types.Address, cost *uint256.Int) {
	already := s.spentSoFar(sender)
	s.spent[sender] = new(uint256.Int).Add(already, cost)
}

func (s *SpendTracker) spentSoFar(sender types.Address) *uint256.Int {
	if v, ok := s.spent[sender]; ok {
		return v
	}
	return uint256.NewInt(0)
}

// OperationCost returns the total coin commitment of op: its fee, plus
// its transfer amount if it is a transaction.
func OperationCost(op *types.Operation) *uint256.Int {
	cost := new(uint256.Int).Set(op.Fee)
	if op.Kind == types.OpTransaction && op.Amount != nil {
		cost.Add(cost, op.Amount)
	}
	return cost
}
