// Package pool defines PoolChannel (spec §6): the typed boundary between
// the consensus engine and the (out of scope) mempool/pool storage.
package pool

import (
	"context"

	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// BatchRequest parameterizes one GetOperationBatch call (spec §6).
type BatchRequest struct {
	TargetSlot slot.Slot
	Exclude    map[types.OperationId]struct{}
	BatchSize  uint64
	MaxSize    uint64
}

// BatchEntry is one operation offered by the pool, already annotated with
// its serialized size so BlockProducer need not re-derive it.
type BatchEntry struct {
	Id        types.OperationId
	Op        *types.Operation
	SizeBytes uint64
}

// Channel is the capability set BlockProducer uses to pull operations and
// keep the pool informed of chain progress.
type Channel interface {
	UpdateCurrentSlot(s slot.Slot)
	UpdateLatestFinalPeriods(periods []uint64) // one per thread

	AddOperations(ops map[types.OperationId]*types.Operation)

	// GetOperationBatch returns operations sorted by descending
	// rentability (fee/byte), tie-broken by ascending id (spec §4.F).
	GetOperationBatch(ctx context.Context, req BatchRequest) ([]BatchEntry, error)

	GetOperation(id types.OperationId) (*types.Operation, bool)
}
