package pool

import (
	"context"
	"sync"

	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// Mock is a Channel test double holding operations in memory, in the
// idiom of the teacher corpus's hand-rolled test backends. It answers
// GetOperationBatch with the same "sorted by descending rentability,
// excluding the given ids, capped at batch_size / max_size" contract the
// real pool is required to honor (spec §4.F), so BlockProducer tests
// exercise the real inclusion logic against a faithful double.
type Mock struct {
	mu          sync.Mutex
	ops         map[types.OperationId]*types.Operation
	currentSlot slot.Slot
	finalPeriods []uint64
}

// NewMock builds an empty pool double.
func NewMock() *Mock {
	return &Mock{ops: make(map[types.OperationId]*types.Operation)}
}

// Seed loads ops into the pool directly (bypassing AddOperations), for
// test setup convenience.
func (m *Mock) Seed(ops ...*types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.ops[op.Id] = op
	}
}

func (m *Mock) UpdateCurrentSlot(s slot.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentSlot = s
}

func (m *Mock) UpdateLatestFinalPeriods(periods []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalPeriods = append([]uint64(nil), periods...)
}

func (m *Mock) AddOperations(ops map[types.OperationId]*types.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, op := range ops {
		m.ops[id] = op
	}
}

func (m *Mock) GetOperation(id types.OperationId) (*types.Operation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	return op, ok
}

func (m *Mock) GetOperationBatch(_ context.Context, req BatchRequest) ([]BatchEntry, error) {
	m.mu.Lock()
	candidates := make([]*types.Operation, 0, len(m.ops))
	for id, op := range m.ops {
		if _, excluded := req.Exclude[id]; excluded {
			continue
		}
		candidates = append(candidates, op)
	}
	m.mu.Unlock()

	types.SortByRentabilityDesc(candidates)

	out := make([]BatchEntry, 0, req.BatchSize)
	var size uint64
	for _, op := range candidates {
		if uint64(len(out)) >= req.BatchSize {
			break
		}
		if req.MaxSize > 0 && size+op.SizeBytes > req.MaxSize {
			continue
		}
		out = append(out, BatchEntry{Id: op.Id, Op: op, SizeBytes: op.SizeBytes})
		size += op.SizeBytes
	}
	return out, nil
}
