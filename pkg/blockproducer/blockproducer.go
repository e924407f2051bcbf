// Package blockproducer implements BlockProducer (spec §4.F): on each
// slot this node is drawn to create, it assembles a block from the
// current blockclique's tips and the pool's highest-rentability
// operations, signs it, and returns it for Controller to hand to
// BlockGraph.
package blockproducer

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/internal/metrics"
	"github.com/massa-labs/consensus-engine/internal/xlog"
	"github.com/massa-labs/consensus-engine/pkg/blockgraph"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/pool"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

// Producer holds the key material and channels needed to produce blocks
// for one staking identity.
type Producer struct {
	cfg    *config.Config
	graph  *blockgraph.Graph
	poolCh pool.Channel
	ledger ledgerview.LedgerView
	log    xlog.Logger
	m      *metrics.Registry

	selfAddr types.Address
	selfPub  xcrypto.PublicKey
	selfKey  xcrypto.PrivateKey
}

// New builds a Producer for the identity (pub, priv).
func New(cfg *config.Config, graph *blockgraph.Graph, poolCh pool.Channel, ledger ledgerview.LedgerView, pub xcrypto.PublicKey, priv xcrypto.PrivateKey, m *metrics.Registry) *Producer {
	return &Producer{
		cfg:      cfg,
		graph:    graph,
		poolCh:   poolCh,
		ledger:   ledger,
		log:      xlog.New("module", "blockproducer"),
		m:        m,
		selfAddr: xcrypto.AddressOf(pub),
		selfPub:  pub,
		selfKey:  priv,
	}
}

// ProduceIfSelected runs the full production pipeline for slot s and
// returns the assembled, signed block, or nil if this node was not drawn
// to produce at s (or block creation is administratively disabled).
func (p *Producer) ProduceIfSelected(ctx context.Context, s slot.Slot) (*types.Block, error) {
	if p.cfg.DisableBlockCreation {
		return nil, nil
	}

	creator, err := p.graph.Draw(s)
	if err != nil {
		return nil, err
	}
	if creator != p.selfAddr {
		return nil, nil
	}

	parents := p.graph.ChosenParents()
	exclude := p.graph.ExcludedOperations(parents)

	p.poolCh.UpdateCurrentSlot(s)

	ops, err := p.assembleOperations(ctx, s, exclude, len(parents))
	if err != nil {
		return nil, err
	}

	header := types.BlockHeader{
		CreatorPubKey:       p.selfPub,
		Slot:                s,
		Parents:             parents,
		OperationMerkleRoot: types.OperationMerkleRoot(ops),
	}
	header.Sign(p.selfKey)

	block := &types.Block{Header: header, Operations: ops}

	if p.m != nil {
		p.m.BlocksProduced.Inc(1)
	}
	p.log.Debug("produced block", "slot", s, "ops", len(ops), "parents", len(parents))
	return block, nil
}

// assembleOperations pulls rentability-sorted batches from the pool and
// greedily fills the block under the byte, count and balance budgets of
// spec §4.F step 4. Per step 5, while fewer than batch_size operations
// have been included and budget remains, it re-requests with exclude
// widened to every id already seen (included or rejected), stopping as
// soon as the pool returns an empty batch (spec §4.F step 5 / S4).
func (p *Producer) assembleOperations(ctx context.Context, s slot.Slot, exclude map[types.OperationId]struct{}, parentCount int) ([]*types.Operation, error) {
	excludeSet := mapset.NewSet[types.OperationId]()
	for id := range exclude {
		excludeSet.Add(id)
	}

	tracker := ledgerview.NewSpendTracker(p.ledger)
	seen := mapset.NewSet[types.OperationId]()
	var out []*types.Operation
	var size uint64 = headerOverhead(parentCount)

	for uint64(len(out)) < p.cfg.OperationBatchSize &&
		uint64(len(out)) < p.cfg.MaxOperationsPerBlock &&
		size < p.cfg.MaxBlockSize {

		req := pool.BatchRequest{
			TargetSlot: s,
			Exclude:    setToExcludeMap(excludeSet),
			BatchSize:  p.cfg.OperationBatchSize,
			MaxSize:    p.cfg.MaxBlockSize,
		}
		batch, err := p.poolCh.GetOperationBatch(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		for _, entry := range batch {
			excludeSet.Add(entry.Id)

			if uint64(len(out)) >= p.cfg.MaxOperationsPerBlock {
				break
			}
			op := entry.Op
			if !op.ValidAt(s.Period, p.cfg.OperationValidityPeriods) {
				continue
			}
			if seen.Contains(op.Id) {
				continue
			}
			if size+entry.SizeBytes > p.cfg.MaxBlockSize {
				continue
			}
			cost := ledgerview.OperationCost(op)
			if !tracker.CanAfford(op.Sender, cost) {
				continue
			}
			tracker.Commit(op.Sender, cost)
			seen.Add(op.Id)
			out = append(out, op)
			size += entry.SizeBytes
		}
	}
	return out, nil
}

func setToExcludeMap(s mapset.Set[types.OperationId]) map[types.OperationId]struct{} {
	out := make(map[types.OperationId]struct{}, s.Cardinality())
	for id := range s.Iter() {
		out[id] = struct{}{}
	}
	return out
}

func headerOverhead(threadCount int) uint64 {
	return 32 + 9 + uint64(32*threadCount) + 32 + 64
}
