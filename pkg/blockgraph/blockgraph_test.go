package blockgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/protocol"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/selector"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

const waitFor = 200 * time.Millisecond

// newTestConfig keeps pos_lookback_cycles far above any slot these tests
// reach, so the selector always stays in its bootstrap branch and every
// test block's signer is the one accepted creator (spec §4.C step 1) —
// letting these tests exercise admission/dependency/finality logic
// without separately standing up roll snapshots.
func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.ThreadCount = 2
	cfg.PosLookbackCycles = 1_000_000
	cfg.MaxDependencyBlocks = 10
	cfg.FutureBlockProcessingMaxPeriods = 5
	cfg.MaxFutureProcessingBlocks = 10
	cfg.MaxOperationsPerBlock = 100
	cfg.MaxBlockSize = 1 << 20
	cfg.OperationValidityPeriods = 1000
	cfg.DeltaF0 = 2
	return cfg
}

func newTestGraph(t *testing.T) (*Graph, xcrypto.PublicKey, xcrypto.PrivateKey, *protocol.Mock) {
	t.Helper()
	pub, priv, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := newTestConfig()
	selfAddr := xcrypto.AddressOf(pub)
	rl := rollledger.New(cfg.ThreadCount, cfg.PosSavedCycles+cfg.PosLookbackCycles)
	sel := selector.New(cfg.ThreadCount, cfg.PeriodsPerCycle, cfg.PosLookbackCycles, rl, selfAddr)
	ledger := ledgerview.NewMapView(nil)
	proto := protocol.NewMock()

	g := New(cfg, sel, ledger, rl, proto, nil)
	g.SetCurrentSlot(slot.New(0, 0))
	return g, pub, priv, proto
}

func mkBlock(pub xcrypto.PublicKey, priv xcrypto.PrivateKey, s slot.Slot, parents []types.BlockId) *types.Block {
	h := types.BlockHeader{
		CreatorPubKey:       pub,
		Slot:                s,
		Parents:             parents,
		OperationMerkleRoot: types.OperationMerkleRoot(nil),
	}
	h.Sign(priv)
	return &types.Block{Header: h}
}

// S1: a block whose parents are all already active propagates immediately.
func TestScenarioInOrderPropagation(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	g.SetCurrentSlot(slot.New(1, 0))
	genesis := g.GenesisBlocks()

	a := mkBlock(pub, priv, slot.New(1, 0), genesis)
	require.NoError(t, g.ReceiveBlock(context.Background(), a))

	protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{a.Id()}, waitFor)
}

// S2: a block arriving before its parent parks as MissingDependency and
// propagates only once the parent arrives, in dependency order.
func TestScenarioOutOfOrderWithDependency(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	g.SetCurrentSlot(slot.New(2, 0))
	genesis := g.GenesisBlocks()

	b1 := mkBlock(pub, priv, slot.New(1, 0), genesis)
	b2 := mkBlock(pub, priv, slot.New(2, 0), []types.BlockId{b1.Id(), genesis[1]})

	err := g.ReceiveBlock(context.Background(), b2)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MissingDependency))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{b2.Id()}, 50*time.Millisecond))

	require.NoError(t, g.ReceiveBlock(context.Background(), b1))

	first := protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{b1.Id()}, waitFor)
	assert.Equal(t, b1.Id(), first)
	second := protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{b2.Id()}, waitFor)
	assert.Equal(t, b2.Id(), second)
}

// S3: a block arriving far enough in the future that it exceeds
// future_block_processing_max_periods is silently dropped, never parked
// and never propagated, even once the clock catches up to it.
func TestScenarioFarFutureBlockSilentlyDropped(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	genesis := g.GenesisBlocks()

	farFuture := mkBlock(pub, priv, slot.New(100, 0), genesis)
	require.NoError(t, g.ReceiveBlock(context.Background(), farFuture))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{farFuture.Id()}, 50*time.Millisecond))

	g.SetCurrentSlot(slot.New(100, 0))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{farFuture.Id()}, 50*time.Millisecond))
}

// A block within the future window parks in the future heap and drains
// (propagates) once SetCurrentSlot reaches its slot.
func TestScenarioNearFutureBlockDrainsOnTick(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	genesis := g.GenesisBlocks()

	nearFuture := mkBlock(pub, priv, slot.New(3, 0), genesis)
	require.NoError(t, g.ReceiveBlock(context.Background(), nearFuture))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{nearFuture.Id()}, 50*time.Millisecond))

	g.SetCurrentSlot(slot.New(3, 0))
	protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{nearFuture.Id()}, waitFor)
}

// S6: an invalid ancestor taints its waiting descendants — they are
// discarded rather than left parked forever, and never propagate.
func TestScenarioInvalidAncestorTaintsDescendants(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	g.SetCurrentSlot(slot.New(2, 0))
	genesis := g.GenesisBlocks()

	// Missing one parent entry: fails the structural parent-count check.
	bad := mkBlock(pub, priv, slot.New(1, 0), genesis[:1])
	child := mkBlock(pub, priv, slot.New(2, 0), []types.BlockId{bad.Id(), genesis[1]})

	err := g.ReceiveBlock(context.Background(), child)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MissingDependency))

	err = g.ReceiveBlock(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Invalid))

	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{bad.Id(), child.Id()}, 50*time.Millisecond))

	status := g.Status()
	var sawBad, sawChild bool
	for _, d := range status.DiscardedBlocks {
		if d.Id == bad.Id() {
			sawBad = true
			assert.True(t, d.Invalid)
		}
		if d.Id == child.Id() {
			sawChild = true
			assert.False(t, d.Invalid)
		}
	}
	assert.True(t, sawBad)
	assert.True(t, sawChild)
}

// A duplicate block offered twice is a no-op the second time: no second
// IntegratedBlock event, no error.
func TestReceiveBlockIdempotent(t *testing.T) {
	g, pub, priv, proto := newTestGraph(t)
	g.SetCurrentSlot(slot.New(1, 0))
	genesis := g.GenesisBlocks()

	a := mkBlock(pub, priv, slot.New(1, 0), genesis)
	require.NoError(t, g.ReceiveBlock(context.Background(), a))
	protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{a.Id()}, waitFor)

	require.NoError(t, g.ReceiveBlock(context.Background(), a))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{a.Id()}, 50*time.Millisecond))
}

// Two blocks that each claim thread 1's tip directly off genesis, without
// one building on the other, are grandpa-incompatible: neither can join
// the other's clique, so at least two maximal cliques survive and the
// blockclique contains only one of the pair.
func TestForkingBlocksAreIncompatible(t *testing.T) {
	g, pub, priv, _ := newTestGraph(t)
	g.SetCurrentSlot(slot.New(2, 1))
	genesis := g.GenesisBlocks()

	fork1 := mkBlock(pub, priv, slot.New(1, 1), genesis)
	fork2 := mkBlock(pub, priv, slot.New(2, 1), genesis)

	require.NoError(t, g.ReceiveBlock(context.Background(), fork1))
	require.NoError(t, g.ReceiveBlock(context.Background(), fork2))

	status := g.Status()
	assert.GreaterOrEqual(t, len(status.MaxCliques), 2, "diverging thread-1 tips should not share a maximal clique")

	inBlockclique := func(id types.BlockId) bool {
		for _, m := range status.Blockclique {
			if m == id {
				return true
			}
		}
		return false
	}
	assert.True(t, inBlockclique(fork1.Id()) != inBlockclique(fork2.Id()), "exactly one of the forking blocks should win the blockclique")
}

// CloseCycle snapshots the roll ledger for a finished cycle and retries any
// block that had been parked on MissingSnapshot waiting for it.
func TestCloseCycleRetriesDeferredBlock(t *testing.T) {
	pub, priv, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := newTestConfig()
	cfg.ThreadCount = 1
	cfg.PeriodsPerCycle = 2
	cfg.PosLookbackCycles = 1
	selfAddr := xcrypto.AddressOf(pub)
	rl := rollledger.New(cfg.ThreadCount, cfg.PosSavedCycles+cfg.PosLookbackCycles)
	sel := selector.New(cfg.ThreadCount, cfg.PeriodsPerCycle, cfg.PosLookbackCycles, rl, selfAddr)
	ledger := ledgerview.NewMapView(nil)
	proto := protocol.NewMock()

	g := New(cfg, sel, ledger, rl, proto, nil)
	g.SetCurrentSlot(slot.New(2, 0))
	genesis := g.GenesisBlocks()

	b2 :=mkBlock(pub, priv, slot.New(2, 0), []types.BlockId{genesis[0]})
	err = g.ReceiveBlock(context.Background(), b2)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MissingSnapshot))
	assert.False(t, protocol.ValidateNotPropagateBlockInList(proto, []types.BlockId{b2.Id()}, 50*time.Millisecond))

	g.CloseCycle(0)

	protocol.ValidatePropagateBlockInList(t, proto, []types.BlockId{b2.Id()}, waitFor)
}

// Building a long single-thread chain eventually finalizes its earlier
// blocks once enough fitness has accumulated on top of them.
func TestChainFinalizes(t *testing.T) {
	g, pub, priv, _ := newTestGraph(t)
	g.SetCurrentSlot(slot.New(8, 0))
	genesis := g.GenesisBlocks()

	parents := genesis
	var chain []types.BlockId
	for i := uint64(1); i <= 8; i++ {
		b := mkBlock(pub, priv, slot.New(i, 0), []types.BlockId{parents[0], parents[1]})
		require.NoError(t, g.ReceiveBlock(context.Background(), b))
		chain = append(chain, b.Id())
		parents = []types.BlockId{b.Id(), genesis[1]}
	}

	status := g.Status()
	assert.NotEqual(t, genesis[0], status.FinalTips[0], "thread 0's final tip should have advanced past genesis")
	assert.Contains(t, chain, status.FinalTips[0])
}
