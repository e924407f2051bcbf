package blockproducer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/pkg/blockgraph"
	"github.com/massa-labs/consensus-engine/pkg/ledgerview"
	"github.com/massa-labs/consensus-engine/pkg/pool"
	"github.com/massa-labs/consensus-engine/pkg/protocol"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/selector"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

func mkTestOp(t *testing.T, fee, size uint64) *types.Operation {
	t.Helper()
	_, sk, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)
	pk, _, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)
	op := &types.Operation{
		Sender:       xcrypto.AddressOf(pk),
		SenderPubKey: pk,
		Fee:          types.NewAmount(fee),
		SizeBytes:    size,
		ExpirePeriod: 1000,
	}
	op.Id = xcrypto.Digest([]byte(sk))
	return op
}

func newHarness(t *testing.T) (*config.Config, *blockgraph.Graph, *pool.Mock, *ledgerview.MapView, xcrypto.PublicKey, xcrypto.PrivateKey) {
	t.Helper()
	cfg := config.Default()
	cfg.ThreadCount = 1
	cfg.PosLookbackCycles = 1_000_000
	cfg.MaxOperationsPerBlock = 2
	cfg.MaxBlockSize = 1 << 20
	cfg.OperationValidityPeriods = 1000

	pub, priv, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)
	selfAddr := xcrypto.AddressOf(pub)

	rl := rollledger.New(cfg.ThreadCount, cfg.PosSavedCycles+cfg.PosLookbackCycles)
	sel := selector.New(cfg.ThreadCount, cfg.PeriodsPerCycle, cfg.PosLookbackCycles, rl, selfAddr)
	ledger := ledgerview.NewMapView(nil)
	proto := protocol.NewMock()
	graph := blockgraph.New(cfg, sel, ledger, rl, proto, nil)
	graph.SetCurrentSlot(slot.New(0, 0))

	poolCh := pool.NewMock()
	return cfg, graph, poolCh, ledger, pub, priv
}

func TestProducerFillsBlockByRentabilityWithinOperationCap(t *testing.T) {
	cfg, graph, poolCh, ledger, pub, priv := newHarness(t)

	opHigh := mkTestOp(t, 50, 10) // rentability 5.0
	opMid := mkTestOp(t, 10, 10)  // rentability 1.0
	opLow := mkTestOp(t, 1, 10)   // rentability 0.1
	for _, op := range []*types.Operation{opHigh, opMid, opLow} {
		ledger.Set(op.Sender, types.NewAmount(1000))
	}
	poolCh.Seed(opHigh, opMid, opLow)

	producer := New(cfg, graph, poolCh, ledger, pub, priv, nil)
	block, err := producer.ProduceIfSelected(context.Background(), slot.New(1, 0))
	require.NoError(t, err)
	require.NotNil(t, block)

	require.Len(t, block.Operations, 2)
	assert.Equal(t, opHigh.Id, block.Operations[0].Id)
	assert.Equal(t, opMid.Id, block.Operations[1].Id)
	require.NoError(t, block.Header.VerifySignature())
}

func TestProducerSkipsUnaffordableOperation(t *testing.T) {
	cfg, graph, poolCh, ledger, pub, priv := newHarness(t)
	cfg.MaxOperationsPerBlock = 10

	rich := mkTestOp(t, 50, 10)
	poor := mkTestOp(t, 100, 10) // higher fee, but sender can't afford it
	ledger.Set(rich.Sender, types.NewAmount(1000))
	ledger.Set(poor.Sender, types.NewAmount(1))
	poolCh.Seed(rich, poor)

	producer := New(cfg, graph, poolCh, ledger, pub, priv, nil)
	block, err := producer.ProduceIfSelected(context.Background(), slot.New(1, 0))
	require.NoError(t, err)
	require.Len(t, block.Operations, 1)
	assert.Equal(t, rich.Id, block.Operations[0].Id)
}

// countingPool wraps pool.Mock to record each GetOperationBatch call's
// exclude set, so tests can assert on the second-batch request spec §4.F
// step 5 / S4 requires.
type countingPool struct {
	*pool.Mock
	calls    int
	excludes []map[types.OperationId]struct{}
}

func (c *countingPool) GetOperationBatch(ctx context.Context, req pool.BatchRequest) ([]pool.BatchEntry, error) {
	c.calls++
	c.excludes = append(c.excludes, req.Exclude)
	return c.Mock.GetOperationBatch(ctx, req)
}

func TestProducerRequestsSecondBatchWithIncludedExcluded(t *testing.T) {
	cfg, graph, poolMock, ledger, pub, priv := newHarness(t)
	cfg.MaxOperationsPerBlock = 10
	cfg.OperationBatchSize = 10

	op3 := mkTestOp(t, 50, 10) // fee/size = 5.0, sender has 0 balance
	op2 := mkTestOp(t, 50, 10) // fee/size = 5.0
	op1 := mkTestOp(t, 5, 10)  // fee/size = 0.5
	ledger.Set(op3.Sender, types.NewAmount(0))
	ledger.Set(op2.Sender, types.NewAmount(1000))
	ledger.Set(op1.Sender, types.NewAmount(1000))
	poolMock.Seed(op3, op2, op1)

	cp := &countingPool{Mock: poolMock}
	producer := New(cfg, graph, cp, ledger, pub, priv, nil)
	block, err := producer.ProduceIfSelected(context.Background(), slot.New(1, 0))
	require.NoError(t, err)
	require.NotNil(t, block)

	require.Len(t, block.Operations, 2)
	assert.Equal(t, op2.Id, block.Operations[0].Id)
	assert.Equal(t, op1.Id, block.Operations[1].Id)

	require.Equal(t, 2, cp.calls, "pool should be queried a second time once the first batch is exhausted")
	secondExclude := cp.excludes[1]
	assert.Len(t, secondExclude, 3)
	for _, id := range []types.OperationId{op3.Id, op2.Id, op1.Id} {
		_, ok := secondExclude[id]
		assert.True(t, ok, "second batch must exclude %x", id[:4])
	}
}

func TestProducerReturnsNilWhenNotSelected(t *testing.T) {
	cfg, graph, poolCh, ledger, _, _ := newHarness(t)
	otherPub, otherPriv, err := xcrypto.GenerateKeyPair()
	require.NoError(t, err)

	producer := New(cfg, graph, poolCh, ledger, otherPub, otherPriv, nil)
	block, err := producer.ProduceIfSelected(context.Background(), slot.New(1, 0))
	require.NoError(t, err)
	assert.Nil(t, block)
}

func TestProducerDisabledReturnsNil(t *testing.T) {
	cfg, graph, poolCh, ledger, pub, priv := newHarness(t)
	cfg.DisableBlockCreation = true

	producer := New(cfg, graph, poolCh, ledger, pub, priv, nil)
	block, err := producer.ProduceIfSelected(context.Background(), slot.New(1, 0))
	require.NoError(t, err)
	assert.Nil(t, block)
}
