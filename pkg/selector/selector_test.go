package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/rollledger"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestDrawBeforeLookbackUsesFallback(t *testing.T) {
	ledger := rollledger.New(2, 4)
	fallback := addr(0xff)
	sel := New(2, 10, 2, ledger, fallback)

	got, err := sel.Draw(slot.New(5, 0)) // cycle 0 < lookback 2
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}

func TestDrawMissingSnapshotReturnsTypedError(t *testing.T) {
	ledger := rollledger.New(2, 4)
	sel := New(2, 10, 2, ledger, addr(0))

	_, err := sel.Draw(slot.New(25, 0)) // cycle 2, needs cycle 0 snapshot
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MissingSnapshot))
}

func TestDrawIsDeterministicAndCached(t *testing.T) {
	ledger := rollledger.New(1, 4)
	require.NoError(t, ledger.Apply(0, map[types.Address]rollledger.RollUpdate{
		addr(1): {Purchases: 3},
		addr(2): {Purchases: 7},
	}))
	ledger.Snapshot(0, []byte("seed-material"))

	sel := New(1, 10, 1, ledger, addr(0))
	s := slot.New(15, 0) // cycle 1, lookback cycle 0

	a1, err := sel.Draw(s)
	require.NoError(t, err)
	a2, err := sel.Draw(s)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Contains(t, []types.Address{addr(1), addr(2)}, a1)
}

func TestDrawFallsBackWhenTotalRollsZero(t *testing.T) {
	ledger := rollledger.New(1, 4)
	ledger.Snapshot(0, []byte("empty"))
	fallback := addr(0xAB)
	sel := New(1, 10, 1, ledger, fallback)

	got, err := sel.Draw(slot.New(15, 0))
	require.NoError(t, err)
	assert.Equal(t, fallback, got)
}

func TestDrawFairnessStatistical(t *testing.T) {
	ledger := rollledger.New(1, 4)
	require.NoError(t, ledger.Apply(0, map[types.Address]rollledger.RollUpdate{
		addr(1): {Purchases: 90},
		addr(2): {Purchases: 10},
	}))
	ledger.Snapshot(0, []byte("fairness-seed"))
	sel := New(1, 5000, 1, ledger, addr(0))

	const periods = 2000
	countA := 0
	for p := uint64(5000); p < 5000+periods; p++ {
		got, err := sel.Draw(slot.New(p, 0))
		require.NoError(t, err)
		if got == addr(1) {
			countA++
		}
	}
	frac := float64(countA) / float64(periods)
	assert.InDelta(t, 0.9, frac, 0.15) // property P8
}
