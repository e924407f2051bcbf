package rollledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestApplyPurchaseThenSale(t *testing.T) {
	l := New(2, 4)
	a := addr(1)

	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Purchases: 10}}))
	assert.Equal(t, uint64(10), l.Count(0, a))

	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Sales: 4}}))
	assert.Equal(t, uint64(6), l.Count(0, a))
}

func TestApplySaleExceedingHoldingsFailsAtomically(t *testing.T) {
	l := New(2, 4)
	a, b := addr(1), addr(2)
	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Purchases: 5}, b: {Purchases: 5}}))

	err := l.Apply(0, map[types.Address]RollUpdate{
		a: {Purchases: 1},
		b: {Sales: 100},
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Invalid))
	// neither address's balance moved: the batch must not partially apply
	assert.Equal(t, uint64(5), l.Count(0, a))
	assert.Equal(t, uint64(5), l.Count(0, b))
}

func TestApplyRemovesZeroEntries(t *testing.T) {
	l := New(1, 4)
	a := addr(9)
	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Purchases: 3}}))
	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Sales: 3}}))
	assert.Equal(t, uint64(0), l.Count(0, a))
}

func TestSnapshotAndRetention(t *testing.T) {
	l := New(1, 2) // retain 2 cycles
	a := addr(1)
	require.NoError(t, l.Apply(0, map[types.Address]RollUpdate{a: {Purchases: 1}}))

	l.Snapshot(0, []byte("seed0"))
	l.Snapshot(1, []byte("seed1"))
	l.Snapshot(2, []byte("seed2")) // threshold = 2-2 = 0, cycle 0 kept

	_, err := l.GetSnapshot(0)
	assert.NoError(t, err)

	l.Snapshot(3, []byte("seed3")) // threshold = 3-2 = 1, cycle 0 pruned
	_, err = l.GetSnapshot(0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.MissingSnapshot))

	snap, err := l.GetSnapshot(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.RollCounts[0][a])
}

func TestGetSnapshotMissing(t *testing.T) {
	l := New(1, 2)
	_, err := l.GetSnapshot(5)
	assert.True(t, errs.Is(err, errs.MissingSnapshot))
	assert.False(t, l.HasSnapshot(5))
}
