package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/pkg/slot"
)

func TestManualDeliversAdvancedTicks(t *testing.T) {
	m := NewManual()
	m.Advance(slot.New(1, 0))
	m.Advance(slot.New(1, 1))

	select {
	case s := <-m.Ticks():
		assert.Equal(t, slot.New(1, 0), s)
	case <-time.After(time.Second):
		t.Fatal("expected first tick")
	}
	select {
	case s := <-m.Ticks():
		assert.Equal(t, slot.New(1, 1), s)
	case <-time.After(time.Second):
		t.Fatal("expected second tick")
	}
}

func TestWallClockDeliversTick(t *testing.T) {
	cfg := config.Default()
	cfg.ThreadCount = 2
	cfg.T0 = 20 * time.Millisecond
	cfg.GenesisTimestamp = time.Now().Add(-cfg.T0) // a period already elapsed

	c := NewWallClock(cfg)
	defer c.Stop()

	select {
	case <-c.Ticks():
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one tick from the wall clock")
	}
}

func TestWallClockStopClosesCleanly(t *testing.T) {
	cfg := config.Default()
	cfg.T0 = time.Hour // only the current slot's tick fires during the test
	c := NewWallClock(cfg)
	require.NotPanics(t, func() { c.Stop() })
}
