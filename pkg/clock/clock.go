// Package clock implements the slot Clock (spec §4.G): translating
// wall-clock time into Slot ticks at genesis_timestamp + period*t0 +
// thread*t0/thread_count boundaries, plus a manual clock for
// deterministic tests.
package clock

import (
	"time"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/pkg/slot"
)

// WallClock ticks once per slot (thread_count times per period), computed
// from the configured genesis_timestamp, t0 and thread_count.
type WallClock struct {
	cfg  *config.Config
	ch   chan slot.Slot
	stop chan struct{}
}

// NewWallClock starts a background goroutine ticking at each slot
// boundary across all threads in round-robin order. The first tick is the
// slot current at time.Now(), delivered at once; before genesis it is
// slot (0,0), delivered at genesis.
func NewWallClock(cfg *config.Config) *WallClock {
	c := &WallClock{cfg: cfg, ch: make(chan slot.Slot, 16), stop: make(chan struct{})}
	go c.run()
	return c
}

func (c *WallClock) run() {
	s, err := slot.OfTimestamp(time.Now(), c.cfg.GenesisTimestamp, c.cfg.T0, c.cfg.ThreadCount)
	if err != nil {
		s = slot.New(0, 0)
	}
	for {
		target := slot.Timestamp(s, c.cfg.GenesisTimestamp, c.cfg.T0, c.cfg.ThreadCount)
		timer := time.NewTimer(time.Until(target))
		select {
		case <-timer.C:
			select {
			case c.ch <- s:
			case <-c.stop:
				timer.Stop()
				return
			}
			s = slot.Next(s, c.cfg.ThreadCount)
		case <-c.stop:
			timer.Stop()
			return
		}
	}
}

// Ticks implements controller.Clock.
func (c *WallClock) Ticks() <-chan slot.Slot { return c.ch }

// Stop halts the background goroutine.
func (c *WallClock) Stop() { close(c.stop) }

// Manual is a test double: ticks are pushed explicitly by the test.
type Manual struct {
	ch chan slot.Slot
}

// NewManual builds a Manual clock with a generously buffered channel.
func NewManual() *Manual {
	return &Manual{ch: make(chan slot.Slot, 4096)}
}

// Ticks implements controller.Clock.
func (m *Manual) Ticks() <-chan slot.Slot { return m.ch }

// Advance pushes a tick for s.
func (m *Manual) Advance(s slot.Slot) {
	m.ch <- s
}
