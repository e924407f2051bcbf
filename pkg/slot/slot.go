// Package slot implements SlotArithmetic (spec §4.A): pure functions over
// (period, thread) coordinates and their relation to wall-clock time.
package slot

import (
	"fmt"
	"time"
)

// Slot identifies one (period, thread) coordinate in the block graph.
// Slots are ordered lexicographically by (Period, Thread).
type Slot struct {
	Period uint64
	Thread uint8
}

// New builds a Slot, matching the teacher corpus's `Slot::new` convenience
// constructor used throughout the scenario tests this package's tests are
// grounded on.
func New(period uint64, thread uint8) Slot { return Slot{Period: period, Thread: thread} }

// Compare returns -1, 0 or 1 as s orders before, equal to, or after o.
func (s Slot) Compare(o Slot) int {
	if s.Period != o.Period {
		if s.Period < o.Period {
			return -1
		}
		return 1
	}
	if s.Thread != o.Thread {
		if s.Thread < o.Thread {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether s strictly precedes o.
func (s Slot) Before(o Slot) bool { return s.Compare(o) < 0 }

// After reports whether s strictly follows o.
func (s Slot) After(o Slot) bool { return s.Compare(o) > 0 }

func (s Slot) String() string { return fmt.Sprintf("(%d,%d)", s.Period, s.Thread) }

// Next returns the slot immediately following s for a graph with
// threadCount parallel threads: the thread rolls within [0, threadCount)
// and the period increments when it wraps.
func Next(s Slot, threadCount uint8) Slot {
	if s.Thread+1 < threadCount {
		return Slot{Period: s.Period, Thread: s.Thread + 1}
	}
	return Slot{Period: s.Period + 1, Thread: 0}
}

// Prev returns the slot immediately preceding s, or ok=false if s is the
// very first slot (0,0).
func Prev(s Slot, threadCount uint8) (prev Slot, ok bool) {
	if s.Thread > 0 {
		return Slot{Period: s.Period, Thread: s.Thread - 1}, true
	}
	if s.Period == 0 {
		return Slot{}, false
	}
	return Slot{Period: s.Period - 1, Thread: threadCount - 1}, true
}

// Cycle returns the cycle a slot belongs to, given periodsPerCycle.
func (s Slot) Cycle(periodsPerCycle uint64) uint64 {
	return s.Period / periodsPerCycle
}

// ErrBeforeGenesis is returned by OfTimestamp when ts predates genesis.
var ErrBeforeGenesis = fmt.Errorf("slot: timestamp precedes genesis")

// OfTimestamp converts a wall-clock instant into the slot that is current
// at that instant, per spec §4.A:
//
//	period = (ts - genesis) / t0
//	thread = ((ts - genesis) % t0) * threadCount / t0
func OfTimestamp(ts, genesis time.Time, t0 time.Duration, threadCount uint8) (Slot, error) {
	if ts.Before(genesis) {
		return Slot{}, ErrBeforeGenesis
	}
	elapsed := ts.Sub(genesis)
	period := uint64(elapsed / t0)
	rem := elapsed % t0
	thread := uint8(int64(rem) * int64(threadCount) / int64(t0))
	if thread >= threadCount {
		thread = threadCount - 1
	}
	return Slot{Period: period, Thread: thread}, nil
}

// Timestamp returns the wall-clock instant at which s begins:
//
//	genesis + period*t0 + thread*t0/threadCount
func Timestamp(s Slot, genesis time.Time, t0 time.Duration, threadCount uint8) time.Time {
	offset := time.Duration(s.Period)*t0 + time.Duration(int64(s.Thread)*int64(t0)/int64(threadCount))
	return genesis.Add(offset)
}
