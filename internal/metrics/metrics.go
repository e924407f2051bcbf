// Package metrics is a minimal in-process counter/gauge registry, in the
// idiom of go-ethereum's metrics package (metrics.NewCounter /
// metrics.NewGauge), without the Influx/Prometheus exporters: this module
// has no HTTP surface, so only the in-memory registry is carried over.
package metrics

import "sync/atomic"

// Counter is a monotonically increasing value.
type Counter struct{ v int64 }

func NewCounter() *Counter { return &Counter{} }

func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.v, delta) }
func (c *Counter) Count() int64    { return atomic.LoadInt64(&c.v) }

// Gauge is an instantaneous value that can move up or down.
type Gauge struct{ v int64 }

func NewGauge() *Gauge { return &Gauge{} }

func (g *Gauge) Update(v int64) { atomic.StoreInt64(&g.v, v) }
func (g *Gauge) Value() int64   { return atomic.LoadInt64(&g.v) }

// Registry is the set of counters and gauges BlockGraph and BlockProducer
// update; it is not part of Controller's status queries.
type Registry struct {
	BlocksIntegrated   *Counter
	BlocksDiscarded    *Counter
	BlocksInvalid      *Counter
	BlocksFinalized    *Counter
	BlocksStale        *Counter
	BlocksProduced     *Counter
	DrawsMissed        *Counter
	CliqueSize         *Gauge
	ActiveBlockCount   *Gauge
	DependencyQueueLen *Gauge
	FutureHeapLen      *Gauge
}

// NewRegistry allocates a fresh, zeroed metric set.
func NewRegistry() *Registry {
	return &Registry{
		BlocksIntegrated:   NewCounter(),
		BlocksDiscarded:    NewCounter(),
		BlocksInvalid:      NewCounter(),
		BlocksFinalized:    NewCounter(),
		BlocksStale:        NewCounter(),
		BlocksProduced:     NewCounter(),
		DrawsMissed:        NewCounter(),
		CliqueSize:         NewGauge(),
		ActiveBlockCount:   NewGauge(),
		DependencyQueueLen: NewGauge(),
		FutureHeapLen:      NewGauge(),
	}
}
