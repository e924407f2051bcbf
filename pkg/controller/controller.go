// Package controller implements Controller (spec §4.G): a single
// cooperative event loop multiplexing slot ticks, inbound protocol
// events, and the status/selection-draw queries the rest of the node
// issues, so BlockGraph is only ever touched from one goroutine at a
// time in the idiom the teacher corpus uses for its worker loops
// (eth/protocols' downloader, miner's worker) — one select over a
// handful of channels, owning all mutable state itself.
package controller

import (
	"context"

	"github.com/massa-labs/consensus-engine/internal/config"
	"github.com/massa-labs/consensus-engine/internal/errs"
	"github.com/massa-labs/consensus-engine/internal/xlog"
	"github.com/massa-labs/consensus-engine/pkg/blockgraph"
	"github.com/massa-labs/consensus-engine/pkg/blockproducer"
	"github.com/massa-labs/consensus-engine/pkg/pool"
	"github.com/massa-labs/consensus-engine/pkg/protocol"
	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/types"
)

// Clock delivers slot ticks to the controller; production code drives it
// off wall-clock time, tests drive it manually.
type Clock interface {
	Ticks() <-chan slot.Slot
}

type statusRequest struct {
	reply chan blockgraph.Status
}

type drawsRequest struct {
	from, to slot.Slot
	reply    chan drawsResponse
}

type drawsResponse struct {
	draws map[slot.Slot]types.Address
	err   error
}

// Controller owns the BlockGraph and BlockProducer and is the only
// goroutine that ever calls into either.
type Controller struct {
	cfg      *config.Config
	graph    *blockgraph.Graph
	producer *blockproducer.Producer
	proto    protocol.Channel
	poolCh   pool.Channel
	clock    Clock
	log      xlog.Logger

	statusCh chan statusRequest
	drawsCh  chan drawsRequest
	stopCh   chan struct{}
	doneCh   chan struct{}

	lastCycle     uint64
	haveLastCycle bool
}

// New builds a Controller. producer may be nil for a pure observer node
// that never creates blocks.
func New(cfg *config.Config, graph *blockgraph.Graph, producer *blockproducer.Producer, proto protocol.Channel, poolCh pool.Channel, clock Clock) *Controller {
	return &Controller{
		cfg:      cfg,
		graph:    graph,
		producer: producer,
		proto:    proto,
		poolCh:   poolCh,
		clock:    clock,
		log:      xlog.New("module", "controller"),
		statusCh: make(chan statusRequest, cfg.ControllerChannelSize),
		drawsCh:  make(chan drawsRequest, cfg.ControllerChannelSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run is the cooperative event loop; it returns once ctx is done or Stop
// is called, and closes doneCh on the way out so Stop can block until the
// loop has actually drained.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return

		case s, ok := <-c.clock.Ticks():
			if !ok {
				return
			}
			c.onSlotTick(ctx, s)

		case ev, ok := <-c.proto.Events():
			if !ok {
				return
			}
			c.onProtocolEvent(ctx, ev)

		case req := <-c.statusCh:
			req.reply <- c.graph.Status()

		case req := <-c.drawsCh:
			draws, err := c.graph.GetSelectionDraws(req.from, req.to)
			req.reply <- drawsResponse{draws: draws, err: err}
		}
	}
}

// Stop requests the loop exit and blocks until it has. Safe to call once.
func (c *Controller) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) onSlotTick(ctx context.Context, s slot.Slot) {
	cycle := s.Cycle(c.cfg.PeriodsPerCycle)
	if c.haveLastCycle && cycle != c.lastCycle {
		c.graph.CloseCycle(c.lastCycle)
	}
	c.lastCycle, c.haveLastCycle = cycle, true

	c.graph.SetCurrentSlot(s)
	c.poolCh.UpdateCurrentSlot(s)

	if c.producer == nil {
		return
	}
	block, err := c.producer.ProduceIfSelected(ctx, s)
	if err != nil {
		c.log.Warn("block production failed", "slot", s, "err", err)
		return
	}
	if block == nil {
		return
	}
	if err := c.graph.ReceiveBlock(ctx, block); err != nil {
		c.log.Warn("self-produced block rejected", "slot", s, "err", err)
	}
}

func (c *Controller) onProtocolEvent(ctx context.Context, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventReceivedBlock:
		if err := c.graph.ReceiveBlock(ctx, ev.Block); err != nil && !errs.Is(err, errs.MissingDependency) && !errs.Is(err, errs.MissingSnapshot) {
			c.log.Debug("received block rejected", "err", err)
		}
	case protocol.EventReceivedBlockHeader:
		// Header-only announcements aren't admitted on their own in this
		// module: the wishlist mechanism requests the full block before
		// BlockGraph ever sees it (spec §4.E, §6).
	}
}

// GetStatus queries the graph's status from outside the loop goroutine.
func (c *Controller) GetStatus(ctx context.Context) (blockgraph.Status, error) {
	req := statusRequest{reply: make(chan blockgraph.Status, 1)}
	select {
	case c.statusCh <- req:
	case <-ctx.Done():
		return blockgraph.Status{}, ctx.Err()
	case <-c.doneCh:
		return blockgraph.Status{}, errs.Wrap(errs.ChannelClosed, "controller stopped")
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-ctx.Done():
		return blockgraph.Status{}, ctx.Err()
	}
}

// GetSelectionDraws queries draws for [from, to) from outside the loop
// goroutine.
func (c *Controller) GetSelectionDraws(ctx context.Context, from, to slot.Slot) (map[slot.Slot]types.Address, error) {
	req := drawsRequest{from: from, to: to, reply: make(chan drawsResponse, 1)}
	select {
	case c.drawsCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.doneCh:
		return nil, errs.Wrap(errs.ChannelClosed, "controller stopped")
	}
	select {
	case resp := <-req.reply:
		return resp.draws, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
