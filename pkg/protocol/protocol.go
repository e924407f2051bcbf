// Package protocol defines ProtocolChannel (spec §6): the typed boundary
// between the consensus engine and the (out of scope) peer-to-peer
// transport. Production and test doubles both satisfy the same
// interface, per spec §9's "Polymorphism" design note.
package protocol

import (
	"context"

	"github.com/massa-labs/consensus-engine/pkg/types"
)

// EventKind tags the variant of an inbound ProtocolEvent.
type EventKind int

const (
	EventReceivedBlock EventKind = iota
	EventReceivedBlockHeader
)

// Event is the tagged union of events the protocol layer pushes to
// consensus (spec §6 "outbound events received by consensus").
type Event struct {
	Kind   EventKind
	Block  *types.Block
	Header *types.BlockHeader
}

// Channel is the capability set BlockGraph/Controller use to talk to the
// (mocked, in this module) peer-to-peer protocol layer.
type Channel interface {
	// Events delivers ReceivedBlock / ReceivedBlockHeader notifications.
	Events() <-chan Event

	// IntegratedBlock announces that block_id was newly activated.
	IntegratedBlock(id types.BlockId, block *types.Block)

	// WishlistDelta announces the blocks consensus newly wants / no
	// longer wants fetched.
	WishlistDelta(newWanted, removed map[types.BlockId]struct{})

	// AttackAttempt flags a block that failed validation in a way that
	// suggests a malicious creator (bad signature / wrong creator).
	AttackAttempt(id types.BlockId)

	// GetBlocks resolves ids to full blocks via the protocol layer, used
	// to fetch wishlisted dependencies.
	GetBlocks(ctx context.Context, ids []types.BlockId) ([]*types.Block, error)
}
