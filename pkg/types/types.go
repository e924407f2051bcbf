// Package types holds the data model shared by every consensus subsystem
// (spec §3): blocks, headers, operations, and the small set of identifiers
// and value types that key into RollLedger, LedgerView and BlockGraph.
package types

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/massa-labs/consensus-engine/pkg/slot"
	"github.com/massa-labs/consensus-engine/pkg/xcrypto"
)

// BlockId is the content hash of a signed block header.
type BlockId = xcrypto.Hash

// OperationId is the content hash of a signed operation.
type OperationId = xcrypto.Hash

// Address is a sender/creator identity, derived from a public key.
type Address = xcrypto.Address

// Amount is a fixed-point, non-negative coin/roll quantity backed by
// uint256, matching the teacher corpus's pervasive use of holiman/uint256
// for balance and value arithmetic instead of float or native int types.
type Amount = uint256.Int

// NewAmount constructs an Amount from a uint64 quantity.
func NewAmount(v uint64) *Amount { return uint256.NewInt(v) }

// OperationKind distinguishes the handful of operation types the
// inclusion policy and RollLedger need to reason about (expansion over the
// distilled spec's opaque Operation, grounded on massa-models and the pool
// controller in original_source/).
type OperationKind int

const (
	OpTransaction OperationKind = iota
	OpRollBuy
	OpRollSell
)

func (k OperationKind) String() string {
	switch k {
	case OpTransaction:
		return "Transaction"
	case OpRollBuy:
		return "RollBuy"
	case OpRollSell:
		return "RollSell"
	default:
		return "Unknown"
	}
}

// Operation is opaque to BlockGraph except for the fields the spec names
// in §3: sender, fee, expiry, size and id, plus kind/amount/recipient/
// rollCount. LedgerView cost accounting reads Kind and Amount; no
// component turns RollCount into a RollLedger update.
type Operation struct {
	Id            OperationId
	Sender        Address
	SenderPubKey  xcrypto.PublicKey
	Kind          OperationKind
	Fee           *Amount
	Amount        *Amount // transfer amount (OpTransaction) or ignored
	Recipient     Address // OpTransaction only
	RollCount     uint64  // OpRollBuy / OpRollSell
	ExpirePeriod  uint64
	SizeBytes     uint64
	Signature     []byte
}

// ValidAt reports whether the operation may be included in a block whose
// slot has period p, per spec §3:
//
//	p ∈ [expire_period − operation_validity_periods, expire_period]
func (op *Operation) ValidAt(period uint64, validityPeriods uint64) bool {
	if period > op.ExpirePeriod {
		return false
	}
	var lower uint64
	if op.ExpirePeriod > validityPeriods {
		lower = op.ExpirePeriod - validityPeriods
	}
	return period >= lower
}

// Rentability is the fee-per-byte ratio BlockProducer's pool batch is
// sorted by (descending), computed as a rational comparison to avoid
// floating point: a.fee*b.size vs b.fee*a.size.
func Rentability(op *Operation) (feeNumerator *uint256.Int, sizeDenominator uint64) {
	return op.Fee, op.SizeBytes
}

// LessRentable reports whether a is strictly less rentable than b
// (fee/size), tie-broken by OperationId ascending per spec §4.F / P3.
func LessRentable(a, b *Operation) bool {
	// a.fee/a.size < b.fee/b.size  <=>  a.fee*b.size < b.fee*a.size
	lhs := new(uint256.Int).Mul(a.Fee, uint256.NewInt(b.SizeBytes))
	rhs := new(uint256.Int).Mul(b.Fee, uint256.NewInt(a.SizeBytes))
	cmp := lhs.Cmp(rhs)
	if cmp != 0 {
		return cmp < 0
	}
	return bytesLess(b.Id[:], a.Id[:]) // tie-break: smaller id is MORE rentable
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// SortByRentabilityDesc sorts ops by descending rentability, ties broken
// by ascending id, matching the pool's GetOperationBatch contract (spec
// §4.F) and property P3.
func SortByRentabilityDesc(ops []*Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return LessRentable(ops[j], ops[i])
	})
}

// Endorsement is a lightweight attestation referencing a parent block,
// contributing to the endorsing block's fitness (spec §4.E: fitness = 1 +
// endorsement_count).
type Endorsement struct {
	EndorsedSlot  slot.Slot
	Index         uint32
	EndorsedBlock BlockId
	EndorserKey   xcrypto.PublicKey
	Signature     []byte
}

// BlockHeader carries everything needed to identify, order and validate a
// block ahead of its operation list (spec §3).
type BlockHeader struct {
	CreatorPubKey        xcrypto.PublicKey
	Slot                 slot.Slot
	Parents              []BlockId // exactly one per thread
	OperationMerkleRoot  xcrypto.Hash
	Endorsements         []Endorsement
	Signature            []byte
}

// SigningBytes returns the deterministic byte encoding of the header that
// is hashed for BlockId and signed by the creator. Field order is fixed;
// this is a content-addressing scheme, not a network wire format (which is
// explicitly out of scope, spec §1).
func (h *BlockHeader) SigningBytes() []byte {
	buf := make([]byte, 0, 128+32*len(h.Parents)+65*len(h.Endorsements))
	buf = append(buf, []byte(h.CreatorPubKey)...)
	buf = appendUint64(buf, h.Slot.Period)
	buf = append(buf, h.Slot.Thread)
	for _, p := range h.Parents {
		buf = append(buf, p[:]...)
	}
	buf = append(buf, h.OperationMerkleRoot[:]...)
	for _, e := range h.Endorsements {
		buf = appendUint64(buf, e.EndorsedSlot.Period)
		buf = append(buf, e.EndorsedSlot.Thread)
		buf = appendUint64(buf, uint64(e.Index))
		buf = append(buf, e.EndorsedBlock[:]...)
		buf = append(buf, []byte(e.EndorserKey)...)
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// Hash returns the content-addressed BlockId of the header.
func (h *BlockHeader) Hash() BlockId {
	return xcrypto.Digest(h.SigningBytes())
}

// Sign signs the header with sk and stores the signature.
func (h *BlockHeader) Sign(sk xcrypto.PrivateKey) {
	h.Signature = xcrypto.Sign(sk, h.SigningBytes())
}

// VerifySignature checks the header's signature against its creator key.
func (h *BlockHeader) VerifySignature() error {
	return xcrypto.VerifyChecked(h.CreatorPubKey, h.SigningBytes(), h.Signature)
}

// headerEncodedSize is a fixed estimate of a signed header's serialized
// size: pubkey(32) + slot(9) + parents + merkle root(32) + signature(64).
func headerEncodedSize(threadCount int) uint64 {
	return 32 + 9 + uint64(32*threadCount) + 32 + 64
}

// Block pairs a signed header with its ordered operation list.
type Block struct {
	Header     BlockHeader
	Operations []*Operation
}

// Id returns the block's content-addressed identifier.
func (b *Block) Id() BlockId { return b.Header.Hash() }

// EncodedSize estimates the serialized byte size of the block: the fixed
// header cost plus the declared size of each operation. Used to enforce
// max_block_size (spec §4.F, property P4).
func (b *Block) EncodedSize() uint64 {
	size := headerEncodedSize(len(b.Header.Parents))
	for _, op := range b.Operations {
		size += op.SizeBytes
	}
	return size
}

// OperationMerkleRoot computes H(concat(op ids)) in inclusion order, per
// spec §4.F step 6.
func OperationMerkleRoot(ops []*Operation) xcrypto.Hash {
	parts := make([][]byte, len(ops))
	for i, op := range ops {
		id := op.Id
		parts[i] = id[:]
	}
	return xcrypto.Digest(parts...)
}

// BlockIdString renders a block id for logs/errors.
func BlockIdString(id BlockId) string { return fmt.Sprintf("%x", id[:8]) }
