// Package xcrypto provides the hashing, signing and address-derivation
// primitives shared by every consensus data type: content-addressed block
// and operation ids, ed25519 header/operation signatures, and the
// keyed-hash PRF that seeds the PoS selector.
package xcrypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte content digest used for BlockId and OperationId.
type Hash [32]byte

// Digest returns the blake2b-256 digest of the concatenation of parts.
func Digest(parts ...[]byte) Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // blake2b.New256 with a nil key never errors
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PublicKey and PrivateKey alias the stdlib ed25519 types: the signature
// scheme is a protocol-identity choice, not a library-availability one, so
// it is the one stdlib primitive this module keeps (see SPEC_FULL.md
// DOMAIN STACK).
type PublicKey = ed25519.PublicKey
type PrivateKey = ed25519.PrivateKey

// GenerateKeyPair produces a fresh signing identity.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	return ed25519.GenerateKey(nil)
}

// Sign signs msg with sk.
func Sign(sk PrivateKey, msg []byte) []byte { return ed25519.Sign(sk, msg) }

// Verify checks sig over msg under pk.
func Verify(pk PublicKey, msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) }

// ErrBadSignature is returned by VerifyChecked on signature mismatch.
var ErrBadSignature = errors.New("xcrypto: signature verification failed")

// VerifyChecked is the error-returning counterpart of Verify.
func VerifyChecked(pk PublicKey, msg, sig []byte) error {
	if !Verify(pk, msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// Address is the 32-byte content-addressed identifier of a public key: the
// blake2b-256 digest of the encoded key. A block or operation's thread is
// deterministic from its sender address (glossary: "Thread").
type Address [32]byte

// AddressOf derives the Address owning pk.
func AddressOf(pk PublicKey) Address {
	return Address(Digest([]byte(pk)))
}

// Thread returns the thread a sender address belongs to, in a graph with
// threadCount parallel threads: the first byte of the address digest,
// reduced modulo threadCount.
func (a Address) Thread(threadCount uint8) uint8 {
	return a[0] % threadCount
}

func (a Address) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2*len(a))
	for i, b := range a {
		out[2*i] = hextable[b>>4]
		out[2*i+1] = hextable[b&0xf]
	}
	return string(out)
}

// PRF is the frozen keyed-hash used by the Selector to turn a cycle seed
// and a slot into a uniformly distributed draw value (spec §4.C, §9 Open
// Question resolved in DESIGN.md): HMAC-BLAKE2b-256 keyed by the seed,
// domain-separated by (period, thread), folded down to a uint64 by
// interpreting the first 8 bytes of the MAC as big-endian.
func PRF(seed Hash, period uint64, thread uint8) uint64 {
	mac := hmac.New(func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}, seed[:])
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[:8], period)
	buf[8] = thread
	mac.Write(buf[:])
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
