// Package hashsuite provides the three hash families used throughout the
// consensus core, plus Merkle commitment and keyed/extendable-output
// derivation: a wide streaming family for commitments, a 256-bit
// permutation family for external wire compatibility, and a
// post-quantum-robust sponge for forgery resistance that must outlive
// classical assumptions.
package hashsuite

import (
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Hash32 is the standard 32-byte commitment width (the account model).
type Hash32 [32]byte

// Hash64 is a 64-byte digest width; no function in this module
// produces or consumes one.
type Hash64 [64]byte

// Family identifies which of the three hash families a Hasher belongs to.
type Family int

const (
	// FamilyFast is the wide-tree, streaming, extendable-output family
	// (BLAKE3). Used for Merkle commitments, keyed derivation, and
	// intra-node fingerprints.
	FamilyFast Family = iota
	// FamilyWire is the 256-bit permutation hash matching external chain
	// conventions (Keccak-256). Used wherever external interoperability
	// is a contract: address derivation, transaction hash, state-root
	// mixing.
	FamilyWire
	// FamilyPQRobust is the 256-bit sponge (SHA3-256, NIST padding)
	// whose forgery-resistance must outlive classical assumptions.
	FamilyPQRobust
)

// DomainTag is the one-byte domain separator prepended at each hash use
// site per the wire format.
type DomainTag byte

const (
	DomainTransaction    DomainTag = 0x01
	DomainHeader         DomainTag = 0x02
	DomainStateEntry     DomainTag = 0x03
	DomainMerkleInternal DomainTag = 0x04
	DomainElectionSeed   DomainTag = 0x05
	DomainRecursionPub   DomainTag = 0x06
)

// Hasher is the streaming contract common to all three families:
// incremental Write, Sum for finalization without mutating state, and
// Reset to reuse the instance.
type Hasher interface {
	io.Writer
	Sum(b []byte) []byte
	Reset()
}

// New returns a fresh streaming Hasher for the given family.
func New(f Family) Hasher {
	switch f {
	case FamilyFast:
		return blake3.New(32, nil)
	case FamilyWire:
		return sha3.NewLegacyKeccak256()
	case FamilyPQRobust:
		return sha3.New256()
	default:
		panic("hashsuite: unknown family")
	}
}

// Keyed returns a keyed Hasher for domain-separated derivation. Only the
// fast family (BLAKE3) supports native keying; the other families
// simulate it by hashing key||data, which is an accepted degradation for
// domains that do not require BLAKE3's keyed-MAC security proof.
func Keyed(f Family, key []byte) Hasher {
	if f == FamilyFast {
		return blake3.New(32, blake3Key(key))
	}
	return &prefixedHasher{prefix: append([]byte(nil), key...), inner: New(f)}
}

// blake3Key normalizes an arbitrary-length key to BLAKE3's required
// 32-byte keyed-mode input.
func blake3Key(key []byte) []byte {
	if len(key) == 32 {
		return key
	}
	sum := blake3.Sum256(key)
	return sum[:]
}

type prefixedHasher struct {
	prefix []byte
	inner  Hasher
	wrote  bool
}

func (p *prefixedHasher) Write(b []byte) (int, error) {
	if !p.wrote {
		p.inner.Write(p.prefix)
		p.wrote = true
	}
	return p.inner.Write(b)
}

func (p *prefixedHasher) Sum(b []byte) []byte { return p.inner.Sum(b) }

func (p *prefixedHasher) Reset() {
	p.inner.Reset()
	p.wrote = false
}

// XOF returns an extendable-output reader for the fast family, seeded by
// an optional key. Used to derive field-sized outputs for proof circuit
// witnesses (the hash suite).
func XOF(key []byte, data []byte) io.Reader {
	var h *blake3.Hasher
	if key == nil {
		h = blake3.New(64, nil)
	} else {
		h = blake3.New(64, blake3Key(key))
	}
	h.Write(data)
	return h.XOF()
}

// Sum256 computes a one-shot domain-tagged digest under the given family.
func Sum256(f Family, tag DomainTag, parts ...[]byte) Hash32 {
	h := New(f)
	h.Write([]byte{byte(tag)})
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash32
	copy(out[:], h.Sum(nil))
	return out
}

// Fast is shorthand for Sum256(FamilyFast, tag, parts...).
func Fast(tag DomainTag, parts ...[]byte) Hash32 { return Sum256(FamilyFast, tag, parts...) }

// Wire is shorthand for Sum256(FamilyWire, tag, parts...).
func Wire(tag DomainTag, parts ...[]byte) Hash32 { return Sum256(FamilyWire, tag, parts...) }

// PQRobust is shorthand for Sum256(FamilyPQRobust, tag, parts...).
func PQRobust(tag DomainTag, parts ...[]byte) Hash32 { return Sum256(FamilyPQRobust, tag, parts...) }

// ConstantTimeEqual reports whether two digests are equal using a
// constant-time comparison, guarding against timing side channels on
// root/signature comparisons (the hash suite).
func ConstantTimeEqual(a, b Hash32) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// IsZero reports whether h is the all-zero digest (the defined hash of
// empty input / absence marker).
func (h Hash32) IsZero() bool {
	var zero Hash32
	return subtle.ConstantTimeCompare(h[:], zero[:]) == 1
}
