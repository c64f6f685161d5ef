// Package pqhash implements the post-quantum signature scheme of
// the signature suite: a stateful, hash-based one-time-signature (Lamport OTS)
// scheme composed under a Merkle authentication tree, built directly on
// the fast hash family of hashsuite (no pairing, no lattice assumption —
// security reduces to second-preimage resistance of BLAKE3 alone).
//
// No off-the-shelf library provides a *stateful* hash-based signature
// scheme: the closest candidate (cloudflare/circl's SLH-DSA) is
// stateless by construction and does not expose the per-signature
// private-key advancement this package requires, so this scheme is
// built from scratch on top of pkg/hashsuite. See DESIGN.md.
package pqhash

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/foldchain/zkconsensus/pkg/hashsuite"
)

// TreeHeight controls the number of one-time keys available under a
// single PublicKey (2^TreeHeight leaves). 10 gives 1024 signatures per
// key, a reasonable validator epoch budget.
const TreeHeight = 10

const (
	messageDigestBits = 256
	lamportPairs      = messageDigestBits // one private-value pair per bit

	// Each bit of the signature reveals one 32-byte private half and
	// carries the 32-byte public hash of the unrevealed half, so the
	// verifier can reconstruct the full one-time public key.
	perBitSize = 64

	// SignatureSize is the wire size of a pqhash signature: the leaf
	// index, the per-bit reveal, and the Merkle authentication path.
	SignatureSize = 4 + lamportPairs*perBitSize + TreeHeight*32

	// PublicKeySize is the Merkle root over all one-time public keys.
	PublicKeySize = 32
)

// lamportPrivate is the private material of a single one-time key: two
// 32-byte seeds per message bit.
type lamportPrivate [lamportPairs][2][32]byte

// lamportPublic is the hash of every private half-value; this whole
// structure is the one-time public key committed to by the Merkle leaf.
type lamportPublic [lamportPairs][2]hashsuite.Hash32

func derivePrivate(seed []byte, leafIndex uint32) lamportPrivate {
	var out lamportPrivate
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], leafIndex)
	xof := hashsuite.XOF(seed, idxBuf[:])
	for i := 0; i < lamportPairs; i++ {
		for j := 0; j < 2; j++ {
			if _, err := io.ReadFull(xof, out[i][j][:]); err != nil {
				panic(fmt.Sprintf("pqhash: xof derivation failed: %v", err))
			}
		}
	}
	return out
}

func publicFromPrivate(priv lamportPrivate) lamportPublic {
	var pub lamportPublic
	for i := 0; i < lamportPairs; i++ {
		for j := 0; j < 2; j++ {
			pub[i][j] = hashsuite.Fast(hashsuite.DomainRecursionPub, priv[i][j][:])
		}
	}
	return pub
}

func leafCommitment(pub lamportPublic) hashsuite.Hash32 {
	parts := make([][]byte, 0, lamportPairs*2)
	for i := 0; i < lamportPairs; i++ {
		parts = append(parts, pub[i][0][:], pub[i][1][:])
	}
	return hashsuite.Fast(hashsuite.DomainStateEntry, parts...)
}

// PrivateKey is the stateful signing identity: a master seed plus the
// index of the next unused one-time key. Sign advances nextIndex; the
// caller is responsible for persisting PrivateKey between signs so a
// leaf is never reused after a crash (the signature suite's statefulness
// requirement).
type PrivateKey struct {
	mu        sync.Mutex
	seed      [32]byte
	nextIndex uint32
	leaves    []hashsuite.Hash32 // leaf commitments, precomputed at GenerateKeyPair
}

// PublicKey is the Merkle root over all 2^TreeHeight leaf commitments.
type PublicKey [32]byte

// ErrExhausted is returned by Sign once every one-time key under the
// tree has been used.
var ErrExhausted = fmt.Errorf("pqhash: private key exhausted")

// GenerateKeyPair derives a full tree of one-time keys from a fresh
// 32-byte seed. Precomputing all leaf commitments trades memory (32
// bytes * 2^TreeHeight) for O(1) signing without recomputation.
func GenerateKeyPair(seed [32]byte) (*PrivateKey, PublicKey) {
	n := 1 << TreeHeight
	leaves := make([]hashsuite.Hash32, n)
	for i := 0; i < n; i++ {
		priv := derivePrivate(seed[:], uint32(i))
		pub := publicFromPrivate(priv)
		leaves[i] = leafCommitment(pub)
	}
	root := hashsuite.MerkleRoot(leaves)
	return &PrivateKey{seed: seed, leaves: leaves}, PublicKey(root)
}

// Sign produces a one-time signature over message and advances the
// private key's leaf index. Returns ErrExhausted once the tree is
// fully consumed.
func (pk *PrivateKey) Sign(message []byte) ([]byte, error) {
	pk.mu.Lock()
	defer pk.mu.Unlock()

	if pk.nextIndex >= uint32(len(pk.leaves)) {
		return nil, ErrExhausted
	}
	leafIndex := pk.nextIndex
	pk.nextIndex++

	digest := hashsuite.Fast(hashsuite.DomainTransaction, message)
	priv := derivePrivate(pk.seed[:], leafIndex)
	pub := publicFromPrivate(priv)

	out := make([]byte, 0, SignatureSize)
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], leafIndex)
	out = append(out, idxBuf[:]...)

	for i := 0; i < lamportPairs; i++ {
		bit := bitAt(digest[:], i)
		out = append(out, priv[i][bit][:]...)
		out = append(out, pub[i][1-bit][:]...)
	}

	proof, err := hashsuite.GenerateMerkleProof(pk.leaves, int(leafIndex))
	if err != nil {
		return nil, fmt.Errorf("pqhash: authentication path: %w", err)
	}
	for _, sib := range proof.Siblings {
		out = append(out, sib.Hash[:]...)
	}
	// Pad the authentication path to a fixed TreeHeight entries with
	// zero siblings, marking "no sibling at this level" (matching the
	// odd-trailing-node promotion semantics of hashsuite.MerkleRoot).
	for len(out) < SignatureSize {
		out = append(out, 0)
	}
	return out, nil
}

// RemainingSignatures reports how many one-time keys are still unused.
func (pk *PrivateKey) RemainingSignatures() uint32 {
	pk.mu.Lock()
	defer pk.mu.Unlock()
	return uint32(len(pk.leaves)) - pk.nextIndex
}

func bitAt(digest []byte, i int) int {
	byteIdx := i / 8
	bitIdx := uint(i % 8)
	return int((digest[byteIdx] >> bitIdx) & 1)
}

// Verify checks a pqhash signature against a public key (the Merkle
// root returned by GenerateKeyPair). It reconstructs the one-time
// public key from the revealed private halves and the carried public
// hashes of the unrevealed halves, recomputes the leaf commitment, and
// walks the authentication path up to the root.
func Verify(pubKey, message, signature []byte) (bool, error) {
	if len(pubKey) != PublicKeySize {
		return false, fmt.Errorf("pqhash: public key must be %d bytes, got %d", PublicKeySize, len(pubKey))
	}
	if len(signature) != SignatureSize {
		return false, fmt.Errorf("pqhash: signature must be %d bytes, got %d", SignatureSize, len(signature))
	}
	leafIndex := binary.LittleEndian.Uint32(signature[:4])
	rest := signature[4:]
	revealLen := lamportPairs * perBitSize
	reveal := rest[:revealLen]
	pathBytes := rest[revealLen:]

	digest := hashsuite.Fast(hashsuite.DomainTransaction, message)

	var pub lamportPublic
	for i := 0; i < lamportPairs; i++ {
		bit := bitAt(digest[:], i)
		var half [32]byte
		copy(half[:], reveal[i*perBitSize:i*perBitSize+32])
		var otherPub hashsuite.Hash32
		copy(otherPub[:], reveal[i*perBitSize+32:i*perBitSize+64])

		pub[i][bit] = hashsuite.Fast(hashsuite.DomainRecursionPub, half[:])
		pub[i][1-bit] = otherPub
	}
	leaf := leafCommitment(pub)

	n := 1 << TreeHeight
	if int(leafIndex) >= n {
		return false, fmt.Errorf("pqhash: leaf index out of range")
	}
	cur := leaf
	idx := int(leafIndex)
	offset := 0
	for level := 0; level < TreeHeight; level++ {
		var sib hashsuite.Hash32
		copy(sib[:], pathBytes[offset:offset+32])
		offset += 32
		if sib.IsZero() {
			idx /= 2
			continue
		}
		if idx%2 == 0 {
			cur = hashsuite.Fast(hashsuite.DomainMerkleInternal, cur[:], sib[:])
		} else {
			cur = hashsuite.Fast(hashsuite.DomainMerkleInternal, sib[:], cur[:])
		}
		idx /= 2
	}

	var root hashsuite.Hash32
	copy(root[:], pubKey)
	return hashsuite.ConstantTimeEqual(cur, root), nil
}
