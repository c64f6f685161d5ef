package hashsuite

import (
	"fmt"
)

// MerkleRoot computes the Merkle root over leaves using the fast family:
// pairwise concatenation of left||right hashed with the fast family; odd
// trailing nodes are promoted unchanged rather than duplicated; empty
// input hashes to all-zero.
func MerkleRoot(leaves []Hash32) Hash32 {
	if len(leaves) == 0 {
		return Hash32{}
	}
	level := make([]Hash32, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]Hash32, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				// odd trailing node promoted unchanged
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right Hash32) Hash32 {
	return Fast(DomainMerkleInternal, left[:], right[:])
}

// MerkleProof is an inclusion proof: the sibling digest and which side
// it sits on at each level, from leaf to root.
type MerkleProof struct {
	LeafIndex int
	Siblings  []MerkleSibling
}

// MerkleSibling is one step of a MerkleProof.
type MerkleSibling struct {
	Hash      Hash32
	OnTheLeft bool // true if the sibling is the left operand at this level
}

// ErrLeafIndexOutOfRange is returned by GenerateMerkleProof.
var ErrLeafIndexOutOfRange = fmt.Errorf("hashsuite: leaf index out of range")

// GenerateMerkleProof builds an inclusion proof for leaves[index].
func GenerateMerkleProof(leaves []Hash32, index int) (*MerkleProof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, ErrLeafIndexOutOfRange
	}
	level := make([]Hash32, len(leaves))
	copy(level, leaves)

	proof := &MerkleProof{LeafIndex: index}
	cur := index
	for len(level) > 1 {
		next := make([]Hash32, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var combined Hash32
			if i+1 < len(level) {
				combined = hashPair(level[i], level[i+1])
				if cur == i {
					proof.Siblings = append(proof.Siblings, MerkleSibling{Hash: level[i+1], OnTheLeft: false})
				} else if cur == i+1 {
					proof.Siblings = append(proof.Siblings, MerkleSibling{Hash: level[i], OnTheLeft: true})
				}
			} else {
				combined = level[i]
				// odd trailing node has no sibling at this level
			}
			next = append(next, combined)
		}
		cur /= 2
		level = next
	}
	return proof, nil
}

// VerifyMerkleProof recomputes the root from leaf and proof and checks
// it against expectedRoot using constant-time comparison.
func VerifyMerkleProof(leaf Hash32, proof *MerkleProof, expectedRoot Hash32) bool {
	if proof == nil {
		return ConstantTimeEqual(leaf, expectedRoot)
	}
	cur := leaf
	for _, sib := range proof.Siblings {
		if sib.OnTheLeft {
			cur = hashPair(sib.Hash, cur)
		} else {
			cur = hashPair(cur, sib.Hash)
		}
	}
	return ConstantTimeEqual(cur, expectedRoot)
}
