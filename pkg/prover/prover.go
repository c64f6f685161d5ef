// Package prover defines the opaque proving-backend contract of
// the proving backend abstraction: prove/verify/compose over an abstract relation
// identified by an image id. Concrete backends live in
// pkg/prover/gnarkbackend (prover_mode=cpu/gpu) and
// pkg/prover/mockbackend (prover_mode=mock).
package prover

import (
	"context"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
)

// Witness is the public/private input pair handed to a Backend's
// Prove call. Outputs is computed ahead of time by pkg/transition
// (C6); the backend's job is to produce a succinct attestation that
// Outputs follows from the stated public inputs under the relation
// identified by imageID.
type Witness struct {
	PrevStateRoot     hashsuite.Hash32
	TxBatchCommitment hashsuite.Hash32
	BlockNumber       uint64
	Timestamp         uint64
	Outputs           codec.StateTransitionOutputs
	// Private carries backend-specific private-input material (e.g.
	// per-transaction execution traces); opaque to this package.
	Private []byte
}

// Backend is the opaque proving-system contract of the proving backend abstraction.
// Prove may block for seconds to minutes; Verify must be milliseconds;
// Compose folds a non-empty receipt list under a recursion image id.
type Backend interface {
	Prove(ctx context.Context, imageID hashsuite.Hash32, witness Witness) (codec.ZkReceipt, error)
	Verify(ctx context.Context, receipt codec.ZkReceipt, imageID hashsuite.Hash32) (bool, error)
	Compose(ctx context.Context, receipts []codec.ZkReceipt, imageID hashsuite.Hash32) (codec.ZkReceipt, error)
}

// ImageIDs names the three relation identities the core tracks as
// configuration values (the proving backend abstraction). Resolves the design notes Open
// Question (a): amendment proofs use a distinct image id from
// state-transition proofs (both distinct again from the recursion
// image id used to fold base receipts into the chain receipt).
type ImageIDs struct {
	StateTransition hashsuite.Hash32
	Amendment       hashsuite.Hash32
	Recursion       hashsuite.Hash32
}
