// Package mockbackend is a deterministic hash-chaining proving
// backend used in tests and wherever prover_mode=mock: no trusted
// setup, no Groth16 dependency. Prove commits to the full public
// witness via the fast hash family and embeds the witness fields in
// the receipt body so Verify can recompute and compare without
// needing the original Witness value back: a commit-then-recompute
// shape, minus the circuit. Compose folds input receipt bodies
// through a Merkle root.
package mockbackend

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/prover"
)

const fieldsLen = 32 + 32 + 8 + 8 // prevRoot, txBatchCommitment, blockNumber, timestamp

// Backend implements prover.Backend with no cryptographic soundness
// guarantee; it exists so the pipeline and its tests can run without
// a trusted Groth16 setup.
type Backend struct{}

func New() *Backend { return &Backend{} }

func encodeFields(w prover.Witness) []byte {
	out := make([]byte, 0, fieldsLen)
	out = append(out, w.PrevStateRoot[:]...)
	out = append(out, w.TxBatchCommitment[:]...)
	var blockNumBuf, tsBuf [8]byte
	binary.LittleEndian.PutUint64(blockNumBuf[:], w.BlockNumber)
	binary.LittleEndian.PutUint64(tsBuf[:], w.Timestamp)
	out = append(out, blockNumBuf[:]...)
	out = append(out, tsBuf[:]...)
	return out
}

func commitment(imageID hashsuite.Hash32, fields []byte, outputs codec.StateTransitionOutputs) hashsuite.Hash32 {
	var txCountBuf [4]byte
	binary.LittleEndian.PutUint32(txCountBuf[:], outputs.TxCount)
	var gasBuf [8]byte
	binary.LittleEndian.PutUint64(gasBuf[:], outputs.GasUsed)
	success := byte(0)
	if outputs.Success {
		success = 1
	}
	return hashsuite.Fast(hashsuite.DomainRecursionPub,
		imageID[:], fields, outputs.NewStateRoot[:], txCountBuf[:], gasBuf[:], []byte{success})
}

func (b *Backend) Prove(ctx context.Context, imageID hashsuite.Hash32, w prover.Witness) (codec.ZkReceipt, error) {
	if err := ctx.Err(); err != nil {
		return codec.ZkReceipt{}, err
	}
	fields := encodeFields(w)
	commit := commitment(imageID, fields, w.Outputs)

	body := make([]byte, 0, 32+len(fields))
	body = append(body, commit[:]...)
	body = append(body, fields...)

	return codec.ZkReceipt{
		Body:           body,
		PublicOutputs:  w.Outputs,
		ProgramImageID: imageID,
		ProofKind:      codec.ProofKindBase,
	}, nil
}

func (b *Backend) Verify(ctx context.Context, receipt codec.ZkReceipt, imageID hashsuite.Hash32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if receipt.ProgramImageID != imageID {
		return false, fmt.Errorf("mockbackend: image id mismatch")
	}
	if len(receipt.Body) != 32+fieldsLen {
		return false, fmt.Errorf("mockbackend: malformed receipt body")
	}
	var stored hashsuite.Hash32
	copy(stored[:], receipt.Body[:32])
	fields := receipt.Body[32:]
	recomputed := commitment(imageID, fields, receipt.PublicOutputs)
	return hashsuite.ConstantTimeEqual(stored, recomputed), nil
}

// Compose folds receipt bodies' leading commitments through the
// Merkle root, carrying forward the last receipt's public outputs as
// the chain-level outputs (the caller, pkg/recursion, is responsible
// for assembling the actual ChainReceiptOutputs shape on top of this).
// The returned receipt's body is laid out exactly like a base
// receipt's (commitment || fields), with the fold digest standing in
// for PrevStateRoot, so the same Verify path works uniformly whether
// the receipt came from Prove or Compose.
func (b *Backend) Compose(ctx context.Context, receipts []codec.ZkReceipt, imageID hashsuite.Hash32) (codec.ZkReceipt, error) {
	if err := ctx.Err(); err != nil {
		return codec.ZkReceipt{}, err
	}
	if len(receipts) == 0 {
		return codec.ZkReceipt{}, fmt.Errorf("mockbackend: compose requires at least one receipt")
	}
	leaves := make([]hashsuite.Hash32, len(receipts))
	for i, r := range receipts {
		if len(r.Body) < 32 {
			return codec.ZkReceipt{}, fmt.Errorf("mockbackend: receipt %d has malformed body", i)
		}
		var h hashsuite.Hash32
		copy(h[:], r.Body[:32])
		leaves[i] = h
	}
	folded := hashsuite.MerkleRoot(leaves)
	last := receipts[len(receipts)-1]

	fields := encodeFields(prover.Witness{PrevStateRoot: folded})
	commit := commitment(imageID, fields, last.PublicOutputs)
	body := make([]byte, 0, 32+len(fields))
	body = append(body, commit[:]...)
	body = append(body, fields...)

	return codec.ZkReceipt{
		Body:           body,
		PublicOutputs:  last.PublicOutputs,
		ProgramImageID: imageID,
		ProofKind:      codec.ProofKindRecursive,
	}, nil
}
