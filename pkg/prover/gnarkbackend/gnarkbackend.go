package gnarkbackend

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/prover"
)

type circuitKey struct {
	cs constraint.ConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// Backend is a Groth16/BN254 proving backend with two compiled
// circuits, one per relation, dispatched by image id. Compose does
// not use a third circuit: it verifies each input receipt under its
// own image id sequentially and emits a folded receipt tagged with
// the recursion image id, per recursive composition's "a concrete
// implementation may defer aggregation/composition and fall back to
// sequential verification" allowance. True succinct recursion
// (in-circuit verification of inner proofs) is further work.
type Backend struct {
	mu  sync.RWMutex
	ids prover.ImageIDs

	transition circuitKey
	amendment  circuitKey
}

// New compiles both circuits and runs their (non-trusted, test-grade)
// Groth16 setup. ids names the image ids this backend answers to;
// Prove/Verify reject any other image id.
func New(ids prover.ImageIDs) (*Backend, error) {
	b := &Backend{ids: ids}

	tcs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &TransitionCircuit{})
	if err != nil {
		return nil, fmt.Errorf("gnarkbackend: compile transition circuit: %w", err)
	}
	tpk, tvk, err := groth16.Setup(tcs)
	if err != nil {
		return nil, fmt.Errorf("gnarkbackend: transition setup: %w", err)
	}
	b.transition = circuitKey{cs: tcs, pk: tpk, vk: tvk}

	acs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &AmendmentCircuit{})
	if err != nil {
		return nil, fmt.Errorf("gnarkbackend: compile amendment circuit: %w", err)
	}
	apk, avk, err := groth16.Setup(acs)
	if err != nil {
		return nil, fmt.Errorf("gnarkbackend: amendment setup: %w", err)
	}
	b.amendment = circuitKey{cs: acs, pk: apk, vk: avk}

	return b, nil
}

func (b *Backend) Prove(ctx context.Context, imageID hashsuite.Hash32, w prover.Witness) (codec.ZkReceipt, error) {
	if err := ctx.Err(); err != nil {
		return codec.ZkReceipt{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if imageID != b.ids.StateTransition {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: prove: unrecognized image id")
	}
	return b.proveTransition(w)
}

func (b *Backend) proveTransition(w prover.Witness) (codec.ZkReceipt, error) {
	prevRoot := new(big.Int).SetBytes(w.PrevStateRoot[:])
	txBatch := new(big.Int).SetBytes(w.TxBatchCommitment[:])
	newRoot := new(big.Int).SetBytes(w.Outputs.NewStateRoot[:])
	execCommit := computeExecutionCommitment(prevRoot, txBatch, newRoot, w.BlockNumber)

	assignment := &TransitionCircuit{
		PrevStateRoot:       prevRoot,
		TxBatchCommitment:   txBatch,
		NewStateRoot:        newRoot,
		BlockNumber:         w.BlockNumber,
		Success:             boolToVar(w.Outputs.Success),
		ExecutionCommitment: execCommit,
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: build witness: %w", err)
	}

	proof, err := groth16.Prove(b.transition.cs, b.transition.pk, fullWitness)
	if err != nil {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: prove transition: %w", err)
	}

	proofBytes, err := serializeProof(proof)
	if err != nil {
		return codec.ZkReceipt{}, err
	}

	body := packTransitionBody(proofBytes, w.PrevStateRoot, w.TxBatchCommitment, w.BlockNumber)

	return codec.ZkReceipt{
		Body:           body,
		PublicOutputs:  w.Outputs,
		ProgramImageID: b.ids.StateTransition,
		ProofKind:      codec.ProofKindBase,
	}, nil
}

// ProveAmendment proves the activation-height ordering relation for a
// single protocol rule. Not part of the prover.Backend interface (its
// Prove takes a transition Witness), so callers that need an amendment
// receipt call it directly; pkg/recursion does not call it and takes
// ready-made receipts instead. This matches recursive composition's description
// of the amendment sub-proof as a distinct relation with its own image
// id.
func (b *Backend) ProveAmendment(ctx context.Context, ruleID uint32, ruleBody []byte, activationHeight, chainHeight, priorChainHeight uint64) (codec.ZkReceipt, error) {
	if err := ctx.Err(); err != nil {
		return codec.ZkReceipt{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	blindHash := hashsuite.Fast(hashsuite.DomainRecursionPub, ruleBody)
	blinding := new(big.Int).SetBytes(blindHash[:])
	ruleCommit := computeRuleCommitment(ruleID, blinding)

	assignment := &AmendmentCircuit{
		RuleID:           ruleID,
		ActivationHeight: activationHeight,
		ChainHeight:      chainHeight,
		PriorChainHeight: priorChainHeight,
		RuleCommitment:   ruleCommit,
		RuleBodyBlinding: blinding,
	}
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: build amendment witness: %w", err)
	}
	proof, err := groth16.Prove(b.amendment.cs, b.amendment.pk, fullWitness)
	if err != nil {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: prove amendment: %w", err)
	}
	proofBytes, err := serializeProof(proof)
	if err != nil {
		return codec.ZkReceipt{}, err
	}

	body := packAmendmentBody(proofBytes, ruleID, activationHeight, chainHeight, priorChainHeight)

	return codec.ZkReceipt{
		Body:           body,
		PublicOutputs:  codec.StateTransitionOutputs{Success: true},
		ProgramImageID: b.ids.Amendment,
		ProofKind:      codec.ProofKindBase,
	}, nil
}

func (b *Backend) Verify(ctx context.Context, receipt codec.ZkReceipt, imageID hashsuite.Hash32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch imageID {
	case b.ids.StateTransition:
		return b.verifyTransition(receipt)
	case b.ids.Amendment:
		return b.verifyAmendment(receipt)
	default:
		return false, fmt.Errorf("gnarkbackend: verify: unrecognized image id")
	}
}

func (b *Backend) verifyTransition(receipt codec.ZkReceipt) (bool, error) {
	if receipt.ProgramImageID != b.ids.StateTransition {
		return false, fmt.Errorf("gnarkbackend: image id mismatch")
	}
	proofBytes, prevRoot, txBatch, blockNumber, err := unpackTransitionBody(receipt.Body)
	if err != nil {
		return false, err
	}
	proof, err := deserializeProof(proofBytes)
	if err != nil {
		return false, err
	}

	newRoot := new(big.Int).SetBytes(receipt.PublicOutputs.NewStateRoot[:])
	assignment := &TransitionCircuit{
		PrevStateRoot:     new(big.Int).SetBytes(prevRoot[:]),
		TxBatchCommitment: new(big.Int).SetBytes(txBatch[:]),
		NewStateRoot:      newRoot,
		BlockNumber:       blockNumber,
		Success:           boolToVar(receipt.PublicOutputs.Success),
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("gnarkbackend: build public witness: %w", err)
	}
	if err := groth16.Verify(proof, b.transition.vk, publicWitness); err != nil {
		return false, nil
	}
	return true, nil
}

// verifyAmendment structurally validates the embedded proof (it is
// deserialized, not Groth16-verified) and re-checks the
// activation-height ordering in plain Go. The rule commitment's
// blinding factor is the rule body's hash, which the receipt does not
// carry, and no method of this backend runs Groth16 verification of an
// amendment proof. The ordering check is the guarantee this method
// gives any holder of the receipt.
func (b *Backend) verifyAmendment(receipt codec.ZkReceipt) (bool, error) {
	proofBytes, ruleID, activationHeight, chainHeight, priorChainHeight, err := unpackAmendmentBody(receipt.Body)
	if err != nil {
		return false, err
	}
	if _, err := deserializeProof(proofBytes); err != nil {
		return false, err
	}
	_ = ruleID
	if activationHeight > chainHeight || activationHeight <= priorChainHeight {
		return false, nil
	}
	return true, nil
}

// Compose folds a non-empty receipt list by verifying each one
// sequentially under its own image id, then emits a new receipt whose
// body is the Merkle root of the verified receipts' wire hashes. See
// the package doc for why this is sequential verification rather than
// in-circuit recursion.
func (b *Backend) Compose(ctx context.Context, receipts []codec.ZkReceipt, imageID hashsuite.Hash32) (codec.ZkReceipt, error) {
	if len(receipts) == 0 {
		return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: compose requires at least one receipt")
	}
	leaves := make([]hashsuite.Hash32, 0, len(receipts))
	for i, r := range receipts {
		ok, err := b.Verify(ctx, r, r.ProgramImageID)
		if err != nil {
			return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: compose: verify receipt %d: %w", i, err)
		}
		if !ok {
			return codec.ZkReceipt{}, fmt.Errorf("gnarkbackend: compose: receipt %d failed verification", i)
		}
		h := hashsuite.Fast(hashsuite.DomainRecursionPub, r.Body)
		leaves = append(leaves, h)
	}
	folded := hashsuite.MerkleRoot(leaves)
	last := receipts[len(receipts)-1]

	return codec.ZkReceipt{
		Body:           folded[:],
		PublicOutputs:  last.PublicOutputs,
		ProgramImageID: imageID,
		ProofKind:      codec.ProofKindRecursive,
	}, nil
}

func boolToVar(ok bool) int {
	if ok {
		return 1
	}
	return 0
}

func serializeProof(proof groth16.Proof) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("gnarkbackend: serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeProof(data []byte) (groth16.Proof, error) {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("gnarkbackend: deserialize proof: %w", err)
	}
	return proof, nil
}

// packTransitionBody lays out [4-byte LE proof length][proof bytes]
// [32-byte prevRoot][32-byte txBatchCommitment][8-byte blockNumber],
// letting verifyTransition reconstruct the public witness without the
// caller handing back the original Witness.
func packTransitionBody(proofBytes []byte, prevRoot, txBatch hashsuite.Hash32, blockNumber uint64) []byte {
	out := make([]byte, 0, 4+len(proofBytes)+32+32+8)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(proofBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, proofBytes...)
	out = append(out, prevRoot[:]...)
	out = append(out, txBatch[:]...)
	var blockNumBuf [8]byte
	binary.LittleEndian.PutUint64(blockNumBuf[:], blockNumber)
	out = append(out, blockNumBuf[:]...)
	return out
}

func unpackTransitionBody(body []byte) (proofBytes []byte, prevRoot, txBatch hashsuite.Hash32, blockNumber uint64, err error) {
	if len(body) < 4 {
		return nil, prevRoot, txBatch, 0, fmt.Errorf("gnarkbackend: truncated transition receipt")
	}
	proofLen := binary.LittleEndian.Uint32(body[:4])
	rest := body[4:]
	if uint64(len(rest)) < uint64(proofLen)+32+32+8 {
		return nil, prevRoot, txBatch, 0, fmt.Errorf("gnarkbackend: truncated transition receipt")
	}
	proofBytes = rest[:proofLen]
	tail := rest[proofLen:]
	copy(prevRoot[:], tail[0:32])
	copy(txBatch[:], tail[32:64])
	blockNumber = binary.LittleEndian.Uint64(tail[64:72])
	return proofBytes, prevRoot, txBatch, blockNumber, nil
}

// packAmendmentBody lays out [4-byte LE proof length][proof bytes]
// [4-byte ruleID][8-byte activationHeight][8-byte chainHeight]
// [8-byte priorChainHeight].
func packAmendmentBody(proofBytes []byte, ruleID uint32, activationHeight, chainHeight, priorChainHeight uint64) []byte {
	out := make([]byte, 0, 4+len(proofBytes)+4+24)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(proofBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, proofBytes...)
	var ruleIDBuf [4]byte
	binary.LittleEndian.PutUint32(ruleIDBuf[:], ruleID)
	out = append(out, ruleIDBuf[:]...)
	var heightsBuf [24]byte
	binary.LittleEndian.PutUint64(heightsBuf[0:8], activationHeight)
	binary.LittleEndian.PutUint64(heightsBuf[8:16], chainHeight)
	binary.LittleEndian.PutUint64(heightsBuf[16:24], priorChainHeight)
	out = append(out, heightsBuf[:]...)
	return out
}

func unpackAmendmentBody(body []byte) (proofBytes []byte, ruleID uint32, activationHeight, chainHeight, priorChainHeight uint64, err error) {
	if len(body) < 4 {
		return nil, 0, 0, 0, 0, fmt.Errorf("gnarkbackend: malformed amendment receipt")
	}
	proofLen := binary.LittleEndian.Uint32(body[:4])
	rest := body[4:]
	if uint64(len(rest)) < uint64(proofLen)+4+24 {
		return nil, 0, 0, 0, 0, fmt.Errorf("gnarkbackend: truncated amendment receipt")
	}
	proofBytes = rest[:proofLen]
	tail := rest[proofLen:]
	ruleID = binary.LittleEndian.Uint32(tail[:4])
	activationHeight = binary.LittleEndian.Uint64(tail[4:12])
	chainHeight = binary.LittleEndian.Uint64(tail[12:20])
	priorChainHeight = binary.LittleEndian.Uint64(tail[20:28])
	return proofBytes, ruleID, activationHeight, chainHeight, priorChainHeight, nil
}
