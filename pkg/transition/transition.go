// Package transition implements the deterministic state-transition
// relation: the pure function that maps a previous state root and a
// transaction batch to a new state root and usage metrics. This is
// the exact computation pkg/prover's state-transition circuit attests
// to; Execute runs it directly against pkg/state so the pipeline can
// either re-execute for verification or hand the same inputs to a
// proving backend as a witness.
//
// The execution loop applies each transaction in order against a
// scratch state and folds a running root, reporting gas as it goes,
// against the balance/nonce account model of pkg/state.
package transition

import (
	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/prover"
	"github.com/foldchain/zkconsensus/pkg/sigsuite"
	"github.com/foldchain/zkconsensus/pkg/state"
)

// Meta carries the public inputs to F that are not already implied by
// prevRoot or the batch itself.
type Meta struct {
	BlockNumber   uint64
	Timestamp     uint64
	GasModel      state.GasModel // nil selects state.DefaultGasModel
	BlockGasLimit uint64         // 0 means unbounded; enforced only by FilterExecutable
}

// sigKindFor maps the wire-level codec.SigType to sigsuite's dispatch
// enum; the two are defined in lockstep (see codec.SigType's doc).
func sigKindFor(t codec.SigType) sigsuite.SigKind {
	switch t {
	case codec.SigTypePostQuantum:
		return sigsuite.SigPostQuantum
	case codec.SigTypeBLSAggregatable:
		return sigsuite.SigBLSAggregatable
	default:
		return sigsuite.SigClassical
	}
}

// FilterExecutable dry-runs txBatch in declared order against a
// throwaway snapshot of w, discarding any transaction that would fail
// its precondition at the point it would execute — the block pipeline's
// Assembling-stage filter. A nonce gap partway through the batch stops
// admitting further transactions from that sender (later entries would
// fail their nonce check against the unmodified scratch account) while
// leaving earlier, independently-valid transactions and transactions
// from other senders in kept. A transaction whose declared GasLimit
// would push the batch's running total over meta.BlockGasLimit
// (ignored when zero) is dropped the same way, regardless of sender.
// dropped preserves the original relative order of the discarded
// entries, for the caller to requeue. The kept batch is expected to
// satisfy F's success precondition unconditionally when later handed
// to Execute.
func FilterExecutable(w *state.WorldState, txBatch []codec.Transaction, pubKeys map[state.Address][]byte, meta Meta) (kept, dropped []codec.Transaction) {
	scratch := w.Snapshot()
	gasModel := meta.GasModel
	if gasModel == nil {
		gasModel = state.DefaultGasModel{}
	}

	kept = make([]codec.Transaction, 0, len(txBatch))
	var gasSoFar uint64
	for _, tx := range txBatch {
		if meta.BlockGasLimit > 0 && gasSoFar+tx.GasLimit > meta.BlockGasLimit {
			dropped = append(dropped, tx)
			continue
		}

		sigOK := false
		if pub, ok := pubKeys[tx.From]; ok {
			verified, err := sigsuite.Verify(sigKindFor(tx.SigType), pub, signedPayload(tx), tx.Signature)
			sigOK = verified && err == nil
		}
		_, err := state.Apply(scratch, state.ApplyInput{
			From:        tx.From,
			To:          tx.To,
			Value:       tx.Value,
			Nonce:       tx.Nonce,
			GasLimit:    tx.GasLimit,
			Data:        tx.Data,
			UnitPrice:   1,
			SignatureOK: sigOK,
		}, gasModel)
		if err != nil {
			dropped = append(dropped, tx)
			continue
		}
		gasSoFar += tx.GasLimit
		kept = append(kept, tx)
	}
	return kept, dropped
}

// SumDeclaredGas totals the declared GasLimit of every transaction in
// txs, the quantity both FilterExecutable and ValidateBlock weigh
// against a block gas limit.
func SumDeclaredGas(txs []codec.Transaction) uint64 {
	var total uint64
	for _, tx := range txs {
		total += tx.GasLimit
	}
	return total
}

// Execute is the relation F: it applies txBatch in declared order
// against a scratch copy of w, commits that scratch into w on success,
// and returns the new state root plus usage metrics. On any
// transaction's precondition failure, execution stops, success=false,
// w is left untouched, and the returned root equals prevRoot
// unchanged, per the state-transition relation.
//
// pubKeys maps each transaction's sender address to the public key
// needed to verify its declared signature; callers assemble this from
// whatever address book or transaction metadata supplies sender
// public keys (out of scope for this relation, which only needs the
// verification result).
func Execute(w *state.WorldState, txBatch []codec.Transaction, pubKeys map[state.Address][]byte, meta Meta) (hashsuite.Hash32, codec.StateTransitionOutputs, error) {
	prevRoot := w.StateRoot()
	scratch := w.Snapshot()

	gasModel := meta.GasModel
	if gasModel == nil {
		gasModel = state.DefaultGasModel{}
	}

	var gasUsed uint64
	var txCount uint32
	success := true

	for _, tx := range txBatch {
		sigOK := false
		if pub, ok := pubKeys[tx.From]; ok {
			ok, err := sigsuite.Verify(sigKindFor(tx.SigType), pub, signedPayload(tx), tx.Signature)
			sigOK = ok && err == nil
		}

		used, err := state.Apply(scratch, state.ApplyInput{
			From:        tx.From,
			To:          tx.To,
			Value:       tx.Value,
			Nonce:       tx.Nonce,
			GasLimit:    tx.GasLimit,
			Data:        tx.Data,
			UnitPrice:   1,
			SignatureOK: sigOK,
		}, gasModel)
		if err != nil {
			success = false
			break
		}
		gasUsed += used
		txCount++
	}

	outputs := codec.StateTransitionOutputs{
		TxCount: txCount,
		GasUsed: gasUsed,
		Success: success,
	}

	if !success {
		outputs.NewStateRoot = prevRoot
		return prevRoot, outputs, nil
	}

	newRoot := scratch.RecomputeRoot()
	outputs.NewStateRoot = newRoot
	w.Commit(scratch)
	return newRoot, outputs, nil
}

// signedPayload is the byte sequence a transaction's signature covers:
// every wire field except the signature itself.
func signedPayload(tx codec.Transaction) []byte {
	unsigned := tx
	unsigned.Signature = nil
	return codec.EncodeTransaction(unsigned)
}

// BuildWitness assembles the prover.Witness for the relation F applied
// to txBatch against prevRoot, for handing to a prover.Backend. The
// outputs must already have been computed (typically via Execute, or
// recomputed identically by a verifying re-executor).
func BuildWitness(prevRoot hashsuite.Hash32, txBatch []codec.Transaction, meta Meta, outputs codec.StateTransitionOutputs) prover.Witness {
	return prover.Witness{
		PrevStateRoot:     prevRoot,
		TxBatchCommitment: codec.MerkleRootOfTransactions(txBatch),
		BlockNumber:       meta.BlockNumber,
		Timestamp:         meta.Timestamp,
		Outputs:           outputs,
	}
}

// VerifyBatchCommitment reports whether the declared batch commitment
// equals the Merkle root over the canonical encoding of txBatch, the
// first equation of the state-transition relation.
func VerifyBatchCommitment(txBatch []codec.Transaction, declared hashsuite.Hash32) bool {
	return hashsuite.ConstantTimeEqual(codec.MerkleRootOfTransactions(txBatch), declared)
}
