// Package pipeline implements the block pipeline's per-height state
// machine (Collecting → Assembling → Proving → Attesting → Finalizing
// → Finalized): block assembly against a scratch state, degraded
// (pending-receipt) proving, attestation collection, and the
// block-validation order a peer applies to a received block.
//
// The pipeline is a mutex-guarded state-enum struct with a
// config-struct-plus-defaults constructor. It has no Start/Stop
// lifecycle: each ProduceBlock call drives one height through the stages.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foldchain/zkconsensus/pkg/chainlog"
	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/metrics"
	"github.com/foldchain/zkconsensus/pkg/prover"
	"github.com/foldchain/zkconsensus/pkg/recursion"
	"github.com/foldchain/zkconsensus/pkg/sigsuite"
	"github.com/foldchain/zkconsensus/pkg/state"
	"github.com/foldchain/zkconsensus/pkg/transition"
	"github.com/foldchain/zkconsensus/pkg/validator"
)

// Stage is one of the six per-height pipeline states of the block pipeline.
type Stage string

const (
	StageCollecting Stage = "collecting"
	StageAssembling Stage = "assembling"
	StageProving    Stage = "proving"
	StageAttesting  Stage = "attesting"
	StageFinalizing Stage = "finalizing"
	StageFinalized  Stage = "finalized"
)

// Config bounds the pipeline's per-height behavior.
type Config struct {
	MaxBlockBytes     int
	MaxTxsPerBlock    int
	BlockGasLimit     uint64 // 0 means unbounded; distinct from MaxBlockBytes's byte-size cap
	MaxMempoolGlobal  int
	MaxMempoolSender  int
	BlockTime         time.Duration
	FinalityThreshold float64 // default 2/3
	UnitPrice         uint64
	ImageIDs          prover.ImageIDs
}

// DefaultConfig returns the standard production tuning.
func DefaultConfig(ids prover.ImageIDs) Config {
	return Config{
		MaxBlockBytes:     1 << 20,
		MaxTxsPerBlock:    2000,
		BlockGasLimit:     50_000_000,
		MaxMempoolGlobal:  50000,
		MaxMempoolSender:  64,
		BlockTime:         2 * time.Second,
		FinalityThreshold: 2.0 / 3.0,
		UnitPrice:         1,
		ImageIDs:          ids,
	}
}

// Pipeline drives one chain's block production and validation.
type Pipeline struct {
	mu sync.Mutex

	cfg     Config
	world   *state.WorldState
	backend prover.Backend
	set     *validator.Registry
	chain   *recursion.Composer
	mempool *Mempool
	log     *chainlog.Logger
	metrics *metrics.Collectors

	height    uint64
	stage     Stage
	prevHash  hashsuite.Hash32
	gasModel  state.GasModel
	pubKeyOf  func(state.Address) []byte // sender address → public key, for signature verification
}

// New constructs a Pipeline seeded at genesis. pubKeyOf supplies the
// public key for a given sender address; key custody itself is out of
// scope for this package. collectors may be nil, in which case a
// private, unregistered set is created so Prometheus calls never
// nil-panic.
func New(cfg Config, world *state.WorldState, backend prover.Backend, set *validator.Registry, chain *recursion.Composer, pubKeyOf func(state.Address) []byte, log *chainlog.Logger, collectors *metrics.Collectors) *Pipeline {
	if log == nil {
		log = chainlog.Noop()
	}
	if pubKeyOf == nil {
		pubKeyOf = func(state.Address) []byte { return nil }
	}
	if collectors == nil {
		collectors = metrics.New("zkconsensus")
	}
	return &Pipeline{
		cfg:      cfg,
		world:    world,
		backend:  backend,
		set:      set,
		chain:    chain,
		mempool:  NewMempool(cfg.MaxMempoolGlobal, cfg.MaxMempoolSender),
		log:      log.With("component", "pipeline"),
		metrics:  collectors,
		height:   world.BlockNumber(),
		stage:    StageCollecting,
		gasModel: state.DefaultGasModel{},
		pubKeyOf: pubKeyOf,
	}
}

// Stage reports the current height's pipeline stage.
func (p *Pipeline) Stage() Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

// Submit admits a transaction into the Collecting-state mempool. In
// addition to the mempool's own syntactic checks, it rejects a
// transaction whose declared value plus fee exceeds the sender's
// balance as currently known; the mempool itself has no view of world
// state.
func (p *Pipeline) Submit(tx codec.Transaction) error {
	var balance uint64
	if acct, ok := p.world.Account(state.Address(tx.From)); ok {
		balance = acct.Balance
	}
	fee := p.cfg.UnitPrice * tx.GasLimit
	if tx.Value+fee > balance {
		return errs.Admission(errs.CodeInsufficientBalance, nil)
	}

	if err := p.mempool.Admit(tx, p.cfg.UnitPrice); err != nil {
		return err
	}
	p.metrics.MempoolSize.Set(float64(p.mempool.Len()))
	return nil
}

// ProduceBlock drives one height through Assembling → Proving →
// Attesting → Finalizing, given this node has been elected producer.
// attest collects stake-weighted attestations for the assembled header
// until threshold stake or deadline, per the pipeline's Attesting
// state; it is supplied by the caller since attestation transport
// (gossip topology) is out of this package's scope.
func (p *Pipeline) ProduceBlock(ctx context.Context, producer state.Address, attest func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error)) (codec.Block, error) {
	p.mu.Lock()
	p.stage = StageAssembling
	height := p.height + 1
	p.mu.Unlock()

	drained := p.mempool.Drain(p.cfg.MaxTxsPerBlock)
	scratch := p.world.Snapshot()

	pubKeys := make(map[state.Address][]byte)
	for _, tx := range drained {
		addr := state.Address(tx.From)
		if pk := p.pubKeyOf(addr); pk != nil {
			pubKeys[addr] = pk
		}
	}

	assembleMeta := transition.Meta{BlockNumber: height, Timestamp: uint64(0), GasModel: p.gasModel, BlockGasLimit: p.cfg.BlockGasLimit}

	// Discard, per tx, any entry that would fail its precondition at
	// this point in the batch (the block pipeline's Assembling-stage dry
	// run) — a nonce gap, a now-unaffordable entry, or one that would
	// push the batch's declared gas over BlockGasLimit drops out of
	// this height's batch without stalling independently-valid entries
	// ahead of or behind it for other senders. Dropped entries are
	// requeued so a later height can include them once their
	// precondition clears.
	txs, dropped := transition.FilterExecutable(scratch, drained, pubKeys, assembleMeta)
	if len(dropped) > 0 {
		p.mempool.Requeue(dropped, p.cfg.UnitPrice)
	}

	// Trim further against the wire-size budget: transactions are kept
	// in mempool priority order until the encoded batch would exceed
	// MaxBlockBytes, and anything past that point is requeued rather
	// than silently oversized.
	txs, oversize := trimToByteLimit(txs, p.cfg.MaxBlockBytes)
	if len(oversize) > 0 {
		p.mempool.Requeue(oversize, p.cfg.UnitPrice)
	}

	prevRoot := p.world.StateRoot()
	newRoot, outputs, err := transition.Execute(scratch, txs, pubKeys, assembleMeta)
	if err != nil {
		return codec.Block{}, errs.Fatal(errs.CodeStateDivergence, err)
	}
	if !outputs.Success {
		// The dry-run filter above should make this unreachable absent
		// a concurrent mutation of p.world between the filter and this
		// call; treat it as the batch-level precondition failure F
		// itself defines and let the whole height retry.
		p.mempool.Requeue(txs, p.cfg.UnitPrice)
		return codec.Block{}, errs.Admission(errs.CodeMalformed, fmt.Errorf("pipeline: assembled batch failed precondition"))
	}

	header := codec.BlockHeader{
		PrevHash:     prevRoot,
		TxMerkleRoot: codec.MerkleRootOfTransactions(txs),
		StateRoot:    newRoot,
		BlockNumber:  height,
		GasUsed:      outputs.GasUsed,
		GasLimit:     p.cfg.BlockGasLimit,
		Producer:     codec.Address(producer),
	}

	p.mu.Lock()
	p.stage = StageProving
	p.mu.Unlock()

	receipt := p.prove(ctx, prevRoot, header, txs, outputs)

	p.mu.Lock()
	p.stage = StageAttesting
	p.mu.Unlock()

	attestCtx, cancel := context.WithTimeout(ctx, p.cfg.BlockTime)
	defer cancel()
	atts, err := attest(attestCtx, header)
	if err != nil {
		return codec.Block{}, errs.Resource(errs.CodeDeadlineExceeded, err)
	}

	if err := p.checkFinalityThreshold(atts, header); err != nil {
		return codec.Block{}, err
	}

	p.mu.Lock()
	p.stage = StageFinalizing
	p.mu.Unlock()

	block := codec.Block{Header: header, Transactions: txs, Attestations: atts, Receipt: &receipt}
	if err := p.finalize(scratch, height, receipt); err != nil {
		return codec.Block{}, err
	}

	p.mu.Lock()
	p.stage = StageFinalized
	p.mu.Unlock()

	return block, nil
}

// prove invokes the proving backend against a deadline; if proving
// fails for any reason, the deadline included, it degrades to a
// pending-receipt marker (a ZkReceipt with Body==nil that keeps the
// state-transition image id and public outputs) per the block pipeline, leaving
// pkg/recursion to backfill once composition succeeds.
func (p *Pipeline) prove(ctx context.Context, prevRoot hashsuite.Hash32, header codec.BlockHeader, txs []codec.Transaction, outputs codec.StateTransitionOutputs) codec.ZkReceipt {
	proveCtx, cancel := context.WithTimeout(ctx, p.cfg.BlockTime)
	defer cancel()

	started := time.Now()
	witness := transition.BuildWitness(prevRoot, txs, transition.Meta{BlockNumber: header.BlockNumber, Timestamp: header.Timestamp}, outputs)
	receipt, err := p.backend.Prove(proveCtx, p.cfg.ImageIDs.StateTransition, witness)
	p.metrics.ProveTime.Observe(time.Since(started).Seconds())
	if err != nil {
		p.log.Warnw("proving deadline exceeded, degrading to pending receipt", "height", header.BlockNumber, "error", err)
		p.metrics.BlocksDegraded.Inc()
		return codec.ZkReceipt{ProgramImageID: p.cfg.ImageIDs.StateTransition, PublicOutputs: outputs}
	}
	return receipt
}

// checkFinalityThreshold verifies each attestation's declared scheme
// and sums stake weight, requiring it reach cfg.FinalityThreshold of
// the active validator set's total stake (the block pipeline's Attesting
// state; default 2/3).
func (p *Pipeline) checkFinalityThreshold(atts []codec.ValidatorSignature, header codec.BlockHeader) error {
	headerHash := codec.HashHeader(header)
	set := p.set.Current()

	byAddr := make(map[state.Address]validator.Validator)
	for _, v := range set.Validators() {
		byAddr[v.Address] = v
	}

	var staked uint64
	sigAtts := make([]sigsuite.Attestation, 0, len(atts))
	weights := make([]uint64, 0, len(atts))
	for _, a := range atts {
		v, ok := byAddr[state.Address(a.Validator)]
		if !ok {
			continue
		}
		sigAtts = append(sigAtts, sigsuite.Attestation{
			Kind:      sigKindFor(a.SigType),
			PublicKey: v.PublicKey,
			Message:   headerHash[:],
			Signature: a.Signature,
		})
		weights = append(weights, a.StakeWeight)
	}
	results := sigsuite.VerifyBatch(sigAtts)
	for i, r := range results {
		if r.OK {
			staked += weights[i]
		}
	}

	if set.TotalStake() == 0 || float64(staked) < p.cfg.FinalityThreshold*float64(set.TotalStake()) {
		return errs.Admission(errs.CodeStakeBelowThreshold, nil)
	}
	return nil
}

// finalize commits the scratch state, advances the pipeline's height
// and prevHash, enqueues the receipt for recursive composition, and
// notifies the validator registry of the new height for epoch-boundary
// processing.
func (p *Pipeline) finalize(scratch *state.WorldState, height uint64, receipt codec.ZkReceipt) error {
	p.world.Commit(scratch)
	p.world.SetBlockNumber(height)

	if err := p.chain.Enqueue(height, receipt); err != nil {
		p.log.Warnw("failed to enqueue receipt for composition", "height", height, "error", err)
	}
	p.set.OnBlock(height)
	p.metrics.BlocksFinalized.Inc()
	p.metrics.ValidatorStake.Set(float64(p.set.Current().TotalStake()))
	p.metrics.MempoolSize.Set(float64(p.mempool.Len()))

	p.mu.Lock()
	p.height = height
	p.prevHash = p.world.StateRoot()
	p.mu.Unlock()
	return nil
}

// blockHeaderOverhead is a conservative estimate of a block's
// encoded size excluding its transaction list, so trimToByteLimit
// does not need to re-encode the whole candidate block per tx.
const blockHeaderOverhead = 512

// trimToByteLimit keeps transactions in order until their cumulative
// encoded size plus blockHeaderOverhead would exceed maxBytes,
// dropping the remainder. maxBytes<=0 disables the check.
func trimToByteLimit(txs []codec.Transaction, maxBytes int) (kept, dropped []codec.Transaction) {
	if maxBytes <= 0 {
		return txs, nil
	}
	budget := maxBytes - blockHeaderOverhead
	var used int
	kept = make([]codec.Transaction, 0, len(txs))
	for i, tx := range txs {
		size := len(codec.EncodeTransaction(tx))
		if used+size > budget {
			dropped = append(dropped, txs[i:]...)
			break
		}
		used += size
		kept = append(kept, tx)
	}
	return kept, dropped
}

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

// ValidateBlock checks a received block in a fixed order: header
// linkage and monotonicity; transaction
// well-formedness and count; transaction Merkle root; re-execution
// state root OR proof verification; attestation signatures and
// aggregate stake; amendment sub-proofs if present. The first failure
// yields an error immediately.
func (p *Pipeline) ValidateBlock(ctx context.Context, block codec.Block, priorHeader codec.BlockHeader) error {
	if block.Header.BlockNumber != priorHeader.BlockNumber+1 {
		return errs.Validation(errs.CodeHeaderLinkage, nil)
	}
	if !hashsuite.ConstantTimeEqual(block.Header.PrevHash, priorHeader.StateRoot) {
		return errs.Validation(errs.CodeHeaderLinkage, nil)
	}
	if block.Header.Timestamp < priorHeader.Timestamp {
		return errs.Validation(errs.CodeHeaderLinkage, nil)
	}

	if len(block.Transactions) > p.cfg.MaxTxsPerBlock {
		return errs.Validation(errs.CodeMalformed, nil)
	}

	if p.cfg.BlockGasLimit > 0 {
		if block.Header.GasLimit > p.cfg.BlockGasLimit {
			return errs.Validation(errs.CodeMalformed, nil)
		}
		if transition.SumDeclaredGas(block.Transactions) > block.Header.GasLimit {
			return errs.Validation(errs.CodeMalformed, nil)
		}
	}

	if p.cfg.MaxBlockBytes > 0 && len(codec.EncodeBlock(block)) > p.cfg.MaxBlockBytes {
		return errs.Validation(errs.CodeMalformed, nil)
	}

	if !transition.VerifyBatchCommitment(block.Transactions, block.Header.TxMerkleRoot) {
		return errs.Validation(errs.CodeRootMismatch, nil)
	}

	if err := p.validateStateRoot(ctx, block, priorHeader); err != nil {
		return err
	}

	if err := p.checkFinalityThreshold(block.Attestations, block.Header); err != nil {
		return err
	}

	for _, rule := range block.Rules {
		if rule.ActivationHeight > block.Header.BlockNumber || rule.ActivationHeight <= priorHeader.BlockNumber {
			return errs.Validation(errs.CodeAmendmentInvalid, nil)
		}
		ok, err := p.backend.Verify(ctx, rule.ValidityReceipt, p.cfg.ImageIDs.Amendment)
		if err != nil || !ok {
			return errs.Validation(errs.CodeAmendmentInvalid, err)
		}
	}

	return nil
}

// validateStateRoot accepts either a populated receipt verifiable
// against the state-transition image id, or a pending marker
// (Receipt == nil or Receipt.Body == nil), per the block pipeline.
// When no usable receipt is present, it falls back to re-execution.
// How long a chain may carry pending markers is not bounded here.
func (p *Pipeline) validateStateRoot(ctx context.Context, block codec.Block, priorHeader codec.BlockHeader) error {
	if block.Receipt != nil && len(block.Receipt.Body) > 0 {
		ok, err := p.backend.Verify(ctx, *block.Receipt, p.cfg.ImageIDs.StateTransition)
		if err != nil || !ok {
			return errs.Validation(errs.CodeProofRejected, err)
		}
		if !hashsuite.ConstantTimeEqual(block.Receipt.PublicOutputs.NewStateRoot, block.Header.StateRoot) {
			return errs.Validation(errs.CodeRootMismatch, nil)
		}
		return nil
	}

	// Pending-receipt marker: re-execute against a scratch copy of the
	// prior state to confirm the declared root independently.
	scratch := p.world.Snapshot()
	pubKeys := make(map[state.Address][]byte)
	for _, tx := range block.Transactions {
		addr := state.Address(tx.From)
		if pk := p.pubKeyOf(addr); pk != nil {
			pubKeys[addr] = pk
		}
	}
	newRoot, _, err := transition.Execute(scratch, block.Transactions, pubKeys, transition.Meta{
		BlockNumber: block.Header.BlockNumber,
		Timestamp:   block.Header.Timestamp,
		GasModel:    p.gasModel,
	})
	if err != nil {
		return errs.Validation(errs.CodeStateDivergence, err)
	}
	if !hashsuite.ConstantTimeEqual(newRoot, block.Header.StateRoot) {
		return errs.Validation(errs.CodeRootMismatch, nil)
	}
	return nil
}
