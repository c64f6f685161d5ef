// Package recursion implements the rolling chain receipt composer: a
// single Rₙ folding each block's base receipt (and any amendment
// sub-proofs it carries) under the recursion image id, with
// exponential-backoff retry when the proving backend cannot compose.
//
// Retries are bounded attempts with 1<<n second backoff, falling back
// and keeping the pipeline live rather than blocking on the failing
// operation: pipeline liveness does not depend on composition
// completing inside a block time.
package recursion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foldchain/zkconsensus/pkg/chainlog"
	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/prover"
)

// ChainReceiptOutputs is the public-output tuple of the rolling chain
// receipt Rₙ (recursive composition): genesis root, current root, cumulative tx
// count, current height, and the set of rule ids activated as of
// height n.
type ChainReceiptOutputs struct {
	GenesisStateRoot  hashsuite.Hash32
	StateRoot         hashsuite.Hash32
	CumulativeTxCount uint64
	Height            uint64
	ActivatedRuleIDs  []uint32
}

// AmendmentInput is a single protocol rule's validity sub-proof
// awaiting composition into the same fold as its block's base receipt.
type AmendmentInput struct {
	RuleID          uint32
	ActivationHeight uint64
	ValidityReceipt codec.ZkReceipt
}

const (
	maxComposeAttempts = 5
	baseBackoff        = time.Second
)

// Composer owns the single rolling chain receipt and retries
// composition with exponential backoff on resource exhaustion,
// per recursive composition's recovery clause. It never blocks block
// finalization: the pipeline only calls Enqueue, composition happens
// in Drain, and the chain receipt simply lags the head until it succeeds.
type Composer struct {
	mu      sync.Mutex
	backend prover.Backend
	ids     prover.ImageIDs
	log     *chainlog.Logger

	current       codec.ZkReceipt
	currentOutputs ChainReceiptOutputs
	pending       []codec.ZkReceipt // base receipts not yet folded in
}

// New seeds a Composer with the genesis chain receipt: height 0,
// cumulative_tx_count 0, state_root = genesisRoot.
func New(backend prover.Backend, ids prover.ImageIDs, genesisRoot hashsuite.Hash32, log *chainlog.Logger) *Composer {
	if log == nil {
		log = chainlog.Noop()
	}
	outputs := ChainReceiptOutputs{
		GenesisStateRoot: genesisRoot,
		StateRoot:        genesisRoot,
	}
	return &Composer{
		backend:        backend,
		ids:            ids,
		log:            log.With("component", "recursion"),
		currentOutputs: outputs,
	}
}

// Current returns the latest successfully composed chain receipt's
// public outputs. The pipeline reads this to know how far behind the
// head the chain receipt has lagged.
func (c *Composer) Current() ChainReceiptOutputs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentOutputs
}

// Enqueue records a new block's base receipt as awaiting composition.
// Blocks are folded in height order by Drain; a base receipt for a
// height other than currentOutputs.Height+1 is rejected immediately
// (the caller has skipped or reordered heights, which recursion never
// tolerates).
func (c *Composer) Enqueue(blockNumber uint64, receipt codec.ZkReceipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expected := c.currentOutputs.Height + uint64(len(c.pending)) + 1
	if blockNumber != expected {
		return errs.Fatal(errs.CodeStateDivergence, fmt.Errorf("recursion: expected base receipt for height %d, got %d", expected, blockNumber))
	}
	c.pending = append(c.pending, receipt)
	return nil
}

// Drain attempts to fold every currently-enqueued base receipt into
// the chain receipt, in order, retrying each fold with exponential
// backoff up to maxComposeAttempts before giving up on that receipt
// for this call (it remains pending and is retried on the next Drain).
// amendments, if non-empty, are matched to their block by
// ActivationHeight and folded alongside the base receipt for that
// height.
func (c *Composer) Drain(ctx context.Context, amendments []AmendmentInput) error {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	for len(pending) > 0 {
		next := pending[0]
		blockHeight := c.Current().Height + 1

		var folds []codec.ZkReceipt
		if blockHeight > 1 {
			folds = append(folds, c.currentReceiptLocked())
		}
		for _, a := range amendments {
			if a.ActivationHeight == blockHeight {
				folds = append(folds, a.ValidityReceipt)
			}
		}
		// The block's own base receipt folds in last so the composed
		// receipt's public outputs (new_state_root, tx_count) are this
		// block's, per recursive composition's Rₙ.state_root = Bₙ.new_state_root.
		folds = append(folds, next)

		composed, err := c.composeWithBackoff(ctx, folds)
		if err != nil {
			c.log.Warnw("chain receipt composition failed, will retry on next drain", "height", blockHeight, "error", err)
			return nil
		}

		c.mu.Lock()
		c.current = composed
		c.currentOutputs = ChainReceiptOutputs{
			GenesisStateRoot:  c.currentOutputs.GenesisStateRoot,
			StateRoot:         composed.PublicOutputs.NewStateRoot,
			CumulativeTxCount: c.currentOutputs.CumulativeTxCount + uint64(composed.PublicOutputs.TxCount),
			Height:            blockHeight,
			ActivatedRuleIDs:  activatedAt(amendments, blockHeight, c.currentOutputs.ActivatedRuleIDs),
		}
		c.pending = c.pending[1:]
		pending = c.pending
		c.mu.Unlock()

		c.log.Infow("chain receipt advanced", "height", blockHeight)
	}
	return nil
}

func (c *Composer) currentReceiptLocked() codec.ZkReceipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Composer) composeWithBackoff(ctx context.Context, receipts []codec.ZkReceipt) (codec.ZkReceipt, error) {
	var lastErr error
	for attempt := 0; attempt < maxComposeAttempts; attempt++ {
		composed, err := c.backend.Compose(ctx, receipts, c.ids.Recursion)
		if err == nil {
			return composed, nil
		}
		lastErr = err
		backoff := time.Duration(1<<uint(attempt)) * baseBackoff
		select {
		case <-ctx.Done():
			return codec.ZkReceipt{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return codec.ZkReceipt{}, errs.Resource(errs.CodeBackendUnavailable, fmt.Errorf("recursion: compose failed after %d attempts: %w", maxComposeAttempts, lastErr))
}

func activatedAt(amendments []AmendmentInput, height uint64, carried []uint32) []uint32 {
	out := append([]uint32(nil), carried...)
	for _, a := range amendments {
		if a.ActivationHeight == height {
			out = append(out, a.RuleID)
		}
	}
	return out
}
