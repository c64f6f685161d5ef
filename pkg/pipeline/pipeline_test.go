package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/hashsuite"
	"github.com/foldchain/zkconsensus/pkg/prover"
	"github.com/foldchain/zkconsensus/pkg/prover/mockbackend"
	"github.com/foldchain/zkconsensus/pkg/recursion"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/classical"
	"github.com/foldchain/zkconsensus/pkg/state"
	"github.com/foldchain/zkconsensus/pkg/validator"
)

func testImageIDs() prover.ImageIDs {
	return prover.ImageIDs{
		StateTransition: hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("st")),
		Amendment:       hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("am")),
		Recursion:       hashsuite.Fast(hashsuite.DomainRecursionPub, []byte("rec")),
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *classical.KeyPair, state.Address, *validator.Registry) {
	t.Helper()
	producerKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	producerAddr := state.AddressFromPublicKey(producerKP.Public)

	world := state.New()
	world.Credit(producerAddr, 10_000_000)
	world.RecomputeRoot()

	set := validator.NewSet([]validator.Validator{
		{Address: producerAddr, PublicKey: producerKP.Public, Stake: 1000},
	})
	registry := validator.NewRegistry(set, 1000)

	backend := mockbackend.New()
	ids := testImageIDs()
	composer := recursion.New(backend, ids, world.StateRoot(), nil)

	cfg := DefaultConfig(ids)
	pubKeyOf := func(a state.Address) []byte {
		if a == producerAddr {
			return producerKP.Public
		}
		return nil
	}
	p := New(cfg, world, backend, registry, composer, pubKeyOf, nil, nil)
	return p, producerKP, producerAddr, registry
}

func TestPipeline_ProduceBlock_FinalizesWithSenderTransaction(t *testing.T) {
	p, senderKP, sender, registry := newTestPipeline(t)
	receiver := state.Address{42}

	txUnsigned := codec.Transaction{
		From:     codec.Address(sender),
		To:       codec.Address(receiver),
		Value:    500,
		Nonce:    0,
		GasLimit: 100000,
		SigType:  codec.SigTypeClassical,
	}
	txUnsigned.Signature = senderKP.Sign(codec.EncodeTransaction(txUnsigned))
	require.NoError(t, p.Submit(txUnsigned))

	attest := func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error) {
		h := codec.HashHeader(header)
		sig := senderKP.Sign(h[:])
		return []codec.ValidatorSignature{
			{Validator: codec.Address(sender), StakeWeight: 1000, Signature: sig, SigType: codec.SigTypeClassical},
		}, nil
	}

	block, err := p.ProduceBlock(context.Background(), sender, attest)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), block.Header.BlockNumber)
	assert.Len(t, block.Transactions, 1)
	assert.Equal(t, StageFinalized, p.Stage())

	acct, ok := p.world.Account(receiver)
	require.True(t, ok)
	assert.Equal(t, uint64(500), acct.Balance)

	_ = registry
}

func TestPipeline_ProduceBlock_FailsBelowFinalityThreshold(t *testing.T) {
	p, senderKP, sender, _ := newTestPipeline(t)

	attest := func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error) {
		// no attestations at all: stake weight 0 < threshold
		return nil, nil
	}
	_ = senderKP

	_, err := p.ProduceBlock(context.Background(), sender, attest)
	require.Error(t, err)
}

func TestPipeline_ProduceBlock_SetsHeaderGasLimitAndDropsOverBudgetTx(t *testing.T) {
	p, senderKP, sender, _ := newTestPipeline(t)
	p.cfg.BlockGasLimit = 150000 // room for one 100000-gas tx, not two
	receiver := state.Address{42}

	txA := codec.Transaction{From: codec.Address(sender), To: codec.Address(receiver), Value: 10, Nonce: 0, GasLimit: 100000, SigType: codec.SigTypeClassical}
	txA.Signature = senderKP.Sign(codec.EncodeTransaction(txA))
	txB := codec.Transaction{From: codec.Address(sender), To: codec.Address(receiver), Value: 10, Nonce: 1, GasLimit: 100000, SigType: codec.SigTypeClassical}
	txB.Signature = senderKP.Sign(codec.EncodeTransaction(txB))
	require.NoError(t, p.Submit(txA))
	require.NoError(t, p.Submit(txB))

	attest := func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error) {
		h := codec.HashHeader(header)
		return []codec.ValidatorSignature{
			{Validator: codec.Address(sender), StakeWeight: 1000, Signature: senderKP.Sign(h[:]), SigType: codec.SigTypeClassical},
		}, nil
	}

	block, err := p.ProduceBlock(context.Background(), sender, attest)
	require.NoError(t, err)
	assert.Equal(t, uint64(150000), block.Header.GasLimit)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, uint64(0), block.Transactions[0].Nonce)

	// The over-budget nonce=1 entry was requeued, not discarded.
	assert.Equal(t, 1, p.mempool.Len())
}

func TestPipeline_ValidateBlock_RejectsDeclaredGasOverHeaderLimit(t *testing.T) {
	p, senderKP, sender, _ := newTestPipeline(t)

	receiver := state.Address{42}
	tx := codec.Transaction{From: codec.Address(sender), To: codec.Address(receiver), Value: 10, Nonce: 0, GasLimit: 100000, SigType: codec.SigTypeClassical}
	tx.Signature = senderKP.Sign(codec.EncodeTransaction(tx))

	prior := codec.BlockHeader{BlockNumber: 0, StateRoot: p.world.StateRoot()}
	header := codec.BlockHeader{
		BlockNumber:  1,
		PrevHash:     prior.StateRoot,
		StateRoot:    prior.StateRoot,
		GasLimit:     50000, // below the single transaction's declared GasLimit
		TxMerkleRoot: codec.MerkleRootOfTransactions([]codec.Transaction{tx}),
	}
	h := codec.HashHeader(header)
	block := codec.Block{
		Header:       header,
		Transactions: []codec.Transaction{tx},
		Attestations: []codec.ValidatorSignature{
			{Validator: codec.Address(sender), StakeWeight: 1000, Signature: senderKP.Sign(h[:]), SigType: codec.SigTypeClassical},
		},
	}

	err := p.ValidateBlock(context.Background(), block, prior)
	require.Error(t, err)
}

func TestPipeline_ValidateBlock_RejectsBadLinkage(t *testing.T) {
	p, _, _, _ := newTestPipeline(t)
	prior := codec.BlockHeader{BlockNumber: 5, StateRoot: hashsuite.Fast(hashsuite.DomainStateEntry, []byte("x"))}
	block := codec.Block{Header: codec.BlockHeader{BlockNumber: 7}}

	err := p.ValidateBlock(context.Background(), block, prior)
	require.Error(t, err)
}
