package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/errs"
	"github.com/foldchain/zkconsensus/pkg/prover"
	"github.com/foldchain/zkconsensus/pkg/prover/mockbackend"
	"github.com/foldchain/zkconsensus/pkg/recursion"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/classical"
	"github.com/foldchain/zkconsensus/pkg/state"
	"github.com/foldchain/zkconsensus/pkg/validator"
)

// scenarioPipeline mirrors newTestPipeline but zeroes UnitPrice so the
// literal balances in the worked scenarios land exactly,
// undisturbed by gas fees, and lets the caller name the producer
// directly rather than always using a single auto-generated key.
func scenarioPipeline(t *testing.T, producerKP *classical.KeyPair, producerAddr state.Address, credits map[state.Address]uint64, pubKeyOf func(state.Address) []byte) *Pipeline {
	t.Helper()
	world := state.New()
	for addr, amount := range credits {
		world.Credit(addr, amount)
	}
	world.RecomputeRoot()

	set := validator.NewSet([]validator.Validator{
		{Address: producerAddr, PublicKey: producerKP.Public, Stake: 1000},
	})
	registry := validator.NewRegistry(set, 1000)

	backend := mockbackend.New()
	ids := testImageIDs()
	composer := recursion.New(backend, ids, world.StateRoot(), nil)

	cfg := DefaultConfig(ids)
	cfg.UnitPrice = 0

	return New(cfg, world, backend, registry, composer, pubKeyOf, nil, nil)
}

func signTransfer(kp *classical.KeyPair, from, to state.Address, value, nonce uint64) codec.Transaction {
	tx := codec.Transaction{
		From:     codec.Address(from),
		To:       codec.Address(to),
		Value:    value,
		Nonce:    nonce,
		GasLimit: 100000,
		SigType:  codec.SigTypeClassical,
	}
	unsigned := tx
	unsigned.Signature = nil
	tx.Signature = kp.Sign(codec.EncodeTransaction(unsigned))
	return tx
}

func soleAttester(kp *classical.KeyPair, addr state.Address) func(context.Context, codec.BlockHeader) ([]codec.ValidatorSignature, error) {
	return func(ctx context.Context, header codec.BlockHeader) ([]codec.ValidatorSignature, error) {
		h := codec.HashHeader(header)
		return []codec.ValidatorSignature{
			{Validator: codec.Address(addr), StakeWeight: 1000, Signature: kp.Sign(h[:]), SigType: codec.SigTypeClassical},
		}, nil
	}
}

// TestScenario_GenesisPlusTwoTransfers is end-to-end scenario 1: addr1=1000, addr2=1000; tx(1→2, value=100, nonce=0) then
// tx(2→3, value=50, nonce=0); after one block balance(1)=900,
// balance(2)=1050, balance(3)=50, and the state root has moved off
// genesis.
func TestScenario_GenesisPlusTwoTransfers(t *testing.T) {
	kp1, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	kp2, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := state.AddressFromPublicKey(kp1.Public)
	addr2 := state.AddressFromPublicKey(kp2.Public)
	addr3 := state.Address{3}

	pubKeyOf := func(a state.Address) []byte {
		switch a {
		case addr1:
			return kp1.Public
		case addr2:
			return kp2.Public
		default:
			return nil
		}
	}
	p := scenarioPipeline(t, kp1, addr1, map[state.Address]uint64{addr1: 1000, addr2: 1000}, pubKeyOf)
	genesisRoot := p.world.StateRoot()

	require.NoError(t, p.Submit(signTransfer(kp1, addr1, addr2, 100, 0)))
	require.NoError(t, p.Submit(signTransfer(kp2, addr2, addr3, 50, 0)))

	block, err := p.ProduceBlock(context.Background(), addr1, soleAttester(kp1, addr1))
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)

	acct1, _ := p.world.Account(addr1)
	acct2, _ := p.world.Account(addr2)
	acct3, _ := p.world.Account(addr3)
	assert.Equal(t, uint64(900), acct1.Balance)
	assert.Equal(t, uint64(1050), acct2.Balance)
	assert.Equal(t, uint64(50), acct3.Balance)
	assert.NotEqual(t, genesisRoot, p.world.StateRoot())
}

// TestScenario_InsufficientBalanceRejectedAtAdmission covers the end-to-end
// scenario 2: addr1=100; tx(1→2, value=200, nonce=0) is
// rejected by Submit with Admission:InsufficientBalance and never
// reaches a block.
func TestScenario_InsufficientBalanceRejectedAtAdmission(t *testing.T) {
	kp1, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := state.AddressFromPublicKey(kp1.Public)
	addr2 := state.Address{2}

	p := scenarioPipeline(t, kp1, addr1, map[state.Address]uint64{addr1: 100}, func(state.Address) []byte { return kp1.Public })

	err = p.Submit(signTransfer(kp1, addr1, addr2, 200, 0))
	require.Error(t, err)
	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errs.KindAdmission, tagged.Kind)
	assert.Equal(t, errs.CodeInsufficientBalance, tagged.Code)

	assert.Equal(t, 0, p.mempool.Len())
}

// TestScenario_NonceGapExcludesLaterTxFromAssembly covers the end-to-end
// scenario 3: tx(1, nonce=0) then tx(1, nonce=2) (nonce=1
// never submitted); the first is assembled into the block, the second
// is dropped by the Assembling-stage dry run and remains queued rather
// than stalling the whole batch.
func TestScenario_NonceGapExcludesLaterTxFromAssembly(t *testing.T) {
	kp1, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := state.AddressFromPublicKey(kp1.Public)
	addr2 := state.Address{2}

	p := scenarioPipeline(t, kp1, addr1, map[state.Address]uint64{addr1: 1000}, func(state.Address) []byte { return kp1.Public })

	require.NoError(t, p.Submit(signTransfer(kp1, addr1, addr2, 100, 0)))
	require.NoError(t, p.Submit(signTransfer(kp1, addr1, addr2, 50, 2)))

	block, err := p.ProduceBlock(context.Background(), addr1, soleAttester(kp1, addr1))
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, uint64(0), block.Transactions[0].Nonce)

	// The nonce=2 entry was requeued rather than discarded outright.
	assert.Equal(t, 1, p.mempool.Len())
}

// TestScenario_AmendmentActivationHeightValidation is end-to-end scenario 6's validation half: a ProtocolRule with activation_height
// equal to the block's own height is accepted by ValidateBlock (subject
// to its validity receipt verifying), while one claiming an
// activation_height at or before the prior block's height is rejected
// outright, before the receipt is even checked.
func TestScenario_AmendmentActivationHeightValidation(t *testing.T) {
	kp1, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	addr1 := state.AddressFromPublicKey(kp1.Public)

	p := scenarioPipeline(t, kp1, addr1, map[state.Address]uint64{addr1: 1000}, func(state.Address) []byte { return kp1.Public })

	ids := testImageIDs()
	backend := mockbackend.New()
	validRule, err := backend.Prove(context.Background(), ids.Amendment, prover.Witness{
		Outputs: codec.StateTransitionOutputs{Success: true},
	})
	require.NoError(t, err)

	priorHeader := codec.BlockHeader{BlockNumber: 4, StateRoot: p.world.StateRoot()}
	header := codec.BlockHeader{BlockNumber: 5, PrevHash: priorHeader.StateRoot, StateRoot: priorHeader.StateRoot}
	atts, err := soleAttester(kp1, addr1)(context.Background(), header)
	require.NoError(t, err)

	block := codec.Block{
		Header:       header,
		Attestations: atts,
		Rules: []codec.ProtocolRule{
			{RuleID: 7, ActivationHeight: 5, ValidityReceipt: validRule},
		},
	}

	err = p.ValidateBlock(context.Background(), block, priorHeader)
	require.NoError(t, err)

	lateBlock := block
	lateBlock.Rules = []codec.ProtocolRule{
		{RuleID: 99, ActivationHeight: 4, ValidityReceipt: validRule},
	}
	err = p.ValidateBlock(context.Background(), lateBlock, priorHeader)
	require.Error(t, err)
	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errs.CodeAmendmentInvalid, tagged.Code)
}
