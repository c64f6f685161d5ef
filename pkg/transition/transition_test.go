package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/sigsuite/classical"
	"github.com/foldchain/zkconsensus/pkg/state"
)

func signedTx(t *testing.T, kp *classical.KeyPair, from, to state.Address, value, nonce uint64) codec.Transaction {
	t.Helper()
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

func TestExecute_AppliesBatchAndAdvancesRoot(t *testing.T) {
	senderKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	sender := state.AddressFromPublicKey(senderKP.Public)
	receiver := state.Address{9}

	w := state.New()
	w.Credit(sender, 1_000_000)
	w.RecomputeRoot()
	prevRoot := w.StateRoot()

	pubKeys := map[state.Address][]byte{sender: senderKP.Public}
	tx := signedTx(t, senderKP, sender, receiver, 100, 0)

	newRoot, outputs, err := Execute(w, []codec.Transaction{tx}, pubKeys, Meta{BlockNumber: 1, Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, outputs.Success)
	assert.Equal(t, uint32(1), outputs.TxCount)
	assert.NotEqual(t, prevRoot, newRoot)
	assert.Equal(t, newRoot, w.StateRoot())

	acct, ok := w.Account(receiver)
	require.True(t, ok)
	assert.Equal(t, uint64(100), acct.Balance)
}

func TestExecute_FailurePreservesPrevRoot(t *testing.T) {
	senderKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	sender := state.AddressFromPublicKey(senderKP.Public)
	receiver := state.Address{9}

	w := state.New()
	w.Credit(sender, 10)
	w.RecomputeRoot()
	prevRoot := w.StateRoot()

	pubKeys := map[state.Address][]byte{sender: senderKP.Public}
	tx := signedTx(t, senderKP, sender, receiver, 1_000_000, 0)

	newRoot, outputs, err := Execute(w, []codec.Transaction{tx}, pubKeys, Meta{BlockNumber: 1})
	require.NoError(t, err)
	assert.False(t, outputs.Success)
	assert.Equal(t, prevRoot, newRoot)
	assert.Equal(t, prevRoot, w.StateRoot())
}

func TestExecute_RejectsUnverifiableSignature(t *testing.T) {
	senderKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	sender := state.AddressFromPublicKey(senderKP.Public)
	receiver := state.Address{9}

	w := state.New()
	w.Credit(sender, 1000)
	w.RecomputeRoot()

	tx := signedTx(t, senderKP, sender, receiver, 100, 0)

	_, outputs, err := Execute(w, []codec.Transaction{tx}, nil, Meta{BlockNumber: 1})
	require.NoError(t, err)
	assert.False(t, outputs.Success)
}

func TestFilterExecutable_DropsGappedNonceKeepsEarlierEntry(t *testing.T) {
	senderKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	sender := state.AddressFromPublicKey(senderKP.Public)
	receiver := state.Address{9}

	w := state.New()
	w.Credit(sender, 1_000_000)
	w.RecomputeRoot()

	pubKeys := map[state.Address][]byte{sender: senderKP.Public}
	txNonce0 := signedTx(t, senderKP, sender, receiver, 100, 0)
	txNonce2 := signedTx(t, senderKP, sender, receiver, 50, 2) // nonce 1 never submitted

	kept, dropped := FilterExecutable(w, []codec.Transaction{txNonce0, txNonce2}, pubKeys, Meta{BlockNumber: 1})
	require.Len(t, kept, 1)
	assert.Equal(t, uint64(0), kept[0].Nonce)
	require.Len(t, dropped, 1)
	assert.Equal(t, uint64(2), dropped[0].Nonce)
}

func TestFilterExecutable_KeptBatchAlwaysSucceedsUnderExecute(t *testing.T) {
	senderKP, err := classical.GenerateKeyPair()
	require.NoError(t, err)
	sender := state.AddressFromPublicKey(senderKP.Public)
	receiver := state.Address{9}

	w := state.New()
	w.Credit(sender, 25000) // covers one 100-value transfer plus its gas fee, not two
	w.RecomputeRoot()

	pubKeys := map[state.Address][]byte{sender: senderKP.Public}
	first := signedTx(t, senderKP, sender, receiver, 100, 0)
	second := signedTx(t, senderKP, sender, receiver, 100, 1)

	kept, dropped := FilterExecutable(w, []codec.Transaction{first, second}, pubKeys, Meta{BlockNumber: 1})
	require.Len(t, kept, 1)
	require.Len(t, dropped, 1)

	_, outputs, err := Execute(w, kept, pubKeys, Meta{BlockNumber: 1})
	require.NoError(t, err)
	assert.True(t, outputs.Success)
}

func TestVerifyBatchCommitment_MatchesEncodedBatch(t *testing.T) {
	tx := codec.Transaction{From: codec.Address{1}, To: codec.Address{2}, Value: 5, Nonce: 0}
	root := codec.MerkleRootOfTransactions([]codec.Transaction{tx})
	assert.True(t, VerifyBatchCommitment([]codec.Transaction{tx}, root))

	tampered := root
	tampered[0] ^= 0xFF
	assert.False(t, VerifyBatchCommitment([]codec.Transaction{tx}, tampered))
}
