package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/errs"
)

func TestApply_GenesisAndTwoTransfers(t *testing.T) {
	w := New()
	addr1, addr2, addr3 := Address{1}, Address{2}, Address{3}
	w.Credit(addr1, 1000)
	w.Credit(addr2, 1000)
	w.RecomputeRoot()
	genesisRoot := w.StateRoot()

	gasUsed, err := Apply(w, ApplyInput{
		From: addr1, To: addr2, Value: 100, Nonce: 0, SignatureOK: true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gasUsed)

	_, err = Apply(w, ApplyInput{
		From: addr2, To: addr3, Value: 50, Nonce: 0, SignatureOK: true,
	}, nil)
	require.NoError(t, err)

	w.RecomputeRoot()

	a1, _ := w.Account(addr1)
	a2, _ := w.Account(addr2)
	a3, _ := w.Account(addr3)
	assert.Equal(t, uint64(900), a1.Balance)
	assert.Equal(t, uint64(1050), a2.Balance)
	assert.Equal(t, uint64(50), a3.Balance)
	assert.NotEqual(t, genesisRoot, w.StateRoot())
}

func TestApply_InsufficientBalance(t *testing.T) {
	w := New()
	addr1, addr2 := Address{1}, Address{2}
	w.Credit(addr1, 100)

	_, err := Apply(w, ApplyInput{From: addr1, To: addr2, Value: 200, Nonce: 0, SignatureOK: true}, nil)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindAdmission, kind)
}

func TestApply_NonceMismatch(t *testing.T) {
	w := New()
	addr1, addr2 := Address{1}, Address{2}
	w.Credit(addr1, 1000)

	_, err := Apply(w, ApplyInput{From: addr1, To: addr2, Value: 10, Nonce: 5, SignatureOK: true}, nil)
	require.Error(t, err)
}

func TestApply_RejectsUnverifiedSignature(t *testing.T) {
	w := New()
	addr1, addr2 := Address{1}, Address{2}
	w.Credit(addr1, 1000)

	_, err := Apply(w, ApplyInput{From: addr1, To: addr2, Value: 10, Nonce: 0, SignatureOK: false}, nil)
	require.Error(t, err)
}

func TestRecomputeRoot_Deterministic(t *testing.T) {
	w1, w2 := New(), New()
	addr1, addr2 := Address{9}, Address{4}
	for _, w := range []*WorldState{w1, w2} {
		w.Credit(addr1, 500)
		w.Credit(addr2, 250)
	}
	assert.Equal(t, w1.RecomputeRoot(), w2.RecomputeRoot())
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	w := New()
	addr := Address{7}
	w.Credit(addr, 10)

	snap := w.Snapshot()
	w.Credit(addr, 90)

	snapAcct, _ := snap.Account(addr)
	liveAcct, _ := w.Account(addr)
	assert.Equal(t, uint64(10), snapAcct.Balance)
	assert.Equal(t, uint64(100), liveAcct.Balance)
}
