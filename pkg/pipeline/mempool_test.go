package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldchain/zkconsensus/pkg/codec"
	"github.com/foldchain/zkconsensus/pkg/errs"
)

func TestMempool_RejectsZeroAddressSender(t *testing.T) {
	m := NewMempool(10, 10)

	err := m.Admit(codec.Transaction{
		From:     codec.Address{},
		To:       codec.Address{1},
		GasLimit: 21000,
	}, 1)

	require.Error(t, err)
	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errs.KindAdmission, tagged.Kind)
	assert.Equal(t, errs.CodeMalformed, tagged.Code)
	assert.Equal(t, 0, m.Len())
}

func TestMempool_RejectsZeroGasLimit(t *testing.T) {
	m := NewMempool(10, 10)

	err := m.Admit(codec.Transaction{
		From: codec.Address{1},
		To:   codec.Address{2},
	}, 1)

	require.Error(t, err)
	var tagged *errs.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, errs.CodeMalformed, tagged.Code)
}

func TestMempool_AdmitsWellFormedTransaction(t *testing.T) {
	m := NewMempool(10, 10)

	err := m.Admit(codec.Transaction{
		From:     codec.Address{1},
		To:       codec.Address{2},
		GasLimit: 21000,
		Nonce:    0,
	}, 1)

	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestMempool_DuplicateNonceKeepsHigherFee(t *testing.T) {
	m := NewMempool(10, 10)
	from := codec.Address{1}

	require.NoError(t, m.Admit(codec.Transaction{From: from, To: codec.Address{2}, GasLimit: 21000, Nonce: 0, Value: 1}, 1))
	require.NoError(t, m.Admit(codec.Transaction{From: from, To: codec.Address{2}, GasLimit: 21000, Nonce: 0, Value: 2}, 5))

	drained := m.Drain(10)
	require.Len(t, drained, 1)
	assert.Equal(t, uint64(2), drained[0].Value)
}
