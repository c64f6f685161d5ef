package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_DisabledIsNoOpAndNeverErrors(t *testing.T) {
	c, err := NewClient(context.Background(), ClientConfig{Enabled: false})
	require.NoError(t, err)
	assert.False(t, c.IsEnabled())

	require.NoError(t, c.RecordBlockFinalized(context.Background(), 1, "0xdead", 3))
	require.NoError(t, c.RecordBlockDegraded(context.Background(), 2))
	require.NoError(t, c.RecordSlashEvent(context.Background(), 3, "0xabc", 100))
	require.NoError(t, c.Close())
}

func TestNewClient_EnabledWithoutProjectIDErrors(t *testing.T) {
	_, err := NewClient(context.Background(), ClientConfig{Enabled: true})
	require.Error(t, err)
}

func TestComputeEntryHash_ChangesWithPreviousHash(t *testing.T) {
	a := &entry{EntryID: "x", Kind: "block_finalized", Height: 1, PreviousHash: ""}
	b := &entry{EntryID: "x", Kind: "block_finalized", Height: 1, PreviousHash: "seed"}
	assert.NotEqual(t, computeEntryHash(a), computeEntryHash(b))
}
