package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectors(t *testing.T) {
	c := New("test")
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"test_blocks_finalized_total",
		"test_blocks_degraded_total",
		"test_block_assemble_seconds",
		"test_prove_seconds",
		"test_compose_attempts",
		"test_mempool_size",
		"test_validator_total_stake",
		"test_slash_events_total",
		"test_pool_in_flight",
	} {
		assert.True(t, names[want], "expected metric %s to be registered", want)
	}
}

func TestCollectors_IncrementAndObserve(t *testing.T) {
	c := New("test2")
	c.BlocksFinalized.Inc()
	c.BlocksFinalized.Inc()
	c.ProveTime.Observe(0.5)
	c.MempoolSize.Set(42)

	m := &dto.Metric{}
	require.NoError(t, c.BlocksFinalized.Write(m))
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	m = &dto.Metric{}
	require.NoError(t, c.MempoolSize.Write(m))
	assert.Equal(t, 42.0, m.GetGauge().GetValue())
}
