package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChainConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadChainConfig_AppliesDefaults(t *testing.T) {
	path := writeChainConfig(t, `
network: devnet
consensus:
  min_validator_stake: 1000
`)

	cfg, err := LoadChainConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "devnet", cfg.Network)
	assert.Equal(t, 1<<20, cfg.Block.MaxBlockBytes)
	assert.Equal(t, 2000, cfg.Block.MaxTxsPerBlock)
	assert.Equal(t, uint64(50_000_000), cfg.Block.BlockGasLimit)
	assert.InDelta(t, 2.0/3.0, cfg.Consensus.FinalityThreshold, 1e-9)
	assert.Equal(t, ProverModeMock, cfg.Prover.Mode)
	assert.Equal(t, ProofMemoryStandard, cfg.Prover.MemoryProfile)
	require.NoError(t, cfg.Validate())
}

func TestLoadChainConfig_SubstitutesEnvVars(t *testing.T) {
	require.NoError(t, os.Setenv("TEST_MIN_STAKE", "5000"))
	defer os.Unsetenv("TEST_MIN_STAKE")

	path := writeChainConfig(t, `
network: devnet
consensus:
  min_validator_stake: ${TEST_MIN_STAKE}
  finality_threshold: ${UNSET_THRESHOLD:-0.75}
`)

	cfg, err := LoadChainConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), cfg.Consensus.MinValidatorStake)
	assert.InDelta(t, 0.75, cfg.Consensus.FinalityThreshold, 1e-9)
}

func TestChainConfig_ValidateRejectsOutOfRangeFractions(t *testing.T) {
	cfg := &ChainConfig{
		Block: BlockSettings{BlockTime: Duration(1), MaxBlockBytes: 1, MaxTxsPerBlock: 1, BlockGasLimit: 1},
		Consensus: ConsensusSettings{
			MinValidatorStake: 1,
			SlashFraction:     1.5,
			RewardFraction:    0.01,
			FinalityThreshold: 0.5,
			EpochLengthBlocks: 1,
		},
		Prover: ProverSettings{Mode: ProverModeMock, MemoryProfile: ProofMemoryStandard},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slash_fraction")
}

func TestChainConfig_ValidateRejectsUnknownProverMode(t *testing.T) {
	cfg := &ChainConfig{
		Block:     BlockSettings{BlockTime: Duration(1), MaxBlockBytes: 1, MaxTxsPerBlock: 1, BlockGasLimit: 1},
		Consensus: ConsensusSettings{MinValidatorStake: 1, FinalityThreshold: 0.5, EpochLengthBlocks: 1},
		Prover:    ProverSettings{Mode: "quantum", MemoryProfile: ProofMemoryStandard},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prover.mode")
}
