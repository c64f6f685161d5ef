// Protocol parameter loading for the validator's chain configuration
// file, loaded from YAML with ${VAR_NAME} environment substitution.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainConfig holds every tunable protocol parameter that governs
// block production, proving, and consensus for a single network.
type ChainConfig struct {
	Environment string `yaml:"environment"`
	Network     string `yaml:"network"`

	Block     BlockSettings     `yaml:"block"`
	Consensus ConsensusSettings `yaml:"consensus"`
	Prover    ProverSettings    `yaml:"prover"`
	Execution ExecutionSettings `yaml:"execution"`
}

// BlockSettings governs block assembly and proving deadlines.
type BlockSettings struct {
	BlockTime      Duration `yaml:"block_time"`
	MaxBlockBytes  int      `yaml:"max_block_bytes"`
	MaxTxsPerBlock int      `yaml:"max_txs_per_block"`
	BlockGasLimit  uint64   `yaml:"block_gas_limit"`
}

// ConsensusSettings governs validator election, slashing, and
// finality.
type ConsensusSettings struct {
	MinValidatorStake uint64  `yaml:"min_validator_stake"`
	SlashFraction     float64 `yaml:"slash_fraction"`
	RewardFraction    float64 `yaml:"reward_fraction"`
	FinalityThreshold float64 `yaml:"finality_threshold"`
	EpochLengthBlocks uint64  `yaml:"epoch_length_blocks"`
}

// ProverMode selects the proving backend implementation.
type ProverMode string

const (
	ProverModeCPU  ProverMode = "cpu"
	ProverModeGPU  ProverMode = "gpu"
	ProverModeMock ProverMode = "mock"
)

// ProofMemoryProfile names a gnark builder/solver memory tradeoff. It
// is carried in configuration only: no backend reads it, and
// gnarkbackend compiles and proves with the same settings either way.
type ProofMemoryProfile string

const (
	ProofMemoryStandard  ProofMemoryProfile = "standard"
	ProofMemoryOptimized ProofMemoryProfile = "optimized"
	ProofMemoryStreaming ProofMemoryProfile = "streaming"
)

// ProverSettings selects and tunes the proving backend.
type ProverSettings struct {
	Mode          ProverMode         `yaml:"mode"`
	MemoryProfile ProofMemoryProfile `yaml:"memory_profile"`
	SetupCacheDir string             `yaml:"setup_cache_dir"`
}

// ExecutionSettings controls transaction execution concurrency.
type ExecutionSettings struct {
	ParallelExecution bool `yaml:"parallel_execution"`
	WorkerCount       int  `yaml:"worker_count"`
}

// Duration wraps time.Duration for YAML unmarshaling from Go duration
// strings ("2s", "500ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadChainConfig loads a chain configuration file, substituting
// ${VAR_NAME} and ${VAR_NAME:-default} environment references before
// parsing, then fills any unset field with its protocol default.
func LoadChainConfig(path string) (*ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg ChainConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse chain config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills unset fields with spec-mandated defaults.
func (c *ChainConfig) applyDefaults() {
	if c.Block.BlockTime == 0 {
		c.Block.BlockTime = Duration(2 * time.Second)
	}
	if c.Block.MaxBlockBytes == 0 {
		c.Block.MaxBlockBytes = 1 << 20
	}
	if c.Block.MaxTxsPerBlock == 0 {
		c.Block.MaxTxsPerBlock = 2000
	}
	if c.Block.BlockGasLimit == 0 {
		c.Block.BlockGasLimit = 50_000_000
	}

	if c.Consensus.FinalityThreshold == 0 {
		c.Consensus.FinalityThreshold = 2.0 / 3.0
	}
	if c.Consensus.SlashFraction == 0 {
		c.Consensus.SlashFraction = 0.10
	}
	if c.Consensus.RewardFraction == 0 {
		c.Consensus.RewardFraction = 0.01
	}
	if c.Consensus.EpochLengthBlocks == 0 {
		c.Consensus.EpochLengthBlocks = 1000
	}

	if c.Prover.Mode == "" {
		c.Prover.Mode = ProverModeMock
	}
	if c.Prover.MemoryProfile == "" {
		c.Prover.MemoryProfile = ProofMemoryStandard
	}

	if c.Execution.WorkerCount == 0 {
		c.Execution.WorkerCount = 4
	}
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks that every parameter in the configuration surface
// is within its required bound.
func (c *ChainConfig) Validate() error {
	var errors []string

	if c.Block.BlockTime <= 0 {
		errors = append(errors, "block.block_time must be positive")
	}
	if c.Block.MaxBlockBytes <= 0 {
		errors = append(errors, "block.max_block_bytes must be positive")
	}
	if c.Block.MaxTxsPerBlock <= 0 {
		errors = append(errors, "block.max_txs_per_block must be positive")
	}
	if c.Block.BlockGasLimit == 0 {
		errors = append(errors, "block.block_gas_limit must be positive")
	}

	if c.Consensus.MinValidatorStake == 0 {
		errors = append(errors, "consensus.min_validator_stake must be positive")
	}
	if c.Consensus.SlashFraction < 0 || c.Consensus.SlashFraction > 1 {
		errors = append(errors, "consensus.slash_fraction must be in [0,1]")
	}
	if c.Consensus.RewardFraction < 0 || c.Consensus.RewardFraction > 1 {
		errors = append(errors, "consensus.reward_fraction must be in [0,1]")
	}
	if c.Consensus.FinalityThreshold <= 0 || c.Consensus.FinalityThreshold > 1 {
		errors = append(errors, "consensus.finality_threshold must be in (0,1]")
	}
	if c.Consensus.EpochLengthBlocks == 0 {
		errors = append(errors, "consensus.epoch_length_blocks must be positive")
	}

	switch c.Prover.Mode {
	case ProverModeCPU, ProverModeGPU, ProverModeMock:
	default:
		errors = append(errors, fmt.Sprintf("prover.mode %q is not one of cpu, gpu, mock", c.Prover.Mode))
	}

	switch c.Prover.MemoryProfile {
	case ProofMemoryStandard, ProofMemoryOptimized, ProofMemoryStreaming:
	default:
		errors = append(errors, fmt.Sprintf("prover.memory_profile %q is not one of standard, optimized, streaming", c.Prover.MemoryProfile))
	}

	if len(errors) > 0 {
		return fmt.Errorf("chain configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

// BlockTime returns the block production deadline as a time.Duration.
func (c *ChainConfig) BlockTime() time.Duration {
	return c.Block.BlockTime.Duration()
}
