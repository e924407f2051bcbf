// Package config holds the typed, validated configuration of the
// consensus engine, loaded from TOML in the layered pattern used across the
// teacher corpus: start from Default(), then overlay a file, then validate
// bounds before anything is wired together.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
)

// Config mirrors the configuration table of the consensus engine spec.
type Config struct {
	ThreadCount uint8 `toml:"thread_count"`

	T0                time.Duration `toml:"t0"`
	GenesisTimestamp  time.Time     `toml:"genesis_timestamp"`
	PeriodsPerCycle   uint64        `toml:"periods_per_cycle"`
	DeltaF0           uint64        `toml:"delta_f0"`
	PosLookbackCycles uint64        `toml:"pos_lookback_cycles"`
	PosSavedCycles    uint64        `toml:"pos_saved_cycles"`

	MaxDependencyBlocks             uint64 `toml:"max_dependency_blocks"`
	FutureBlockProcessingMaxPeriods uint64 `toml:"future_block_processing_max_periods"`
	MaxFutureProcessingBlocks       uint64 `toml:"max_future_processing_blocks"`

	OperationValidityPeriods uint64 `toml:"operation_validity_periods"`
	OperationBatchSize       uint64 `toml:"operation_batch_size"`
	MaxOperationsPerBlock    uint64 `toml:"max_operations_per_block"`
	MaxBlockSize             uint64 `toml:"max_block_size"`

	BlockReward *uint256.Int `toml:"-"`
	RollPrice   *uint256.Int `toml:"-"`

	DisableBlockCreation bool `toml:"disable_block_creation"`

	ControllerChannelSize int           `toml:"controller_channel_size"`
	PoolBatchTimeout      time.Duration `toml:"pool_batch_timeout"`
	PropagationAckTimeout time.Duration `toml:"propagation_ack_timeout"`
}

// Default returns the configuration used by tests and local smoke-runs:
// two threads, one-second slots, small buffers.
func Default() *Config {
	return &Config{
		ThreadCount:                      2,
		T0:                               1000 * time.Millisecond,
		GenesisTimestamp:                 time.Unix(0, 0).UTC(),
		PeriodsPerCycle:                  128,
		DeltaF0:                          32,
		PosLookbackCycles:                2,
		PosSavedCycles:                   4,
		MaxDependencyBlocks:              2048,
		FutureBlockProcessingMaxPeriods:  128,
		MaxFutureProcessingBlocks:        128,
		OperationValidityPeriods:         10,
		OperationBatchSize:               500,
		MaxOperationsPerBlock:            5000,
		MaxBlockSize:                     1 << 20,
		BlockReward:                      uint256.NewInt(0),
		RollPrice:                        uint256.NewInt(100),
		DisableBlockCreation:             false,
		ControllerChannelSize:            1024,
		PoolBatchTimeout:                 300 * time.Millisecond,
		PropagationAckTimeout:            3 * time.Second,
	}
}

// Load applies Default(), then overlays the TOML file at path.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the bounds implied by the data model (§3) and the
// configuration table (§6).
func (c *Config) Validate() error {
	if c.ThreadCount < 1 || c.ThreadCount > 32 {
		return fmt.Errorf("config: thread_count must be in [1,32], got %d", c.ThreadCount)
	}
	if c.T0 <= 0 {
		return fmt.Errorf("config: t0 must be positive")
	}
	if c.PeriodsPerCycle == 0 {
		return fmt.Errorf("config: periods_per_cycle must be positive")
	}
	if c.PosSavedCycles < c.PosLookbackCycles {
		return fmt.Errorf("config: pos_saved_cycles must be >= pos_lookback_cycles")
	}
	if c.MaxOperationsPerBlock == 0 {
		return fmt.Errorf("config: max_operations_per_block must be positive")
	}
	if c.MaxBlockSize == 0 {
		return fmt.Errorf("config: max_block_size must be positive")
	}
	if c.BlockReward == nil {
		c.BlockReward = uint256.NewInt(0)
	}
	if c.RollPrice == nil || c.RollPrice.IsZero() {
		return fmt.Errorf("config: roll_price must be positive")
	}
	return nil
}
