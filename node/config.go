// config.go is the node's TOML configuration surface. Every consensus
// constant the prover depends on is a config input here; the defaults
// describe an Ethereum-mainnet-shaped chain with the mock proving backend.
package node

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/lightfold/lightfold/driver"
	"github.com/lightfold/lightfold/light"
	"github.com/lightfold/lightfold/log"
)

// Configuration errors.
var (
	ErrNoGenesis      = errors.New("node: genesis file is required")
	ErrUnknownBackend = errors.New("node: unknown proving backend")
	ErrBadBuffer      = errors.New("node: source buffer must be positive")
)

// Backend names accepted by Config.Backend.
const (
	BackendMock      = "mock"
	BackendGroth16   = "groth16"
	BackendRecursive = "recursive"
)

// Config is the full node configuration, loaded from a TOML file.
type Config struct {
	// GenesisFile points at the trusted-checkpoint TOML the cache
	// bootstraps from.
	GenesisFile string `toml:"genesis_file"`

	// Backend selects the proving backend: mock, groth16 or recursive.
	Backend string `toml:"backend"`

	// SourceBuffer is the capacity of the consensus-update intake channel.
	SourceBuffer int `toml:"source_buffer"`

	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `toml:"metrics_addr"`

	// RelayFile, when set, appends proven-checkpoint payloads as JSON
	// lines to that file; empty means stdout.
	RelayFile string `toml:"relay_file"`

	Chain ChainConfig `toml:"chain"`
	Retry RetryConfig `toml:"retry"`
	Log   LogConfig   `toml:"log"`
}

// ChainConfig mirrors light.ChainParams in TOML-friendly units.
type ChainConfig struct {
	GenesisTime        uint64 `toml:"genesis_time"`
	SlotSeconds        uint64 `toml:"slot_seconds"`
	SlotsPerEpoch      uint64 `toml:"slots_per_epoch"`
	EpochsPerPeriod    uint64 `toml:"epochs_per_period"`
	MaxClockSkewSlots  uint64 `toml:"max_clock_skew_slots"`
	RotationGraceSlots uint64 `toml:"rotation_grace_slots"`
	QuorumNumerator    uint64 `toml:"quorum_numerator"`
	QuorumDenominator  uint64 `toml:"quorum_denominator"`
	CommitteeSize      int    `toml:"committee_size"`
	MaxBatchSize       int    `toml:"max_batch_size"`
}

// RetryConfig mirrors driver.RetryConfig in TOML-friendly units.
type RetryConfig struct {
	MaxRetries     int     `toml:"max_retries"`
	InitialDelayMS int     `toml:"initial_delay_ms"`
	MaxDelayMS     int     `toml:"max_delay_ms"`
	Factor         float64 `toml:"factor"`
}

// LogConfig mirrors log.Config.
type LogConfig struct {
	Level      string `toml:"level"`
	Console    bool   `toml:"console"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// DefaultConfig returns a configuration matching light.DefaultChainParams
// with the mock backend.
func DefaultConfig() Config {
	p := light.DefaultChainParams()
	r := driver.DefaultRetryConfig()
	return Config{
		Backend:      BackendMock,
		SourceBuffer: 256,
		Chain: ChainConfig{
			GenesisTime:        p.GenesisTime,
			SlotSeconds:        uint64(p.SlotDuration / time.Second),
			SlotsPerEpoch:      p.SlotsPerEpoch,
			EpochsPerPeriod:    p.EpochsPerCommitteePeriod,
			MaxClockSkewSlots:  p.MaxClockSkewSlots,
			RotationGraceSlots: p.RotationGraceSlots,
			QuorumNumerator:    p.QuorumNumerator,
			QuorumDenominator:  p.QuorumDenominator,
			CommitteeSize:      p.CommitteeSize,
			MaxBatchSize:       p.MaxBatchSize,
		},
		Retry: RetryConfig{
			MaxRetries:     r.MaxRetries,
			InitialDelayMS: int(r.InitialDelay / time.Millisecond),
			MaxDelayMS:     int(r.MaxDelay / time.Millisecond),
			Factor:         r.Factor,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads a TOML file over the defaults, so partial files work.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "node: load config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.GenesisFile == "" {
		return ErrNoGenesis
	}
	switch c.Backend {
	case BackendMock, BackendGroth16, BackendRecursive:
	default:
		return errors.Wrap(ErrUnknownBackend, c.Backend)
	}
	if c.SourceBuffer <= 0 {
		return ErrBadBuffer
	}
	return c.Chain.Params().Validate()
}

// Params converts the TOML section into chain parameters.
func (c ChainConfig) Params() light.ChainParams {
	return light.ChainParams{
		GenesisTime:              c.GenesisTime,
		SlotDuration:             time.Duration(c.SlotSeconds) * time.Second,
		SlotsPerEpoch:            c.SlotsPerEpoch,
		EpochsPerCommitteePeriod: c.EpochsPerPeriod,
		MaxClockSkewSlots:        c.MaxClockSkewSlots,
		RotationGraceSlots:       c.RotationGraceSlots,
		QuorumNumerator:          c.QuorumNumerator,
		QuorumDenominator:        c.QuorumDenominator,
		CommitteeSize:            c.CommitteeSize,
		MaxBatchSize:             c.MaxBatchSize,
	}
}

// Retry converts the TOML section into a driver retry policy.
func (c RetryConfig) Retry() driver.RetryConfig {
	return driver.RetryConfig{
		MaxRetries:   c.MaxRetries,
		InitialDelay: time.Duration(c.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxDelayMS) * time.Millisecond,
		Factor:       c.Factor,
	}
}

// LogConfig converts the TOML section into a logger configuration.
func (c LogConfig) LogConfig() log.Config {
	return log.Config{
		Level:      c.Level,
		Console:    c.Console,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
	}
}
