package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeFile(t, "lightfold.toml", `
genesis_file = "genesis.toml"
backend = "mock"
source_buffer = 64

[chain]
slots_per_epoch = 8
epochs_per_period = 4
committee_size = 8
max_batch_size = 2
rotation_grace_slots = 8

[retry]
max_retries = 5
initial_delay_ms = 100

[log]
level = "debug"
console = true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	p := cfg.Chain.Params()
	if p.SlotsPerCommitteePeriod() != 32 {
		t.Errorf("SlotsPerCommitteePeriod() = %d, want 32", p.SlotsPerCommitteePeriod())
	}
	// Untouched keys keep their defaults.
	if p.SlotDuration != 12*time.Second {
		t.Errorf("SlotDuration = %v, want 12s", p.SlotDuration)
	}
	if p.QuorumNumerator != 2 || p.QuorumDenominator != 3 {
		t.Errorf("quorum = %d/%d, want 2/3", p.QuorumNumerator, p.QuorumDenominator)
	}
	r := cfg.Retry.Retry()
	if r.MaxRetries != 5 || r.InitialDelay != 100*time.Millisecond {
		t.Errorf("retry = %+v", r)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Console {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"missing genesis", func(c *Config) { c.GenesisFile = "" }, ErrNoGenesis},
		{"unknown backend", func(c *Config) { c.Backend = "plonk" }, ErrUnknownBackend},
		{"zero buffer", func(c *Config) { c.SourceBuffer = 0 }, ErrBadBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GenesisFile = "genesis.toml"
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GenesisFile = "genesis.toml"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := cfg.Chain.Params().Validate(); err != nil {
		t.Fatalf("Params().Validate: %v", err)
	}
}
