package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint64(64<<20), cfg.Arena.HeapSize)
	assert.Equal(t, 5*time.Microsecond, cfg.Scheduler.TickBudget)
	assert.Equal(t, float32(0.99), cfg.Attention.Decay)
	assert.Zero(t, cfg.Attention.SpreadFraction)
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("hypergraph:\n  max_nodes: 32\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Hypergraph.MaxNodes)
	assert.Equal(t, 16384, cfg.Hypergraph.MaxEdges)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8192, cfg.Atoms.MaxAtoms)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("attention:\n  decay: 1.5\n"), 0644))

	_, err := LoadFromPath(path)
	assert.ErrorContains(t, err, "attention.decay")
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Default().SaveToPath(path))

	t.Setenv("ECHOKERN_SCHEDULER_CAPACITY", "64")
	t.Setenv("ECHOKERN_SCHEDULER_TICK_BUDGET", "20us")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Scheduler.Capacity)
	assert.Equal(t, 20*time.Microsecond, cfg.Scheduler.TickBudget)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Reservoir.ReservoirSize = 50
	cfg.Attention.SpreadFraction = 0.25

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"heap too large", func(c *Config) { c.Arena.HeapSize = 5 << 30 }, "arena.heap_size"},
		{"no nodes", func(c *Config) { c.Hypergraph.MaxNodes = 0 }, "hypergraph"},
		{"no tick budget", func(c *Config) { c.Scheduler.TickBudget = 0 }, "tick_budget"},
		{"spread out of range", func(c *Config) { c.Attention.SpreadFraction = 2 }, "spread_fraction"},
		{"bad strength", func(c *Config) { c.Truth.DefaultStrength = -1 }, "truth"},
		{"bad reservoir", func(c *Config) { c.Reservoir.OutputSize = 0 }, "reservoir"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, "metrics.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
