package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/echokern/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&app{})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestBootReportsEveryStage(t *testing.T) {
	out, err := execute(t, "boot")
	require.NoError(t, err)
	for _, name := range []string{"init", "hypergraph", "scheduler", "cognitive"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "Subsystems")
}

func TestBootPartialStage(t *testing.T) {
	out, err := execute(t, "boot", "--stage", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "hypergraph:")
}

func TestBootRejectsUnknownStage(t *testing.T) {
	_, err := execute(t, "boot", "--stage", "warp")
	assert.Error(t, err)
}

func TestBootFailsOnTinyHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.Arena.HeapSize = 64
	require.NoError(t, cfg.SaveToPath(path))

	_, err := execute(t, "--config", path, "boot")
	assert.Error(t, err)
}

func TestDemoRunsEndToEnd(t *testing.T) {
	out, err := execute(t, "demo", "--steps", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Memory arena")
	assert.Contains(t, out, "Reservoir")
	assert.Contains(t, out, "Subsystems")
}

func TestBenchSingleSuite(t *testing.T) {
	out, err := execute(t, "bench", "--iter", "64", "--test", "scheduler")
	require.NoError(t, err)
	assert.Contains(t, out, "submit+tick batch 64")
	assert.Contains(t, out, "concurrent submit x4")
	assert.NotContains(t, out, "process n=")
}

func TestBenchRejectsUnknownSuite(t *testing.T) {
	_, err := execute(t, "bench", "--iter", "8", "--test", "gpu")
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "existing file without --force")

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "heap_size:")
	assert.Contains(t, out, "tick_budget:")
}

func TestConfigShowWithoutFlagUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	out, err := execute(t, "config", "show")
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Logging.Level = "disabled"
	want, err := cfg.YAML()
	require.NoError(t, err)
	assert.Equal(t, string(want), out)

	_, err = os.Stat(filepath.Join(home, ".echokern", "config.yaml"))
	assert.True(t, os.IsNotExist(err), "no config file is written without --config")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "echokern dev")
}

func TestUnknownTraceExporter(t *testing.T) {
	_, err := execute(t, "--trace", "jaeger", "version")
	assert.Error(t, err)
}
