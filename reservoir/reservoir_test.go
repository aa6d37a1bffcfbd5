package reservoir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/echokern/tensor"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 3
	cfg.ReservoirSize = 5
	cfg.OutputSize = 2
	cfg.SpectralRadius = 0.9
	return cfg
}

func TestCreateDestroyReleasesEverything(t *testing.T) {
	t.Parallel()

	ctx := tensor.NewContext(0)
	r, err := New(ctx, smallConfig())
	require.NoError(t, err)
	assert.Equal(t, 5, ctx.Live())

	require.NoError(t, r.Destroy())
	assert.Zero(t, ctx.Live())
	assert.Zero(t, ctx.Used())
	assert.ErrorIs(t, r.Destroy(), ErrDestroyed)
}

func TestDestroyedReservoirRejectsCalls(t *testing.T) {
	t.Parallel()

	r, err := New(tensor.NewContext(0), smallConfig())
	require.NoError(t, err)
	require.NoError(t, r.Destroy())

	out := make([]float32, 2)
	assert.ErrorIs(t, r.Process([]float32{1, 2, 3}, out), ErrDestroyed)
	assert.ErrorIs(t, r.Reset(), ErrDestroyed)
	_, err = r.State()
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestNewFailureFreesPartialAllocations(t *testing.T) {
	t.Parallel()

	// Room for W_in and part of the rest, but not everything.
	ctx := tensor.NewContext(512)
	cfg := smallConfig()
	cfg.ReservoirSize = 16
	_, err := New(ctx, cfg)
	assert.ErrorIs(t, err, tensor.ErrOutOfMemory)
	assert.Zero(t, ctx.Live())
}

func TestInvalidConfig(t *testing.T) {
	t.Parallel()

	ctx := tensor.NewContext(0)
	for _, mutate := range []func(*Config){
		func(c *Config) { c.InputSize = 0 },
		func(c *Config) { c.ReservoirSize = -1 },
		func(c *Config) { c.OutputSize = 0 },
		func(c *Config) { c.SpectralRadius = -0.5 },
	} {
		cfg := smallConfig()
		mutate(&cfg)
		_, err := New(ctx, cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
	_, err := New(nil, smallConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, ctx.Live())
}

func TestProcessDimensions(t *testing.T) {
	t.Parallel()

	r, err := New(tensor.NewContext(0), smallConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, r.Process([]float32{1, 2}, make([]float32, 2)), ErrDimension)
	assert.ErrorIs(t, r.Process([]float32{1, 2, 3}, make([]float32, 3)), ErrDimension)
}

func TestDeterministicFromZeroState(t *testing.T) {
	t.Parallel()

	input := []float32{0.5, -0.25, 1}
	ctx := tensor.NewContext(0)

	a, err := New(ctx, smallConfig())
	require.NoError(t, err)
	b, err := New(ctx, smallConfig())
	require.NoError(t, err)

	outA := make([]float32, 2)
	outB := make([]float32, 2)
	require.NoError(t, a.Process(input, outA))
	require.NoError(t, b.Process(input, outB))
	assert.Equal(t, outA, outB)

	// Resetting brings the same reservoir back to the same trajectory.
	require.NoError(t, a.Reset())
	again := make([]float32, 2)
	require.NoError(t, a.Process(input, again))
	assert.Equal(t, outA, again)
}

func TestStateChangesOutput(t *testing.T) {
	t.Parallel()

	r, err := New(tensor.NewContext(0), smallConfig())
	require.NoError(t, err)

	input := []float32{0.5, -0.25, 1}
	first := make([]float32, 2)
	second := make([]float32, 2)
	require.NoError(t, r.Process(input, first))

	state, err := r.State()
	require.NoError(t, err)
	assert.NotEqual(t, make([]float32, 5), state)

	require.NoError(t, r.Process(input, second))
	assert.NotEqual(t, first, second)

	for _, v := range state {
		assert.True(t, v > -1 && v < 1, "state %v outside tanh range", v)
	}
}

func TestSeedChangesWeights(t *testing.T) {
	t.Parallel()

	ctx := tensor.NewContext(0)
	cfg := smallConfig()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	cfg.Seed = 7
	b, err := New(ctx, cfg)
	require.NoError(t, err)

	input := []float32{1, 1, 1}
	outA := make([]float32, 2)
	outB := make([]float32, 2)
	require.NoError(t, a.Process(input, outA))
	require.NoError(t, b.Process(input, outB))
	assert.NotEqual(t, outA, outB)
}

func TestSpectralRadiusMatchesTarget(t *testing.T) {
	t.Parallel()

	for _, target := range []float64{0.5, 0.9, 1.2} {
		cfg := DefaultConfig()
		cfg.SpectralRadius = target
		r, err := New(tensor.NewContext(0), cfg)
		require.NoError(t, err)
		assert.InDelta(t, target, r.SpectralRadius(), 1e-3, "target %v", target)
	}

	cfg := smallConfig()
	cfg.SpectralRadius = 0
	r, err := New(tensor.NewContext(0), cfg)
	require.NoError(t, err)
	assert.Zero(t, r.SpectralRadius())
}

func BenchmarkProcess(b *testing.B) {
	r, err := New(tensor.NewContext(0), DefaultConfig())
	if err != nil {
		b.Fatal(err)
	}
	input := []float32{0.1, 0.2, 0.3}
	output := make([]float32, 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Process(input, output); err != nil {
			b.Fatal(err)
		}
	}
}
