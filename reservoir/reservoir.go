// Package reservoir implements an echo-state network compute unit.
//
// A Reservoir owns three weight matrices and a recurrent state vector, all
// allocated from a tensor service:
//
//	state  ← tanh(W_in·input + W_res·state)
//	output ← W_out·state
//
// Weights are drawn uniformly from [-1, 1] with a seeded PCG source, so two
// reservoirs built from the same Config are identical. W_res is rescaled
// so its power-iteration spectral radius estimate equals the configured
// target.
package reservoir

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/kernels"
	"github.com/sbl8/echokern/metrics"
	"github.com/sbl8/echokern/tensor"
)

// DefaultSeed is used when Config.Seed is zero.
const DefaultSeed uint64 = 42

var (
	ErrInvalidConfig = errors.New("reservoir: invalid config")
	ErrDimension     = errors.New("reservoir: dimension mismatch")
	ErrDestroyed     = errors.New("reservoir: destroyed")
)

// Config describes a reservoir.
type Config struct {
	InputSize       int
	ReservoirSize   int
	OutputSize      int
	SpectralRadius  float64
	Seed            uint64 // zero selects DefaultSeed
	PowerIterations int    // zero selects kernels.DefaultPowerIterations

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a small reservoir suitable for demos and tests.
func DefaultConfig() Config {
	return Config{
		InputSize:       3,
		ReservoirSize:   100,
		OutputSize:      2,
		SpectralRadius:  0.9,
		Seed:            DefaultSeed,
		PowerIterations: kernels.DefaultPowerIterations,
		Logger:          zerolog.Nop(),
	}
}

func (c Config) validate() error {
	switch {
	case c.InputSize <= 0:
		return fmt.Errorf("%w: input size %d", ErrInvalidConfig, c.InputSize)
	case c.ReservoirSize <= 0:
		return fmt.Errorf("%w: reservoir size %d", ErrInvalidConfig, c.ReservoirSize)
	case c.OutputSize <= 0:
		return fmt.Errorf("%w: output size %d", ErrInvalidConfig, c.OutputSize)
	case c.SpectralRadius < 0:
		return fmt.Errorf("%w: spectral radius %g", ErrInvalidConfig, c.SpectralRadius)
	}
	return nil
}

// Reservoir is an echo-state network. Process, Reset and Destroy are
// serialized by an internal lock.
type Reservoir struct {
	mu  sync.Mutex
	svc tensor.Service
	cfg Config

	wIn   *tensor.Buffer // reservoir × input
	wRes  *tensor.Buffer // reservoir × reservoir
	wOut  *tensor.Buffer // output × reservoir
	state *tensor.Buffer
	next  *tensor.Buffer

	radius    float64
	destroyed bool
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// New allocates and initializes a reservoir from svc.
func New(svc tensor.Service, cfg Config) (*Reservoir, error) {
	if svc == nil {
		return nil, fmt.Errorf("%w: nil tensor service", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	if cfg.PowerIterations <= 0 {
		cfg.PowerIterations = kernels.DefaultPowerIterations
	}

	r := &Reservoir{svc: svc, cfg: cfg, log: cfg.Logger, metrics: cfg.Metrics}
	if err := r.allocate(); err != nil {
		r.release()
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	fillUniform(rng, r.wIn.Data())
	fillUniform(rng, r.wRes.Data())
	fillUniform(rng, r.wOut.Data())

	n := cfg.ReservoirSize
	if rho := kernels.SpectralRadius(r.wRes.Data(), n, cfg.PowerIterations); rho > 0 {
		kernels.Scale(r.wRes.Data(), float32(cfg.SpectralRadius/rho))
		r.radius = kernels.SpectralRadius(r.wRes.Data(), n, cfg.PowerIterations)
	}

	r.log.Debug().
		Int("input", cfg.InputSize).
		Int("reservoir", n).
		Int("output", cfg.OutputSize).
		Float64("target_radius", cfg.SpectralRadius).
		Float64("radius", r.radius).
		Msg("reservoir created")
	return r, nil
}

func (r *Reservoir) allocate() error {
	var err error
	in, n, out := r.cfg.InputSize, r.cfg.ReservoirSize, r.cfg.OutputSize
	if r.wIn, err = r.svc.Alloc2D(n, in); err != nil {
		return fmt.Errorf("reservoir: W_in: %w", err)
	}
	if r.wRes, err = r.svc.Alloc2D(n, n); err != nil {
		return fmt.Errorf("reservoir: W_res: %w", err)
	}
	if r.wOut, err = r.svc.Alloc2D(out, n); err != nil {
		return fmt.Errorf("reservoir: W_out: %w", err)
	}
	if r.state, err = r.svc.Alloc(n); err != nil {
		return fmt.Errorf("reservoir: state: %w", err)
	}
	if r.next, err = r.svc.Alloc(n); err != nil {
		return fmt.Errorf("reservoir: scratch: %w", err)
	}
	return nil
}

// release frees every allocated buffer and returns the first error.
func (r *Reservoir) release() error {
	var first error
	for _, b := range []**tensor.Buffer{&r.wIn, &r.wRes, &r.wOut, &r.state, &r.next} {
		if *b == nil {
			continue
		}
		if err := r.svc.Free(*b); err != nil && first == nil {
			first = err
		}
		*b = nil
	}
	return first
}

func fillUniform(rng *rand.Rand, data []float32) {
	for i := range data {
		data[i] = float32(rng.Float64()*2 - 1)
	}
}

// Process advances the state by one step with input and writes the readout
// into output.
func (r *Reservoir) Process(input, output []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrDestroyed
	}
	if len(input) != r.cfg.InputSize {
		return fmt.Errorf("%w: input has %d elements, want %d", ErrDimension, len(input), r.cfg.InputSize)
	}
	if len(output) != r.cfg.OutputSize {
		return fmt.Errorf("%w: output has %d elements, want %d", ErrDimension, len(output), r.cfg.OutputSize)
	}

	in, n, out := r.cfg.InputSize, r.cfg.ReservoirSize, r.cfg.OutputSize
	next, state := r.next.Data(), r.state.Data()
	kernels.MatVec(next, r.wIn.Data(), n, in, input)
	kernels.MatVecAdd(next, r.wRes.Data(), n, n, state)
	kernels.Tanh(next)
	r.state, r.next = r.next, r.state

	kernels.MatVec(output, r.wOut.Data(), out, n, r.state.Data())
	r.metrics.ReservoirStep()
	return nil
}

// Reset zeroes the recurrent state.
func (r *Reservoir) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrDestroyed
	}
	kernels.Fill(r.state.Data(), 0)
	return nil
}

// State returns a copy of the recurrent state.
func (r *Reservoir) State() ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return nil, ErrDestroyed
	}
	return append([]float32(nil), r.state.Data()...), nil
}

// SpectralRadius returns the estimated spectral radius of W_res.
func (r *Reservoir) SpectralRadius() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.radius
}

// Config returns the configuration the reservoir was built with.
func (r *Reservoir) Config() Config { return r.cfg }

// Destroy frees every buffer. Later calls return ErrDestroyed.
func (r *Reservoir) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return ErrDestroyed
	}
	r.destroyed = true
	if err := r.release(); err != nil {
		return fmt.Errorf("reservoir: destroy: %w", err)
	}
	return nil
}
