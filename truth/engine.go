// Package truth implements probabilistic truth values for atoms: a
// permanent per-atom cache, context evaluation, threshold unification and
// the deduction, induction and abduction combinators.
package truth

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/atoms"
	"github.com/sbl8/echokern/core"
)

const (
	DefaultStrength       float32 = 0.5
	DefaultConfidence     float32 = 0.1
	DefaultUnifyThreshold float32 = 0.2
)

var (
	ErrNoTruthValue = errors.New("truth: atom has no truth value")
	ErrNotUnifiable = errors.New("truth: strengths too far apart")
	ErrInvalidValue = errors.New("truth: value out of range")
)

// Value is a (strength, confidence) pair, both in [0, 1].
type Value struct {
	Strength   float32
	Confidence float32
}

func (v Value) String() string {
	return fmt.Sprintf("<%.3f, %.3f>", v.Strength, v.Confidence)
}

func (v Value) valid() bool {
	return v.Strength >= 0 && v.Strength <= 1 && v.Confidence >= 0 && v.Confidence <= 1
}

// Options configures an Engine.
type Options struct {
	Default        Value   // result of evaluating against no known context
	UnifyThreshold float32 // maximum strength gap Unify accepts (exclusive)
	Logger         zerolog.Logger
}

// DefaultOptions returns the standard defaults.
func DefaultOptions() Options {
	return Options{
		Default:        Value{Strength: DefaultStrength, Confidence: DefaultConfidence},
		UnifyThreshold: DefaultUnifyThreshold,
		Logger:         zerolog.Nop(),
	}
}

// Engine holds the truth-value cache. All methods are safe for concurrent use.
type Engine struct {
	mu          sync.Mutex
	initialized bool
	reg         *atoms.Registry
	values      map[atoms.Handle]Value
	opts        Options
	log         zerolog.Logger
}

// New creates an uninitialized engine.
func New(opts Options) *Engine {
	if !opts.Default.valid() || opts.Default == (Value{}) {
		opts.Default = Value{Strength: DefaultStrength, Confidence: DefaultConfidence}
	}
	if opts.UnifyThreshold <= 0 {
		opts.UnifyThreshold = DefaultUnifyThreshold
	}
	return &Engine{
		values: make(map[atoms.Handle]Value),
		opts:   opts,
		log:    opts.Logger,
	}
}

// Init readies the engine. reg may be nil, in which case handles are not
// validated. Calling it again is a no-op.
func (e *Engine) Init(reg *atoms.Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	e.reg = reg
	e.initialized = true
	e.log.Info().Bool("validating", reg != nil).Msg("truth engine initialized")
	return nil
}

// Initialized reports whether Init has run.
func (e *Engine) Initialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *Engine) checkLocked(h atoms.Handle) error {
	if !e.initialized {
		return core.ErrNotInitialized
	}
	if e.reg != nil && !e.reg.Exists(h) {
		return fmt.Errorf("%w: %d", atoms.ErrUnknownAtom, h)
	}
	return nil
}

// Assert caches v for h. An already cached value is replaced.
func (e *Engine) Assert(h atoms.Handle, v Value) error {
	if !v.valid() {
		return fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(h); err != nil {
		return err
	}
	e.values[h] = v
	return nil
}

// Get returns h's cached value.
func (e *Engine) Get(h atoms.Handle) (Value, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[h]
	return v, ok
}

// Evaluate returns query's cached value, or derives one from the context
// atoms that have cached values: the arithmetic mean of their strengths and
// the geometric mean of their confidences. The result is cached permanently.
func (e *Engine) Evaluate(query atoms.Handle, context []atoms.Handle) (Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkLocked(query); err != nil {
		return Value{}, err
	}
	if v, ok := e.values[query]; ok {
		return v, nil
	}

	var (
		n        int
		strength float64
		logConf  float64
	)
	for _, h := range context {
		v, ok := e.values[h]
		if !ok {
			continue
		}
		n++
		strength += float64(v.Strength)
		logConf += math.Log(float64(v.Confidence))
	}

	v := e.opts.Default
	if n > 0 {
		v = Value{
			Strength:   float32(strength / float64(n)),
			Confidence: float32(math.Exp(logConf / float64(n))),
		}
	}
	e.values[query] = v
	e.log.Debug().Uint64("atom", uint64(query)).Int("context", n).Stringer("value", v).Msg("truth value evaluated")
	return v, nil
}

// Unify returns whichever of a and b has the higher confidence when their
// strengths differ by less than the unify threshold. Ties go to a.
func (e *Engine) Unify(a, b atoms.Handle) (atoms.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return 0, core.ErrNotInitialized
	}
	va, ok := e.values[a]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoTruthValue, a)
	}
	vb, ok := e.values[b]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrNoTruthValue, b)
	}
	gap := va.Strength - vb.Strength
	if gap < 0 {
		gap = -gap
	}
	if gap >= e.opts.UnifyThreshold {
		return 0, fmt.Errorf("%w: |%.3f - %.3f| >= %.3f", ErrNotUnifiable, va.Strength, vb.Strength, e.opts.UnifyThreshold)
	}
	if vb.Confidence > va.Confidence {
		return b, nil
	}
	return a, nil
}

// Count returns the number of cached values.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.values)
}
