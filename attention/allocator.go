// Package attention tracks economic attention values for atoms.
//
// Values are created lazily at (0.5, 0.5, 0.5) the first time an atom is
// touched. Each Update optionally spreads a fraction of short-term
// importance along outgoing edges, then decays STI and folds it into LTI.
package attention

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/atoms"
	"github.com/sbl8/echokern/core"
)

const (
	DefaultDecay   float32 = 0.99
	DefaultLTIRate float32 = 0.01
)

var ErrNoRegistry = errors.New("attention: no atom registry")

// Value is an atom's attention triple.
type Value struct {
	STI  float32 // short-term importance
	LTI  float32 // long-term importance
	VLTI float32 // very-long-term importance
}

// DefaultValue is assigned to atoms on first access.
var DefaultValue = Value{STI: 0.5, LTI: 0.5, VLTI: 0.5}

func (v Value) clamped() Value {
	return Value{STI: clamp01(v.STI), LTI: clamp01(v.LTI), VLTI: clamp01(v.VLTI)}
}

func clamp01(x float32) float32 {
	return min(max(x, 0), 1)
}

// Options configures an Allocator.
type Options struct {
	Decay          float32 // STI multiplier per update
	LTIRate        float32 // weight of STI folded into LTI per update
	SpreadFraction float32 // share of STI spread to neighbours per update
	Logger         zerolog.Logger
}

// DefaultOptions returns decay-only settings.
func DefaultOptions() Options {
	return Options{
		Decay:   DefaultDecay,
		LTIRate: DefaultLTIRate,
		Logger:  zerolog.Nop(),
	}
}

// Allocator holds the attention cache. All methods are safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	reg    *atoms.Registry
	values map[atoms.Handle]Value
	opts   Options
	log    zerolog.Logger
}

// New creates an uninitialized allocator. Out-of-range options fall back
// to defaults.
func New(opts Options) *Allocator {
	if opts.Decay <= 0 || opts.Decay > 1 {
		opts.Decay = DefaultDecay
	}
	if opts.LTIRate < 0 || opts.LTIRate > 1 {
		opts.LTIRate = DefaultLTIRate
	}
	opts.SpreadFraction = clamp01(opts.SpreadFraction)
	return &Allocator{
		values: make(map[atoms.Handle]Value),
		opts:   opts,
		log:    opts.Logger,
	}
}

// Init binds the allocator to a registry. Calling it again is a no-op.
func (a *Allocator) Init(reg *atoms.Registry) error {
	if reg == nil {
		return ErrNoRegistry
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reg != nil {
		return nil
	}
	a.reg = reg
	a.log.Info().
		Float32("decay", a.opts.Decay).
		Float32("spread", a.opts.SpreadFraction).
		Msg("attention allocator initialized")
	return nil
}

// Initialized reports whether Init has succeeded.
func (a *Allocator) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reg != nil
}

// Get returns h's attention value, creating the default on first access.
func (a *Allocator) Get(h atoms.Handle) (Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkLocked(h); err != nil {
		return Value{}, err
	}
	return a.valueLocked(h), nil
}

func (a *Allocator) checkLocked(h atoms.Handle) error {
	if a.reg == nil {
		return core.ErrNotInitialized
	}
	if !a.reg.Exists(h) {
		return fmt.Errorf("%w: %d", atoms.ErrUnknownAtom, h)
	}
	return nil
}

func (a *Allocator) valueLocked(h atoms.Handle) Value {
	v, ok := a.values[h]
	if !ok {
		v = DefaultValue
		a.values[h] = v
	}
	return v
}

// Set overwrites h's value, clamping each component to [0, 1].
func (a *Allocator) Set(h atoms.Handle, v Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkLocked(h); err != nil {
		return err
	}
	a.values[h] = v.clamped()
	return nil
}

// Stimulate adds amount to h's STI, clamped to [0, 1].
func (a *Allocator) Stimulate(h atoms.Handle, amount float32) (Value, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkLocked(h); err != nil {
		return Value{}, err
	}
	v := a.valueLocked(h)
	v.STI = clamp01(v.STI + amount)
	a.values[h] = v
	return v, nil
}

// Update runs one attention cycle over every cached value and returns how
// many were updated. The count includes neighbours that the spread step
// pulled into the cache this cycle.
func (a *Allocator) Update() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.reg == nil {
		return 0, core.ErrNotInitialized
	}
	if a.opts.SpreadFraction > 0 {
		a.spreadLocked()
	}

	decay := a.opts.Decay
	rate := a.opts.LTIRate
	for h, v := range a.values {
		v.STI *= decay
		v.LTI = (1-rate)*v.LTI + rate*v.STI
		a.values[h] = v.clamped()
	}
	return len(a.values), nil
}

// spreadLocked moves SpreadFraction of each atom's STI to its neighbours in
// proportion to edge weight. Shares are computed from the values at the
// start of the cycle. A neighbour with no cached value is first cached at
// DefaultValue and receives its share on top of that, so the total STI is
// unchanged before clamping once each such neighbour is counted at its
// implicit default.
func (a *Allocator) spreadLocked() {
	senders := make([]atoms.Handle, 0, len(a.values))
	for h := range a.values {
		senders = append(senders, h)
	}
	slices.Sort(senders)

	delta := make(map[atoms.Handle]float32)
	for _, h := range senders {
		neighbors, err := a.reg.Neighbors(h)
		if err != nil {
			a.log.Debug().Err(err).Uint64("atom", uint64(h)).Msg("skipping spread")
			continue
		}
		var total float32
		for _, n := range neighbors {
			if n.Weight > 0 {
				total += n.Weight
			}
		}
		if total == 0 {
			continue
		}
		amount := a.opts.SpreadFraction * a.values[h].STI
		delta[h] -= amount
		for _, n := range neighbors {
			if n.Weight > 0 {
				delta[n.Handle] += amount * n.Weight / total
			}
		}
	}

	for h, d := range delta {
		v := a.valueLocked(h)
		v.STI += d
		a.values[h] = v
	}
}

// Focus returns up to n atoms with the highest STI, ties broken by handle.
func (a *Allocator) Focus(n int) []atoms.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n <= 0 {
		return nil
	}
	hs := make([]atoms.Handle, 0, len(a.values))
	for h := range a.values {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, func(x, y atoms.Handle) int {
		vx, vy := a.values[x].STI, a.values[y].STI
		switch {
		case vx > vy:
			return -1
		case vx < vy:
			return 1
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	if len(hs) > n {
		hs = hs[:n]
	}
	return hs
}

// Count returns the number of cached values.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.values)
}
