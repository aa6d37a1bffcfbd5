package truth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/echokern/atoms"
	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/hypergraph"
	"github.com/sbl8/echokern/tensor"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(DefaultOptions())
	require.NoError(t, e.Init(nil))
	return e
}

func TestNotInitialized(t *testing.T) {
	t.Parallel()

	e := New(DefaultOptions())
	_, err := e.Evaluate(1, nil)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = e.Unify(1, 2)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	assert.ErrorIs(t, e.Assert(1, Value{0.5, 0.5}), core.ErrNotInitialized)
}

func TestEvaluateMeans(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	require.NoError(t, e.Assert(1, Value{Strength: 0.4, Confidence: 0.8}))
	require.NoError(t, e.Assert(2, Value{Strength: 0.6, Confidence: 0.5}))

	// Atom 3 has no value and does not count towards the means.
	v, err := e.Evaluate(10, []atoms.Handle{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, v.Strength, 1e-6)
	assert.InDelta(t, math.Sqrt(0.8*0.5), v.Confidence, 1e-6)
}

func TestEvaluateDefault(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	v, err := e.Evaluate(1, []atoms.Handle{7, 8})
	require.NoError(t, err)
	assert.Equal(t, Value{Strength: 0.5, Confidence: 0.1}, v)
}

func TestEvaluateIsCachedPermanently(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	first, err := e.Evaluate(1, nil)
	require.NoError(t, err)

	require.NoError(t, e.Assert(2, Value{Strength: 0.9, Confidence: 0.9}))
	second, err := e.Evaluate(1, []atoms.Handle{2})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	got, ok := e.Get(1)
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestUnify(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	require.NoError(t, e.Assert(1, Value{Strength: 0.50, Confidence: 0.4}))
	require.NoError(t, e.Assert(2, Value{Strength: 0.60, Confidence: 0.7}))
	require.NoError(t, e.Assert(3, Value{Strength: 0.55, Confidence: 0.4}))
	require.NoError(t, e.Assert(4, Value{Strength: 0.90, Confidence: 0.9}))

	tests := []struct {
		name    string
		a, b    atoms.Handle
		want    atoms.Handle
		wantErr error
	}{
		{"higher confidence wins", 1, 2, 2, nil},
		{"order does not matter", 2, 1, 2, nil},
		{"tie goes to first", 1, 3, 1, nil},
		{"tie goes to first reversed", 3, 1, 3, nil},
		{"too far apart", 1, 4, 0, ErrNotUnifiable},
		{"missing value", 1, 99, 0, ErrNoTruthValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Unify(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssertValidates(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	assert.ErrorIs(t, e.Assert(1, Value{Strength: 1.5, Confidence: 0.5}), ErrInvalidValue)
	assert.ErrorIs(t, e.Assert(1, Value{Strength: 0.5, Confidence: -0.1}), ErrInvalidValue)
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	ctx := tensor.NewContext(0)
	store := hypergraph.New(hypergraph.DefaultOptions())
	require.NoError(t, store.Init(ctx))
	reg := atoms.New(atoms.DefaultOptions())
	require.NoError(t, reg.Init(ctx, store))
	cat, err := reg.Alloc(atoms.Concept, "cat")
	require.NoError(t, err)

	e := New(DefaultOptions())
	require.NoError(t, e.Init(reg))

	require.NoError(t, e.Assert(cat, Value{Strength: 0.7, Confidence: 0.6}))
	assert.ErrorIs(t, e.Assert(cat+100, Value{}), atoms.ErrUnknownAtom)
	_, err = e.Evaluate(cat+100, nil)
	assert.ErrorIs(t, err, atoms.ErrUnknownAtom)
}

func TestRules(t *testing.T) {
	t.Parallel()

	ab := Value{Strength: 0.8, Confidence: 0.9}
	bc := Value{Strength: 0.7, Confidence: 0.6}

	d := Deduction(ab, bc)
	assert.InDelta(t, 0.8*0.7+0.2*0.3, d.Strength, 1e-6)
	assert.InDelta(t, 0.6*InferenceDiscount, d.Confidence, 1e-6)

	inv := Invert(ab)
	assert.Equal(t, ab.Strength, inv.Strength)
	assert.InDelta(t, 0.9*InferenceDiscount, inv.Confidence, 1e-6)

	i := Induction(ab, bc)
	assert.InDelta(t, d.Strength, i.Strength, 1e-6)
	assert.InDelta(t, 0.6*InferenceDiscount, i.Confidence, 1e-6)

	a := Abduction(ab, bc)
	assert.InDelta(t, d.Strength, a.Strength, 1e-6)
	assert.InDelta(t, 0.6*InferenceDiscount*InferenceDiscount, a.Confidence, 1e-6)

	certain := Deduction(Value{1, 1}, Value{1, 1})
	assert.Equal(t, float32(1), certain.Strength)
}
