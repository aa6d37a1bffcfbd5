package atoms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/hypergraph"
	"github.com/sbl8/echokern/tensor"
)

type fixture struct {
	reg   *Registry
	store *hypergraph.Store
	ctx   *tensor.Context
}

func newFixture(t *testing.T, maxAtoms, maxNodes, maxEdges int) fixture {
	t.Helper()
	ctx := tensor.NewContext(0)
	store := hypergraph.New(hypergraph.Options{MaxNodes: maxNodes, MaxEdges: maxEdges})
	require.NoError(t, store.Init(ctx))

	opts := DefaultOptions()
	opts.MaxAtoms = maxAtoms
	reg := New(opts)
	require.NoError(t, reg.Init(ctx, store))
	return fixture{reg: reg, store: store, ctx: ctx}
}

func TestNotInitialized(t *testing.T) {
	t.Parallel()

	r := New(DefaultOptions())
	_, err := r.Alloc(Concept, "cat")
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = r.CreateLink(Link, []Handle{1})
	assert.ErrorIs(t, err, core.ErrNotInitialized)
	_, err = r.Neighbors(1)
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	assert.ErrorIs(t, r.Init(nil, nil), hypergraph.ErrNoTensorContext)
	assert.ErrorIs(t, r.Init(tensor.NewContext(0), nil), ErrNoStore)
	assert.False(t, r.Initialized())
}

func TestAllocNamedIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	cat, err := f.reg.Alloc(Concept, "cat")
	require.NoError(t, err)
	again, err := f.reg.Alloc(Concept, "cat")
	require.NoError(t, err)

	assert.Equal(t, cat, again)
	assert.Equal(t, 1, f.reg.Count())
	assert.Equal(t, 1, f.store.NodeCount())

	a, ok := f.reg.Get(cat)
	require.True(t, ok)
	assert.Equal(t, "cat", a.Name)
	assert.Equal(t, Concept, a.Type)
	assert.Equal(t, DefaultEmbeddingDim, a.Embedding.Len())

	h, ok := f.reg.Lookup("cat")
	require.True(t, ok)
	assert.Equal(t, cat, h)
}

func TestAllocUnnamedAlwaysCreates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	a, err := f.reg.Alloc(Node, "")
	require.NoError(t, err)
	b, err := f.reg.Alloc(Node, "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, []Handle{a, b}, f.reg.Handles())
	_, ok := f.reg.Lookup("")
	assert.False(t, ok)
}

func TestAllocCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, 16, 16)
	_, err := f.reg.Alloc(Concept, "a")
	require.NoError(t, err)
	_, err = f.reg.Alloc(Concept, "b")
	require.NoError(t, err)
	_, err = f.reg.Alloc(Concept, "c")
	assert.ErrorIs(t, err, core.ErrCapacity)

	// Existing names still resolve when full.
	_, err = f.reg.Alloc(Concept, "a")
	assert.NoError(t, err)

	g := newFixture(t, 16, 1, 16)
	_, err = g.reg.Alloc(Concept, "a")
	require.NoError(t, err)
	_, err = g.reg.Alloc(Concept, "b")
	assert.ErrorIs(t, err, core.ErrCapacity)
	assert.Equal(t, 1, g.reg.Count())
}

func TestAllocInvalidType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 4, 4, 4)
	_, err := f.reg.Alloc(Type(9), "x")
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestCreateLink(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	cat, _ := f.reg.Alloc(Concept, "cat")
	animal, _ := f.reg.Alloc(Concept, "animal")

	link, err := f.reg.CreateLink(Link, []Handle{cat, animal})
	require.NoError(t, err)

	a, ok := f.reg.Get(link)
	require.True(t, ok)
	assert.Empty(t, a.Name)
	assert.Equal(t, []Handle{cat, animal}, a.Outgoing)
	assert.Equal(t, uint32(1), a.Depth)
	assert.Equal(t, 2, f.store.EdgeCount())

	ns, err := f.reg.Neighbors(link)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{cat, LinkWeight}, {animal, LinkWeight}}, ns)

	ns, err = f.reg.Neighbors(cat)
	require.NoError(t, err)
	assert.Empty(t, ns)

	_, err = f.reg.Neighbors(999)
	assert.ErrorIs(t, err, ErrUnknownAtom)
}

func TestCreateLinkUnknownMemberCreatesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	cat, _ := f.reg.Alloc(Concept, "cat")

	_, err := f.reg.CreateLink(Link, []Handle{cat, 42})
	assert.ErrorIs(t, err, ErrUnknownAtom)
	assert.Equal(t, 1, f.reg.Count())
	assert.Equal(t, 1, f.store.NodeCount())
	assert.Zero(t, f.store.EdgeCount())

	_, err = f.reg.CreateLink(Link, nil)
	assert.ErrorIs(t, err, ErrEmptyLink)
}

func TestCreateLinkEdgeCapacityCreatesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 2)
	a, _ := f.reg.Alloc(Concept, "a")
	b, _ := f.reg.Alloc(Concept, "b")
	c, _ := f.reg.Alloc(Concept, "c")

	_, err := f.reg.CreateLink(Link, []Handle{a, b, c})
	assert.ErrorIs(t, err, core.ErrCapacity)
	assert.Equal(t, 3, f.reg.Count())
	assert.Equal(t, 3, f.store.NodeCount())
	assert.Zero(t, f.store.EdgeCount())
}

func TestCreateLinkRollsBackOnEdgeFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	a, _ := f.reg.Alloc(Concept, "a")
	b, _ := f.reg.Alloc(Concept, "b")

	// Pull b's node out from under the registry so the second edge fails.
	bAtom, _ := f.reg.Get(b)
	require.NoError(t, f.store.ReleaseNode(bAtom.Node))
	live := f.ctx.Live()

	_, err := f.reg.CreateLink(Link, []Handle{a, b})
	assert.ErrorIs(t, err, hypergraph.ErrUnknownNode)
	assert.Equal(t, 2, f.reg.Count())
	assert.Equal(t, 1, f.store.NodeCount())
	assert.Zero(t, f.store.EdgeCount())
	assert.Equal(t, live, f.ctx.Live())
}

func TestNestedLinkDepth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 16, 16, 16)
	a, _ := f.reg.Alloc(Concept, "a")
	b, _ := f.reg.Alloc(Concept, "b")
	inner, err := f.reg.CreateLink(Link, []Handle{a, b})
	require.NoError(t, err)
	outer, err := f.reg.CreateLink(Predicate, []Handle{inner, a})
	require.NoError(t, err)

	o, _ := f.reg.Get(outer)
	assert.Equal(t, uint32(2), o.Depth)
	n, ok := f.store.Node(o.Node)
	require.True(t, ok)
	assert.Equal(t, uint32(2), n.Depth)
}
