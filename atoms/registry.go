// Package atoms maintains the registry of knowledge atoms. Every atom is
// backed by a hypergraph node whose buffer holds the atom's embedding, and a
// link atom is connected to each of its members by a hypergraph edge.
package atoms

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/hypergraph"
	"github.com/sbl8/echokern/metrics"
	"github.com/sbl8/echokern/tensor"
)

const (
	DefaultMaxAtoms     = 8192
	DefaultEmbeddingDim = 512

	// LinkWeight is the weight of the edge from a link to each member.
	LinkWeight float32 = 1.0
)

var (
	ErrUnknownAtom = errors.New("atoms: unknown atom")
	ErrEmptyLink   = errors.New("atoms: link has no members")
	ErrInvalidType = errors.New("atoms: invalid atom type")
	ErrNoStore     = errors.New("atoms: no hypergraph store")
)

// Type classifies an atom.
type Type uint8

const (
	Node Type = iota
	Link
	Concept
	Predicate

	numTypes = 4
)

func (t Type) String() string {
	switch t {
	case Node:
		return "node"
	case Link:
		return "link"
	case Concept:
		return "concept"
	case Predicate:
		return "predicate"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Handle identifies an atom. Zero is never a valid handle.
type Handle uint64

// Atom is a snapshot of a registered atom.
type Atom struct {
	Handle    Handle
	Type      Type
	Name      string // empty for unnamed atoms
	Outgoing  []Handle
	Node      hypergraph.NodeHandle
	Depth     uint32
	Embedding *tensor.Buffer
}

// Neighbor is an atom reachable over one outgoing edge.
type Neighbor struct {
	Handle Handle
	Weight float32
}

// Options configures a Registry.
type Options struct {
	MaxAtoms     int
	EmbeddingDim int
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

// DefaultOptions returns the standard table size and embedding width.
func DefaultOptions() Options {
	return Options{
		MaxAtoms:     DefaultMaxAtoms,
		EmbeddingDim: DefaultEmbeddingDim,
		Logger:       zerolog.Nop(),
	}
}

// Registry owns the atom table. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	svc   tensor.Service
	store *hypergraph.Store

	atoms  map[Handle]*Atom
	names  map[string]Handle
	byNode map[hypergraph.NodeHandle]Handle
	next   uint64

	maxAtoms int
	dim      int

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an uninitialized registry.
func New(opts Options) *Registry {
	if opts.MaxAtoms <= 0 {
		opts.MaxAtoms = DefaultMaxAtoms
	}
	if opts.EmbeddingDim <= 0 {
		opts.EmbeddingDim = DefaultEmbeddingDim
	}
	return &Registry{
		atoms:    make(map[Handle]*Atom),
		names:    make(map[string]Handle),
		byNode:   make(map[hypergraph.NodeHandle]Handle),
		maxAtoms: opts.MaxAtoms,
		dim:      opts.EmbeddingDim,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

// Init binds the registry to the tensor service and hypergraph store.
// Calling it again is a no-op.
func (r *Registry) Init(svc tensor.Service, store *hypergraph.Store) error {
	if svc == nil {
		return hypergraph.ErrNoTensorContext
	}
	if store == nil {
		return ErrNoStore
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		return nil
	}
	r.svc = svc
	r.store = store
	r.log.Info().Int("max_atoms", r.maxAtoms).Int("embedding_dim", r.dim).Msg("atom registry initialized")
	return nil
}

// Initialized reports whether Init has succeeded.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store != nil
}

// Alloc registers an atom. A non-empty name that is already registered
// returns the existing atom's handle without creating anything.
func (r *Registry) Alloc(t Type, name string) (Handle, error) {
	if t >= numTypes {
		return 0, fmt.Errorf("%w: %d", ErrInvalidType, t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return 0, core.ErrNotInitialized
	}
	if name != "" {
		if h, ok := r.names[name]; ok {
			return h, nil
		}
	}
	a, err := r.allocLocked(t, name, 0)
	if err != nil {
		return 0, err
	}
	return a.Handle, nil
}

func (r *Registry) allocLocked(t Type, name string, depth uint32) (*Atom, error) {
	if len(r.atoms) >= r.maxAtoms {
		return nil, fmt.Errorf("atoms: table full: %w", core.ErrCapacity)
	}
	node, buf, err := r.store.AllocNode(r.dim*4, depth)
	if err != nil {
		return nil, fmt.Errorf("atoms: backing node: %w", err)
	}

	r.next++
	a := &Atom{
		Handle:    Handle(r.next),
		Type:      t,
		Name:      name,
		Node:      node,
		Depth:     depth,
		Embedding: buf,
	}
	r.atoms[a.Handle] = a
	r.byNode[node] = a.Handle
	if name != "" {
		r.names[name] = a.Handle
	}
	r.metrics.SetAtoms(len(r.atoms))
	return a, nil
}

// unregisterLocked removes a and its backing node.
func (r *Registry) unregisterLocked(a *Atom) error {
	delete(r.atoms, a.Handle)
	delete(r.byNode, a.Node)
	if a.Name != "" {
		delete(r.names, a.Name)
	}
	r.metrics.SetAtoms(len(r.atoms))
	return r.store.ReleaseNode(a.Node)
}

// CreateLink creates an unnamed link atom of type t pointing at members, in
// order. Either the link and every member edge are created, or nothing is.
func (r *Registry) CreateLink(t Type, members []Handle) (Handle, error) {
	if t >= numTypes {
		return 0, fmt.Errorf("%w: %d", ErrInvalidType, t)
	}
	if len(members) == 0 {
		return 0, ErrEmptyLink
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return 0, core.ErrNotInitialized
	}

	targets := make([]hypergraph.NodeHandle, len(members))
	var depth uint32
	for i, m := range members {
		ma, ok := r.atoms[m]
		if !ok {
			return 0, fmt.Errorf("%w: member %d (%d)", ErrUnknownAtom, i, m)
		}
		targets[i] = ma.Node
		depth = max(depth, ma.Depth+1)
	}
	if len(r.atoms) >= r.maxAtoms {
		return 0, fmt.Errorf("atoms: table full: %w", core.ErrCapacity)
	}
	if free := r.store.EdgeSlotsFree(); free < len(members) {
		return 0, fmt.Errorf("atoms: link needs %d edges, %d free: %w", len(members), free, core.ErrCapacity)
	}

	link, err := r.allocLocked(t, "", depth)
	if err != nil {
		return 0, err
	}
	link.Outgoing = slices.Clone(members)

	for i, target := range targets {
		if _, err := r.store.CreateEdge(link.Node, target, LinkWeight); err != nil {
			// Releasing the node drops the edges created so far.
			if rerr := r.unregisterLocked(link); rerr != nil {
				r.log.Error().Err(rerr).Uint64("atom", uint64(link.Handle)).Msg("link rollback failed")
			}
			return 0, fmt.Errorf("atoms: link edge %d: %w", i, err)
		}
	}

	r.log.Debug().Uint64("atom", uint64(link.Handle)).Str("type", t.String()).Int("arity", len(members)).Msg("link created")
	return link.Handle, nil
}

// Get returns a snapshot of the atom h.
func (r *Registry) Get(h Handle) (Atom, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.atoms[h]
	if !ok {
		return Atom{}, false
	}
	cp := *a
	cp.Outgoing = slices.Clone(a.Outgoing)
	return cp, true
}

// Exists reports whether h is registered.
func (r *Registry) Exists(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.atoms[h]
	return ok
}

// Lookup returns the handle registered under name.
func (r *Registry) Lookup(name string) (Handle, bool) {
	if name == "" {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.names[name]
	return h, ok
}

// Neighbors returns the atoms reachable from h over outgoing hypergraph
// edges, in edge creation order.
func (r *Registry) Neighbors(h Handle) ([]Neighbor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil, core.ErrNotInitialized
	}
	a, ok := r.atoms[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAtom, h)
	}
	var out []Neighbor
	for _, e := range r.store.OutEdges(a.Node) {
		if nh, ok := r.byNode[e.Dst]; ok {
			out = append(out, Neighbor{Handle: nh, Weight: e.Weight})
		}
	}
	return out, nil
}

// Handles returns every registered handle in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := make([]Handle, 0, len(r.atoms))
	for h := range r.atoms {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// Count returns the number of registered atoms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.atoms)
}
