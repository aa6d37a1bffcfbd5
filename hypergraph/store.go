// Package hypergraph stores tensor-backed nodes and weighted directed edges
// in fixed-capacity tables.
//
// Handles are assigned monotonically starting at 1 and are never reused,
// even when a released node's slot is handed out again.
package hypergraph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/metrics"
	"github.com/sbl8/echokern/tensor"
)

const (
	DefaultMaxNodes = 4096
	DefaultMaxEdges = 16384
)

var (
	ErrNoTensorContext = errors.New("hypergraph: no tensor context")
	ErrUnknownNode     = errors.New("hypergraph: unknown node")
	ErrUnknownEdge     = errors.New("hypergraph: unknown edge")
	ErrInvalidSize     = errors.New("hypergraph: invalid node size")
)

// NodeHandle identifies a node. Zero is never a valid handle.
type NodeHandle uint64

// EdgeHandle identifies an edge. Zero is never a valid handle.
type EdgeHandle uint64

// Node is a read-only view of a stored node.
type Node struct {
	Handle NodeHandle
	Buffer *tensor.Buffer
	Depth  uint32
}

// Edge is a weighted directed edge between two nodes.
type Edge struct {
	Handle EdgeHandle
	Src    NodeHandle
	Dst    NodeHandle
	Weight float32
}

// Options configures a Store.
type Options struct {
	MaxNodes int
	MaxEdges int
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

// DefaultOptions returns the standard table sizes with logging disabled.
func DefaultOptions() Options {
	return Options{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
		Logger:   zerolog.Nop(),
	}
}

type nodeEntry struct {
	node   Node
	active bool
}

type edgeEntry struct {
	edge   Edge
	active bool
}

// Store is the hypergraph. All methods are safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	svc tensor.Service

	nodeSlots *core.Slots
	edgeSlots *core.Slots
	nodes     []nodeEntry
	edges     []edgeEntry

	nodeIndex map[NodeHandle]int
	edgeIndex map[EdgeHandle]int
	byBuffer  map[uint64]NodeHandle
	out       map[NodeHandle][]EdgeHandle
	in        map[NodeHandle][]EdgeHandle

	nextNode uint64
	nextEdge uint64

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an uninitialized store.
func New(opts Options) *Store {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.MaxEdges <= 0 {
		opts.MaxEdges = DefaultMaxEdges
	}
	return &Store{
		nodeSlots: core.NewSlots(opts.MaxNodes),
		edgeSlots: core.NewSlots(opts.MaxEdges),
		nodes:     make([]nodeEntry, opts.MaxNodes),
		edges:     make([]edgeEntry, opts.MaxEdges),
		nodeIndex: make(map[NodeHandle]int),
		edgeIndex: make(map[EdgeHandle]int),
		byBuffer:  make(map[uint64]NodeHandle),
		out:       make(map[NodeHandle][]EdgeHandle),
		in:        make(map[NodeHandle][]EdgeHandle),
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Init binds the store to a tensor service. Calling it again is a no-op.
func (s *Store) Init(svc tensor.Service) error {
	if svc == nil {
		return ErrNoTensorContext
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc != nil {
		return nil
	}
	s.svc = svc
	s.log.Info().Int("max_nodes", s.nodeSlots.Cap()).Int("max_edges", s.edgeSlots.Cap()).Msg("hypergraph initialized")
	return nil
}

// Initialized reports whether Init has succeeded.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.svc != nil
}

// AllocNode creates a node whose buffer holds size bytes rounded up to whole
// float32 elements.
func (s *Store) AllocNode(size int, depth uint32) (NodeHandle, *tensor.Buffer, error) {
	if size <= 0 {
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc == nil {
		return 0, nil, core.ErrNotInitialized
	}
	slot, ok := s.nodeSlots.Acquire()
	if !ok {
		return 0, nil, fmt.Errorf("hypergraph: node table full: %w", core.ErrCapacity)
	}
	buf, err := s.svc.Alloc((size + 3) / 4)
	if err != nil {
		s.nodeSlots.Release(slot)
		return 0, nil, fmt.Errorf("hypergraph: node buffer: %w", err)
	}

	s.nextNode++
	h := NodeHandle(s.nextNode)
	s.nodes[slot] = nodeEntry{
		node:   Node{Handle: h, Buffer: buf, Depth: depth},
		active: true,
	}
	s.nodeIndex[h] = slot
	s.byBuffer[buf.ID()] = h
	s.updateGauges()

	s.log.Debug().Uint64("node", uint64(h)).Int("bytes", size).Uint32("depth", depth).Msg("node allocated")
	return h, buf, nil
}

// CreateEdge connects two active nodes. Duplicate edges are allowed.
func (s *Store) CreateEdge(src, dst NodeHandle, weight float32) (EdgeHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc == nil {
		return 0, core.ErrNotInitialized
	}
	return s.createEdgeLocked(src, dst, weight)
}

func (s *Store) createEdgeLocked(src, dst NodeHandle, weight float32) (EdgeHandle, error) {
	if !s.activeLocked(src) {
		return 0, fmt.Errorf("%w: source %d", ErrUnknownNode, src)
	}
	if !s.activeLocked(dst) {
		return 0, fmt.Errorf("%w: destination %d", ErrUnknownNode, dst)
	}
	slot, ok := s.edgeSlots.Acquire()
	if !ok {
		return 0, fmt.Errorf("hypergraph: edge table full: %w", core.ErrCapacity)
	}

	s.nextEdge++
	h := EdgeHandle(s.nextEdge)
	s.edges[slot] = edgeEntry{
		edge:   Edge{Handle: h, Src: src, Dst: dst, Weight: weight},
		active: true,
	}
	s.edgeIndex[h] = slot
	s.out[src] = append(s.out[src], h)
	s.in[dst] = append(s.in[dst], h)
	s.updateGauges()
	return h, nil
}

// ResolveBuffer maps a node buffer back to its handle.
func (s *Store) ResolveBuffer(b *tensor.Buffer) (NodeHandle, bool) {
	if b == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.byBuffer[b.ID()]
	if !ok || s.nodes[s.nodeIndex[h]].node.Buffer != b {
		return 0, false
	}
	return h, true
}

// CreateEdgeByBuffer connects the nodes owning src and dst.
func (s *Store) CreateEdgeByBuffer(src, dst *tensor.Buffer, weight float32) (EdgeHandle, error) {
	sh, ok := s.ResolveBuffer(src)
	if !ok {
		return 0, fmt.Errorf("%w: source buffer", ErrUnknownNode)
	}
	dh, ok := s.ResolveBuffer(dst)
	if !ok {
		return 0, fmt.Errorf("%w: destination buffer", ErrUnknownNode)
	}
	return s.CreateEdge(sh, dh, weight)
}

// RemoveEdge deletes an edge and frees its slot.
func (s *Store) RemoveEdge(h EdgeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc == nil {
		return core.ErrNotInitialized
	}
	if _, ok := s.edgeIndex[h]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEdge, h)
	}
	s.removeEdgeLocked(h)
	s.updateGauges()
	return nil
}

func (s *Store) removeEdgeLocked(h EdgeHandle) {
	slot, ok := s.edgeIndex[h]
	if !ok {
		return
	}
	e := s.edges[slot].edge
	s.edges[slot] = edgeEntry{}
	s.edgeSlots.Release(slot)
	delete(s.edgeIndex, h)
	s.out[e.Src] = without(s.out[e.Src], h)
	s.in[e.Dst] = without(s.in[e.Dst], h)
}

func without(hs []EdgeHandle, h EdgeHandle) []EdgeHandle {
	for i, x := range hs {
		if x == h {
			return append(hs[:i:i], hs[i+1:]...)
		}
	}
	return hs
}

// ReleaseNode deactivates a node, drops every incident edge and frees its
// buffer. The slot becomes reusable; the handle does not.
func (s *Store) ReleaseNode(h NodeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.svc == nil {
		return core.ErrNotInitialized
	}
	slot, ok := s.nodeIndex[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}

	for _, eh := range append([]EdgeHandle(nil), s.out[h]...) {
		s.removeEdgeLocked(eh)
	}
	for _, eh := range append([]EdgeHandle(nil), s.in[h]...) {
		s.removeEdgeLocked(eh)
	}
	delete(s.out, h)
	delete(s.in, h)

	buf := s.nodes[slot].node.Buffer
	delete(s.byBuffer, buf.ID())
	delete(s.nodeIndex, h)
	s.nodes[slot] = nodeEntry{}
	s.nodeSlots.Release(slot)
	s.updateGauges()

	if err := s.svc.Free(buf); err != nil {
		return fmt.Errorf("hypergraph: free node buffer: %w", err)
	}
	return nil
}

// Node returns the node for h.
func (s *Store) Node(h NodeHandle) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.nodeIndex[h]
	if !ok {
		return Node{}, false
	}
	return s.nodes[slot].node, true
}

// Edge returns the edge for h.
func (s *Store) Edge(h EdgeHandle) (Edge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.edgeIndex[h]
	if !ok {
		return Edge{}, false
	}
	return s.edges[slot].edge, true
}

// OutEdges returns the edges leaving h in creation order.
func (s *Store) OutEdges(h NodeHandle) []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.out[h])
}

// InEdges returns the edges arriving at h in creation order.
func (s *Store) InEdges(h NodeHandle) []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(s.in[h])
}

func (s *Store) collect(hs []EdgeHandle) []Edge {
	if len(hs) == 0 {
		return nil
	}
	edges := make([]Edge, 0, len(hs))
	for _, h := range hs {
		edges = append(edges, s.edges[s.edgeIndex[h]].edge)
	}
	return edges
}

// NodeCount returns the number of active nodes.
func (s *Store) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeSlots.Len()
}

// EdgeCount returns the number of active edges.
func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeSlots.Len()
}

// NodeSlotsFree returns how many more nodes fit.
func (s *Store) NodeSlotsFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodeSlots.Free()
}

// EdgeSlotsFree returns how many more edges fit.
func (s *Store) EdgeSlotsFree() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeSlots.Free()
}

func (s *Store) activeLocked(h NodeHandle) bool {
	slot, ok := s.nodeIndex[h]
	return ok && s.nodes[slot].active
}

func (s *Store) updateGauges() {
	s.metrics.SetGraphSize(s.nodeSlots.Len(), s.edgeSlots.Len())
}
