// Package memory implements the kernel's block arena: one cache-aligned heap
// carved into blocks with in-band headers, allocated first-fit and coalesced
// with both physical neighbours on free.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/core"
	"github.com/sbl8/echokern/metrics"
)

const (
	// HeaderSize is the size of the in-band block header.
	HeaderSize = 64
	// Alignment is the allocation quantum. Block sizes and user pointers are
	// multiples of it.
	Alignment = core.CacheLineSize
	// DefaultHeapSize is used by Init(0) and by auto-initialization.
	DefaultHeapSize = 64 << 20
	// MaxHeapSize bounds Init.
	MaxHeapSize uint64 = 4 << 30

	minHeapSize = 2*HeaderSize + Alignment
)

var (
	ErrHeapTooSmall   = errors.New("memory: heap too small")
	ErrHeapTooLarge   = errors.New("memory: heap too large")
	ErrNoFit          = errors.New("memory: no free block large enough")
	ErrZeroSize       = errors.New("memory: zero-size allocation")
	ErrInvalidPointer = errors.New("memory: invalid pointer")
	ErrDoubleFree     = errors.New("memory: block already free")
	ErrCorrupt        = errors.New("memory: heap corrupt")
)

// Ptr addresses the user bytes of a block as an offset into the heap.
// The zero Ptr is never a valid allocation.
type Ptr uintptr

// Region tags what an allocation is used for.
type Region uint8

const (
	RegionCode Region = iota
	RegionData
	RegionHeap
	RegionTensor
)

func (r Region) String() string {
	switch r {
	case RegionCode:
		return "code"
	case RegionData:
		return "data"
	case RegionHeap:
		return "heap"
	case RegionTensor:
		return "tensor"
	default:
		return fmt.Sprintf("region(%d)", uint8(r))
	}
}

// Header layout, little endian:
//
//	[0:8)   size of the user area
//	[8:16)  offset of the physically previous header, noPrev for the first
//	[16]    region
//	[17]    allocated flag
//	[20:24) magic
const (
	hdrSize      = 0
	hdrPrev      = 8
	hdrRegion    = 16
	hdrAllocated = 17
	hdrMagic     = 20

	magicLive   uint32 = 0xEC40B10C
	magicMerged uint32 = 0xEC40DEAD

	noPrev = ^uint64(0)
)

type header struct {
	size      uintptr
	prev      uint64
	region    Region
	allocated bool
	magic     uint32
}

// BlockInfo describes one block as seen by Walk.
type BlockInfo struct {
	Offset    uintptr // header offset
	Ptr       Ptr     // user pointer
	Size      uintptr
	Region    Region
	Allocated bool
}

// Stats is a snapshot of arena usage.
type Stats struct {
	HeapSize    uintptr
	LiveBytes   uintptr
	FreeBytes   uintptr
	LiveBlocks  int
	FreeBlocks  int
	HeaderBytes uintptr
	LargestFree uintptr
}

// Options configures an Arena.
type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Arena is a single-heap block allocator. All methods are safe for
// concurrent use.
type Arena struct {
	mu      sync.Mutex
	heap    []byte
	initErr error
	live    uintptr

	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an uninitialized arena.
func New(opts Options) *Arena {
	return &Arena{log: opts.Logger, metrics: opts.Metrics}
}

// Init allocates the heap. A zero size selects DefaultHeapSize. Calling Init
// on an initialized arena is a no-op. A failed Init is remembered and
// returned by later auto-initializing calls.
func (a *Arena) Init(heapSize uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initLocked(heapSize)
}

func (a *Arena) initLocked(heapSize uintptr) error {
	if a.heap != nil {
		return nil
	}
	if heapSize == 0 {
		heapSize = DefaultHeapSize
	}
	heapSize &^= Alignment - 1

	switch {
	case heapSize < minHeapSize:
		a.initErr = fmt.Errorf("%w: %d bytes, need at least %d", ErrHeapTooSmall, heapSize, minHeapSize)
	case uint64(heapSize) > MaxHeapSize:
		a.initErr = fmt.Errorf("%w: %d bytes, limit %d", ErrHeapTooLarge, heapSize, MaxHeapSize)
	default:
		a.initErr = nil
	}
	if a.initErr != nil {
		a.log.Error().Err(a.initErr).Msg("arena init failed")
		return a.initErr
	}

	a.heap = core.AlignedBytes(int(heapSize))
	a.writeHeader(0, header{
		size:  heapSize - HeaderSize,
		prev:  noPrev,
		magic: magicLive,
	})
	a.live = 0
	a.metrics.SetArenaBytesInUse(0)
	a.log.Info().Uint64("heap_bytes", uint64(heapSize)).Msg("arena initialized")
	return nil
}

// Initialized reports whether the heap exists.
func (a *Arena) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heap != nil
}

// HeapSize returns the heap size in bytes, zero before Init.
func (a *Arena) HeapSize() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uintptr(len(a.heap))
}

// Alloc reserves at least size bytes tagged with region and returns the
// user pointer. The first free block large enough wins; blocks are split
// when the remainder can hold another header plus one quantum.
func (a *Arena) Alloc(size uintptr, region Region) (Ptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.heap == nil {
		if a.initErr != nil {
			return 0, a.initErr
		}
		if err := a.initLocked(DefaultHeapSize); err != nil {
			return 0, err
		}
	}
	if size == 0 {
		a.metrics.ArenaAllocFailed("zero_size")
		return 0, ErrZeroSize
	}
	want := core.AlignedSize(size)
	if want < size {
		a.metrics.ArenaAllocFailed("no_fit")
		return 0, fmt.Errorf("%w: %d bytes", ErrNoFit, size)
	}

	end := uintptr(len(a.heap))
	for off := uintptr(0); off < end; {
		h := a.readHeader(off)
		if !h.allocated && h.size >= want {
			if h.size-want > HeaderSize+Alignment {
				a.split(off, &h, want)
			}
			h.allocated = true
			h.region = region
			a.writeHeader(off, h)
			a.live += h.size
			a.metrics.SetArenaBytesInUse(a.live)
			return Ptr(off + HeaderSize), nil
		}
		off += HeaderSize + h.size
	}

	a.metrics.ArenaAllocFailed("no_fit")
	a.log.Debug().Uint64("bytes", uint64(want)).Str("region", region.String()).Msg("arena allocation failed")
	return 0, fmt.Errorf("%w: %d bytes", ErrNoFit, want)
}

// split carves a free block off the tail of the block at off, leaving h
// with exactly want bytes.
func (a *Arena) split(off uintptr, h *header, want uintptr) {
	rest := off + HeaderSize + want
	a.writeHeader(rest, header{
		size:  h.size - want - HeaderSize,
		prev:  uint64(off),
		magic: magicLive,
	})
	h.size = want
	a.relinkNext(rest)
}

// Free releases the block owning p and coalesces it with free neighbours.
// Freeing a stale pointer always fails and leaves the heap untouched. It
// reports ErrDoubleFree while the old block is still inside free space, and
// ErrInvalidPointer once that space has been handed out again.
func (a *Arena) Free(p Ptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, h, err := a.resolve(p)
	if err != nil {
		reason := "invalid_pointer"
		if errors.Is(err, ErrDoubleFree) {
			reason = "double_free"
		}
		a.metrics.ArenaFreeFailed(reason)
		a.log.Warn().Err(err).Uint64("ptr", uint64(p)).Msg("arena free rejected")
		return err
	}

	h.allocated = false
	a.live -= h.size
	a.metrics.SetArenaBytesInUse(a.live)

	// Absorb the next block.
	if next := off + HeaderSize + h.size; next < uintptr(len(a.heap)) {
		if nh := a.readHeader(next); !nh.allocated {
			h.size += HeaderSize + nh.size
			a.retire(next)
		}
	}
	a.writeHeader(off, h)

	// Merge into the previous block.
	if h.prev != noPrev {
		prev := uintptr(h.prev)
		if ph := a.readHeader(prev); !ph.allocated {
			ph.size += HeaderSize + h.size
			a.writeHeader(prev, ph)
			a.retire(off)
			off = prev
		}
	}
	a.relinkNext(off)
	return nil
}

// resolve validates p and returns its header. The header must carry the
// live magic and agree with its physical predecessor, so pointers into the
// middle of a block are rejected.
func (a *Arena) resolve(p Ptr) (uintptr, header, error) {
	if a.heap == nil {
		return 0, header{}, fmt.Errorf("%w: arena not initialized", ErrInvalidPointer)
	}
	end := uintptr(len(a.heap))
	if uintptr(p) < HeaderSize || uintptr(p)%Alignment != 0 || uintptr(p) > end {
		return 0, header{}, fmt.Errorf("%w: %#x", ErrInvalidPointer, uintptr(p))
	}
	off := uintptr(p) - HeaderSize
	h := a.readHeader(off)

	if h.magic == magicMerged && a.insideFreeBlock(off) {
		return 0, header{}, fmt.Errorf("%w: %#x", ErrDoubleFree, uintptr(p))
	}
	if h.magic != magicLive || off+HeaderSize+h.size > end || !a.linkedFromPrev(off, h) {
		return 0, header{}, fmt.Errorf("%w: %#x", ErrInvalidPointer, uintptr(p))
	}
	if !h.allocated {
		return 0, header{}, fmt.Errorf("%w: %#x", ErrDoubleFree, uintptr(p))
	}
	return off, h, nil
}

func (a *Arena) linkedFromPrev(off uintptr, h header) bool {
	if off == 0 {
		return h.prev == noPrev
	}
	if h.prev == noPrev || h.prev >= uint64(off) {
		return false
	}
	ph := a.readHeader(uintptr(h.prev))
	return ph.magic == magicLive && uintptr(h.prev)+HeaderSize+ph.size == off
}

// insideFreeBlock reports whether off lies within the user area of a free
// block, which is where headers retired by coalescing end up.
func (a *Arena) insideFreeBlock(off uintptr) bool {
	end := uintptr(len(a.heap))
	for cur := uintptr(0); cur < end; {
		h := a.readHeader(cur)
		next := cur + HeaderSize + h.size
		if off > cur && off < next {
			return !h.allocated
		}
		cur = next
	}
	return false
}

// retire stamps a header that has been absorbed by a neighbour.
func (a *Arena) retire(off uintptr) {
	binary.LittleEndian.PutUint32(a.heap[off+hdrMagic:], magicMerged)
}

// relinkNext points the block after off back at off.
func (a *Arena) relinkNext(off uintptr) {
	h := a.readHeader(off)
	next := off + HeaderSize + h.size
	if next < uintptr(len(a.heap)) {
		binary.LittleEndian.PutUint64(a.heap[next+hdrPrev:], uint64(off))
	}
}

// Bytes returns the user area of an allocated block, or nil when p does not
// address one.
func (a *Arena) Bytes(p Ptr) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, h, err := a.resolve(p)
	if err != nil {
		return nil
	}
	start := off + HeaderSize
	return a.heap[start : start+h.size : start+h.size]
}

// Walk calls fn for every block in heap order until fn returns false.
// The arena is locked for the duration, so fn must not call back into it.
func (a *Arena) Walk(fn func(BlockInfo) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	end := uintptr(len(a.heap))
	for off := uintptr(0); off < end; {
		h := a.readHeader(off)
		info := BlockInfo{
			Offset:    off,
			Ptr:       Ptr(off + HeaderSize),
			Size:      h.size,
			Region:    h.region,
			Allocated: h.allocated,
		}
		if !fn(info) {
			return
		}
		off += HeaderSize + h.size
	}
}

// Stats returns usage counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{HeapSize: uintptr(len(a.heap))}
	end := uintptr(len(a.heap))
	for off := uintptr(0); off < end; {
		h := a.readHeader(off)
		s.HeaderBytes += HeaderSize
		if h.allocated {
			s.LiveBlocks++
			s.LiveBytes += h.size
		} else {
			s.FreeBlocks++
			s.FreeBytes += h.size
			if h.size > s.LargestFree {
				s.LargestFree = h.size
			}
		}
		off += HeaderSize + h.size
	}
	return s
}

// Check verifies that blocks tile the heap exactly, that every header is
// intact and back-linked, and that no two free blocks are adjacent.
func (a *Arena) Check() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.heap == nil {
		return nil
	}
	end := uintptr(len(a.heap))
	var (
		total    uintptr
		prev     = noPrev
		prevFree bool
		live     uintptr
	)
	for off := uintptr(0); off < end; {
		h := a.readHeader(off)
		switch {
		case h.magic != magicLive:
			return fmt.Errorf("%w: bad magic at %#x", ErrCorrupt, off)
		case h.prev != prev:
			return fmt.Errorf("%w: block %#x links to %#x, want %#x", ErrCorrupt, off, h.prev, prev)
		case h.size%Alignment != 0:
			return fmt.Errorf("%w: block %#x size %d not aligned", ErrCorrupt, off, h.size)
		case !h.allocated && prevFree:
			return fmt.Errorf("%w: adjacent free blocks at %#x", ErrCorrupt, off)
		}
		if h.allocated {
			live += h.size
		}
		total += HeaderSize + h.size
		prev = uint64(off)
		prevFree = !h.allocated
		off += HeaderSize + h.size
	}
	if total != end {
		return fmt.Errorf("%w: blocks cover %d bytes of %d", ErrCorrupt, total, end)
	}
	if live != a.live {
		return fmt.Errorf("%w: live bytes %d, counter %d", ErrCorrupt, live, a.live)
	}
	return nil
}

func (a *Arena) readHeader(off uintptr) header {
	b := a.heap[off : off+HeaderSize]
	return header{
		size:      uintptr(binary.LittleEndian.Uint64(b[hdrSize:])),
		prev:      binary.LittleEndian.Uint64(b[hdrPrev:]),
		region:    Region(b[hdrRegion]),
		allocated: b[hdrAllocated] != 0,
		magic:     binary.LittleEndian.Uint32(b[hdrMagic:]),
	}
}

func (a *Arena) writeHeader(off uintptr, h header) {
	b := a.heap[off : off+HeaderSize]
	binary.LittleEndian.PutUint64(b[hdrSize:], uint64(h.size))
	binary.LittleEndian.PutUint64(b[hdrPrev:], h.prev)
	b[hdrRegion] = byte(h.region)
	if h.allocated {
		b[hdrAllocated] = 1
	} else {
		b[hdrAllocated] = 0
	}
	binary.LittleEndian.PutUint32(b[hdrMagic:], h.magic)
}
