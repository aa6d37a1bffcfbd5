// Package tensor provides the float32 buffer service shared by the
// hypergraph store, the atom registry and reservoirs.
//
// A Context hands out zeroed, cache-aligned buffers against a fixed byte
// budget. Buffers are identified by a monotonically assigned ID so callers
// can map a buffer back to whatever owns it.
package tensor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sbl8/echokern/core"
)

// DefaultBudget is the byte budget of a context created with a zero budget.
const DefaultBudget = 128 << 20

var (
	ErrOutOfMemory   = errors.New("tensor: budget exhausted")
	ErrReleased      = errors.New("tensor: context released")
	ErrInvalidSize   = errors.New("tensor: invalid size")
	ErrUnknownBuffer = errors.New("tensor: unknown buffer")
)

// Service is the buffer allocator consumed by the rest of the kernel.
type Service interface {
	Alloc(elements int) (*Buffer, error)
	Alloc2D(rows, cols int) (*Buffer, error)
	Free(b *Buffer) error
	Release()
}

// Buffer is a float32 tensor owned by a Context.
type Buffer struct {
	id   uint64
	data []float32
	rows int
	cols int
}

// ID returns the buffer's identity within its context.
func (b *Buffer) ID() uint64 { return b.id }

// Data returns the backing slice. It must not be used after the buffer is freed.
func (b *Buffer) Data() []float32 { return b.data }

// Len returns the element count.
func (b *Buffer) Len() int { return len(b.data) }

// Rows returns the row count (1 for vectors).
func (b *Buffer) Rows() int { return b.rows }

// Cols returns the column count.
func (b *Buffer) Cols() int { return b.cols }

// Bytes returns the accounted size of the buffer.
func (b *Buffer) Bytes() int { return bufferBytes(len(b.data)) }

func bufferBytes(elements int) int {
	return int(core.AlignedSize(uintptr(elements) * 4))
}

// Options configures a Context.
type Options struct {
	Budget int
	Logger zerolog.Logger
}

// Context is the in-process Service implementation.
type Context struct {
	mu       sync.Mutex
	budget   int
	used     int
	nextID   uint64
	live     map[uint64]*Buffer
	released bool
	log      zerolog.Logger
}

var _ Service = (*Context)(nil)

// NewContext creates a context with the given byte budget; zero selects
// DefaultBudget.
func NewContext(budget int) *Context {
	return NewContextWithOptions(Options{Budget: budget, Logger: zerolog.Nop()})
}

// NewContextWithOptions creates a context from opts.
func NewContextWithOptions(opts Options) *Context {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Context{
		budget: budget,
		live:   make(map[uint64]*Buffer),
		log:    opts.Logger,
	}
}

// Alloc returns a zeroed vector buffer of n elements.
func (c *Context) Alloc(n int) (*Buffer, error) {
	return c.alloc(1, n)
}

// Alloc2D returns a zeroed row-major rows×cols buffer.
func (c *Context) Alloc2D(rows, cols int) (*Buffer, error) {
	return c.alloc(rows, cols)
}

func (c *Context) alloc(rows, cols int) (*Buffer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, rows, cols)
	}
	n := rows * cols
	if n/rows != cols {
		return nil, fmt.Errorf("%w: %dx%d overflows", ErrInvalidSize, rows, cols)
	}
	size := bufferBytes(n)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return nil, ErrReleased
	}
	if size > c.budget-c.used {
		c.log.Debug().Int("bytes", size).Int("used", c.used).Int("budget", c.budget).Msg("tensor allocation refused")
		return nil, fmt.Errorf("%w: need %d bytes, %d available", ErrOutOfMemory, size, c.budget-c.used)
	}

	c.nextID++
	b := &Buffer{
		id:   c.nextID,
		data: core.AlignedFloat32s(n),
		rows: rows,
		cols: cols,
	}
	c.live[b.id] = b
	c.used += size
	return b, nil
}

// Free returns b's bytes to the budget.
func (c *Context) Free(b *Buffer) error {
	if b == nil {
		return ErrUnknownBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return ErrReleased
	}
	if owned, ok := c.live[b.id]; !ok || owned != b {
		return fmt.Errorf("%w: id %d", ErrUnknownBuffer, b.id)
	}
	delete(c.live, b.id)
	c.used -= b.Bytes()
	b.data = nil
	return nil
}

// Release frees every live buffer. Further allocations fail with ErrReleased.
func (c *Context) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return
	}
	if len(c.live) > 0 {
		c.log.Debug().Int("buffers", len(c.live)).Int("bytes", c.used).Msg("releasing live tensor buffers")
	}
	for id, b := range c.live {
		b.data = nil
		delete(c.live, id)
	}
	c.used = 0
	c.released = true
}

// Used returns the bytes currently allocated.
func (c *Context) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Live returns the number of buffers not yet freed.
func (c *Context) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// Budget returns the configured byte budget.
func (c *Context) Budget() int { return c.budget }

// Released reports whether Release has been called.
func (c *Context) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
