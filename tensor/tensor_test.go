package tensor

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/echokern/core"
)

func TestAllocZeroedAndAligned(t *testing.T) {
	t.Parallel()

	c := NewContext(1 << 20)
	b, err := c.Alloc(100)
	require.NoError(t, err)

	assert.Equal(t, 100, b.Len())
	assert.Equal(t, 1, b.Rows())
	assert.Equal(t, 100, b.Cols())
	assert.True(t, core.IsAligned(uintptr(unsafe.Pointer(&b.Data()[0]))))
	for i, v := range b.Data() {
		if v != 0 {
			t.Fatalf("element %d = %v, want 0", i, v)
		}
	}
	assert.Equal(t, 448, c.Used()) // 400 rounded to 64
	assert.Equal(t, 1, c.Live())
}

func TestAlloc2DShape(t *testing.T) {
	t.Parallel()

	c := NewContext(0)
	assert.Equal(t, DefaultBudget, c.Budget())

	b, err := c.Alloc2D(3, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Rows())
	assert.Equal(t, 5, b.Cols())
	assert.Equal(t, 15, b.Len())
}

func TestIDsAreMonotonic(t *testing.T) {
	t.Parallel()

	c := NewContext(0)
	a, err := c.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, c.Free(a))
	b, err := c.Alloc(1)
	require.NoError(t, err)
	assert.Greater(t, b.ID(), a.ID())
}

func TestInvalidSize(t *testing.T) {
	t.Parallel()

	c := NewContext(0)
	_, err := c.Alloc(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = c.Alloc2D(-1, 4)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestBudgetExhausted(t *testing.T) {
	t.Parallel()

	c := NewContext(256)
	a, err := c.Alloc(64) // exactly 256 bytes
	require.NoError(t, err)

	_, err = c.Alloc(1)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	require.NoError(t, c.Free(a))
	assert.Zero(t, c.Used())
	_, err = c.Alloc(1)
	assert.NoError(t, err)
}

func TestFreeUnknown(t *testing.T) {
	t.Parallel()

	c := NewContext(0)
	other := NewContext(0)

	b, err := c.Alloc(4)
	require.NoError(t, err)
	require.NoError(t, c.Free(b))
	assert.ErrorIs(t, c.Free(b), ErrUnknownBuffer)
	assert.ErrorIs(t, c.Free(nil), ErrUnknownBuffer)

	foreign, err := other.Alloc(4)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Free(foreign), ErrUnknownBuffer)
}

func TestRelease(t *testing.T) {
	t.Parallel()

	c := NewContext(0)
	for i := 0; i < 5; i++ {
		_, err := c.Alloc(32)
		require.NoError(t, err)
	}
	c.Release()
	c.Release()

	assert.True(t, c.Released())
	assert.Zero(t, c.Live())
	assert.Zero(t, c.Used())

	_, err := c.Alloc(1)
	assert.ErrorIs(t, err, ErrReleased)
}
