package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsAcquireLowestFirst(t *testing.T) {
	t.Parallel()
	s := NewSlots(130)

	for want := 0; want < 130; want++ {
		got, ok := s.Acquire()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := s.Acquire()
	assert.False(t, ok, "full table must refuse")
	assert.Equal(t, 0, s.Free())

	require.True(t, s.Release(65))
	require.True(t, s.Release(3))
	got, ok := s.Acquire()
	require.True(t, ok)
	assert.Equal(t, 3, got)
	got, ok = s.Acquire()
	require.True(t, ok)
	assert.Equal(t, 65, got)
}

func TestSlotsRelease(t *testing.T) {
	t.Parallel()
	s := NewSlots(4)

	assert.False(t, s.Release(0), "releasing an unused slot")
	assert.False(t, s.Release(-1))
	assert.False(t, s.Release(4))

	i, _ := s.Acquire()
	assert.True(t, s.InUse(i))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Release(i))
	assert.False(t, s.Release(i), "double release")
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 4, s.Cap())
}

func TestSlotsZeroCapacity(t *testing.T) {
	t.Parallel()
	s := NewSlots(0)
	_, ok := s.Acquire()
	assert.False(t, ok)
}
