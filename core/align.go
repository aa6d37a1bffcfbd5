package core

import "unsafe"

const (
	// CacheLineSize is the alignment quantum for heap blocks and tensor buffers.
	CacheLineSize = 64
)

// IsAligned checks if a pointer (represented as a uintptr) is aligned to a cache line boundary.
func IsAligned(addr uintptr) bool {
	return addr%CacheLineSize == 0
}

// AlignedSize calculates the size rounded up to the nearest cache line multiple.
func AlignedSize(size uintptr) uintptr {
	return (size + uintptr(CacheLineSize-1)) & ^uintptr(CacheLineSize-1)
}

// AlignUp rounds n up to the given power-of-two alignment.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// AlignedBytes allocates a zeroed byte slice whose backing array starts on a
// CacheLineSize boundary.
func AlignedBytes(size int) []byte {
	if size <= 0 {
		return nil
	}
	// Over-allocate by at most CacheLineSize-1 so the start can be shifted.
	buf := make([]byte, size+CacheLineSize-1)

	ptr := uintptr(unsafe.Pointer(&buf[0]))
	offset := uintptr(0)
	if mod := ptr % CacheLineSize; mod != 0 {
		offset = CacheLineSize - mod
	}

	return buf[offset : offset+uintptr(size) : offset+uintptr(size)]
}

// AlignedFloat32s allocates a zeroed, cache-aligned float32 slice of n elements.
func AlignedFloat32s(n int) []float32 {
	if n <= 0 {
		return nil
	}
	raw := AlignedBytes(n * 4)
	return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n)
}
