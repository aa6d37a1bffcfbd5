// Package core provides the primitives shared by every echokern subsystem.
//
// It holds the cache-line alignment helpers used by the memory arena and the
// tensor buffer service, the fixed-capacity slot table that backs the
// hypergraph, scheduler and atom tables, and the sentinel errors that the
// subsystems wrap.
//
// Key components:
//   - AlignedBytes / AlignedFloat32s: zeroed buffers on a 64-byte boundary
//   - Slots: free-slot bitmap allocator, lowest free index first
//   - ErrNotInitialized / ErrCapacity: shared failure taxonomy
package core
