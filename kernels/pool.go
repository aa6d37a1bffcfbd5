package kernels

import "runtime"

// ScratchPool recycles float64 work vectors for kernels that need temporary
// space, such as power iteration.
type ScratchPool struct {
	buffers chan []float64
}

// NewScratchPool creates a pool holding at most poolSize idle buffers.
func NewScratchPool(poolSize int) *ScratchPool {
	if poolSize < 1 {
		poolSize = 1
	}
	return &ScratchPool{buffers: make(chan []float64, poolSize)}
}

// Get returns a zeroed buffer of length n, reusing an idle one when its
// capacity is large enough.
func (p *ScratchPool) Get(n int) []float64 {
	select {
	case buf := <-p.buffers:
		if cap(buf) >= n {
			buf = buf[:n]
			clear(buf)
			return buf
		}
		// Too small: drop it and allocate.
	default:
	}
	return make([]float64, n)
}

// Put returns a buffer to the pool. Buffers beyond the pool size are left
// to the GC.
func (p *ScratchPool) Put(buf []float64) {
	if cap(buf) == 0 {
		return
	}
	select {
	case p.buffers <- buf:
	default:
	}
}

// Idle reports how many buffers are waiting in the pool.
func (p *ScratchPool) Idle() int { return len(p.buffers) }

var scratch = NewScratchPool(runtime.NumCPU() * 2)
