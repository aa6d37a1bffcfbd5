package kernels

import (
	"math/rand"
	"testing"
)

// Helper function to generate random float32 slices
func generateRandomFloat32(size int) []float32 {
	data := make([]float32, size)
	for i := range data {
		data[i] = rand.Float32()*2 - 1 // Range: -1 to 1
	}
	return data
}

func BenchmarkMatVec_256(b *testing.B) {
	m := generateRandomFloat32(256 * 256)
	x := generateRandomFloat32(256)
	dst := make([]float32, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		MatVec(dst, m, 256, 256, x)
	}
}

func BenchmarkTanh_1K(b *testing.B) {
	src := generateRandomFloat32(1024)
	data := make([]float32, len(src))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(data, src)
		Tanh(data)
	}
}

func BenchmarkSpectralRadius_100(b *testing.B) {
	m := generateRandomFloat32(100 * 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		SpectralRadius(m, 100, DefaultPowerIterations)
	}
}
