// Package kernels provides the float32 linear-algebra kernels used by
// echokern reservoirs.
//
// All kernels operate on row-major []float32 views of tensor buffers and do
// not allocate. Shapes are passed explicitly; mismatched shapes panic, since
// callers validate dimensions before reaching the hot path.
//
// Available operations:
//   - Vector: scale, fill
//   - Matrix: mat-vec product, accumulate mat-vec
//   - Activations: tanh (exact)
//   - Spectral: power-iteration spectral radius estimate
package kernels

import "math"

// MatVec computes dst = m·x where m is rows×cols, row-major.
func MatVec(dst, m []float32, rows, cols int, x []float32) {
	checkMatVec(dst, m, rows, cols, x)
	for i := 0; i < rows; i++ {
		row := m[i*cols : (i+1)*cols]
		var sum float32
		for k, v := range row {
			sum += v * x[k]
		}
		dst[i] = sum
	}
}

// MatVecAdd computes dst += m·x where m is rows×cols, row-major.
func MatVecAdd(dst, m []float32, rows, cols int, x []float32) {
	checkMatVec(dst, m, rows, cols, x)
	for i := 0; i < rows; i++ {
		row := m[i*cols : (i+1)*cols]
		var sum float32
		for k, v := range row {
			sum += v * x[k]
		}
		dst[i] += sum
	}
}

func checkMatVec(dst, m []float32, rows, cols int, x []float32) {
	if len(m) < rows*cols {
		panic("matrix data insufficient")
	}
	if len(x) < cols || len(dst) < rows {
		panic("vector length mismatch")
	}
}

// Tanh applies the hyperbolic tangent in place.
func Tanh(data []float32) {
	for i, x := range data {
		data[i] = float32(math.Tanh(float64(x)))
	}
}

// Scale multiplies every element of data by alpha.
func Scale(data []float32, alpha float32) {
	for i := range data {
		data[i] *= alpha
	}
}

// Fill sets every element of data to v.
func Fill(data []float32, v float32) {
	for i := range data {
		data[i] = v
	}
}
