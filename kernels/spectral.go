package kernels

import "math"

// DefaultPowerIterations is the iteration count used by SpectralRadius.
const DefaultPowerIterations = 200

// SpectralRadius estimates the largest eigenvalue magnitude of the n×n
// row-major matrix m by power iteration.
//
// Random reservoir matrices usually have a complex-conjugate dominant pair,
// so the plain Rayleigh quotient oscillates. The estimate is instead the
// geometric mean of the per-step growth ||m·v||/||v|| over the second half of
// the iterations, which converges to |λ_max| for both real and complex
// dominant eigenvalues. The start vector is fixed, so the estimate is
// deterministic and homogeneous: SpectralRadius(c·m) == |c|·SpectralRadius(m).
func SpectralRadius(m []float32, n, iterations int) float64 {
	if n <= 0 {
		return 0
	}
	if len(m) < n*n {
		panic("matrix data insufficient")
	}
	if iterations < 2 {
		iterations = 2
	}

	v := scratch.Get(n)
	next := scratch.Get(n)
	defer scratch.Put(v)
	defer scratch.Put(next)
	inv := 1 / math.Sqrt(float64(n))
	for i := range v {
		v[i] = inv
	}

	var logSum float64
	var samples int
	for it := 0; it < iterations; it++ {
		for i := 0; i < n; i++ {
			row := m[i*n : (i+1)*n]
			var s float64
			for k, w := range row {
				s += float64(w) * v[k]
			}
			next[i] = s
		}

		var norm float64
		for _, x := range next {
			norm += x * x
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			// Nilpotent on the start vector.
			return 0
		}
		if it >= iterations/2 {
			logSum += math.Log(norm)
			samples++
		}
		for i := range v {
			v[i] = next[i] / norm
		}
	}

	return math.Exp(logSum / float64(samples))
}
