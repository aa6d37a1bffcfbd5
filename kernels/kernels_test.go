package kernels

import (
	"math"
	"testing"
)

func TestMatVec(t *testing.T) {
	t.Parallel()
	// [1 2 3]   [1]   [14]
	// [4 5 6] · [2] = [32]
	//           [3]
	m := []float32{1, 2, 3, 4, 5, 6}
	x := []float32{1, 2, 3}
	dst := make([]float32, 2)

	MatVec(dst, m, 2, 3, x)
	want := []float32{14, 32}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("Index %d: got %f, want %f", i, dst[i], want[i])
		}
	}

	MatVecAdd(dst, m, 2, 3, x)
	for i := range want {
		if dst[i] != 2*want[i] {
			t.Errorf("accumulate index %d: got %f, want %f", i, dst[i], 2*want[i])
		}
	}
}

func TestMatVecPanicsOnShortMatrix(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Error("expected panic for insufficient matrix data")
		}
	}()
	MatVec(make([]float32, 2), make([]float32, 3), 2, 2, make([]float32, 2))
}

func TestTanh(t *testing.T) {
	t.Parallel()
	data := []float32{-2, 0, 0.5, 3}
	want := make([]float32, len(data))
	for i, v := range data {
		want[i] = float32(math.Tanh(float64(v)))
	}
	Tanh(data)
	for i := range data {
		if math.Abs(float64(data[i]-want[i])) > 1e-6 {
			t.Errorf("Index %d: got %f, want %f", i, data[i], want[i])
		}
	}
}

func TestScaleFill(t *testing.T) {
	t.Parallel()
	data := []float32{-1, 0.25, 2}
	Scale(data, 2)
	if data[0] != -2 || data[1] != 0.5 || data[2] != 4 {
		t.Errorf("Scale: got %v", data)
	}
	Fill(data, 7)
	for i, v := range data {
		if v != 7 {
			t.Errorf("Fill index %d: got %f", i, v)
		}
	}
}

func TestSpectralRadiusDiagonal(t *testing.T) {
	t.Parallel()
	m := []float32{
		0.5, 0, 0,
		0, -2, 0,
		0, 0, 1,
	}
	got := SpectralRadius(m, 3, DefaultPowerIterations)
	if math.Abs(got-2) > 1e-3 {
		t.Errorf("SpectralRadius = %f, want 2", got)
	}
}

func TestSpectralRadiusRotation(t *testing.T) {
	t.Parallel()
	// Scaled rotation: eigenvalues 0.8·e^{±iθ}, a complex pair.
	theta := 0.7
	r := 0.8
	m := []float32{
		float32(r * math.Cos(theta)), float32(-r * math.Sin(theta)),
		float32(r * math.Sin(theta)), float32(r * math.Cos(theta)),
	}
	got := SpectralRadius(m, 2, DefaultPowerIterations)
	if math.Abs(got-r) > 1e-3 {
		t.Errorf("SpectralRadius = %f, want %f", got, r)
	}
}

func TestSpectralRadiusHomogeneous(t *testing.T) {
	t.Parallel()
	m := generateRandomFloat32(64)
	base := SpectralRadius(m, 8, DefaultPowerIterations)
	Scale(m, 0.25)
	scaled := SpectralRadius(m, 8, DefaultPowerIterations)
	if math.Abs(scaled-0.25*base) > 1e-4*base {
		t.Errorf("scaled radius = %f, want %f", scaled, 0.25*base)
	}
}

func TestSpectralRadiusDegenerate(t *testing.T) {
	t.Parallel()
	if got := SpectralRadius(nil, 0, 10); got != 0 {
		t.Errorf("empty matrix: got %f", got)
	}
	if got := SpectralRadius(make([]float32, 4), 2, 10); got != 0 {
		t.Errorf("zero matrix: got %f", got)
	}
}
