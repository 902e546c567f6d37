package tensor

import "math/rand"

// Mat represents a dense row-major matrix of float32 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; for freshly allocated
// matrices it equals C. Data holds the flattened values.
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out-of-range indices will panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zero-initialised matrix with the given dimensions.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData creates a matrix from existing data. It checks that the
// data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{R: r, C: c, Stride: c, Data: data}
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix values.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// MatVec computes dst = m * x where x has length C and dst has length R.
func MatVec(dst []float32, m *Mat, x []float32) {
	if len(x) != m.C {
		panic("matvec: input length mismatch")
	}
	if len(dst) != m.R {
		panic("matvec: output length mismatch")
	}
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		var sum float32
		for j := range row {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("dot: length mismatch")
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// FillRand fills the matrix with reproducible pseudo-random values in a
// small range around zero to avoid overflow in accumulations. The same seed
// always produces the same matrix.
func FillRand(m *Mat, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.2
	}
}

// FillRandVec is FillRand for a bare vector.
func FillRandVec(v []float32, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range v {
		v[i] = (rng.Float32() - 0.5) * 0.2
	}
}
