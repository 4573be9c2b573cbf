package utils

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

// Raw returns the backing slice of a contiguous Dense.
func Raw(a *mat.Dense) []float64 {
	raw := a.RawMatrix()
	if raw.Stride != raw.Cols {
		return mat.DenseCopyOf(a).RawMatrix().Data
	}
	return raw.Data[:raw.Rows*raw.Cols]
}

func MatrixNorm(m *mat.Dense) float64 {
	return floats.Norm(Raw(m), 2)
}

// GlobalNorm is the L2 norm of all grads taken together.
func GlobalNorm(grads ...*mat.Dense) float64 {
	sum := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		sum += n * n
	}
	return math.Sqrt(sum)
}

// ClipGrads scales all grads so their combined norm <= maxNorm.
// Returns the scale actually applied (<=1.0) or 1.0 if no clip.
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	gn := GlobalNorm(grads...)
	if gn <= maxNorm || gn == 0 {
		return 1.0
	}
	s := maxNorm / gn
	for _, g := range grads {
		if g != nil {
			g.Scale(s, g)
		}
	}
	return s
}

// AllFinite reports whether every entry of m is neither NaN nor Inf.
func AllFinite(m *mat.Dense) bool {
	for _, v := range Raw(m) {
		if IsNonFinite(v) {
			return false
		}
	}
	return true
}

func IsNonFinite(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// ArgMaxRow returns the column index of the largest entry in row i.
func ArgMaxRow(m mat.Matrix, i int) int {
	_, c := m.Dims()
	best := 0
	for j := 1; j < c; j++ {
		if m.At(i, j) > m.At(i, best) {
			best = j
		}
	}
	return best
}
