package utils

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandNormal returns size samples from N(0, scale^2).
func RandNormal(rng *rand.Rand, size int, scale float64) []float64 {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	out := make([]float64, size)
	for i := range out {
		out[i] = scale * dist.Rand()
	}
	return out
}

// OrthoWeight draws a square Gaussian matrix and keeps the orthogonal
// factor of its SVD.
func OrthoWeight(rng *rand.Rand, ndim int) *mat.Dense {
	w := mat.NewDense(ndim, ndim, RandNormal(rng, ndim*ndim, 1))
	var svd mat.SVD
	if !svd.Factorize(w, mat.SVDFull) {
		// Gaussian matrices are full rank almost surely; retry once.
		w = mat.NewDense(ndim, ndim, RandNormal(rng, ndim*ndim, 1))
		if !svd.Factorize(w, mat.SVDFull) {
			panic("OrthoWeight: SVD did not converge")
		}
	}
	var u mat.Dense
	svd.UTo(&u)
	return &u
}

// NormWeight is an orthogonal matrix when nin == nout and ortho is set,
// otherwise scale * N(0, 1) entries.
func NormWeight(rng *rand.Rand, nin, nout int, scale float64, ortho bool) *mat.Dense {
	if nin == nout && ortho {
		return OrthoWeight(rng, nin)
	}
	return mat.NewDense(nin, nout, RandNormal(rng, nin*nout, scale))
}
