package autograd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// MaskedSoftmaxRows normalises every row of a over the columns j with
// mask[j] > 0. Masked columns come out as exactly zero. The row maximum
// over valid columns is subtracted before exponentiating.
func (g *Graph) MaskedSoftmaxRows(a *Node, mask []float64) *Node {
	r, c := dims(a)
	if len(mask) != c {
		panic(fmt.Sprintf("autograd.MaskedSoftmaxRows: mask of %d for %d columns", len(mask), c))
	}
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src := a.Value.RawRowView(i)
		dst := v.RawRowView(i)
		mx := math.Inf(-1)
		for j, x := range src {
			if mask[j] > 0 && x > mx {
				mx = x
			}
		}
		if math.IsInf(mx, -1) {
			continue
		}
		sum := 0.0
		for j, x := range src {
			if mask[j] > 0 {
				dst[j] = math.Exp(x - mx)
				sum += dst[j]
			}
		}
		inv := 1.0 / sum
		for j := range dst {
			dst[j] *= inv
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(softmaxBackward(grad, v))
	}, a)
}

// softmaxBackward is the row-wise vector-Jacobian product:
// s = Σ_k dA[i,k]·A[i,k]; dS[i,j] = A[i,j]·(dA[i,j] - s).
func softmaxBackward(dA, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		ar := A.RawRowView(i)
		gr := dA.RawRowView(i)
		s := 0.0
		for k := range ar {
			s += gr[k] * ar[k]
		}
		dst := dS.RawRowView(i)
		for j := range ar {
			dst[j] = ar[j] * (gr[j] - s)
		}
	}
	return dS
}

// GroupSoftmax normalises the R x 1 column a within each group of row
// indices. Rows outside every group are zero.
func (g *Graph) GroupSoftmax(a *Node, groups [][]int) *Node {
	r, c := dims(a)
	if c != 1 {
		panic(fmt.Sprintf("autograd.GroupSoftmax: want a column, got %dx%d", r, c))
	}
	v := mat.NewDense(r, 1, nil)
	for _, grp := range groups {
		if len(grp) == 0 {
			continue
		}
		mx := math.Inf(-1)
		for _, row := range grp {
			mx = math.Max(mx, a.Value.At(row, 0))
		}
		sum := 0.0
		for _, row := range grp {
			e := math.Exp(a.Value.At(row, 0) - mx)
			v.Set(row, 0, e)
			sum += e
		}
		for _, row := range grp {
			v.Set(row, 0, v.At(row, 0)/sum)
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		da := mat.NewDense(r, 1, nil)
		for _, grp := range groups {
			s := 0.0
			for _, row := range grp {
				s += grad.At(row, 0) * v.At(row, 0)
			}
			for _, row := range grp {
				da.Set(row, 0, v.At(row, 0)*(grad.At(row, 0)-s))
			}
		}
		a.accumulate(da)
	}, a)
}

// SoftmaxCrossEntropy turns n x C logits into row probabilities and returns
// the mean negative log-likelihood of labels as a 1x1 node, together with
// the probabilities and the per-example costs.
func (g *Graph) SoftmaxCrossEntropy(logits *Node, labels []int) (*Node, *mat.Dense, []float64) {
	n, c := dims(logits)
	if len(labels) != n {
		panic(fmt.Sprintf("autograd.SoftmaxCrossEntropy: %d labels for %d rows", len(labels), n))
	}
	probs := mat.NewDense(n, c, nil)
	costs := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		z := logits.Value.RawRowView(i)
		mx := math.Inf(-1)
		for _, x := range z {
			mx = math.Max(mx, x)
		}
		sum := 0.0
		p := probs.RawRowView(i)
		for j, x := range z {
			p[j] = math.Exp(x - mx)
			sum += p[j]
		}
		for j := range p {
			p[j] /= sum
		}
		costs[i] = -(z[labels[i]] - mx - math.Log(sum))
		total += costs[i]
	}
	loss := g.op(mat.NewDense(1, 1, []float64{total / float64(n)}), func(grad *mat.Dense) {
		s := grad.At(0, 0) / float64(n)
		dz := mat.NewDense(n, c, nil)
		for i := 0; i < n; i++ {
			d := dz.RawRowView(i)
			for j, pv := range probs.RawRowView(i) {
				d[j] = pv * s
			}
			d[labels[i]] -= s
		}
		logits.accumulate(dz)
	}, logits)
	return loss, probs, costs
}
