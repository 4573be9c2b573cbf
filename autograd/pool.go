package autograd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// GroupSum returns one row per group holding the sum of the listed rows
// of a.
func (g *Graph) GroupSum(a *Node, groups [][]int) *Node {
	return g.groupWeighted(a, groups, func(int) float64 { return 1 })
}

// GroupMean is GroupSum divided by each group's size. Empty groups are
// not allowed.
func (g *Graph) GroupMean(a *Node, groups [][]int) *Node {
	for k, grp := range groups {
		if len(grp) == 0 {
			panic(fmt.Sprintf("autograd.GroupMean: group %d is empty", k))
		}
	}
	return g.groupWeighted(a, groups, func(k int) float64 { return 1 / float64(len(groups[k])) })
}

func (g *Graph) groupWeighted(a *Node, groups [][]int, weight func(k int) float64) *Node {
	_, c := dims(a)
	v := mat.NewDense(len(groups), c, nil)
	for k, grp := range groups {
		w := weight(k)
		dst := v.RawRowView(k)
		for _, row := range grp {
			for j, x := range a.Value.RawRowView(row) {
				dst[j] += w * x
			}
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		ga := a.grad()
		for k, grp := range groups {
			w := weight(k)
			gr := grad.RawRowView(k)
			for _, row := range grp {
				dst := ga.RawRowView(row)
				for j, gv := range gr {
					dst[j] += w * gv
				}
			}
		}
	}, a)
}

// GroupMax takes the column-wise maximum over the rows of each group.
func (g *Graph) GroupMax(a *Node, groups [][]int) *Node {
	_, c := dims(a)
	v := mat.NewDense(len(groups), c, nil)
	argmax := make([][]int, len(groups))
	for k, grp := range groups {
		if len(grp) == 0 {
			panic(fmt.Sprintf("autograd.GroupMax: group %d is empty", k))
		}
		best := make([]int, c)
		dst := v.RawRowView(k)
		for j := 0; j < c; j++ {
			best[j] = grp[0]
			dst[j] = a.Value.At(grp[0], j)
		}
		for _, row := range grp[1:] {
			for j, x := range a.Value.RawRowView(row) {
				if x > dst[j] {
					dst[j] = x
					best[j] = row
				}
			}
		}
		argmax[k] = best
	}
	return g.op(v, func(grad *mat.Dense) {
		ga := a.grad()
		for k, best := range argmax {
			for j, row := range best {
				ga.Set(row, j, ga.At(row, j)+grad.At(k, j))
			}
		}
	}, a)
}

// WeightedSum contracts the R x C weights w against K constant R x C
// matrices: out[r, k] = Σ_c w[r, c]·consts[k][r, c].
func (g *Graph) WeightedSum(w *Node, consts []*mat.Dense) *Node {
	r, c := dims(w)
	for k, m := range consts {
		mr, mc := m.Dims()
		if mr != r || mc != c {
			panic(fmt.Sprintf("autograd.WeightedSum: const %d is %dx%d, want %dx%d", k, mr, mc, r, c))
		}
	}
	v := mat.NewDense(r, len(consts), nil)
	for i := 0; i < r; i++ {
		wr := w.Value.RawRowView(i)
		for k, m := range consts {
			s := 0.0
			for j, x := range m.RawRowView(i) {
				s += wr[j] * x
			}
			v.Set(i, k, s)
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		dw := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			d := dw.RawRowView(i)
			for k, m := range consts {
				gv := grad.At(i, k)
				if gv == 0 {
					continue
				}
				for j, x := range m.RawRowView(i) {
					d[j] += gv * x
				}
			}
		}
		w.accumulate(dw)
	}, w)
}
