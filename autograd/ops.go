package autograd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

func dims(n *Node) (int, int) { return n.Value.Dims() }

func mustSameShape(op string, a, b *Node) {
	ar, ac := dims(a)
	br, bc := dims(b)
	if ar != br || ac != bc {
		panic(fmt.Sprintf("autograd.%s: shape mismatch %dx%d vs %dx%d", op, ar, ac, br, bc))
	}
}

// MatMul returns a·b.
func (g *Graph) MatMul(a, b *Node) *Node {
	ar, _ := dims(a)
	_, bc := dims(b)
	v := mat.NewDense(ar, bc, nil)
	v.Mul(a.Value, b.Value)
	return g.op(v, func(grad *mat.Dense) {
		if a.needsGrad {
			var da mat.Dense
			da.Mul(grad, b.Value.T())
			a.accumulate(&da)
		}
		if b.needsGrad {
			var db mat.Dense
			db.Mul(a.Value.T(), grad)
			b.accumulate(&db)
		}
	}, a, b)
}

// Transpose returns aᵀ as a fresh matrix.
func (g *Graph) Transpose(a *Node) *Node {
	v := mat.DenseCopyOf(a.Value.T())
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(grad.T())
	}, a)
}

func (g *Graph) Add(a, b *Node) *Node {
	mustSameShape("Add", a, b)
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.Add(a.Value, b.Value)
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(grad)
		b.accumulate(grad)
	}, a, b)
}

func (g *Graph) Sub(a, b *Node) *Node {
	mustSameShape("Sub", a, b)
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.Sub(a.Value, b.Value)
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(grad)
		if b.needsGrad {
			var nb mat.Dense
			nb.Scale(-1, grad)
			b.accumulate(&nb)
		}
	}, a, b)
}

// Mul is the element-wise (Hadamard) product.
func (g *Graph) Mul(a, b *Node) *Node {
	mustSameShape("Mul", a, b)
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.MulElem(a.Value, b.Value)
	return g.op(v, func(grad *mat.Dense) {
		if a.needsGrad {
			var da mat.Dense
			da.MulElem(grad, b.Value)
			a.accumulate(&da)
		}
		if b.needsGrad {
			var db mat.Dense
			db.MulElem(grad, a.Value)
			b.accumulate(&db)
		}
	}, a, b)
}

func (g *Graph) Scale(a *Node, s float64) *Node {
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.Scale(s, a.Value)
	return g.op(v, func(grad *mat.Dense) {
		var da mat.Dense
		da.Scale(s, grad)
		a.accumulate(&da)
	}, a)
}

// AddBias adds the 1xc row b to every row of a.
func (g *Graph) AddBias(a, b *Node) *Node {
	r, c := dims(a)
	br, bc := dims(b)
	if br != 1 || bc != c {
		panic(fmt.Sprintf("autograd.AddBias: bias %dx%d for %dx%d input", br, bc, r, c))
	}
	v := mat.NewDense(r, c, nil)
	brow := b.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := v.RawRowView(i)
		for j := range row {
			row[j] = a.Value.At(i, j) + brow[j]
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(grad)
		if b.needsGrad {
			db := mat.NewDense(1, c, nil)
			drow := db.RawRowView(0)
			for i := 0; i < r; i++ {
				for j, gv := range grad.RawRowView(i) {
					drow[j] += gv
				}
			}
			b.accumulate(db)
		}
	}, a, b)
}

// MulConst multiplies a element-wise by the constant m.
func (g *Graph) MulConst(a *Node, m *mat.Dense) *Node {
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.MulElem(a.Value, m)
	return g.op(v, func(grad *mat.Dense) {
		var da mat.Dense
		da.MulElem(grad, m)
		a.accumulate(&da)
	}, a)
}

// AddConst adds the constant m to a.
func (g *Graph) AddConst(a *Node, m *mat.Dense) *Node {
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.Add(a.Value, m)
	return g.op(v, func(grad *mat.Dense) {
		a.accumulate(grad)
	}, a)
}

func (g *Graph) unary(a *Node, f func(x float64) float64, df func(x, y float64) float64) *Node {
	r, c := dims(a)
	v := mat.NewDense(r, c, nil)
	v.Apply(func(_, _ int, x float64) float64 { return f(x) }, a.Value)
	return g.op(v, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		da.Apply(func(i, j int, gv float64) float64 {
			return gv * df(a.Value.At(i, j), v.At(i, j))
		}, grad)
		a.accumulate(da)
	}, a)
}

func sigmoid(x float64) float64 { return 1.0 / (1.0 + math.Exp(-x)) }

func (g *Graph) Sigmoid(a *Node) *Node {
	return g.unary(a, sigmoid, func(_, y float64) float64 { return y * (1 - y) })
}

func (g *Graph) Tanh(a *Node) *Node {
	return g.unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

func (g *Graph) ReLU(a *Node) *Node {
	return g.unary(a,
		func(x float64) float64 { return math.Max(x, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// ConcatCols joins nodes with equal row counts side by side.
func (g *Graph) ConcatCols(nodes ...*Node) *Node {
	r, _ := dims(nodes[0])
	total := 0
	for _, n := range nodes {
		nr, nc := dims(n)
		if nr != r {
			panic(fmt.Sprintf("autograd.ConcatCols: row mismatch %d vs %d", nr, r))
		}
		total += nc
	}
	v := mat.NewDense(r, total, nil)
	off := 0
	for _, n := range nodes {
		_, nc := dims(n)
		v.Slice(0, r, off, off+nc).(*mat.Dense).Copy(n.Value)
		off += nc
	}
	return g.op(v, func(grad *mat.Dense) {
		off := 0
		for _, n := range nodes {
			_, nc := dims(n)
			if n.needsGrad {
				n.accumulate(grad.Slice(0, r, off, off+nc))
			}
			off += nc
		}
	}, nodes...)
}

// ConcatRows stacks nodes with equal column counts on top of each other.
func (g *Graph) ConcatRows(nodes ...*Node) *Node {
	_, c := dims(nodes[0])
	total := 0
	for _, n := range nodes {
		nr, nc := dims(n)
		if nc != c {
			panic(fmt.Sprintf("autograd.ConcatRows: column mismatch %d vs %d", nc, c))
		}
		total += nr
	}
	v := mat.NewDense(total, c, nil)
	off := 0
	for _, n := range nodes {
		nr, _ := dims(n)
		v.Slice(off, off+nr, 0, c).(*mat.Dense).Copy(n.Value)
		off += nr
	}
	return g.op(v, func(grad *mat.Dense) {
		off := 0
		for _, n := range nodes {
			nr, _ := dims(n)
			if n.needsGrad {
				n.accumulate(grad.Slice(off, off+nr, 0, c))
			}
			off += nr
		}
	}, nodes...)
}

// SliceRows returns rows [from, to) of a.
func (g *Graph) SliceRows(a *Node, from, to int) *Node {
	_, c := dims(a)
	v := mat.DenseCopyOf(a.Value.Slice(from, to, 0, c))
	return g.op(v, func(grad *mat.Dense) {
		dst := a.grad().Slice(from, to, 0, c).(*mat.Dense)
		dst.Add(dst, grad)
	}, a)
}

// SliceCols returns columns [from, to) of a.
func (g *Graph) SliceCols(a *Node, from, to int) *Node {
	r, _ := dims(a)
	v := mat.DenseCopyOf(a.Value.Slice(0, r, from, to))
	return g.op(v, func(grad *mat.Dense) {
		dst := a.grad().Slice(0, r, from, to).(*mat.Dense)
		dst.Add(dst, grad)
	}, a)
}

// GatherRows returns the rows of a listed in idx, in order. Repeated
// indices accumulate their gradients.
func (g *Graph) GatherRows(a *Node, idx []int) *Node {
	_, c := dims(a)
	v := mat.NewDense(len(idx), c, nil)
	for r, src := range idx {
		copy(v.RawRowView(r), a.Value.RawRowView(src))
	}
	return g.op(v, func(grad *mat.Dense) {
		ga := a.grad()
		for r, src := range idx {
			dst := ga.RawRowView(src)
			for j, gv := range grad.RawRowView(r) {
				dst[j] += gv
			}
		}
	}, a)
}

// ScaleRows multiplies row r of a by w[r].
func (g *Graph) ScaleRows(a *Node, w []float64) *Node {
	r, c := dims(a)
	if len(w) != r {
		panic(fmt.Sprintf("autograd.ScaleRows: %d weights for %d rows", len(w), r))
	}
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		dst := v.RawRowView(i)
		for j, x := range a.Value.RawRowView(i) {
			dst[j] = x * w[i]
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			dst := da.RawRowView(i)
			for j, gv := range grad.RawRowView(i) {
				dst[j] = gv * w[i]
			}
		}
		a.accumulate(da)
	}, a)
}

// MaskBlend returns m[r]*next + (1-m[r])*prev row by row, so rows with a
// zero mask carry prev forward unchanged.
func (g *Graph) MaskBlend(next, prev *Node, m []float64) *Node {
	mustSameShape("MaskBlend", next, prev)
	r, c := dims(next)
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		dst := v.RawRowView(i)
		nr, pr := next.Value.RawRowView(i), prev.Value.RawRowView(i)
		for j := range dst {
			dst[j] = m[i]*nr[j] + (1-m[i])*pr[j]
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		if next.needsGrad {
			dn := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				d := dn.RawRowView(i)
				for j, gv := range grad.RawRowView(i) {
					d[j] = m[i] * gv
				}
			}
			next.accumulate(dn)
		}
		if prev.needsGrad {
			dp := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				d := dp.RawRowView(i)
				for j, gv := range grad.RawRowView(i) {
					d[j] = (1 - m[i]) * gv
				}
			}
			prev.accumulate(dp)
		}
	}, next, prev)
}

// MulColumn multiplies every row r of a (R x d) by w[r, 0] (w is R x 1).
func (g *Graph) MulColumn(a, w *Node) *Node {
	r, c := dims(a)
	wr, wc := dims(w)
	if wr != r || wc != 1 {
		panic(fmt.Sprintf("autograd.MulColumn: weights %dx%d for %dx%d input", wr, wc, r, c))
	}
	v := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := w.Value.At(i, 0)
		dst := v.RawRowView(i)
		for j, x := range a.Value.RawRowView(i) {
			dst[j] = x * s
		}
	}
	return g.op(v, func(grad *mat.Dense) {
		if a.needsGrad {
			da := mat.NewDense(r, c, nil)
			for i := 0; i < r; i++ {
				s := w.Value.At(i, 0)
				d := da.RawRowView(i)
				for j, gv := range grad.RawRowView(i) {
					d[j] = gv * s
				}
			}
			a.accumulate(da)
		}
		if w.needsGrad {
			dw := mat.NewDense(r, 1, nil)
			for i := 0; i < r; i++ {
				s := 0.0
				ar := a.Value.RawRowView(i)
				for j, gv := range grad.RawRowView(i) {
					s += gv * ar[j]
				}
				dw.Set(i, 0, s)
			}
			w.accumulate(dw)
		}
	}, a, w)
}

// SumSquares returns Σ a² as a 1x1 node.
func (g *Graph) SumSquares(a *Node) *Node {
	s := 0.0
	r, c := dims(a)
	for i := 0; i < r; i++ {
		for _, x := range a.Value.RawRowView(i) {
			s += x * x
		}
	}
	v := mat.NewDense(1, 1, []float64{s})
	return g.op(v, func(grad *mat.Dense) {
		da := mat.NewDense(r, c, nil)
		da.Scale(2*grad.At(0, 0), a.Value)
		a.accumulate(da)
	}, a)
}
