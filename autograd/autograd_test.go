package autograd

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64() * 0.5
	}
	return mat.NewDense(r, c, data)
}

// finiteDiffCheck compares grad[i,j] with a central difference of forward.
func finiteDiffCheck(t *testing.T, name string, param, grad *mat.Dense, forward func() float64, i, j int) {
	t.Helper()
	eps := 1e-6
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := 0.0
	if grad != nil {
		anaGrad = grad.At(i, j)
	}
	if math.Abs(numGrad-anaGrad) > 1e-5*math.Max(1, math.Abs(numGrad)) {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.8g ana=%.8g", name, i, j, numGrad, anaGrad)
	}
}

func checkAll(t *testing.T, name string, param, grad *mat.Dense, forward func() float64) {
	t.Helper()
	r, c := param.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			finiteDiffCheck(t, name, param, grad, forward, i, j)
		}
	}
}

func TestElementwiseAndMatMulGradCheck(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	W := randDense(rng, 4, 3)
	b := randDense(rng, 1, 3)
	X := randDense(rng, 5, 4)
	labels := []int{0, 2, 1, 1, 0}

	build := func() (*Graph, *Node, *Node, *Node) {
		g := NewGraph()
		w, bias := g.Param(W), g.Param(b)
		x := g.Param(X)
		h := g.AddBias(g.MatMul(x, w), bias)
		a := g.Tanh(h)
		s := g.Sigmoid(h)
		r := g.ReLU(g.Sub(a, s))
		mixed := g.Add(g.Mul(a, s), g.Scale(r, 0.7))
		loss, _, _ := g.SoftmaxCrossEntropy(mixed, labels)
		return g, loss, w, bias
	}
	forward := func() float64 {
		_, loss, _, _ := build()
		return loss.Scalar()
	}
	g, loss, w, bias := build()
	g.Backward(loss)

	checkAll(t, "W", W, w.Grad, forward)
	checkAll(t, "b", b, bias.Grad, forward)
}

func TestStructuralOpsGradCheck(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	A := randDense(rng, 6, 3)
	B := randDense(rng, 6, 2)
	mask := []float64{1, 1, 0, 1, 0, 1}

	build := func() (*Graph, *Node, *Node, *Node) {
		g := NewGraph()
		a, bn := g.Param(A), g.Param(B)
		cat := g.ConcatCols(a, bn)                                 // 6x5
		rows := g.ConcatRows(g.SliceRows(cat, 0, 3), g.SliceRows(cat, 3, 6))
		gathered := g.GatherRows(rows, []int{5, 0, 0, 2, 4, 1})    // repeated row 0
		blended := g.MaskBlend(gathered, rows, mask)               // carry rows forward
		scaled := g.ScaleRows(blended, []float64{1, 0.5, 2, 0, 1, 3})
		left := g.SliceCols(scaled, 0, 3)
		right := g.Transpose(g.Transpose(g.SliceCols(scaled, 3, 5)))
		pooled := g.ConcatCols(
			g.GroupMean(left, [][]int{{0, 2}, {1, 3, 5}}),
			g.GroupMax(right, [][]int{{0, 1, 4}, {2, 5}}),
			g.GroupSum(right, [][]int{{3}, {0, 1}}),
		)
		loss := g.Add(g.SumSquares(pooled), g.SumSquares(g.MulColumn(left, g.SliceCols(right, 0, 1))))
		return g, loss, a, bn
	}
	forward := func() float64 {
		_, loss, _, _ := build()
		return loss.Scalar()
	}
	g, loss, a, bn := build()
	g.Backward(loss)

	checkAll(t, "A", A, a.Grad, forward)
	checkAll(t, "B", B, bn.Grad, forward)
}

func TestSoftmaxOpsGradCheck(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	S := randDense(rng, 3, 4)
	G := randDense(rng, 5, 1)
	consts := []*mat.Dense{randDense(rng, 3, 4), randDense(rng, 3, 4)}
	mask := []float64{1, 0, 1, 1}

	build := func() (*Graph, *Node, *Node, *Node) {
		g := NewGraph()
		s, gate := g.Param(S), g.Param(G)
		alpha := g.MaskedSoftmaxRows(s, mask)
		kb := g.WeightedSum(alpha, consts)
		w := g.GroupSoftmax(gate, [][]int{{0, 1, 3}, {2, 4}})
		loss := g.Add(g.SumSquares(kb), g.SumSquares(g.MulConst(w, randDense(rand.New(rand.NewPCG(9, 9)), 5, 1))))
		loss = g.Add(loss, g.SumSquares(g.AddConst(alpha, consts[0])))
		return g, loss, s, gate
	}
	forward := func() float64 {
		_, loss, _, _ := build()
		return loss.Scalar()
	}
	g, loss, s, gate := build()
	g.Backward(loss)

	checkAll(t, "S", S, s.Grad, forward)
	checkAll(t, "G", G, gate.Grad, forward)
}

func TestMaskedSoftmaxRowsNormalisesValidColumns(t *testing.T) {
	g := NewGraph()
	s := g.Const(mat.NewDense(2, 4, []float64{
		1000, 2, -3, 999,
		0.5, 0.5, 0.5, 0.5,
	}))
	mask := []float64{1, 1, 0, 1}
	out := g.MaskedSoftmaxRows(s, mask).Value
	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 4; j++ {
			v := out.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("row %d col %d not finite: %v", i, j, v)
			}
			if mask[j] == 0 && v != 0 {
				t.Fatalf("masked column %d got weight %v", j, v)
			}
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d sums to %v", i, sum)
		}
	}
}

func TestConstOnlyGraphRecordsNothing(t *testing.T) {
	g := NewGraph()
	a := g.Const(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	out := g.Tanh(g.MatMul(a, a))
	if out.NeedsGrad() {
		t.Fatal("constant expression should not need gradients")
	}
	if g.Len() != 0 {
		t.Fatalf("tape has %d ops, want 0", g.Len())
	}
}
