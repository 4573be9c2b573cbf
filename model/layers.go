package model

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/autograd"
	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

func pp(prefix, name string) string { return prefix + "_" + name }

// binding exposes store parameters as nodes of one graph. Each name maps
// to a single node so gradients from every use accumulate together.
type binding struct {
	g     *autograd.Graph
	store *Store
	train bool
	nodes map[string]*autograd.Node
}

func newBinding(store *Store, train bool) *binding {
	return &binding{
		g:     autograd.NewGraph(),
		store: store,
		train: train,
		nodes: make(map[string]*autograd.Node),
	}
}

func (b *binding) param(name string) *autograd.Node {
	if n, ok := b.nodes[name]; ok {
		return n
	}
	v := b.store.Get(name)
	if v == nil {
		panic(fmt.Sprintf("model: unknown parameter %q", name))
	}
	var n *autograd.Node
	if b.train {
		n = b.g.Param(v)
	} else {
		n = b.g.Const(v)
	}
	b.nodes[name] = n
	return n
}

// Feedforward is activation(x·W + b).
type Feedforward struct {
	Prefix  string
	In, Out int
	Ortho   bool
}

func (l Feedforward) Init(s *Store, rng *rand.Rand) {
	s.Add(pp(l.Prefix, "W"), utils.NormWeight(rng, l.In, l.Out, 0.01, l.Ortho))
	s.Add(pp(l.Prefix, "b"), mat.NewDense(1, l.Out, nil))
}

func (l Feedforward) Apply(b *binding, x *autograd.Node, act params.Activation) *autograd.Node {
	g := b.g
	h := g.AddBias(g.MatMul(x, b.param(pp(l.Prefix, "W"))), b.param(pp(l.Prefix, "b")))
	switch act {
	case params.Tanh:
		return g.Tanh(h)
	case params.ReLU:
		return g.ReLU(h)
	case params.Sigmoid:
		return g.Sigmoid(h)
	default:
		return h
	}
}

// LSTM is a masked recurrent layer with gates stacked as input, forget,
// output, candidate. Sequences are time-major: row t*n+i is step t of
// example i.
type LSTM struct {
	Prefix  string
	In, Dim int
}

func (l LSTM) Init(s *Store, rng *rand.Rand) {
	W := mat.NewDense(l.In, 4*l.Dim, nil)
	U := mat.NewDense(l.Dim, 4*l.Dim, nil)
	for k := 0; k < 4; k++ {
		W.Slice(0, l.In, k*l.Dim, (k+1)*l.Dim).(*mat.Dense).Copy(utils.NormWeight(rng, l.In, l.Dim, 0.01, true))
		U.Slice(0, l.Dim, k*l.Dim, (k+1)*l.Dim).(*mat.Dense).Copy(utils.OrthoWeight(rng, l.Dim))
	}
	s.Add(pp(l.Prefix, "W"), W)
	s.Add(pp(l.Prefix, "U"), U)
	s.Add(pp(l.Prefix, "b"), mat.NewDense(1, 4*l.Dim, nil))
}

// Apply runs the layer over x ((T*n) x In) with mask[t][i]. Steps where
// an example is masked out leave its cell and hidden state unchanged.
func (l LSTM) Apply(b *binding, x *autograd.Node, mask [][]float64) *autograd.Node {
	g := b.g
	steps := len(mask)
	n := len(mask[0])
	d := l.Dim

	U := b.param(pp(l.Prefix, "U"))
	xproj := g.AddBias(g.MatMul(x, b.param(pp(l.Prefix, "W"))), b.param(pp(l.Prefix, "b")))

	h := g.Const(mat.NewDense(n, d, nil))
	c := g.Const(mat.NewDense(n, d, nil))
	outs := make([]*autograd.Node, steps)
	for t := 0; t < steps; t++ {
		preact := g.Add(g.MatMul(h, U), g.SliceRows(xproj, t*n, (t+1)*n))
		i := g.Sigmoid(g.SliceCols(preact, 0, d))
		f := g.Sigmoid(g.SliceCols(preact, d, 2*d))
		o := g.Sigmoid(g.SliceCols(preact, 2*d, 3*d))
		cand := g.Tanh(g.SliceCols(preact, 3*d, 4*d))

		c = g.MaskBlend(g.Add(g.Mul(f, c), g.Mul(i, cand)), c, mask[t])
		h = g.MaskBlend(g.Mul(o, g.Tanh(c)), h, mask[t])
		outs[t] = h
	}
	return g.ConcatRows(outs...)
}

// reverseIndex maps row t*n+i to row (steps-1-t)*n+i.
func reverseIndex(steps, n int) []int {
	idx := make([]int, steps*n)
	for t := 0; t < steps; t++ {
		for i := 0; i < n; i++ {
			idx[t*n+i] = (steps-1-t)*n + i
		}
	}
	return idx
}

func reverseMask(mask [][]float64) [][]float64 {
	out := make([][]float64, len(mask))
	for t := range mask {
		out[len(mask)-1-t] = mask[t]
	}
	return out
}

// BiLSTM concatenates a forward pass and a separately parameterised pass
// over the reversed sequence, re-reversed to align with the input.
type BiLSTM struct {
	Forward, Backward LSTM
}

func NewBiLSTM(prefix string, in, dim int) BiLSTM {
	return BiLSTM{
		Forward:  LSTM{Prefix: prefix, In: in, Dim: dim},
		Backward: LSTM{Prefix: prefix + "_r", In: in, Dim: dim},
	}
}

func (l BiLSTM) Init(s *Store, rng *rand.Rand) {
	l.Forward.Init(s, rng)
	l.Backward.Init(s, rng)
}

func (l BiLSTM) Apply(b *binding, x *autograd.Node, mask [][]float64) *autograd.Node {
	g := b.g
	rev := reverseIndex(len(mask), len(mask[0]))
	fwd := l.Forward.Apply(b, x, mask)
	bwd := l.Backward.Apply(b, g.GatherRows(x, rev), reverseMask(mask))
	return g.ConcatCols(fwd, g.GatherRows(bwd, rev))
}
