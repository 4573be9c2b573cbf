// Package autograd is a small reverse-mode differentiation tape over
// gonum matrices. Every value is a 2-D *mat.Dense; sequences are stored
// time-major with row t*n+i holding timestep t of example i.
package autograd

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Node is one value in a Graph. Grad is nil until something flows back
// into it.
type Node struct {
	Value *mat.Dense
	Grad  *mat.Dense

	needsGrad bool
	backward  func(grad *mat.Dense)
}

// Graph records the ops of one forward pass. A Graph is not safe for
// concurrent use and is discarded after Backward.
type Graph struct {
	tape []*Node
}

func NewGraph() *Graph {
	return &Graph{}
}

// Param wraps v as a leaf that accumulates a gradient. v is shared, not
// copied.
func (g *Graph) Param(v *mat.Dense) *Node {
	return &Node{Value: v, needsGrad: true}
}

// Const wraps v as a leaf without gradient.
func (g *Graph) Const(v *mat.Dense) *Node {
	return &Node{Value: v}
}

// NeedsGrad reports whether gradients flow through n.
func (n *Node) NeedsGrad() bool { return n.needsGrad }

// Scalar returns the single entry of a 1x1 node.
func (n *Node) Scalar() float64 {
	r, c := n.Value.Dims()
	if r != 1 || c != 1 {
		panic(fmt.Sprintf("autograd: Scalar on %dx%d node", r, c))
	}
	return n.Value.At(0, 0)
}

func (g *Graph) op(value *mat.Dense, back func(grad *mat.Dense), inputs ...*Node) *Node {
	n := &Node{Value: value}
	for _, in := range inputs {
		if in.needsGrad {
			n.needsGrad = true
			break
		}
	}
	if n.needsGrad {
		n.backward = back
		g.tape = append(g.tape, n)
	}
	return n
}

func (n *Node) accumulate(d mat.Matrix) {
	if !n.needsGrad {
		return
	}
	if n.Grad == nil {
		r, c := n.Value.Dims()
		n.Grad = mat.NewDense(r, c, nil)
	}
	n.Grad.Add(n.Grad, d)
}

// grad returns the gradient buffer of n, allocating it on first use, for
// ops that scatter into it entry by entry.
func (n *Node) grad() *mat.Dense {
	if n.Grad == nil {
		r, c := n.Value.Dims()
		n.Grad = mat.NewDense(r, c, nil)
	}
	return n.Grad
}

// Backward seeds loss (1x1) with 1 and propagates through the tape.
func (g *Graph) Backward(loss *Node) {
	if !loss.needsGrad {
		return
	}
	loss.Scalar()
	loss.Grad = mat.NewDense(1, 1, []float64{1})
	for i := len(g.tape) - 1; i >= 0; i-- {
		n := g.tape[i]
		if n.Grad == nil || n.backward == nil {
			continue
		}
		n.backward(n.Grad)
	}
}

// Len is the number of recorded ops.
func (g *Graph) Len() int { return len(g.tape) }
