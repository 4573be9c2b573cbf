package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/IO"
	"github.com/ksboy/NLP-External-knowledge/autograd"
)

type alignment struct {
	// time-major, zero on padding rows
	premise, hypothesis     *autograd.Node
	premiseKB, hypothesisKB *autograd.Node

	alpha, beta []*mat.Dense
}

// align computes, example by example, the attention between the valid
// positions of ctx1 and ctx2 and scatters the attended vectors back into
// the time-major layout.
func (m *Model) align(b *binding, batch *IO.Batch, ctx1, ctx2 *autograd.Node, useKB bool) alignment {
	g := b.g
	n := batch.N
	lambda := m.Config.AttentionLambda
	rows1 := validRows(batch.PremiseLen, n)
	rows2 := validRows(batch.HypothesisLen, n)

	var (
		outP, outH []*autograd.Node
		kbP, kbH   []*autograd.Node
		al         alignment
	)
	for i := 0; i < n; i++ {
		lp, lh := batch.PremiseLen[i], batch.HypothesisLen[i]
		p := g.GatherRows(ctx1, rows1[i])
		h := g.GatherRows(ctx2, rows2[i])

		score := g.MatMul(p, g.Transpose(h))
		if lambda != 0 {
			bias := mat.NewDense(lp, lh, nil)
			bias.Apply(func(r, c int, _ float64) float64 {
				return lambda * batch.KBAttAt(r, i, c)
			}, bias)
			score = g.AddConst(score, bias)
		}

		alpha := g.MaskedSoftmaxRows(score, ones(lh))
		beta := g.MaskedSoftmaxRows(g.Transpose(score), ones(lp))
		al.alpha = append(al.alpha, alpha.Value)
		al.beta = append(al.beta, beta.Value)

		outP = append(outP, g.MatMul(alpha, h))
		outH = append(outH, g.MatMul(beta, p))
		if useKB {
			kbP = append(kbP, g.WeightedSum(alpha, premiseKB(batch, i)))
			kbH = append(kbH, g.WeightedSum(beta, hypothesisKB(batch, i)))
		}
	}

	al.premise = scatterRows(g, outP, batch.PremiseLen, batch.LenP, n)
	al.hypothesis = scatterRows(g, outH, batch.HypothesisLen, batch.LenH, n)
	if useKB {
		al.premiseKB = scatterRows(g, kbP, batch.PremiseLen, batch.LenP, n)
		al.hypothesisKB = scatterRows(g, kbH, batch.HypothesisLen, batch.LenH, n)
	}
	return al
}

// premiseKB splits the premise knowledge of example i into DimKB
// lp x lh slices.
func premiseKB(b *IO.Batch, i int) []*mat.Dense {
	lp, lh := b.PremiseLen[i], b.HypothesisLen[i]
	out := make([]*mat.Dense, b.DimKB)
	for k := range out {
		out[k] = mat.NewDense(lp, lh, nil)
	}
	for p := 0; p < lp; p++ {
		for h := 0; h < lh; h++ {
			for k, v := range b.PremiseKBAt(p, i, h) {
				out[k].Set(p, h, v)
			}
		}
	}
	return out
}

func hypothesisKB(b *IO.Batch, i int) []*mat.Dense {
	lp, lh := b.PremiseLen[i], b.HypothesisLen[i]
	out := make([]*mat.Dense, b.DimKB)
	for k := range out {
		out[k] = mat.NewDense(lh, lp, nil)
	}
	for h := 0; h < lh; h++ {
		for p := 0; p < lp; p++ {
			for k, v := range b.HypothesisKBAt(h, i, p) {
				out[k].Set(h, p, v)
			}
		}
	}
	return out
}

// scatterRows places per-example blocks (length[i] rows each) at rows
// t*n+i of a steps*n matrix; padding rows are zero.
func scatterRows(g *autograd.Graph, blocks []*autograd.Node, lengths []int, steps, n int) *autograd.Node {
	_, c := blocks[0].Value.Dims()
	offsets := make([]int, len(blocks))
	zero := 0
	for i, l := range lengths {
		offsets[i] = zero
		zero += l
	}
	parts := append(append([]*autograd.Node(nil), blocks...), g.Const(mat.NewDense(1, c, nil)))
	stacked := g.ConcatRows(parts...)

	idx := make([]int, steps*n)
	for t := 0; t < steps; t++ {
		for i := 0; i < n; i++ {
			if t < lengths[i] {
				idx[t*n+i] = offsets[i] + t
			} else {
				idx[t*n+i] = zero
			}
		}
	}
	return g.GatherRows(stacked, idx)
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
