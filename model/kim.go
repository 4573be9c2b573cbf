// Package model holds the knowledge-enriched inference network: a BiLSTM
// encoder, soft alignment biased by lexical relations, a BiLSTM
// composition layer and a pooled classifier over three classes.
package model

import (
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/IO"
	"github.com/ksboy/NLP-External-knowledge/autograd"
	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// NumClasses is entailment, neutral and contradiction.
const NumClasses = 3

type Model struct {
	Config params.Config
	Store  *Store

	noise *rand.Rand

	encoder    BiLSTM
	decoder    BiLSTM
	projection Feedforward
	gate       Feedforward
	hidden     Feedforward
	output     Feedforward
}

// New builds the layers described by cfg and initialises every parameter
// from rng. rng also drives dropout noise during training.
func New(cfg params.Config, rng *rand.Rand) *Model {
	m := &Model{Config: cfg, Store: NewStore(), noise: rng}

	kbIn := 0
	if cfg.KBInference {
		kbIn = cfg.DimKB
	}
	ctxDim := 2 * cfg.Dim
	m.encoder = NewBiLSTM("encoder", cfg.DimWord, cfg.Dim)
	m.decoder = NewBiLSTM("decoder", cfg.Dim+kbIn, cfg.Dim)
	m.projection = Feedforward{Prefix: "projection", In: 4*ctxDim + kbIn, Out: cfg.Dim}
	m.gate = Feedforward{Prefix: "gated_att", In: cfg.DimKB, Out: 1}
	pooled := 8 * cfg.Dim
	if cfg.KBComposition {
		pooled = 12 * cfg.Dim
	}
	m.hidden = Feedforward{Prefix: "ff_layer_1", In: pooled, Out: cfg.Dim}
	m.output = Feedforward{Prefix: "ff_layer_output", In: cfg.Dim, Out: NumClasses}

	s := m.Store
	s.Add("Wemb", utils.NormWeight(rng, cfg.NWords, cfg.DimWord, 0.01, true))
	m.encoder.Init(s, rng)
	m.decoder.Init(s, rng)
	m.projection.Init(s, rng)
	if cfg.KBComposition {
		m.gate.Init(s, rng)
	}
	m.hidden.Init(s, rng)
	m.output.Init(s, rng)
	return m
}

// Output is the result of one forward pass.
type Output struct {
	Loss  float64    // mean cost plus weight decay when training
	Probs *mat.Dense // n x NumClasses
	Costs []float64  // per-example negative log-likelihood

	// Alpha[i] is lp x lh: premise position over hypothesis positions.
	// Beta[i] is lh x lp: hypothesis position over premise positions.
	Alpha []*mat.Dense
	Beta  []*mat.Dense

	b     *binding
	loss  *autograd.Node
	grads map[string]*mat.Dense
}

// Predictions returns the arg-max class of every example.
func (o *Output) Predictions() []int {
	r, _ := o.Probs.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = utils.ArgMaxRow(o.Probs, i)
	}
	return out
}

// Gradients backpropagates the loss of a training pass and returns one
// gradient per store key. Parameters the pass did not touch get zeros.
func (o *Output) Gradients() (map[string]*mat.Dense, error) {
	if !o.b.train {
		return nil, errors.New("gradients need a training forward pass")
	}
	if o.grads != nil {
		return o.grads, nil
	}
	o.b.g.Backward(o.loss)
	o.grads = make(map[string]*mat.Dense, o.b.store.Len())
	for _, k := range o.b.store.Keys() {
		if n, ok := o.b.nodes[k]; ok && n.Grad != nil {
			o.grads[k] = n.Grad
			continue
		}
		o.grads[k] = utils.ZerosLike(o.b.store.Get(k))
	}
	return o.grads, nil
}

func (m *Model) checkBatch(b *IO.Batch) error {
	if m.Config.KBInference || m.Config.KBComposition || m.Config.AttentionLambda != 0 {
		if b.DimKB != m.Config.DimKB {
			return errors.Errorf("batch knowledge width %d, model wants %d", b.DimKB, m.Config.DimKB)
		}
	}
	for i, y := range b.Labels {
		if y < 0 || y >= NumClasses {
			return errors.Errorf("example %d has label %d", i, y)
		}
	}
	for i := 0; i < b.N; i++ {
		if b.PremiseLen[i] == 0 || b.HypothesisLen[i] == 0 {
			return errors.Errorf("example %d has an empty side", i)
		}
	}
	return nil
}

// Forward runs the network on b. With train set, dropout samples fresh
// masks and the returned Output can produce gradients; otherwise dropout
// scales by its keep probability and no tape is recorded.
func (m *Model) Forward(b *IO.Batch, train bool) (*Output, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, err
	}
	cfg := m.Config
	bd := newBinding(m.Store, train)
	g := bd.g
	useKB := cfg.KBInference || cfg.KBComposition

	wemb := bd.param("Wemb")
	emb1 := m.dropout(bd, g.GatherRows(wemb, flatIDs(b.Premise)))
	emb2 := m.dropout(bd, g.GatherRows(wemb, flatIDs(b.Hypothesis)))

	ctx1 := g.ScaleRows(m.encoder.Apply(bd, emb1, b.PremiseMask), flatMask(b.PremiseMask))
	ctx2 := g.ScaleRows(m.encoder.Apply(bd, emb2, b.HypothesisMask), flatMask(b.HypothesisMask))

	al := m.align(bd, b, ctx1, ctx2, useKB)

	inp1 := m.enrich(bd, ctx1, al.premise, al.premiseKB)
	inp2 := m.enrich(bd, ctx2, al.hypothesis, al.hypothesisKB)

	ctx3 := m.decoder.Apply(bd, inp1, b.PremiseMask)
	ctx4 := m.decoder.Apply(bd, inp2, b.HypothesisMask)

	rows1 := validRows(b.PremiseLen, b.N)
	rows2 := validRows(b.HypothesisLen, b.N)
	pooled := []*autograd.Node{
		g.GroupMean(ctx3, rows1),
		g.GroupMax(ctx3, rows1),
		g.GroupMean(ctx4, rows2),
		g.GroupMax(ctx4, rows2),
	}
	if cfg.KBComposition {
		pooled = append(pooled,
			m.gatedPool(bd, ctx3, al.premiseKB, rows1),
			m.gatedPool(bd, ctx4, al.hypothesisKB, rows2))
	}

	logit := m.dropout(bd, g.ConcatCols(pooled...))
	logit = m.dropout(bd, m.hidden.Apply(bd, logit, params.Tanh))
	logit = m.output.Apply(bd, logit, params.Linear)

	loss, probs, costs := g.SoftmaxCrossEntropy(logit, b.Labels)
	if train && cfg.DecayC > 0 {
		for _, k := range m.Store.Keys() {
			loss = g.Add(loss, g.Scale(g.SumSquares(bd.param(k)), cfg.DecayC))
		}
	}
	return &Output{
		Loss:  loss.Value.At(0, 0),
		Probs: probs,
		Costs: costs,
		Alpha: al.alpha,
		Beta:  al.beta,
		b:     bd,
		loss:  loss,
	}, nil
}

func (m *Model) dropout(b *binding, x *autograd.Node) *autograd.Node {
	if !m.Config.UseDropout {
		return x
	}
	if !b.train {
		return b.g.Scale(x, 0.5)
	}
	r, c := x.Value.Dims()
	keep := mat.NewDense(r, c, nil)
	keep.Apply(func(_, _ int, _ float64) float64 {
		if m.noise.Float64() < 0.5 {
			return 1
		}
		return 0
	}, keep)
	return b.g.MulConst(x, keep)
}

// enrich concatenates [ctx, aligned, ctx*aligned, ctx-aligned, kb],
// projects it and re-appends kb when knowledge inference is on.
func (m *Model) enrich(b *binding, ctx, aligned, kb *autograd.Node) *autograd.Node {
	g := b.g
	parts := []*autograd.Node{ctx, aligned, g.Mul(ctx, aligned), g.Sub(ctx, aligned)}
	if m.Config.KBInference {
		parts = append(parts, kb)
	}
	inp := m.dropout(b, m.projection.Apply(b, g.ConcatCols(parts...), params.ReLU))
	if m.Config.KBInference {
		inp = g.ConcatCols(inp, kb)
	}
	return inp
}

// gatedPool weights the valid rows of ctx by a softmax over a relu gate
// of the knowledge aggregate and sums them per example.
func (m *Model) gatedPool(b *binding, ctx, kb *autograd.Node, rows [][]int) *autograd.Node {
	g := b.g
	w := g.GroupSoftmax(m.gate.Apply(b, kb, params.ReLU), rows)
	return g.GroupSum(g.MulColumn(ctx, w), rows)
}

func flatIDs(ids [][]int) []int {
	out := make([]int, 0, len(ids)*len(ids[0]))
	for _, row := range ids {
		out = append(out, row...)
	}
	return out
}

func flatMask(mask [][]float64) []float64 {
	out := make([]float64, 0, len(mask)*len(mask[0]))
	for _, row := range mask {
		out = append(out, row...)
	}
	return out
}

// validRows lists, per example, the time-major rows inside its length.
func validRows(lengths []int, n int) [][]int {
	rows := make([][]int, len(lengths))
	for i, l := range lengths {
		rows[i] = make([]int, l)
		for t := 0; t < l; t++ {
			rows[i][t] = t*n + i
		}
	}
	return rows
}
