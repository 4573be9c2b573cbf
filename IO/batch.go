package IO

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrEmptyBatch is returned by PrepareBatch when every example was
// filtered out. Callers skip the update.
var ErrEmptyBatch = errors.New("minibatch has no example under the length limit")

// Example is one premise/hypothesis pair with parallel lemma ids.
type Example struct {
	Premise         []int
	Hypothesis      []int
	PremiseLemma    []int
	HypothesisLemma []int
	Label           int
}

// Batch is a padded, time-major minibatch. Id and mask rows are indexed
// [t][i]; the knowledge tensors are flat with the layouts
//
//	PremiseKB    [LenP][N][LenH][DimKB]
//	HypothesisKB [LenH][N][LenP][DimKB]
//	KBAtt        [LenP][N][LenH]
//
// Every cell outside an example's true lengths is zero.
type Batch struct {
	N, LenP, LenH, DimKB int

	Premise        [][]int
	PremiseMask    [][]float64
	Hypothesis     [][]int
	HypothesisMask [][]float64
	Labels         []int

	PremiseKB    []float64
	HypothesisKB []float64
	KBAtt        []float64

	PremiseLen    []int
	HypothesisLen []int

	// Relations counts premise/hypothesis position pairs with a known
	// relation in either direction.
	Relations int64
}

func (b *Batch) PremiseKBAt(p, i, h int) []float64 {
	off := ((p*b.N+i)*b.LenH + h) * b.DimKB
	return b.PremiseKB[off : off+b.DimKB]
}

func (b *Batch) HypothesisKBAt(h, i, p int) []float64 {
	off := ((h*b.N+i)*b.LenP + p) * b.DimKB
	return b.HypothesisKB[off : off+b.DimKB]
}

func (b *Batch) KBAttAt(p, i, h int) float64 {
	return b.KBAtt[(p*b.N+i)*b.LenH+h]
}

// PrepareBatch pads examples into a Batch. With maxlen > 0 only pairs
// whose sides are both shorter than maxlen are kept; pairs with an empty
// side are always dropped. kb may be nil.
func PrepareBatch(examples []Example, dimKB int, kb KnowledgeBase, maxlen int) (*Batch, error) {
	kept := make([]Example, 0, len(examples))
	for _, ex := range examples {
		if len(ex.Premise) == 0 || len(ex.Hypothesis) == 0 {
			continue
		}
		if maxlen > 0 && (len(ex.Premise) >= maxlen || len(ex.Hypothesis) >= maxlen) {
			continue
		}
		kept = append(kept, ex)
	}
	if len(kept) == 0 {
		return nil, ErrEmptyBatch
	}
	if dimKB <= 0 {
		dimKB = 1
	}

	n := len(kept)
	b := &Batch{N: n, DimKB: dimKB}
	b.Labels = make([]int, n)
	b.PremiseLen = make([]int, n)
	b.HypothesisLen = make([]int, n)
	for i, ex := range kept {
		b.PremiseLen[i] = len(ex.Premise)
		b.HypothesisLen[i] = len(ex.Hypothesis)
		b.LenP = max(b.LenP, len(ex.Premise))
		b.LenH = max(b.LenH, len(ex.Hypothesis))
	}
	b.Premise, b.PremiseMask = newGrid(b.LenP, n)
	b.Hypothesis, b.HypothesisMask = newGrid(b.LenH, n)
	b.PremiseKB = make([]float64, b.LenP*n*b.LenH*dimKB)
	b.HypothesisKB = make([]float64, b.LenH*n*b.LenP*dimKB)
	b.KBAtt = make([]float64, b.LenP*n*b.LenH)

	// Each example only touches its own column, so examples are filled
	// concurrently.
	relations := atomic.NewInt64(0)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range kept {
		go func(i int) {
			defer wg.Done()
			relations.Add(b.fill(i, kept[i], kb))
		}(i)
	}
	wg.Wait()
	b.Relations = relations.Load()
	return b, nil
}

func newGrid(rows, n int) ([][]int, [][]float64) {
	ids := make([][]int, rows)
	mask := make([][]float64, rows)
	for t := range ids {
		ids[t] = make([]int, n)
		mask[t] = make([]float64, n)
	}
	return ids, mask
}

func (b *Batch) fill(i int, ex Example, kb KnowledgeBase) int64 {
	for t, id := range ex.Premise {
		b.Premise[t][i] = id
		b.PremiseMask[t][i] = 1
	}
	for t, id := range ex.Hypothesis {
		b.Hypothesis[t][i] = id
		b.HypothesisMask[t][i] = 1
	}
	b.Labels[i] = ex.Label
	if kb == nil {
		return 0
	}

	pl := lemmas(ex.PremiseLemma, len(ex.Premise))
	hl := lemmas(ex.HypothesisLemma, len(ex.Hypothesis))
	var hits int64
	for p, s := range pl {
		for h, t := range hl {
			if feat, ok := kb.Lookup(s, t); ok {
				copy(b.PremiseKBAt(p, i, h), feat)
				b.KBAtt[(p*b.N+i)*b.LenH+h] = 1
				hits++
			}
		}
	}
	for h, s := range hl {
		for p, t := range pl {
			if feat, ok := kb.Lookup(s, t); ok {
				copy(b.HypothesisKBAt(h, i, p), feat)
				hits++
			}
		}
	}
	return hits
}

// lemmas truncates a lemma sequence to the token length it parallels.
func lemmas(seq []int, n int) []int {
	if len(seq) > n {
		return seq[:n]
	}
	return seq
}
