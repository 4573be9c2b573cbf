// Package optimizations holds the parameter update rules. Every rule keeps
// zero-initialised per-parameter state that persists across steps.
package optimizations

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// ErrNonFiniteLoss aborts training. It is returned before any parameter
// is touched.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// Params is the named parameter set an optimizer updates in place.
type Params interface {
	Keys() []string
	Get(name string) *mat.Dense
}

type Optimizer interface {
	// Update applies one step with learning rate lr. cost is the loss the
	// gradients were taken from.
	Update(lr, cost float64, grads map[string]*mat.Dense) error
	Kind() params.OptimizerKind
}

// New returns the update rule for kind over ps.
func New(kind params.OptimizerKind, ps Params) (Optimizer, error) {
	switch kind {
	case params.SGD:
		return &SGD{base: newBase(ps, 0)}, nil
	case params.RMSProp:
		return &RMSProp{base: newBase(ps, 3)}, nil
	case params.AdaDelta:
		return &AdaDelta{base: newBase(ps, 2)}, nil
	case params.Adam:
		return &Adam{base: newBase(ps, 2)}, nil
	}
	return nil, errors.Errorf("unknown optimizer %d", kind)
}

// base holds the parameters and `slots` state matrices per parameter.
type base struct {
	ps    Params
	state map[string][]*mat.Dense
}

func newBase(ps Params, slots int) base {
	b := base{ps: ps, state: make(map[string][]*mat.Dense)}
	for _, k := range ps.Keys() {
		s := make([]*mat.Dense, slots)
		for i := range s {
			s[i] = utils.ZerosLike(ps.Get(k))
		}
		b.state[k] = s
	}
	return b
}

// check validates cost and that every parameter has a gradient of its
// shape.
func (b *base) check(cost float64, grads map[string]*mat.Dense) error {
	if utils.IsNonFinite(cost) {
		return errors.Wrapf(ErrNonFiniteLoss, "cost %v", cost)
	}
	for _, k := range b.ps.Keys() {
		g, ok := grads[k]
		if !ok {
			return errors.Errorf("no gradient for %s", k)
		}
		pr, pc := b.ps.Get(k).Dims()
		if gr, gc := g.Dims(); gr != pr || gc != pc {
			return errors.Errorf("gradient of %s is %dx%d, parameter is %dx%d", k, gr, gc, pr, pc)
		}
	}
	return nil
}
