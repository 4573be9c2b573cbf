package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// Adam with the bias correction folded into the step size:
// lr_t = lr * sqrt(1-β2^t) / (1-β1^t); p -= lr_t * m / (sqrt(v) + eps).
type Adam struct {
	base
	T int
}

func (o *Adam) Kind() params.OptimizerKind { return params.Adam }

func (o *Adam) Update(lr, cost float64, grads map[string]*mat.Dense) error {
	if err := o.check(cost, grads); err != nil {
		return err
	}
	o.T++
	t := float64(o.T)
	lrT := lr * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))
	for _, k := range o.ps.Keys() {
		adamUpdateInPlace(o.ps.Get(k), grads[k], o.state[k][0], o.state[k][1], lrT)
	}
	return nil
}

func adamUpdateInPlace(p, g, m, v *mat.Dense, lrT float64) {
	pr, gr := utils.Raw(p), utils.Raw(g)
	mr, vr := utils.Raw(m), utils.Raw(v)
	for i, gi := range gr {
		mr[i] = adamBeta1*mr[i] + (1-adamBeta1)*gi
		vr[i] = adamBeta2*vr[i] + (1-adamBeta2)*gi*gi
		pr[i] -= lrT * mr[i] / (math.Sqrt(vr[i]) + adamEps)
	}
}
