package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// RMSProp keeps running averages of g and g² and a momentum term. The
// step size is the fixed rmspropStep; the lr passed to Update is ignored.
type RMSProp struct {
	base
}

const (
	rmspropDecay    = 0.95
	rmspropMomentum = 0.9
	rmspropStep     = 1e-4
	rmspropEps      = 1e-4
)

func (o *RMSProp) Kind() params.OptimizerKind { return params.RMSProp }

func (o *RMSProp) Update(_, cost float64, grads map[string]*mat.Dense) error {
	if err := o.check(cost, grads); err != nil {
		return err
	}
	for _, k := range o.ps.Keys() {
		p := utils.Raw(o.ps.Get(k))
		g := utils.Raw(grads[k])
		s := o.state[k]
		rg, rg2, ud := utils.Raw(s[0]), utils.Raw(s[1]), utils.Raw(s[2])
		for i, gi := range g {
			rg[i] = rmspropDecay*rg[i] + (1-rmspropDecay)*gi
			rg2[i] = rmspropDecay*rg2[i] + (1-rmspropDecay)*gi*gi
			ud[i] = rmspropMomentum*ud[i] - rmspropStep*gi/math.Sqrt(rg2[i]-rg[i]*rg[i]+rmspropEps)
			p[i] += ud[i]
		}
	}
	return nil
}
