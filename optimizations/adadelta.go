package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// AdaDelta scales each step by the ratio of the running update and
// gradient magnitudes. lr is not used.
type AdaDelta struct {
	base
	Rho, Eps float64
}

func (o *AdaDelta) Kind() params.OptimizerKind { return params.AdaDelta }

func (o *AdaDelta) Update(_, cost float64, grads map[string]*mat.Dense) error {
	if err := o.check(cost, grads); err != nil {
		return err
	}
	rho, eps := o.Rho, o.Eps
	if rho == 0 {
		rho = 0.95
	}
	if eps == 0 {
		eps = 1e-6
	}
	for _, k := range o.ps.Keys() {
		p := utils.Raw(o.ps.Get(k))
		g := utils.Raw(grads[k])
		rg2, ru2 := utils.Raw(o.state[k][0]), utils.Raw(o.state[k][1])
		for i, gi := range g {
			rg2[i] = rho*rg2[i] + (1-rho)*gi*gi
			ud := -math.Sqrt(ru2[i]+eps) / math.Sqrt(rg2[i]+eps) * gi
			ru2[i] = rho*ru2[i] + (1-rho)*ud*ud
			p[i] += ud
		}
	}
	return nil
}
