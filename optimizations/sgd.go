package optimizations

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
	"github.com/ksboy/NLP-External-knowledge/utils"
)

// SGD is p -= lr * g.
type SGD struct {
	base
}

func (o *SGD) Kind() params.OptimizerKind { return params.SGD }

func (o *SGD) Update(lr, cost float64, grads map[string]*mat.Dense) error {
	if err := o.check(cost, grads); err != nil {
		return err
	}
	for _, k := range o.ps.Keys() {
		p := o.ps.Get(k)
		floats.AddScaled(utils.Raw(p), -lr, utils.Raw(grads[k]))
	}
	return nil
}
