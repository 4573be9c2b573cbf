package optimizations

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/ksboy/NLP-External-knowledge/params"
)

type paramSet map[string]*mat.Dense

func (p paramSet) Keys() []string {
	return []string{"w", "b"}
}

func (p paramSet) Get(name string) *mat.Dense { return p[name] }

func newParams() paramSet {
	return paramSet{
		"w": mat.NewDense(2, 2, []float64{1, -2, 0.5, 3}),
		"b": mat.NewDense(1, 2, []float64{0, 1}),
	}
}

func gradsOf(p paramSet, target float64) map[string]*mat.Dense {
	// d/dp of Σ (p - target)²
	out := map[string]*mat.Dense{}
	for _, k := range p.Keys() {
		var g mat.Dense
		g.Apply(func(_, _ int, v float64) float64 { return 2 * (v - target) }, p[k])
		out[k] = &g
	}
	return out
}

func lossOf(p paramSet, target float64) float64 {
	s := 0.0
	for _, k := range p.Keys() {
		r, c := p[k].Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				d := p[k].At(i, j) - target
				s += d * d
			}
		}
	}
	return s
}

func TestFirstStepValues(t *testing.T) {
	g := 0.5
	cases := []struct {
		kind params.OptimizerKind
		lr   float64
		want float64 // change of a parameter with gradient g
	}{
		{params.SGD, 0.1, -0.1 * g},
		{params.Adam, 0.01, -0.01 * (0.1 * g) / (math.Sqrt(0.001*g*g) + 1e-8) * math.Sqrt(0.001) / 0.1},
		{params.AdaDelta, 0.01, -math.Sqrt(1e-6) / math.Sqrt(0.05*g*g+1e-6) * g},
		{params.RMSProp, 0.01, -1e-4 * g / math.Sqrt(0.05*g*g-0.05*g*0.05*g+1e-4)},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			p := paramSet{"w": mat.NewDense(1, 1, []float64{2}), "b": mat.NewDense(1, 1, []float64{0})}
			opt, err := New(tc.kind, p)
			if err != nil {
				t.Fatal(err)
			}
			grads := map[string]*mat.Dense{
				"w": mat.NewDense(1, 1, []float64{g}),
				"b": mat.NewDense(1, 1, []float64{0}),
			}
			if err := opt.Update(tc.lr, 1, grads); err != nil {
				t.Fatal(err)
			}
			if got := p["w"].At(0, 0) - 2; math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("step = %.10g, want %.10g", got, tc.want)
			}
			if p["b"].At(0, 0) != 0 {
				t.Fatalf("zero gradient moved b to %v", p["b"].At(0, 0))
			}
		})
	}
}

func TestRMSPropIgnoresLearningRate(t *testing.T) {
	slow, fast := newParams(), newParams()
	a, _ := New(params.RMSProp, slow)
	b, _ := New(params.RMSProp, fast)
	for i := 0; i < 5; i++ {
		if err := a.Update(1e-3, 1, gradsOf(slow, 0)); err != nil {
			t.Fatal(err)
		}
		if err := b.Update(100, 1, gradsOf(fast, 0)); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range slow.Keys() {
		if !mat.Equal(slow[k], fast[k]) {
			t.Fatalf("%s depends on lr", k)
		}
	}
}

func TestUpdatesReduceQuadraticLoss(t *testing.T) {
	for _, kind := range []params.OptimizerKind{params.SGD, params.RMSProp, params.AdaDelta, params.Adam} {
		t.Run(kind.String(), func(t *testing.T) {
			p := newParams()
			opt, err := New(kind, p)
			if err != nil {
				t.Fatal(err)
			}
			start := lossOf(p, 3)
			for i := 0; i < 200; i++ {
				if err := opt.Update(0.05, lossOf(p, 3), gradsOf(p, 3)); err != nil {
					t.Fatal(err)
				}
			}
			if end := lossOf(p, 3); end >= start {
				t.Fatalf("loss went from %v to %v", start, end)
			}
		})
	}
}

func TestNonFiniteLossLeavesParamsUntouched(t *testing.T) {
	for _, kind := range []params.OptimizerKind{params.SGD, params.RMSProp, params.AdaDelta, params.Adam} {
		t.Run(kind.String(), func(t *testing.T) {
			p := newParams()
			before := mat.DenseCopyOf(p["w"])
			opt, _ := New(kind, p)
			for _, cost := range []float64{math.NaN(), math.Inf(1)} {
				err := opt.Update(0.1, cost, gradsOf(p, 0))
				if errors.Cause(err) != ErrNonFiniteLoss {
					t.Fatalf("cost %v: err = %v", cost, err)
				}
			}
			if !mat.Equal(before, p["w"]) {
				t.Fatal("parameters changed on a non-finite loss")
			}
		})
	}
}

func TestGradientShapeIsChecked(t *testing.T) {
	p := newParams()
	opt, _ := New(params.Adam, p)
	grads := gradsOf(p, 0)
	delete(grads, "b")
	if err := opt.Update(0.1, 1, grads); err == nil {
		t.Fatal("expected an error for a missing gradient")
	}
	grads["b"] = mat.NewDense(2, 1, nil)
	if err := opt.Update(0.1, 1, grads); err == nil {
		t.Fatal("expected an error for a mis-shaped gradient")
	}
	if opt.(*Adam).T != 0 {
		t.Fatal("rejected updates advanced the step counter")
	}
}
