package model

import (
	"fmt"
	"math"
)

// AdamW hyperparameter defaults.
const (
	DefaultBeta1       = 0.9
	DefaultBeta2       = 0.999
	DefaultEpsilon     = 1e-8
	DefaultWeightDecay = 0.01
)

// AdamW is Adam with decoupled weight decay. The learning rate is supplied
// per Step so an external schedule can drive it.
type AdamW struct {
	Beta1, Beta2 float64
	Epsilon      float64
	WeightDecay  float64

	params []*Parameter
	m, v   [][]float64
	t      int
}

// NewAdamW returns an optimizer over params with default hyperparameters.
func NewAdamW(params []*Parameter) *AdamW {
	o := &AdamW{
		Beta1:       DefaultBeta1,
		Beta2:       DefaultBeta2,
		Epsilon:     DefaultEpsilon,
		WeightDecay: DefaultWeightDecay,
		params:      params,
		m:           make([][]float64, len(params)),
		v:           make([][]float64, len(params)),
	}
	for i, p := range params {
		n := len(p.Value.RawMatrix().Data)
		o.m[i] = make([]float64, n)
		o.v[i] = make([]float64, n)
	}
	return o
}

// Steps returns the number of updates applied so far.
func (o *AdamW) Steps() int { return o.t }

// Step applies one update using the accumulated gradients.
func (o *AdamW) Step(lr float64) error {
	if math.IsNaN(lr) || lr < 0 {
		return fmt.Errorf("model: adamw: bad learning rate %v", lr)
	}
	o.t++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.t))
	for i, p := range o.params {
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m, v := o.m[i], o.v[i]
		for j := range w {
			w[j] -= lr * o.WeightDecay * w[j]
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g[j]
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g[j]*g[j]
			w[j] -= lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + o.Epsilon)
		}
	}
	return nil
}

// ZeroGrad clears every gradient accumulator.
func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.Grad.Zero()
	}
}

var _ Optimizer = (*AdamW)(nil)
