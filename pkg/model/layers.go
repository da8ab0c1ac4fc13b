package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linear computes y = xW + b and caches x for the backward pass.
type linear struct {
	w, b *Parameter
	in   *mat.Dense
}

func newLinear(name string, in, out int, rng *rand.Rand) *linear {
	l := &linear{
		w: newParameter(name+".weight", in, out),
		b: newParameter(name+".bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for _, p := range []*Parameter{l.w, l.b} {
		data := p.Value.RawMatrix().Data
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * bound
		}
	}
	return l
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	l.in = x
	var y mat.Dense
	y.Mul(x, l.w.Value)
	bias := l.b.Value.RawRowView(0)
	rows, _ := y.Dims()
	for i := range rows {
		floats.Add(y.RawRowView(i), bias)
	}
	return &y
}

// backward accumulates dW and db and returns dx, or nil when wantInput is
// false.
func (l *linear) backward(dy *mat.Dense, wantInput bool) *mat.Dense {
	var dw mat.Dense
	dw.Mul(l.in.T(), dy)
	l.w.Grad.Add(l.w.Grad, &dw)

	db := l.b.Grad.RawRowView(0)
	rows, _ := dy.Dims()
	for i := range rows {
		floats.Add(db, dy.RawRowView(i))
	}

	if !wantInput {
		return nil
	}
	var dx mat.Dense
	dx.Mul(dy, l.w.Value.T())
	return &dx
}

func (l *linear) params() []*Parameter { return []*Parameter{l.w, l.b} }

// relu applies max(0, x) in place and returns x.
func relu(x *mat.Dense) *mat.Dense {
	x.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, x)
	return x
}

// reluBack masks dy in place where the forward output was not positive.
func reluBack(out, dy *mat.Dense) *mat.Dense {
	dy.Apply(func(i, j int, v float64) float64 {
		if out.At(i, j) > 0 {
			return v
		}
		return 0
	}, dy)
	return dy
}

// dropout zeroes entries of x in place with probability p and scales the
// survivors by 1/(1-p). It returns the mask applied, or nil when nothing
// was dropped.
func dropout(x *mat.Dense, p float64, rng *rand.Rand) *mat.Dense {
	if p <= 0 {
		return nil
	}
	r, c := x.Dims()
	mask := mat.NewDense(r, c, nil)
	keep := 1 / (1 - p)
	data := mask.RawMatrix().Data
	for i := range data {
		if rng.Float64() >= p {
			data[i] = keep
		}
	}
	x.MulElem(x, mask)
	return mask
}
