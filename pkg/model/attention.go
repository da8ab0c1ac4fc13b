package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// selfAttention is multi-head scaled dot-product attention over the frames
// of each segment. Keys at or beyond a segment's length get zero weight.
type selfAttention struct {
	heads      int
	q, k, v, o *linear

	// forward cache
	batch, frames int
	qs, ks, vs    *mat.Dense
	probs         []*mat.Dense // batch*heads, frames x frames
}

func newSelfAttention(name string, d, heads int, rng *rand.Rand) *selfAttention {
	return &selfAttention{
		heads: heads,
		q:     newLinear(name+".q", d, d, rng),
		k:     newLinear(name+".k", d, d, rng),
		v:     newLinear(name+".v", d, d, rng),
		o:     newLinear(name+".out", d, d, rng),
	}
}

func (a *selfAttention) params() []*Parameter {
	ps := append(a.q.params(), a.k.params()...)
	ps = append(ps, a.v.params()...)
	return append(ps, a.o.params()...)
}

// block returns the rows of segment i and the columns of head h.
func (a *selfAttention) block(m *mat.Dense, i, h int) *mat.Dense {
	_, d := m.Dims()
	dh := d / a.heads
	return m.Slice(i*a.frames, (i+1)*a.frames, h*dh, (h+1)*dh).(*mat.Dense)
}

// forward attends within each of batch segments of frames rows in x.
func (a *selfAttention) forward(x *mat.Dense, batch, frames int, lengths []int) *mat.Dense {
	a.batch, a.frames = batch, frames
	a.qs, a.ks, a.vs = a.q.forward(x), a.k.forward(x), a.v.forward(x)

	_, d := x.Dims()
	scale := 1 / math.Sqrt(float64(d/a.heads))
	ctx := mat.NewDense(batch*frames, d, nil)
	a.probs = a.probs[:0]
	for i := range batch {
		for h := range a.heads {
			var p mat.Dense
			p.Mul(a.block(a.qs, i, h), a.block(a.ks, i, h).T())
			for r := range frames {
				maskedSoftmax(p.RawRowView(r), lengths[i], scale)
			}
			a.block(ctx, i, h).Mul(&p, a.block(a.vs, i, h))
			a.probs = append(a.probs, &p)
		}
	}
	return a.o.forward(ctx)
}

// backward accumulates projection gradients and returns dx.
func (a *selfAttention) backward(dy *mat.Dense) *mat.Dense {
	dCtx := a.o.backward(dy, true)
	_, d := dCtx.Dims()
	scale := 1 / math.Sqrt(float64(d/a.heads))
	dq := mat.NewDense(a.batch*a.frames, d, nil)
	dk := mat.NewDense(a.batch*a.frames, d, nil)
	dv := mat.NewDense(a.batch*a.frames, d, nil)
	for i := range a.batch {
		for h := range a.heads {
			p := a.probs[i*a.heads+h]
			dOut := a.block(dCtx, i, h)
			a.block(dv, i, h).Mul(p.T(), dOut)

			var ds mat.Dense
			ds.Mul(dOut, a.block(a.vs, i, h).T())
			for r := range a.frames {
				pr, dr := p.RawRowView(r), ds.RawRowView(r)
				dot := floats.Dot(pr, dr)
				for c := range dr {
					dr[c] = pr[c] * (dr[c] - dot) * scale
				}
			}
			a.block(dq, i, h).Mul(&ds, a.block(a.ks, i, h))
			a.block(dk, i, h).Mul(ds.T(), a.block(a.qs, i, h))
		}
	}
	dx := a.q.backward(dq, true)
	dx.Add(dx, a.k.backward(dk, true))
	dx.Add(dx, a.v.backward(dv, true))
	return dx
}

// maskedSoftmax replaces row with softmax(scale*row[:n]) and zeroes the
// rest.
func maskedSoftmax(row []float64, n int, scale float64) {
	m := math.Inf(-1)
	for _, v := range row[:n] {
		m = math.Max(m, v*scale)
	}
	var sum float64
	for c := range row {
		if c >= n {
			row[c] = 0
			continue
		}
		row[c] = math.Exp(row[c]*scale - m)
		sum += row[c]
	}
	floats.Scale(1/sum, row[:n])
}

// layerNorm normalizes each row to zero mean and unit variance, then
// applies a learned gain and bias.
type layerNorm struct {
	gamma, beta *Parameter

	// forward cache
	xhat   *mat.Dense
	invStd []float64
}

const layerNormEps = 1e-5

func newLayerNorm(name string, dim int) *layerNorm {
	ln := &layerNorm{
		gamma: newParameter(name+".weight", 1, dim),
		beta:  newParameter(name+".bias", 1, dim),
	}
	for i := range dim {
		ln.gamma.Value.Set(0, i, 1)
	}
	return ln
}

func (ln *layerNorm) params() []*Parameter { return []*Parameter{ln.gamma, ln.beta} }

func (ln *layerNorm) forward(x *mat.Dense) *mat.Dense {
	rows, d := x.Dims()
	ln.xhat = mat.NewDense(rows, d, nil)
	ln.invStd = make([]float64, rows)
	y := mat.NewDense(rows, d, nil)
	gamma, beta := ln.gamma.Value.RawRowView(0), ln.beta.Value.RawRowView(0)
	for r := range rows {
		src, xh, dst := x.RawRowView(r), ln.xhat.RawRowView(r), y.RawRowView(r)
		mean := floats.Sum(src) / float64(d)
		var variance float64
		for _, v := range src {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(d)
		inv := 1 / math.Sqrt(variance+layerNormEps)
		ln.invStd[r] = inv
		for j, v := range src {
			xh[j] = (v - mean) * inv
			dst[j] = xh[j]*gamma[j] + beta[j]
		}
	}
	return y
}

func (ln *layerNorm) backward(dy *mat.Dense) *mat.Dense {
	rows, d := dy.Dims()
	gamma := ln.gamma.Value.RawRowView(0)
	dGamma, dBeta := ln.gamma.Grad.RawRowView(0), ln.beta.Grad.RawRowView(0)
	dx := mat.NewDense(rows, d, nil)
	dxhat := make([]float64, d)
	for r := range rows {
		g, xh, dst := dy.RawRowView(r), ln.xhat.RawRowView(r), dx.RawRowView(r)
		for j := range g {
			dGamma[j] += g[j] * xh[j]
			dBeta[j] += g[j]
			dxhat[j] = g[j] * gamma[j]
		}
		sum, dot := floats.Sum(dxhat), floats.Dot(dxhat, xh)
		n := float64(d)
		for j := range dst {
			dst[j] = ln.invStd[r] / n * (n*dxhat[j] - sum - xh[j]*dot)
		}
	}
	return dx
}
