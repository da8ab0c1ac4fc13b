package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/spkid/pkg/features"
)

// Classifier is the reference speaker classifier:
//
//	prenet   Linear(n_mels -> d_model) + ReLU, per frame
//	encoder  one post-norm transformer layer:
//	           x = Norm(x + Dropout(SelfAttention(x)))
//	           x = Norm(x + Dropout(Linear(ReLU(Linear(x)))))
//	pooling  mean over the unpadded frames of each segment
//	head     d -> 2d -> 2d -> d -> n_spks, ReLU between layers
//
// Padded frames are never attended to and never pooled, so logits do not
// depend on how much padding a batch carries.
//
// Classifier is not safe for concurrent use; Forward caches activations
// for the following Backward.
type Classifier struct {
	arch     Arch
	training bool
	rng      *rand.Rand

	prenet       *linear
	attn         *selfAttention
	norm1, norm2 *layerNorm
	ff1, ff2     *linear
	head         []*linear

	// forward cache
	batch, frames    int
	lengths          []int
	pre, hidden      *mat.Dense
	attnMask, ffMask *mat.Dense
	headOut          []*mat.Dense
}

// NewClassifier builds a classifier with weights drawn from seed.
func NewClassifier(arch Arch, seed int64) (*Classifier, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	d := arch.DModel
	c := &Classifier{
		arch:     arch,
		training: true,
		rng:      rng,
		prenet:   newLinear("prenet", arch.NumMels, d, rng),
		attn:     newSelfAttention("encoder.attn", d, arch.NumHeads, rng),
		norm1:    newLayerNorm("encoder.norm1", d),
		ff1:      newLinear("encoder.ff1", d, arch.FeedForward, rng),
		ff2:      newLinear("encoder.ff2", arch.FeedForward, d, rng),
		norm2:    newLayerNorm("encoder.norm2", d),
		head: []*linear{
			newLinear("head.0", d, 2*d, rng),
			newLinear("head.1", 2*d, 2*d, rng),
			newLinear("head.2", 2*d, d, rng),
			newLinear("head.out", d, arch.NumSpeakers, rng),
		},
	}
	return c, nil
}

// Arch returns the architecture the classifier was built with.
func (c *Classifier) Arch() Arch { return c.arch }

// NumSpeakers returns the output dimension.
func (c *Classifier) NumSpeakers() int { return c.arch.NumSpeakers }

// SetTraining toggles dropout.
func (c *Classifier) SetTraining(training bool) { c.training = training }

// Parameters returns every trainable tensor, prenet first, output layer last.
func (c *Classifier) Parameters() []*Parameter {
	ps := append(c.prenet.params(), c.attn.params()...)
	ps = append(ps, c.norm1.params()...)
	ps = append(ps, c.ff1.params()...)
	ps = append(ps, c.ff2.params()...)
	ps = append(ps, c.norm2.params()...)
	for _, l := range c.head {
		ps = append(ps, l.params()...)
	}
	return ps
}

// Forward computes logits for b.
func (c *Classifier) Forward(b features.Batch) (*mat.Dense, error) {
	if b.Size() == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrShape)
	}
	if b.Dim() != c.arch.NumMels {
		return nil, fmt.Errorf("%w: frame dim %d, model expects %d", ErrShape, b.Dim(), c.arch.NumMels)
	}

	bs, t := b.Size(), b.MaxLen()
	x := mat.NewDense(bs*t, c.arch.NumMels, nil)
	for i, seq := range b.Features {
		for j, frame := range seq {
			row := x.RawRowView(i*t + j)
			for k, v := range frame {
				row[k] = float64(v)
			}
		}
	}
	lengths := make([]int, bs)
	for i := range lengths {
		lengths[i] = t
		if i < len(b.Lengths) && b.Lengths[i] > 0 {
			lengths[i] = b.Lengths[i]
		}
	}

	pre := relu(c.prenet.forward(x))
	att := c.attn.forward(pre, bs, t, lengths)
	c.attnMask, c.ffMask = nil, nil
	if c.training {
		c.attnMask = dropout(att, c.arch.Dropout, c.rng)
	}
	att.Add(att, pre)
	mid := c.norm1.forward(att)
	ff := c.ff2.forward(relu(c.ff1.forward(mid)))
	if c.training {
		c.ffMask = dropout(ff, c.arch.Dropout, c.rng)
	}
	ff.Add(ff, mid)
	hidden := c.norm2.forward(ff)

	pooled := mat.NewDense(bs, c.arch.DModel, nil)
	for i := range bs {
		dst := pooled.RawRowView(i)
		for j := range lengths[i] {
			floats.Add(dst, hidden.RawRowView(i*t+j))
		}
		floats.Scale(1/float64(lengths[i]), dst)
	}

	out := pooled
	c.headOut = c.headOut[:0]
	for k, l := range c.head {
		out = l.forward(out)
		if k < len(c.head)-1 {
			relu(out)
			c.headOut = append(c.headOut, out)
		}
	}

	c.batch, c.frames, c.lengths = bs, t, lengths
	c.pre, c.hidden = pre, hidden
	return out, nil
}

// Backward accumulates gradients for the most recent Forward.
func (c *Classifier) Backward(grad *mat.Dense) error {
	if c.hidden == nil {
		return ErrNoForward
	}
	r, n := grad.Dims()
	if r != c.batch || n != c.arch.NumSpeakers {
		return fmt.Errorf("%w: grad %dx%d, logits %dx%d", ErrShape, r, n, c.batch, c.arch.NumSpeakers)
	}

	d := grad
	for k := len(c.head) - 1; k >= 0; k-- {
		d = c.head[k].backward(d, true)
		if k > 0 {
			reluBack(c.headOut[k-1], d)
		}
	}

	// Un-pool: each valid frame receives its segment's gradient / length.
	dHidden := mat.NewDense(c.batch*c.frames, c.arch.DModel, nil)
	for i := range c.batch {
		src := d.RawRowView(i)
		scale := 1 / float64(c.lengths[i])
		for j := range c.lengths[i] {
			floats.AddScaled(dHidden.RawRowView(i*c.frames+j), scale, src)
		}
	}

	dSum := c.norm2.backward(dHidden)
	dInner := c.ff2.backward(masked(dSum, c.ffMask), true)
	reluBack(c.ff2.in, dInner)
	dMid := c.ff1.backward(dInner, true)
	dMid.Add(dMid, dSum)

	dSum = c.norm1.backward(dMid)
	dPre := c.attn.backward(masked(dSum, c.attnMask))
	dPre.Add(dPre, dSum)
	reluBack(c.pre, dPre)
	c.prenet.backward(dPre, false)
	return nil
}

// masked returns d scaled by a dropout mask, or d itself when mask is nil.
func masked(d, mask *mat.Dense) *mat.Dense {
	if mask == nil {
		return d
	}
	var out mat.Dense
	out.MulElem(d, mask)
	return &out
}

var _ Model = (*Classifier)(nil)
