package model

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/spkid/pkg/features"
)

func testBatch(t *testing.T, dim int) features.Batch {
	t.Helper()
	mk := func(n int, base float32) features.Sequence {
		seq := make(features.Sequence, n)
		for i := range seq {
			frame := make([]float32, dim)
			for j := range frame {
				frame[j] = base + float32(i)*0.1 - float32(j)*0.05
			}
			seq[i] = frame
		}
		return seq
	}
	b, err := features.Collate([]features.Item{
		{Segment: mk(2, 0.3), Label: 0},
		{Segment: mk(3, -0.2), Label: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func smallArch() Arch {
	return Arch{NumMels: 3, DModel: 4, FeedForward: 5, NumHeads: 2, NumSpeakers: 3}
}

func TestArchValidate(t *testing.T) {
	if err := DefaultArch(10).Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []Arch{
		{DModel: 1, FeedForward: 1, NumHeads: 1, NumSpeakers: 1},
		{NumMels: 1, FeedForward: 1, NumHeads: 1, NumSpeakers: 1},
		{NumMels: 1, DModel: 1, NumHeads: 1, NumSpeakers: 1},
		{NumMels: 1, DModel: 1, FeedForward: 1, NumSpeakers: 1},
		{NumMels: 1, DModel: 5, FeedForward: 1, NumHeads: 2, NumSpeakers: 1},
		{NumMels: 1, DModel: 1, FeedForward: 1, NumHeads: 1},
		{NumMels: 1, DModel: 1, FeedForward: 1, NumHeads: 1, NumSpeakers: 1, Dropout: 1},
	}
	for _, a := range bad {
		if _, err := NewClassifier(a, 0); !errors.Is(err, ErrInvalidArch) {
			t.Errorf("%+v: got %v, want ErrInvalidArch", a, err)
		}
	}
}

func TestForwardShape(t *testing.T) {
	c, err := NewClassifier(smallArch(), 1)
	if err != nil {
		t.Fatal(err)
	}
	logits, err := c.Forward(testBatch(t, 3))
	if err != nil {
		t.Fatal(err)
	}
	r, k := logits.Dims()
	if r != 2 || k != 3 {
		t.Fatalf("logits %dx%d, want 2x3", r, k)
	}
	if _, err := c.Forward(testBatch(t, 4)); !errors.Is(err, ErrShape) {
		t.Fatalf("dim mismatch: got %v, want ErrShape", err)
	}
}

func TestForwardEvalDeterministic(t *testing.T) {
	a := smallArch()
	a.Dropout = 0.5
	c, err := NewClassifier(a, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.SetTraining(false)
	b := testBatch(t, 3)
	x, _ := c.Forward(b)
	y, _ := c.Forward(b)
	if !mat.Equal(x, y) {
		t.Fatal("eval forward is not deterministic")
	}
}

func TestPaddingDoesNotChangeLogits(t *testing.T) {
	c, err := NewClassifier(smallArch(), 3)
	if err != nil {
		t.Fatal(err)
	}
	c.SetTraining(false)
	b := testBatch(t, 3)
	batched, _ := c.Forward(b)

	alone := features.Batch{
		Features: []features.Sequence{b.Features[0][:b.Lengths[0]]},
		Lengths:  []int{b.Lengths[0]},
		Labels:   []int{0},
	}
	single, _ := c.Forward(alone)
	for j := range 3 {
		if math.Abs(batched.At(0, j)-single.At(0, j)) > 1e-9 {
			t.Fatalf("logit %d: batched %v, alone %v", j, batched.At(0, j), single.At(0, j))
		}
	}
}

func TestBackwardWithoutForward(t *testing.T) {
	c, _ := NewClassifier(smallArch(), 1)
	if err := c.Backward(mat.NewDense(2, 3, nil)); !errors.Is(err, ErrNoForward) {
		t.Fatalf("got %v, want ErrNoForward", err)
	}
}

func lossAt(t *testing.T, c *Classifier, b features.Batch) float64 {
	t.Helper()
	logits, err := c.Forward(b)
	if err != nil {
		t.Fatal(err)
	}
	loss, _, err := CrossEntropy(logits, b.Labels)
	if err != nil {
		t.Fatal(err)
	}
	return loss
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	c, err := NewClassifier(smallArch(), 11)
	if err != nil {
		t.Fatal(err)
	}
	b := testBatch(t, 3)

	logits, _ := c.Forward(b)
	_, grad, err := CrossEntropy(logits, b.Labels)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Backward(grad); err != nil {
		t.Fatal(err)
	}

	const h = 1e-6
	seen := make(map[string]bool)
	for _, p := range c.Parameters() {
		seen[p.Name] = true
		w := p.Value.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		for _, idx := range []int{0, len(w) / 2, len(w) - 1} {
			orig := w[idx]
			w[idx] = orig + h
			up := lossAt(t, c, b)
			w[idx] = orig - h
			down := lossAt(t, c, b)
			w[idx] = orig
			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-g[idx]) > 1e-5+1e-3*math.Abs(numeric) {
				t.Errorf("%s[%d]: analytic %v, numeric %v", p.Name, idx, g[idx], numeric)
			}
		}
	}
	for _, name := range []string{
		"encoder.attn.q.weight", "encoder.attn.k.weight", "encoder.attn.v.weight",
		"encoder.attn.out.weight", "encoder.norm1.weight", "encoder.norm2.bias",
	} {
		if !seen[name] {
			t.Errorf("parameter %s not checked", name)
		}
	}
}

func TestPadContentIsIgnored(t *testing.T) {
	c, err := NewClassifier(smallArch(), 4)
	if err != nil {
		t.Fatal(err)
	}
	c.SetTraining(false)
	b := testBatch(t, 3)
	clean, _ := c.Forward(b)
	want := mat.DenseCopyOf(clean)

	// Item 0 is shorter; its last frame is padding and must not be
	// attended to.
	for j := range b.Features[0][2] {
		b.Features[0][2][j] = 7
	}
	noisy, _ := c.Forward(b)
	if !mat.EqualApprox(want, noisy, 1e-12) {
		t.Fatalf("logits changed with pad content:\n%v\n%v", mat.Formatted(want), mat.Formatted(noisy))
	}
}

func TestCrossEntropyUniform(t *testing.T) {
	logits := mat.NewDense(2, 4, nil)
	loss, grad, err := CrossEntropy(logits, []int{1, 3})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Fatalf("loss = %v, want ln 4", loss)
	}
	for i := range 2 {
		var sum float64
		for j := range 4 {
			sum += grad.At(i, j)
		}
		if math.Abs(sum) > 1e-12 {
			t.Fatalf("grad row %d sums to %v", i, sum)
		}
	}
	if got := grad.At(0, 1); math.Abs(got-(0.25-1)/2) > 1e-12 {
		t.Fatalf("grad[0][1] = %v", got)
	}
}

func TestCrossEntropyErrors(t *testing.T) {
	logits := mat.NewDense(2, 3, nil)
	if _, _, err := CrossEntropy(logits, []int{0}); !errors.Is(err, ErrShape) {
		t.Fatalf("row mismatch: got %v", err)
	}
	if _, _, err := CrossEntropy(logits, []int{0, 3}); !errors.Is(err, ErrShape) {
		t.Fatalf("label range: got %v", err)
	}
}

func TestArgmaxAccuracy(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0, 5, 1,
		2, 2, 0,
		-1, -3, -0.5,
	})
	got := Argmax(logits)
	want := []int{1, 0, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Argmax = %v, want %v", got, want)
		}
	}
	if acc := Accuracy(logits, []int{1, 1, 2}); math.Abs(acc-2.0/3) > 1e-12 {
		t.Fatalf("Accuracy = %v", acc)
	}
}

func TestAdamWZeroLRKeepsWeights(t *testing.T) {
	c, _ := NewClassifier(smallArch(), 5)
	before := mat.DenseCopyOf(c.Parameters()[0].Value)
	opt := NewAdamW(c.Parameters())
	c.Parameters()[0].Grad.Apply(func(_, _ int, _ float64) float64 { return 1 }, c.Parameters()[0].Grad)
	if err := opt.Step(0); err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(before, c.Parameters()[0].Value) {
		t.Fatal("lr=0 changed weights")
	}
	if opt.Steps() != 1 {
		t.Fatalf("Steps = %d", opt.Steps())
	}
	opt.ZeroGrad()
	if mat.Sum(c.Parameters()[0].Grad) != 0 {
		t.Fatal("ZeroGrad left gradient")
	}
}

func TestAdamWReducesLoss(t *testing.T) {
	c, err := NewClassifier(smallArch(), 2)
	if err != nil {
		t.Fatal(err)
	}
	opt := NewAdamW(c.Parameters())
	b := testBatch(t, 3)
	first := lossAt(t, c, b)
	for range 50 {
		logits, _ := c.Forward(b)
		_, grad, _ := CrossEntropy(logits, b.Labels)
		if err := c.Backward(grad); err != nil {
			t.Fatal(err)
		}
		if err := opt.Step(1e-2); err != nil {
			t.Fatal(err)
		}
		opt.ZeroGrad()
	}
	if last := lossAt(t, c, b); last >= first {
		t.Fatalf("loss did not decrease: %v -> %v", first, last)
	}
}

func TestAdamWRejectsBadLR(t *testing.T) {
	opt := NewAdamW(nil)
	if err := opt.Step(math.NaN()); err == nil {
		t.Fatal("expected error for NaN lr")
	}
}
