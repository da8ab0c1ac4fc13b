package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CrossEntropy returns the mean softmax cross-entropy of logits against
// labels and its gradient with respect to logits.
func CrossEntropy(logits *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	rows, cols := logits.Dims()
	if rows != len(labels) {
		return 0, nil, fmt.Errorf("%w: %d logit rows, %d labels", ErrShape, rows, len(labels))
	}
	grad := mat.NewDense(rows, cols, nil)
	var loss float64
	for i, label := range labels {
		if label < 0 || label >= cols {
			return 0, nil, fmt.Errorf("%w: label %d outside [0, %d)", ErrShape, label, cols)
		}
		p := grad.RawRowView(i)
		copy(p, logits.RawRowView(i))
		// log-sum-exp with the row max subtracted
		m := floats.Max(p)
		var sum float64
		for j := range p {
			p[j] = math.Exp(p[j] - m)
			sum += p[j]
		}
		floats.Scale(1/sum, p)
		loss -= math.Log(math.Max(p[label], math.SmallestNonzeroFloat64))
		p[label] -= 1
	}
	n := float64(rows)
	grad.Scale(1/n, grad)
	return loss / n, grad, nil
}

// Argmax returns the highest-scoring class of each row. Ties resolve to
// the lowest index.
func Argmax(logits *mat.Dense) []int {
	rows, _ := logits.Dims()
	out := make([]int, rows)
	for i := range out {
		out[i] = floats.MaxIdx(logits.RawRowView(i))
	}
	return out
}

// Accuracy returns the fraction of rows whose argmax equals the label.
func Accuracy(logits *mat.Dense, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	var hit int
	for i, p := range Argmax(logits) {
		if p == labels[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(labels))
}
