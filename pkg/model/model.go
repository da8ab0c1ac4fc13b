// Package model defines the narrow capabilities the training loop and the
// inference runner need from a classifier, plus a reference speaker
// classifier built on gonum dense matrices.
//
// The loop never touches tensors directly. It hands a collated batch to
// Model.Forward, a loss gradient to Model.Backward, and a learning rate to
// Optimizer.Step. Anything satisfying these interfaces can be trained.
package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/spkid/pkg/features"
)

// Sentinel errors.
var (
	ErrInvalidArch = errors.New("model: invalid architecture")
	ErrShape       = errors.New("model: shape mismatch")
	ErrNoForward   = errors.New("model: backward without forward")
)

// Model maps a batch of padded segments to per-speaker logits.
type Model interface {
	// Forward returns logits with shape (batch size, NumSpeakers).
	Forward(b features.Batch) (*mat.Dense, error)

	// Backward accumulates parameter gradients for the most recent Forward
	// given dLoss/dLogits.
	Backward(grad *mat.Dense) error

	// Parameters returns the trainable tensors in a stable order.
	Parameters() []*Parameter

	// SetTraining toggles training-only behavior such as dropout.
	SetTraining(training bool)

	// NumSpeakers returns the output dimension.
	NumSpeakers() int
}

// Optimizer updates Parameters from their accumulated gradients.
type Optimizer interface {
	// Step applies one update with learning rate lr.
	Step(lr float64) error

	// ZeroGrad clears accumulated gradients.
	ZeroGrad()
}

// Parameter is a named trainable tensor and its gradient accumulator.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Arch describes the reference classifier's shape. It is stored in every
// checkpoint so inference can rebuild the same network.
type Arch struct {
	NumMels     int     `msgpack:"n_mels"`
	DModel      int     `msgpack:"d_model"`
	FeedForward int     `msgpack:"feed_forward"`
	NumHeads    int     `msgpack:"n_heads"`
	NumSpeakers int     `msgpack:"n_spks"`
	Dropout     float64 `msgpack:"dropout"`
}

// DefaultArch returns the architecture used when nothing is configured.
func DefaultArch(numSpeakers int) Arch {
	return Arch{NumMels: 40, DModel: 80, FeedForward: 256, NumHeads: 2, NumSpeakers: numSpeakers, Dropout: 0.1}
}

// Validate reports whether every dimension is usable.
func (a Arch) Validate() error {
	switch {
	case a.NumMels <= 0:
		return fmt.Errorf("%w: n_mels=%d", ErrInvalidArch, a.NumMels)
	case a.DModel <= 0:
		return fmt.Errorf("%w: d_model=%d", ErrInvalidArch, a.DModel)
	case a.FeedForward <= 0:
		return fmt.Errorf("%w: feed_forward=%d", ErrInvalidArch, a.FeedForward)
	case a.NumHeads <= 0 || a.DModel%a.NumHeads != 0:
		return fmt.Errorf("%w: n_heads=%d does not divide d_model=%d", ErrInvalidArch, a.NumHeads, a.DModel)
	case a.NumSpeakers <= 0:
		return fmt.Errorf("%w: n_spks=%d", ErrInvalidArch, a.NumSpeakers)
	case a.Dropout < 0 || a.Dropout >= 1:
		return fmt.Errorf("%w: dropout=%v", ErrInvalidArch, a.Dropout)
	}
	return nil
}
