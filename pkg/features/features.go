// Package features holds the mel-spectrogram sequence types and the two
// transforms that turn per-utterance sequences into training batches:
//
//  1. Sample: cut a variable-length sequence down to a fixed-length window
//  2. Collate: right-pad a set of windows to a common length and stack them
//
// A Sequence is a [T][dim] matrix of log-mel energies. T varies per
// utterance; dim is fixed per corpus (40 for the speaker corpus).
package features

import (
	"errors"
	"math/rand"
)

// PadValue fills frames that do not exist in a shorter segment. It is the
// natural log of a near-zero energy, so it stays numerically inert under
// mean pooling instead of looking like a plausible real frame.
const PadValue float32 = -20

// Sentinel errors.
var (
	// ErrEmptyBatch is returned by Collate when given no items.
	ErrEmptyBatch = errors.New("features: empty batch")

	// ErrDimMismatch is returned when frames in a batch have different widths.
	ErrDimMismatch = errors.New("features: frame dimension mismatch")

	// ErrEmptySequence is returned when a feature file decodes to zero frames.
	ErrEmptySequence = errors.New("features: empty sequence")
)

// Sequence is a [T][dim] feature matrix, one row per frame.
type Sequence [][]float32

// Len returns the number of frames.
func (s Sequence) Len() int { return len(s) }

// Dim returns the frame width, or 0 for an empty sequence.
func (s Sequence) Dim() int {
	if len(s) == 0 {
		return 0
	}
	return len(s[0])
}

// Item is one labeled segment waiting to be collated.
type Item struct {
	Segment Sequence
	Label   int
}

// Batch is a padded stack of segments.
//
// Features has shape [B][maxLen][dim] where maxLen is the longest segment
// in this batch. Lengths holds the unpadded length of each row.
type Batch struct {
	Features []Sequence
	Lengths  []int
	Labels   []int
}

// Size returns the number of items in the batch.
func (b Batch) Size() int { return len(b.Features) }

// MaxLen returns the padded sequence length.
func (b Batch) MaxLen() int {
	if len(b.Features) == 0 {
		return 0
	}
	return len(b.Features[0])
}

// Dim returns the frame width.
func (b Batch) Dim() int {
	if len(b.Features) == 0 {
		return 0
	}
	return b.Features[0].Dim()
}

// Sample returns a window of at most segmentLen frames from seq.
//
// Sequences no longer than segmentLen are returned unchanged. Longer ones
// yield a contiguous window of exactly segmentLen frames whose start is
// drawn uniformly from [0, len(seq)-segmentLen]. The start is drawn on
// every call, so repeated passes see different windows of the same
// utterance. The returned window shares rows with seq.
//
// seq must be non-empty.
func Sample(rng *rand.Rand, seq Sequence, segmentLen int) Sequence {
	if len(seq) <= segmentLen {
		return seq
	}
	start := rng.Intn(len(seq) - segmentLen + 1)
	return seq[start : start+segmentLen]
}

// Collate stacks items into a Batch, right-padding every segment shorter
// than the longest one with PadValue frames. Item order is preserved.
// Input segments are not modified, and every pad frame is its own slice.
func Collate(items []Item) (Batch, error) {
	if len(items) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	maxLen, dim := 0, items[0].Segment.Dim()
	for _, it := range items {
		if it.Segment.Len() > maxLen {
			maxLen = it.Segment.Len()
		}
		for _, frame := range it.Segment {
			if len(frame) != dim {
				return Batch{}, ErrDimMismatch
			}
		}
	}

	b := Batch{
		Features: make([]Sequence, len(items)),
		Lengths:  make([]int, len(items)),
		Labels:   make([]int, len(items)),
	}
	for i, it := range items {
		rows := make(Sequence, maxLen)
		n := copy(rows, it.Segment)
		pad := make([]float32, (maxLen-n)*dim)
		for k := range pad {
			pad[k] = PadValue
		}
		for t := n; t < maxLen; t++ {
			off := (t - n) * dim
			rows[t] = pad[off : off+dim : off+dim]
		}
		b.Features[i] = rows
		b.Lengths[i] = it.Segment.Len()
		b.Labels[i] = it.Label
	}
	return b, nil
}
