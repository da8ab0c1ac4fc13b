// Package corpus loads the preprocessed speaker corpus index and splits it
// into training and validation subsets.
//
// A corpus directory holds three JSON index files next to the feature
// files they reference:
//
//	metadata.json  labeled utterances grouped by speaker name
//	mapping.json   the speaker name <-> class id bijection
//	testdata.json  unlabeled utterances for inference
//
// Feature files themselves are read lazily through pkg/features.
package corpus

import (
	"errors"
	"math/rand"
)

// Index file names inside a corpus root.
const (
	MetadataFile = "metadata.json"
	MappingFile  = "mapping.json"
	TestdataFile = "testdata.json"
)

// DefaultTrainFraction is the share of utterances assigned to training.
const DefaultTrainFraction = 0.9

// ErrMalformedIndex is returned when an index file is missing required
// fields or disagrees with another index file.
var ErrMalformedIndex = errors.New("corpus: malformed index")

// Utterance references one feature file. Speaker is the class id, or -1
// for unlabeled test utterances.
type Utterance struct {
	FeaturePath string
	Frames      int
	Speaker     int
}

// Corpus is a loaded labeled corpus. It is read-only after load.
type Corpus struct {
	Utterances []Utterance
	NumMels    int
	Mapping    *Mapping
}

// Len returns the number of utterances.
func (c *Corpus) Len() int { return len(c.Utterances) }

// NumSpeakers returns the number of classes.
func (c *Corpus) NumSpeakers() int { return c.Mapping.Len() }

// Subset returns the utterances at the given indices, in index order.
func (c *Corpus) Subset(indices []int) []Utterance {
	out := make([]Utterance, len(indices))
	for i, idx := range indices {
		out[i] = c.Utterances[idx]
	}
	return out
}

// Split partitions [0, n) into a training and a validation index set.
//
// A random permutation of [0, n) is drawn from rng; the first
// floor(trainFraction*n) indices are training, the rest validation. The
// two sets are disjoint and together cover every index. There is no
// stratification by speaker, so a rare speaker may be absent from the
// validation set.
func Split(rng *rand.Rand, n int, trainFraction float64) (train, valid []int) {
	trainSize := int(trainFraction * float64(n))
	if trainSize > n {
		trainSize = n
	}
	if trainSize < 0 {
		trainSize = 0
	}
	perm := rng.Perm(n)
	return perm[:trainSize:trainSize], perm[trainSize:]
}
