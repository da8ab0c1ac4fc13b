package dataloader

import (
	"context"
	"math/rand"

	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/features"
)

// Cycle is an endless cursor over a training subset.
//
// Each epoch visits the subset in a fresh random order. A trailing
// partial batch is dropped and the next epoch starts instead, unless the
// whole subset is smaller than one batch, in which case every batch is the
// whole subset.
type Cycle struct {
	loader    *Loader
	utts      []corpus.Utterance
	batchSize int
	rng       *rand.Rand

	order []int
	pos   int
	epoch int
}

// Cycle returns a cursor over utts. rng drives both the epoch shuffles and
// segment sampling.
func (l *Loader) Cycle(utts []corpus.Utterance, batchSize int, rng *rand.Rand) (*Cycle, error) {
	if len(utts) == 0 {
		return nil, ErrEmpty
	}
	c := &Cycle{
		loader:    l,
		utts:      utts,
		batchSize: min(max(1, batchSize), len(utts)),
		rng:       rng,
	}
	c.reshuffle()
	return c, nil
}

func (c *Cycle) reshuffle() {
	c.order = c.rng.Perm(len(c.utts))
	c.pos = 0
	c.epoch++
}

// Epoch returns the 1-based number of the epoch the next batch comes from.
func (c *Cycle) Epoch() int { return c.epoch }

// Next returns the next batch, starting a new epoch when the current one
// cannot fill a batch. It never runs out of data.
func (c *Cycle) Next(ctx context.Context) (features.Batch, error) {
	picked := make([]corpus.Utterance, c.batchSize)
	for i, idx := range c.order[c.pos : c.pos+c.batchSize] {
		picked[i] = c.utts[idx]
	}
	c.pos += c.batchSize
	if c.pos+c.batchSize > len(c.order) {
		c.reshuffle()
	}
	return c.loader.Batch(ctx, c.rng, picked)
}
