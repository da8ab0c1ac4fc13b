// Package dataloader turns utterance lists into collated batches.
//
// Feature files are read concurrently, but segment sampling runs on the
// caller's goroutine in item order. The random stream consumed for a
// batch therefore depends only on the seed and the item order, never on
// how many workers loaded the files.
package dataloader

import (
	"context"
	"errors"
	"iter"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/storage"
)

// ErrEmpty is returned when a cursor is built over no utterances.
var ErrEmpty = errors.New("dataloader: no utterances")

// Loader reads and batches utterances from a feature store.
type Loader struct {
	store      storage.FileStore
	segmentLen int
	workers    int
}

// New returns a Loader cutting segments of segmentLen frames. workers
// bounds concurrent file reads; values below 1 mean 1.
func New(store storage.FileStore, segmentLen, workers int) *Loader {
	return &Loader{store: store, segmentLen: segmentLen, workers: max(1, workers)}
}

// Load reads the feature files of utts, preserving order.
func (l *Loader) Load(ctx context.Context, utts []corpus.Utterance) ([]features.Sequence, error) {
	seqs := make([]features.Sequence, len(utts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, u := range utts {
		g.Go(func() error {
			seq, err := features.Load(ctx, l.store, u.FeaturePath)
			if err != nil {
				return err
			}
			seqs[i] = seq
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return seqs, nil
}

// Batch loads utts, samples one segment from each with rng, and collates.
func (l *Loader) Batch(ctx context.Context, rng *rand.Rand, utts []corpus.Utterance) (features.Batch, error) {
	seqs, err := l.Load(ctx, utts)
	if err != nil {
		return features.Batch{}, err
	}
	items := make([]features.Item, len(utts))
	for i, seq := range seqs {
		items[i] = features.Item{
			Segment: features.Sample(rng, seq, l.segmentLen),
			Label:   utts[i].Speaker,
		}
	}
	return features.Collate(items)
}

// Pass yields one ordered pass over utts in batches of batchSize. The last
// batch may be smaller. Iteration stops at the first error.
func (l *Loader) Pass(ctx context.Context, rng *rand.Rand, utts []corpus.Utterance, batchSize int) iter.Seq2[features.Batch, error] {
	batchSize = max(1, batchSize)
	return func(yield func(features.Batch, error) bool) {
		for start := 0; start < len(utts); start += batchSize {
			b, err := l.Batch(ctx, rng, utts[start:min(start+batchSize, len(utts))])
			if !yield(b, err) || err != nil {
				return
			}
		}
	}
}

// NumBatches returns how many batches Pass yields for n utterances.
func NumBatches(n, batchSize int) int {
	batchSize = max(1, batchSize)
	return (n + batchSize - 1) / batchSize
}

// Subset is a fixed utterance list scored by repeated ordered passes.
type Subset struct {
	loader    *Loader
	utts      []corpus.Utterance
	batchSize int
	rng       *rand.Rand
}

// Subset binds utts for repeated passes. rng drives segment sampling.
func (l *Loader) Subset(utts []corpus.Utterance, batchSize int, rng *rand.Rand) *Subset {
	return &Subset{loader: l, utts: utts, batchSize: batchSize, rng: rng}
}

// Len returns the number of utterances.
func (s *Subset) Len() int { return len(s.utts) }

// Pass yields one ordered pass over the subset.
func (s *Subset) Pass(ctx context.Context) iter.Seq2[features.Batch, error] {
	return s.loader.Pass(ctx, s.rng, s.utts, s.batchSize)
}
