package dataloader

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"testing"

	"github.com/haivivi/spkid/pkg/corpus"
	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/storage"
)

// fixture writes n feature files; utterance i has i+3 frames filled with i
// and label i.
func fixture(t *testing.T, n int) (storage.FileStore, []corpus.Utterance) {
	t.Helper()
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	utts := make([]corpus.Utterance, n)
	for i := range utts {
		seq := make(features.Sequence, i+3)
		for j := range seq {
			seq[j] = []float32{float32(i), float32(j)}
		}
		path := fmt.Sprintf("spk/uttr-%d.mpk", i)
		if err := features.Save(ctx, store, path, seq); err != nil {
			t.Fatal(err)
		}
		utts[i] = corpus.Utterance{FeaturePath: path, Frames: len(seq), Speaker: i}
	}
	return store, utts
}

func TestLoadPreservesOrder(t *testing.T) {
	store, utts := fixture(t, 9)
	seqs, err := New(store, 4, 4).Load(context.Background(), utts)
	if err != nil {
		t.Fatal(err)
	}
	for i, seq := range seqs {
		if int(seq[0][0]) != i || seq.Len() != i+3 {
			t.Fatalf("seq %d holds utterance %v with %d frames", i, seq[0][0], seq.Len())
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, utts := fixture(t, 2)
	utts = append(utts, corpus.Utterance{FeaturePath: "spk/uttr-missing.mpk"})
	_, err := New(store, 4, 2).Load(context.Background(), utts)
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v, want os.ErrNotExist", err)
	}
}

func TestBatchIndependentOfWorkers(t *testing.T) {
	store, utts := fixture(t, 8)
	ctx := context.Background()
	a, err := New(store, 4, 1).Batch(ctx, rand.New(rand.NewSource(5)), utts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(store, 4, 8).Batch(ctx, rand.New(rand.NewSource(5)), utts)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Features {
		if a.Features[i][0][1] != b.Features[i][0][1] {
			t.Fatalf("item %d window start %v vs %v", i, a.Features[i][0][1], b.Features[i][0][1])
		}
	}
	if a.MaxLen() != 4 {
		t.Fatalf("MaxLen = %d, want segment length 4", a.MaxLen())
	}
	if a.Lengths[0] != 3 {
		t.Fatalf("short utterance length = %d, want 3", a.Lengths[0])
	}
}

func TestCycleEpochs(t *testing.T) {
	store, utts := fixture(t, 5)
	ctx := context.Background()
	c, err := New(store, 100, 2).Cycle(utts, 2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	for epoch := 1; epoch <= 3; epoch++ {
		var seen []int
		for range 2 {
			if c.Epoch() != epoch {
				t.Fatalf("Epoch = %d, want %d", c.Epoch(), epoch)
			}
			b, err := c.Next(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if b.Size() != 2 {
				t.Fatalf("batch size %d, want 2", b.Size())
			}
			seen = append(seen, b.Labels...)
		}
		slices.Sort(seen)
		if got := slices.Compact(seen); len(got) != 4 {
			t.Fatalf("epoch %d repeated an utterance: %v", epoch, seen)
		}
	}
}

func TestCycleSmallSubset(t *testing.T) {
	store, utts := fixture(t, 3)
	c, err := New(store, 100, 1).Cycle(utts, 512, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		b, err := c.Next(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		labels := slices.Clone(b.Labels)
		slices.Sort(labels)
		if !slices.Equal(labels, []int{0, 1, 2}) {
			t.Fatalf("labels = %v, want the whole subset", b.Labels)
		}
	}
}

func TestCycleEmpty(t *testing.T) {
	_, err := New(nil, 1, 1).Cycle(nil, 4, rand.New(rand.NewSource(1)))
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("got %v, want ErrEmpty", err)
	}
}

func TestPassKeepsTail(t *testing.T) {
	store, utts := fixture(t, 5)
	var sizes, labels []int
	for b, err := range New(store, 100, 2).Pass(context.Background(), rand.New(rand.NewSource(1)), utts, 2) {
		if err != nil {
			t.Fatal(err)
		}
		sizes = append(sizes, b.Size())
		labels = append(labels, b.Labels...)
	}
	if !slices.Equal(sizes, []int{2, 2, 1}) {
		t.Fatalf("sizes = %v, want [2 2 1]", sizes)
	}
	if !slices.Equal(labels, []int{0, 1, 2, 3, 4}) {
		t.Fatalf("labels = %v, want input order", labels)
	}
	if NumBatches(5, 2) != 3 {
		t.Fatalf("NumBatches(5, 2) = %d", NumBatches(5, 2))
	}
}
