package features

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/haivivi/spkid/pkg/storage"
)

// ramp builds a [n][dim] sequence whose frame t holds the value t in every bin.
func ramp(n, dim int) Sequence {
	seq := make(Sequence, n)
	for t := range seq {
		frame := make([]float32, dim)
		for j := range frame {
			frame[j] = float32(t)
		}
		seq[t] = frame
	}
	return seq
}

func TestSampleShortIsIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 5, 128} {
		seq := ramp(n, 4)
		got := Sample(rng, seq, 128)
		if len(got) != n {
			t.Fatalf("len = %d, want %d", len(got), n)
		}
		for i := range got {
			if &got[i][0] != &seq[i][0] {
				t.Fatalf("n=%d: frame %d is not the input frame", n, i)
			}
		}
	}
}

func TestSampleLongIsContiguousWindow(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const segLen = 16
	seq := ramp(100, 3)
	starts := map[int]bool{}
	for range 200 {
		got := Sample(rng, seq, segLen)
		if len(got) != segLen {
			t.Fatalf("len = %d, want %d", len(got), segLen)
		}
		start := int(got[0][0])
		if start < 0 || start > len(seq)-segLen {
			t.Fatalf("start %d out of range", start)
		}
		for i, frame := range got {
			if int(frame[0]) != start+i {
				t.Fatalf("frame %d = %v, want %d", i, frame[0], start+i)
			}
		}
		starts[start] = true
	}
	if len(starts) < 2 {
		t.Fatalf("start index never changed across draws")
	}
}

func TestSampleReachesBothEnds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	seq := ramp(5, 1)
	seen := map[int]bool{}
	for range 500 {
		seen[int(Sample(rng, seq, 3)[0][0])] = true
	}
	for _, want := range []int{0, 1, 2} {
		if !seen[want] {
			t.Errorf("start %d never drawn", want)
		}
	}
}

func TestCollatePadsToBatchMax(t *testing.T) {
	items := []Item{
		{Segment: ramp(3, 2), Label: 4},
		{Segment: ramp(5, 2), Label: 1},
		{Segment: ramp(1, 2), Label: 0},
	}
	b, err := Collate(items)
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 3 || b.MaxLen() != 5 || b.Dim() != 2 {
		t.Fatalf("shape = (%d, %d, %d), want (3, 5, 2)", b.Size(), b.MaxLen(), b.Dim())
	}
	wantLabels := []int{4, 1, 0}
	wantLens := []int{3, 5, 1}
	for i := range items {
		if b.Labels[i] != wantLabels[i] {
			t.Errorf("label[%d] = %d, want %d", i, b.Labels[i], wantLabels[i])
		}
		if b.Lengths[i] != wantLens[i] {
			t.Errorf("length[%d] = %d, want %d", i, b.Lengths[i], wantLens[i])
		}
		for tt, frame := range b.Features[i] {
			for _, v := range frame {
				if tt < wantLens[i] {
					if v != float32(tt) {
						t.Errorf("item %d frame %d = %v, want %d", i, tt, v, tt)
					}
				} else if v != PadValue {
					t.Errorf("item %d pad frame %d = %v, want %v", i, tt, v, PadValue)
				}
			}
		}
	}
}

func TestCollateDoesNotMutateInput(t *testing.T) {
	seg := ramp(2, 2)
	if _, err := Collate([]Item{{Segment: seg}, {Segment: ramp(4, 2)}}); err != nil {
		t.Fatal(err)
	}
	if len(seg) != 2 {
		t.Fatalf("input segment grew to %d frames", len(seg))
	}
}

func TestCollatePadFramesAreDistinct(t *testing.T) {
	b, err := Collate([]Item{{Segment: ramp(1, 2)}, {Segment: ramp(1, 2)}, {Segment: ramp(4, 2)}})
	if err != nil {
		t.Fatal(err)
	}
	b.Features[0][1][0] = 42
	for i, seq := range b.Features[:2] {
		for tt := 1; tt < 4; tt++ {
			if i == 0 && tt == 1 {
				continue
			}
			if seq[tt][0] != PadValue {
				t.Fatalf("item %d pad frame %d = %v after writing another pad frame", i, tt, seq[tt][0])
			}
		}
	}
}

func TestCollateIsDeterministic(t *testing.T) {
	items := []Item{{Segment: ramp(2, 3), Label: 1}, {Segment: ramp(6, 3), Label: 2}}
	a, err := Collate(items)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Collate(items)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Features {
		for tt := range a.Features[i] {
			for j := range a.Features[i][tt] {
				if a.Features[i][tt][j] != b.Features[i][tt][j] {
					t.Fatalf("mismatch at [%d][%d][%d]", i, tt, j)
				}
			}
		}
	}
}

func TestCollateErrors(t *testing.T) {
	if _, err := Collate(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty: got %v, want ErrEmptyBatch", err)
	}
	_, err := Collate([]Item{{Segment: ramp(2, 3)}, {Segment: ramp(2, 4)}})
	if !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("mismatch: got %v, want ErrDimMismatch", err)
	}
}

func TestEncodeDecode(t *testing.T) {
	seq := ramp(7, 40)
	var buf bytes.Buffer
	if err := Encode(&buf, seq); err != nil {
		t.Fatal(err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 7 || got.Dim() != 40 {
		t.Fatalf("shape = %dx%d, want 7x40", got.Len(), got.Dim())
	}
	if got[6][39] != 6 {
		t.Fatalf("got[6][39] = %v, want 6", got[6][39])
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, nil); !errors.Is(err, ErrEmptySequence) {
		t.Fatalf("got %v, want ErrEmptySequence", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = Load(context.Background(), store, "uttr-missing.mpk")
	if err == nil {
		t.Fatal("expected error for missing feature file")
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := Save(ctx, store, "spk/uttr-a.mpk", ramp(3, 2)); err != nil {
		t.Fatal(err)
	}
	got, err := Load(ctx, store, "spk/uttr-a.mpk")
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 {
		t.Fatalf("len = %d, want 3", got.Len())
	}
}
