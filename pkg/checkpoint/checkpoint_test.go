package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/haivivi/spkid/pkg/features"
	"github.com/haivivi/spkid/pkg/model"
	"github.com/haivivi/spkid/pkg/storage"
)

func testArch() model.Arch {
	return model.Arch{NumMels: 4, DModel: 6, FeedForward: 8, NumHeads: 2, NumSpeakers: 3, Dropout: 0.1}
}

func newClassifier(t *testing.T, seed int64) *model.Classifier {
	t.Helper()
	c, err := model.NewClassifier(testArch(), seed)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func oneBatch() features.Batch {
	seq := features.Sequence{{1, 2, 3, 4}, {0.5, -1, 0, 2}, {3, 3, 3, 3}}
	return features.Batch{Features: []features.Sequence{seq}, Lengths: []int{3}, Labels: []int{0}}
}

func TestCaptureIsDeepCopy(t *testing.T) {
	c := newClassifier(t, 1)
	snap := Capture(20, 0.5, c)
	before := snap.Params[0].Data[0]
	c.Parameters()[0].Value.Set(0, 0, before+100)
	if snap.Params[0].Data[0] != before {
		t.Fatal("snapshot changed with the model")
	}
	if snap.Step != 20 || snap.Accuracy != 0.5 || snap.NumSpeakers != 3 || snap.Arch != testArch() {
		t.Fatalf("snapshot header = %+v", snap)
	}
}

func TestSaveLoadRebuildsModel(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := newClassifier(t, 7)
	c.SetTraining(false)
	want, err := c.Forward(oneBatch())
	if err != nil {
		t.Fatal(err)
	}

	if err := Capture(100, 0.75, c).Save(ctx, store, "model.ckpt"); err != nil {
		t.Fatal(err)
	}
	snap, err := Load(ctx, store, "model.ckpt")
	if err != nil {
		t.Fatal(err)
	}
	restored, err := snap.NewModel()
	if err != nil {
		t.Fatal(err)
	}
	got, err := restored.Forward(oneBatch())
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(want, got, 1e-12) {
		t.Fatalf("restored logits %v, want %v", mat.Formatted(got), mat.Formatted(want))
	}
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store, _ := storage.NewLocal(t.TempDir())
	c := newClassifier(t, 1)
	if err := Capture(100, 0.5, c).Save(ctx, store, "model.ckpt"); err != nil {
		t.Fatal(err)
	}
	if err := Capture(200, 0.6, c).Save(ctx, store, "model.ckpt"); err != nil {
		t.Fatal(err)
	}
	snap, err := Load(ctx, store, "model.ckpt")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Step != 200 {
		t.Fatalf("Step = %d, want 200", snap.Step)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	if _, err := Decode(strings.NewReader("NOPE....")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
	if _, err := Decode(strings.NewReader("SP")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("short: got %v, want ErrBadMagic", err)
	}
}

func TestDecodeVersion(t *testing.T) {
	snap := Capture(1, 0, newClassifier(t, 1))
	snap.Version = Version + 1
	var buf bytes.Buffer
	if err := snap.Encode(&buf); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(&buf); !errors.Is(err, ErrVersion) {
		t.Fatalf("got %v, want ErrVersion", err)
	}
}

func TestRestoreIncompatible(t *testing.T) {
	snap := Capture(1, 0, newClassifier(t, 1))
	other := testArch()
	other.NumSpeakers = 5
	c, err := model.NewClassifier(other, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.Restore(c); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("got %v, want ErrIncompatible", err)
	}
}

var errDiskFull = errors.New("disk full")

// shortStore hands out writers that fail after limit bytes.
type shortStore struct {
	storage.FileStore
	limit int
}

func (s shortStore) Write(ctx context.Context, path string) (io.WriteCloser, error) {
	w, err := s.FileStore.Write(ctx, path)
	if err != nil {
		return nil, err
	}
	return &shortWriter{WriteCloser: w, left: s.limit}, nil
}

type shortWriter struct {
	io.WriteCloser
	left int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.left {
		n, _ := w.WriteCloser.Write(p[:w.left])
		w.left = 0
		return n, errDiskFull
	}
	w.left -= len(p)
	return w.WriteCloser.Write(p)
}

func (w *shortWriter) Abort(cause error) error { return storage.Abort(w.WriteCloser, cause) }

func TestFailedSaveKeepsPreviousCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := newClassifier(t, 3)
	if err := Capture(100, 0.5, c).Save(ctx, store, "model.ckpt"); err != nil {
		t.Fatal(err)
	}

	err = Capture(200, 0.9, c).Save(ctx, shortStore{FileStore: store, limit: 8}, "model.ckpt")
	if err == nil {
		t.Fatal("Save through a full disk succeeded")
	}
	snap, err := Load(ctx, store, "model.ckpt")
	if err != nil {
		t.Fatalf("previous checkpoint unreadable: %v", err)
	}
	if snap.Step != 100 {
		t.Fatalf("Step = %d, want 100", snap.Step)
	}
}

func TestFailedSaveLeavesNoTempFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	c := newClassifier(t, 3)
	if err := Capture(1, 0, c).Save(ctx, shortStore{FileStore: store, limit: 8}, "model.ckpt"); err == nil {
		t.Fatal("Save through a full disk succeeded")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("dir has %d entries after failed save, want 0", len(entries))
	}
	if _, err := Load(ctx, store, "model.ckpt"); err == nil {
		t.Fatal("Load found a checkpoint that was never completed")
	}
}
