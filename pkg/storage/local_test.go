package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	s, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeString(t *testing.T, fs FileStore, name, data string) {
	t.Helper()
	w, err := fs.Write(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readString(t *testing.T, fs FileStore, name string) string {
	t.Helper()
	r, err := fs.Read(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(got)
}

func TestLocalWriteAndRead(t *testing.T) {
	s := newTestLocal(t)
	writeString(t, s, "spk001/uttr-1.mpk", "frames")
	if got := readString(t, s, "spk001/uttr-1.mpk"); got != "frames" {
		t.Fatalf("got %q, want %q", got, "frames")
	}
}

func TestLocalReadNotExist(t *testing.T) {
	s := newTestLocal(t)
	_, err := s.Read(context.Background(), "no-such-file")
	if !os.IsNotExist(err) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLocalWriteInvisibleUntilClose(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	writeString(t, s, "model.ckpt", "old")

	w, err := s.Write(ctx, "model.ckpt")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "new-partial")
	if got := readString(t, s, "model.ckpt"); got != "old" {
		t.Fatalf("before close got %q, want %q", got, "old")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readString(t, s, "model.ckpt"); got != "new-partial" {
		t.Fatalf("after close got %q", got)
	}

	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}

func TestLocalWriteReplaces(t *testing.T) {
	s := newTestLocal(t)
	writeString(t, s, "f", "long content here")
	writeString(t, s, "f", "short")
	if got := readString(t, s, "f"); got != "short" {
		t.Fatalf("got %q, want %q", got, "short")
	}
}

func TestLocalExistsAndDelete(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "ghost"); err != nil {
		t.Fatal(err)
	}
	writeString(t, s, "tmp", "x")
	ok, err := s.Exists(ctx, "tmp")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}
	if err := s.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Exists(ctx, "tmp")
	if err != nil || ok {
		t.Fatalf("Exists after delete = %v, %v; want false", ok, err)
	}
}

func TestNewLocalCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	s, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}
}

func TestLocalAbortKeepsPrevious(t *testing.T) {
	s := newTestLocal(t)
	ctx := context.Background()
	writeString(t, s, "model.ckpt", "good")

	w, err := s.Write(ctx, "model.ckpt")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, "trunc")
	if err := Abort(w, io.ErrShortWrite); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after Abort = %v", err)
	}
	if got := readString(t, s, "model.ckpt"); got != "good" {
		t.Fatalf("got %q, want %q", got, "good")
	}
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
